package guide

import (
	"context"
	"fmt"
)

// VersionState classifies one hospital's applied content against the remote.
type VersionState string

const (
	VersionCurrent         VersionState = "current"
	VersionUpdateAvailable VersionState = "update_available"
	VersionNeverSynced     VersionState = "never_synced"
	VersionUnknown         VersionState = "unknown"
)

// HospitalVersionStatus is one row of CompareHospitalVersions.
type HospitalVersionStatus struct {
	Hospital    Hospital
	AppliedName string
	RemoteName  string
	State       VersionState
	Err         error
}

// RefreshReport lists the outcome of a version cache refresh.
type RefreshReport struct {
	Refreshed []int64
	Failed    map[int64]error
}

// VersionTracker reads and caches per-hospital version identifiers.
type VersionTracker struct {
	api     ContentAPI
	store   Store
	clock   Clock
	logger  Logger
	metrics Metrics
}

// NewVersionTracker creates a VersionTracker.
func NewVersionTracker(api ContentAPI, store Store, clock Clock, logger Logger, metrics Metrics) *VersionTracker {
	return &VersionTracker{
		api:     api,
		store:   store,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// GetRemoteVersion asks the remote for the hospital's current version.
func (t *VersionTracker) GetRemoteVersion(ctx context.Context, hospitalID int64) (*RemoteVersion, error) {
	v, err := t.api.GetCurrentVersion(ctx, hospitalID)
	if err != nil {
		t.metrics.ObserveVersionCheck("error")
		return nil, fmt.Errorf("fetching remote version for hospital %d: %w", hospitalID, err)
	}
	t.metrics.ObserveVersionCheck("ok")
	return v, nil
}

// GetLocalAppliedVersion returns the version stamped by the last successful
// replication. ok is false when the hospital was never synced.
func (t *VersionTracker) GetLocalAppliedVersion(ctx context.Context, hospitalID int64) (string, bool, error) {
	synced, err := t.store.FindSyncedHospital(ctx, hospitalID)
	if err != nil {
		return "", false, StorageError("reading applied version", err)
	}
	if synced == nil {
		return "", false, nil
	}
	return synced.VersionName, true, nil
}

// GetCachedRemoteVersion returns the last remote version observed while online.
func (t *VersionTracker) GetCachedRemoteVersion(ctx context.Context, hospitalID int64) (string, bool, error) {
	snap, err := t.store.FindVersionSnapshot(ctx, hospitalID)
	if err != nil {
		return "", false, StorageError("reading cached version", err)
	}
	if snap == nil {
		return "", false, nil
	}
	return snap.VersionName, true, nil
}

// IsHospitalEverSynced reports whether a SyncedHospital marker exists.
func (t *VersionTracker) IsHospitalEverSynced(ctx context.Context, hospitalID int64) (bool, error) {
	synced, err := t.store.FindSyncedHospital(ctx, hospitalID)
	if err != nil {
		return false, StorageError("checking synced marker", err)
	}
	return synced != nil, nil
}

// RefreshRemoteVersionCache fetches the version of every hospital in the
// local catalog and replaces its snapshot. A failure for one hospital is
// logged and does not stop the others. Only a failure to read the catalog is
// returned.
func (t *VersionTracker) RefreshRemoteVersionCache(ctx context.Context) (*RefreshReport, error) {
	hospitals, err := t.store.ListHospitals(ctx)
	if err != nil {
		return nil, StorageError("listing hospitals", err)
	}

	report := &RefreshReport{Failed: make(map[int64]error)}
	for _, h := range hospitals {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		v, err := t.GetRemoteVersion(ctx, h.ID)
		if err != nil {
			t.logger.Warn("skipping version refresh", "hospital_id", h.ID, "error", err)
			report.Failed[h.ID] = err
			continue
		}

		snap := VersionSnapshot{
			HospitalID:  h.ID,
			VersionID:   v.ID,
			VersionName: v.Name,
			CheckedAt:   t.clock.Now(),
		}
		if err := t.store.ReplaceVersionSnapshot(ctx, snap); err != nil {
			err = StorageError("storing version snapshot", err)
			t.logger.Warn("skipping version refresh", "hospital_id", h.ID, "error", err)
			report.Failed[h.ID] = err
			continue
		}
		report.Refreshed = append(report.Refreshed, h.ID)
	}

	t.logger.Info("version cache refreshed", "refreshed", len(report.Refreshed), "failed", len(report.Failed))
	return report, nil
}

// CompareHospitalVersions classifies every locally known hospital against its
// remote version. A remote failure marks that hospital unknown.
func (t *VersionTracker) CompareHospitalVersions(ctx context.Context) ([]HospitalVersionStatus, error) {
	hospitals, err := t.store.ListHospitals(ctx)
	if err != nil {
		return nil, StorageError("listing hospitals", err)
	}

	out := make([]HospitalVersionStatus, 0, len(hospitals))
	for _, h := range hospitals {
		st := HospitalVersionStatus{Hospital: h}

		applied, ok, err := t.GetLocalAppliedVersion(ctx, h.ID)
		if err != nil {
			return nil, err
		}
		st.AppliedName = applied

		remote, err := t.GetRemoteVersion(ctx, h.ID)
		switch {
		case err != nil:
			st.State = VersionUnknown
			st.Err = err
		case !ok:
			st.RemoteName = remote.Name
			st.State = VersionNeverSynced
		case remote.Name == applied:
			st.RemoteName = remote.Name
			st.State = VersionCurrent
		default:
			st.RemoteName = remote.Name
			st.State = VersionUpdateAvailable
		}
		out = append(out, st)
	}
	return out, nil
}
