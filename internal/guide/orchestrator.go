package guide

import (
	"context"
	"errors"
	"sync"
)

// Orchestrator runs reconciliation passes for the selected hospital and
// publishes their outcome.
type Orchestrator struct {
	syncCtx    *SyncContext
	tracker    *VersionTracker
	replicator *Replicator
	catalog    *CatalogRefresher
	publisher  *StatusPublisher
	logger     Logger
	metrics    Metrics
}

// NewOrchestrator creates an Orchestrator. catalog may be nil.
func NewOrchestrator(syncCtx *SyncContext, tracker *VersionTracker, replicator *Replicator, catalog *CatalogRefresher, publisher *StatusPublisher, logger Logger, metrics Metrics) *Orchestrator {
	return &Orchestrator{
		syncCtx:    syncCtx,
		tracker:    tracker,
		replicator: replicator,
		catalog:    catalog,
		publisher:  publisher,
		logger:     logger,
		metrics:    metrics,
	}
}

// Run starts a pass for the current state and for every later change of the
// SyncContext until ctx is done. A new pass cancels the one before it.
func (o *Orchestrator) Run(ctx context.Context) error {
	states, unsubscribe := o.syncCtx.Subscribe()
	defer unsubscribe()

	var (
		wg     sync.WaitGroup
		cancel context.CancelFunc = func() {}
	)
	defer func() {
		cancel()
		wg.Wait()
	}()

	start := func(st SyncState) {
		cancel()
		var passCtx context.Context
		passCtx, cancel = context.WithCancel(ctx)
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Reconcile(passCtx, st)
		}()
	}

	start(o.syncCtx.State())
	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-states:
			o.logger.Debug("sync context changed",
				"generation", st.Generation,
				"connectivity", st.Connectivity.String(),
				"hospital_id", st.HospitalID)
			start(st)
		}
	}
}

// Reconcile runs one pass for st and returns the last status it produced.
// Statuses of a superseded generation are not published.
func (o *Orchestrator) Reconcile(ctx context.Context, st SyncState) Status {
	if !st.HasHospital() || st.Connectivity == ConnectivityUnknown {
		return o.publish(st, PhaseInit, nil)
	}
	if st.Connectivity == ConnectivityOffline {
		return o.reconcileOffline(ctx, st)
	}
	return o.reconcileOnline(ctx, st)
}

func (o *Orchestrator) reconcileOnline(ctx context.Context, st SyncState) Status {
	h := st.HospitalID
	o.publish(st, PhaseChecking, nil)

	if o.catalog != nil {
		if _, err := o.catalog.Refresh(ctx); err != nil {
			o.logger.Warn("catalog refresh failed", "error", err)
		}
	}
	if _, err := o.tracker.RefreshRemoteVersionCache(ctx); err != nil {
		o.logger.Warn("version cache refresh failed", "error", err)
	}

	remote, err := o.tracker.GetRemoteVersion(ctx, h)
	if err != nil {
		o.logger.Warn("version check failed", "hospital_id", h, "error", err)
		return o.publish(st, PhaseChecking, err)
	}

	applied, ok, err := o.tracker.GetLocalAppliedVersion(ctx, h)
	if err != nil {
		o.logger.Error("reading applied version", "hospital_id", h, "error", err)
		return o.publish(st, PhaseChecking, err)
	}
	if ok && applied == remote.Name {
		o.logger.Info("hospital is up to date", "hospital_id", h, "version", applied)
		return o.publish(st, PhaseUpToDate, nil)
	}

	o.logger.Info("hospital needs download", "hospital_id", h, "applied", applied, "remote", remote.Name)
	o.publish(st, PhaseNeedsDownload, nil)

	if _, err := o.replicator.Replicate(ctx, h, st.Generation); err != nil {
		if errors.Is(err, ErrSuperseded) || ctx.Err() != nil {
			return o.publisher.Current()
		}
		return o.publish(st, PhaseDownloadFailed, err)
	}
	return o.publish(st, PhaseUpToDate, nil)
}

func (o *Orchestrator) reconcileOffline(ctx context.Context, st SyncState) Status {
	h := st.HospitalID

	synced, err := o.tracker.IsHospitalEverSynced(ctx, h)
	if err != nil {
		return o.publish(st, PhaseChecking, err)
	}
	if !synced {
		o.logger.Info("hospital never synced and offline", "hospital_id", h)
		return o.publish(st, PhaseNeverSyncedOffline, nil)
	}

	applied, _, err := o.tracker.GetLocalAppliedVersion(ctx, h)
	if err != nil {
		return o.publish(st, PhaseChecking, err)
	}
	cached, ok, err := o.tracker.GetCachedRemoteVersion(ctx, h)
	if err != nil {
		return o.publish(st, PhaseChecking, err)
	}
	if !ok || cached == applied {
		return o.publish(st, PhaseUpToDate, nil)
	}

	o.logger.Info("viewing stale content offline", "hospital_id", h, "applied", applied, "cached_remote", cached)
	return o.publish(st, PhaseStaleOffline, nil)
}

func (o *Orchestrator) publish(st SyncState, phase Phase, err error) Status {
	s := Status{
		Phase:      phase,
		HospitalID: st.HospitalID,
		Generation: st.Generation,
		Err:        err,
	}
	if !o.publisher.Publish(s) {
		o.logger.Debug("dropping superseded status", "generation", st.Generation, "phase", phase.String())
		return s
	}
	o.metrics.ObservePhase(st.HospitalID, phase)
	return o.publisher.Current()
}
