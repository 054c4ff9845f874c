package guide_test

import (
	"context"
	"errors"
	"testing"

	"boneguide-go/internal/guide"
)

func TestVersionTracker_RefreshRemoteVersionCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, guide.ReplicatorOptions{})
	f.api.SetHospitals(guide.Hospital{ID: 1, Name: "A"}, guide.Hospital{ID: 2, Name: "B"}, guide.Hospital{ID: 3, Name: "C"})
	f.api.SetVersion(1, "7")
	f.api.SetVersion(3, "2")
	f.api.SetError("GetCurrentVersion/2", guide.NetworkError("version", errors.New("timeout")))
	if _, err := f.catalog.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	listed := f.api.Calls("ListHospitals")

	report, err := f.tracker.RefreshRemoteVersionCache(ctx)
	if err != nil {
		t.Fatalf("RefreshRemoteVersionCache() error = %v", err)
	}
	if len(report.Refreshed) != 2 || len(report.Failed) != 1 {
		t.Errorf("report = %+v, want 2 refreshed and 1 failed", report)
	}
	if !errors.Is(report.Failed[2], guide.ErrNetwork) {
		t.Errorf("Failed[2] = %v, want ErrNetwork", report.Failed[2])
	}

	for id, want := range map[int64]string{1: "7", 3: "2"} {
		got, ok, err := f.tracker.GetCachedRemoteVersion(ctx, id)
		if err != nil {
			t.Fatalf("GetCachedRemoteVersion(%d) error = %v", id, err)
		}
		if !ok || got != want {
			t.Errorf("GetCachedRemoteVersion(%d) = %q, %v, want %q", id, got, ok, want)
		}
	}
	if _, ok, _ := f.tracker.GetCachedRemoteVersion(ctx, 2); ok {
		t.Error("GetCachedRemoteVersion(2) found a snapshot for a failed hospital")
	}
	if n := f.api.Calls("ListHospitals"); n != listed {
		t.Errorf("ListHospitals called %d more times, want the stored catalog to be used", n-listed)
	}
}

func TestVersionTracker_RefreshEmptyCatalog(t *testing.T) {
	f := newFixture(t, guide.ReplicatorOptions{})
	f.api.SetHospitals(guide.Hospital{ID: 1, Name: "A"})
	f.api.SetVersion(1, "7")

	report, err := f.tracker.RefreshRemoteVersionCache(context.Background())
	if err != nil {
		t.Fatalf("RefreshRemoteVersionCache() error = %v", err)
	}
	if len(report.Refreshed) != 0 || len(report.Failed) != 0 {
		t.Errorf("report = %+v, want nothing refreshed before the catalog is stored", report)
	}
}

func TestVersionTracker_RefreshCatalogReadFailure(t *testing.T) {
	f := newFixture(t, guide.ReplicatorOptions{})
	f.store.Close()

	if _, err := f.tracker.RefreshRemoteVersionCache(context.Background()); !errors.Is(err, guide.ErrStorage) {
		t.Errorf("RefreshRemoteVersionCache() error = %v, want ErrStorage", err)
	}
}

func TestVersionTracker_LocalVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, guide.ReplicatorOptions{})

	synced, err := f.tracker.IsHospitalEverSynced(ctx, 1)
	if err != nil || synced {
		t.Fatalf("IsHospitalEverSynced() = %v, %v, want false", synced, err)
	}
	if _, ok, err := f.tracker.GetLocalAppliedVersion(ctx, 1); ok || err != nil {
		t.Fatalf("GetLocalAppliedVersion() ok = %v, err = %v, want not found", ok, err)
	}

	f.serve(1, "4")
	st := f.online(1)
	if _, err := f.replicator.Replicate(ctx, 1, st.Generation); err != nil {
		t.Fatalf("Replicate() error = %v", err)
	}

	synced, err = f.tracker.IsHospitalEverSynced(ctx, 1)
	if err != nil || !synced {
		t.Errorf("IsHospitalEverSynced() = %v, %v, want true", synced, err)
	}
	got, ok, err := f.tracker.GetLocalAppliedVersion(ctx, 1)
	if err != nil || !ok || got != "4" {
		t.Errorf("GetLocalAppliedVersion() = %q, %v, %v, want 4", got, ok, err)
	}
}

func TestVersionTracker_CompareHospitalVersions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, guide.ReplicatorOptions{})

	f.api.SetHospitals(guide.Hospital{ID: 1, Name: "A"}, guide.Hospital{ID: 2, Name: "B"}, guide.Hospital{ID: 3, Name: "C"}, guide.Hospital{ID: 4, Name: "D"})
	if _, err := f.catalog.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	f.serve(1, "2")
	f.serve(2, "5")
	st := f.online(1)
	for _, id := range []int64{1, 2} {
		if _, err := f.replicator.Replicate(ctx, id, st.Generation); err != nil {
			t.Fatalf("Replicate(%d) error = %v", id, err)
		}
	}
	f.api.SetVersion(2, "6")
	f.api.SetVersion(3, "1")

	got, err := f.tracker.CompareHospitalVersions(ctx)
	if err != nil {
		t.Fatalf("CompareHospitalVersions() error = %v", err)
	}
	want := map[int64]guide.VersionState{
		1: guide.VersionCurrent,
		2: guide.VersionUpdateAvailable,
		3: guide.VersionNeverSynced,
		4: guide.VersionUnknown,
	}
	if len(got) != len(want) {
		t.Fatalf("CompareHospitalVersions() returned %d rows, want %d", len(got), len(want))
	}
	for _, row := range got {
		if row.State != want[row.Hospital.ID] {
			t.Errorf("hospital %d state = %v, want %v", row.Hospital.ID, row.State, want[row.Hospital.ID])
		}
	}
}
