package guide_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"boneguide-go/internal/guide"
)

func samePhases(got, want []guide.Phase) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestOrchestrator_Init(t *testing.T) {
	ctx := context.Background()

	t.Run("no hospital selected", func(t *testing.T) {
		f := newFixture(t, guide.ReplicatorOptions{})
		f.syncCtx.SetOnline(true)

		got := f.orch.Reconcile(ctx, f.syncCtx.State())
		if got.Phase != guide.PhaseInit || !got.Flags().CheckingUpdates {
			t.Errorf("Reconcile() = %+v, want init with checking flag", got)
		}
	})

	t.Run("connectivity unknown", func(t *testing.T) {
		f := newFixture(t, guide.ReplicatorOptions{})
		f.syncCtx.SelectHospital(1)

		if got := f.orch.Reconcile(ctx, f.syncCtx.State()); got.Phase != guide.PhaseInit {
			t.Errorf("Reconcile() phase = %v, want init", got.Phase)
		}
		if n := f.api.Calls("GetCurrentVersion"); n != 0 {
			t.Errorf("GetCurrentVersion called %d times, want 0", n)
		}
	})
}

func TestOrchestrator_FirstSyncOnline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, guide.ReplicatorOptions{})
	f.api.SetHospitals(guide.Hospital{ID: 1, Name: "Hospital 1"})
	f.serve(1, "2")

	got := f.orch.Reconcile(ctx, f.online(1))
	if got.Phase != guide.PhaseUpToDate || !got.Flags().CanBrowse() {
		t.Fatalf("Reconcile() = %+v, want up_to_date and browsable", got)
	}
	want := []guide.Phase{guide.PhaseChecking, guide.PhaseNeedsDownload, guide.PhaseUpToDate}
	if !samePhases(f.metrics.Phases(), want) {
		t.Errorf("phases = %v, want %v", f.metrics.Phases(), want)
	}

	if hs, _ := f.store.ListHospitals(ctx); len(hs) != 1 {
		t.Errorf("catalog holds %d hospitals, want 1", len(hs))
	}
	if cached, ok, _ := f.tracker.GetCachedRemoteVersion(ctx, 1); !ok || cached != "2" {
		t.Errorf("cached remote version = %q, %v, want 2", cached, ok)
	}
	if n := f.api.Calls("ListHospitals"); n != 1 {
		t.Errorf("ListHospitals called %d times in one pass, want 1", n)
	}
}

func TestOrchestrator_AlreadyUpToDate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, guide.ReplicatorOptions{})
	f.api.SetHospitals(guide.Hospital{ID: 1, Name: "Hospital 1"})
	f.serve(1, "2")

	st := f.online(1)
	f.orch.Reconcile(ctx, st)
	f.metrics.Reset()

	got := f.orch.Reconcile(ctx, st)
	if got.Phase != guide.PhaseUpToDate {
		t.Fatalf("Reconcile() phase = %v, want up_to_date", got.Phase)
	}
	if !samePhases(f.metrics.Phases(), []guide.Phase{guide.PhaseChecking, guide.PhaseUpToDate}) {
		t.Errorf("phases = %v, want checking then up_to_date", f.metrics.Phases())
	}
	if n := f.api.Calls("GetHospitalTree"); n != 1 {
		t.Errorf("GetHospitalTree called %d times, want 1", n)
	}
}

// Applied version 2, remote moves to 3: online the hospital is refreshed; if
// the refresh fails and the device goes offline, the stale content is flagged.
func TestOrchestrator_Staleness(t *testing.T) {
	ctx := context.Background()

	t.Run("online update", func(t *testing.T) {
		f := newFixture(t, guide.ReplicatorOptions{})
		f.api.SetHospitals(guide.Hospital{ID: 1, Name: "Hospital 1"})
		f.serve(1, "2")
		st := f.online(1)
		f.orch.Reconcile(ctx, st)

		f.serve(1, "3")
		f.metrics.Reset()
		got := f.orch.Reconcile(ctx, st)
		if got.Phase != guide.PhaseUpToDate {
			t.Fatalf("Reconcile() phase = %v, want up_to_date", got.Phase)
		}
		want := []guide.Phase{guide.PhaseChecking, guide.PhaseNeedsDownload, guide.PhaseUpToDate}
		if !samePhases(f.metrics.Phases(), want) {
			t.Errorf("phases = %v, want %v", f.metrics.Phases(), want)
		}
		if applied, _, _ := f.tracker.GetLocalAppliedVersion(ctx, 1); applied != "3" {
			t.Errorf("applied version = %q, want 3", applied)
		}
	})

	t.Run("failed update then offline", func(t *testing.T) {
		f := newFixture(t, guide.ReplicatorOptions{})
		f.api.SetHospitals(guide.Hospital{ID: 1, Name: "Hospital 1"})
		f.serve(1, "2")
		f.orch.Reconcile(ctx, f.online(1))

		f.serve(1, "3")
		f.api.SetError("GetHospitalTree", guide.NetworkError("tree", errors.New("reset")))
		got := f.orch.Reconcile(ctx, f.syncCtx.State())
		if got.Phase != guide.PhaseDownloadFailed || !errors.Is(got.Err, guide.ErrNetwork) {
			t.Fatalf("Reconcile() = %+v, want download_failed with network error", got)
		}
		if flags := got.Flags(); !flags.Downloading || !flags.DownloadFailed || flags.CanBrowse() {
			t.Errorf("Flags() = %+v, want downloading and failed", flags)
		}

		got = f.orch.Reconcile(ctx, f.offline(1))
		if got.Phase != guide.PhaseStaleOffline {
			t.Fatalf("Reconcile() offline phase = %v, want stale_offline", got.Phase)
		}
		if flags := got.Flags(); !flags.ViewingStaleVersion || flags.CanBrowse() {
			t.Errorf("Flags() = %+v, want viewing stale version", flags)
		}
		if f.publisher.CanBrowse() {
			t.Error("publisher CanBrowse() = true, want false")
		}
	})
}

func TestOrchestrator_Offline(t *testing.T) {
	ctx := context.Background()

	t.Run("never synced", func(t *testing.T) {
		f := newFixture(t, guide.ReplicatorOptions{})
		got := f.orch.Reconcile(ctx, f.offline(1))
		if got.Phase != guide.PhaseNeverSyncedOffline || !got.Flags().OfflineUpdateRequired {
			t.Errorf("Reconcile() = %+v, want never_synced_offline", got)
		}
		if n := f.api.Calls("GetCurrentVersion"); n != 0 {
			t.Errorf("GetCurrentVersion called %d times offline, want 0", n)
		}
	})

	t.Run("connectivity lost during first download", func(t *testing.T) {
		f := newFixture(t, guide.ReplicatorOptions{})
		f.api.SetHospitals(guide.Hospital{ID: 7, Name: "Hospital 7"})
		f.serve(7, "1")
		st := f.online(7)

		f.api.OnTree(func(int64) { f.syncCtx.SetOnline(false) })
		f.orch.Reconcile(ctx, st)

		cached, ok, err := f.tracker.GetCachedRemoteVersion(ctx, 7)
		if err != nil || !ok || cached != "1" {
			t.Fatalf("GetCachedRemoteVersion() = %q, %v, %v, want cached 1", cached, ok, err)
		}

		got := f.orch.Reconcile(ctx, f.syncCtx.State())
		if got.Phase != guide.PhaseNeverSyncedOffline || !got.Flags().OfflineUpdateRequired {
			t.Errorf("Reconcile() = %+v, want never_synced_offline despite cached version", got)
		}
		if f.publisher.CanBrowse() {
			t.Error("publisher CanBrowse() = true, want false")
		}
	})

	t.Run("synced and current", func(t *testing.T) {
		f := newFixture(t, guide.ReplicatorOptions{})
		f.api.SetHospitals(guide.Hospital{ID: 1, Name: "Hospital 1"})
		f.serve(1, "5")
		f.orch.Reconcile(ctx, f.online(1))

		got := f.orch.Reconcile(ctx, f.offline(1))
		if got.Phase != guide.PhaseUpToDate || !got.Flags().CanBrowse() {
			t.Errorf("Reconcile() = %+v, want up_to_date offline", got)
		}
	})
}

func TestOrchestrator_VersionCheckFailure(t *testing.T) {
	f := newFixture(t, guide.ReplicatorOptions{})
	f.api.SetHospitals(guide.Hospital{ID: 1, Name: "Hospital 1"})
	f.serve(1, "2")
	f.api.SetError("GetCurrentVersion/1", guide.NetworkError("version", errors.New("timeout")))

	got := f.orch.Reconcile(context.Background(), f.online(1))
	if got.Phase != guide.PhaseChecking || !errors.Is(got.Err, guide.ErrNetwork) {
		t.Errorf("Reconcile() = %+v, want checking with network error", got)
	}
	if !got.Flags().CheckingUpdates {
		t.Errorf("Flags() = %+v, want checking updates", got.Flags())
	}
	if n := f.api.Calls("GetHospitalTree"); n != 0 {
		t.Errorf("GetHospitalTree called %d times, want 0", n)
	}
}

func TestOrchestrator_SupersededStatusNotPublished(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, guide.ReplicatorOptions{})
	f.api.SetHospitals(guide.Hospital{ID: 1, Name: "Hospital 1"})
	f.serve(1, "2")
	st := f.online(1)

	f.api.OnTree(func(int64) { f.syncCtx.SetOnline(false) })
	f.orch.Reconcile(ctx, st)

	if got := f.publisher.Current(); got.Phase == guide.PhaseUpToDate || got.Phase == guide.PhaseDownloadFailed {
		t.Errorf("Current() = %+v, want no outcome from the superseded pass", got)
	}
	if synced, _ := f.store.FindSyncedHospital(ctx, 1); synced != nil {
		t.Errorf("FindSyncedHospital() = %+v, want nothing committed", synced)
	}
}

func TestOrchestrator_Run(t *testing.T) {
	f := newFixture(t, guide.ReplicatorOptions{})
	f.api.SetHospitals(guide.Hospital{ID: 1, Name: "Hospital 1"}, guide.Hospital{ID: 2, Name: "Hospital 2"})
	f.serve(1, "2")
	f.serve(2, "9")

	statuses, unsubscribe := f.publisher.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.orch.Run(ctx) }()

	f.online(1)
	if got := waitFor(t, statuses, guide.PhaseUpToDate); got.HospitalID != 1 {
		t.Errorf("up_to_date for hospital %d, want 1", got.HospitalID)
	}

	f.syncCtx.SelectHospital(2)
	if got := waitFor(t, statuses, guide.PhaseUpToDate); got.HospitalID != 2 {
		t.Errorf("up_to_date for hospital %d, want 2", got.HospitalID)
	}

	f.syncCtx.SetOnline(false)
	waitFor(t, statuses, guide.PhaseUpToDate)

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestOrchestrator_RunRapidHospitalSwitch(t *testing.T) {
	f := newFixture(t, guide.ReplicatorOptions{})
	f.api.SetHospitals(guide.Hospital{ID: 1, Name: "Hospital 1"}, guide.Hospital{ID: 2, Name: "Hospital 2"})
	f.serve(1, "2")
	f.serve(2, "9")
	f.api.OnTree(func(int64) { time.Sleep(time.Millisecond) })

	statuses, unsubscribe := f.publisher.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.orch.Run(ctx) }()

	f.online(1)
	for i := 0; i < 40; i++ {
		f.syncCtx.SelectHospital(int64(i%2 + 1))
		time.Sleep(500 * time.Microsecond)
	}
	f.syncCtx.SelectHospital(2)
	final := f.syncCtx.State().Generation

	deadline := time.After(10 * time.Second)
	var last guide.Status
wait:
	for {
		select {
		case last = <-statuses:
			if last.Generation == final && (last.Phase == guide.PhaseUpToDate || last.Err != nil) {
				break wait
			}
		case <-deadline:
			t.Fatalf("timed out waiting for the final pass, last status %+v", last)
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}

	if last.Phase != guide.PhaseUpToDate || last.HospitalID != 2 || last.Err != nil {
		t.Fatalf("final status = %+v, want up_to_date for hospital 2", last)
	}
	cats, err := f.store.ListCategories(context.Background(), 2)
	if err != nil {
		t.Fatalf("ListCategories() error = %v", err)
	}
	if len(cats) != 2 {
		t.Errorf("ListCategories() returned %d categories, want 2", len(cats))
	}
	if err := f.store.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() after switching error = %v", err)
	}
}
