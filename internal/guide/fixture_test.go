package guide_test

import (
	"sync"
	"testing"
	"time"

	"boneguide-go/internal/assets"
	"boneguide-go/internal/database"
	"boneguide-go/internal/guide"
	"boneguide-go/internal/testutil"
)

// phaseRecorder is a guide.Metrics that remembers every accepted phase.
type phaseRecorder struct {
	guide.NopMetrics

	mu     sync.Mutex
	phases []guide.Phase
}

func (r *phaseRecorder) ObservePhase(_ int64, p guide.Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, p)
}

func (r *phaseRecorder) Phases() []guide.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]guide.Phase(nil), r.phases...)
}

func (r *phaseRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = nil
}

type fixture struct {
	api     *testutil.FakeAPI
	store   *database.SQLiteStore
	assets  *assets.MemoryStore
	clock   *testutil.StubClock
	syncCtx *guide.SyncContext
	metrics *phaseRecorder

	tracker    *guide.VersionTracker
	replicator *guide.Replicator
	catalog    *guide.CatalogRefresher
	publisher  *guide.StatusPublisher
	orch       *guide.Orchestrator
}

func newFixture(t *testing.T, opts guide.ReplicatorOptions) *fixture {
	t.Helper()

	f := &fixture{
		api:     testutil.NewFakeAPI(),
		store:   testutil.NewTestStore(t),
		assets:  testutil.NewTestAssetStore(),
		clock:   testutil.FixedClock(),
		syncCtx: guide.NewSyncContext(),
		metrics: &phaseRecorder{},
	}
	logger := guide.NewNopLogger()

	f.tracker = guide.NewVersionTracker(f.api, f.store, f.clock, logger, f.metrics)
	f.replicator = guide.NewReplicator(f.api, f.store, f.assets, f.syncCtx, f.clock,
		testutil.NewStubIDGenerator(), logger, f.metrics, opts)
	f.catalog = guide.NewCatalogRefresher(f.api, f.store, logger)
	f.publisher = guide.NewStatusPublisher(f.syncCtx, f.clock)
	f.orch = guide.NewOrchestrator(f.syncCtx, f.tracker, f.replicator, f.catalog, f.publisher, logger, f.metrics)
	return f
}

// serve publishes a sample hospital at the given version, images included.
func (f *fixture) serve(hospitalID int64, version string) {
	f.api.SetTree(hospitalID, testutil.SampleTree(hospitalID, version))
	f.api.SetVersion(hospitalID, version)
	f.api.SetAsset(testutil.SampleLeafImageURL, []byte("jpeg"), "image/jpeg")
	f.api.SetAsset(testutil.SampleContentImageURL, []byte("png"), "image/png")
}

// online selects the hospital, goes online and returns the resulting state.
func (f *fixture) online(hospitalID int64) guide.SyncState {
	f.syncCtx.SelectHospital(hospitalID)
	f.syncCtx.SetOnline(true)
	return f.syncCtx.State()
}

func (f *fixture) offline(hospitalID int64) guide.SyncState {
	f.syncCtx.SelectHospital(hospitalID)
	f.syncCtx.SetOnline(false)
	return f.syncCtx.State()
}

func waitFor(t *testing.T, ch <-chan guide.Status, want guide.Phase) guide.Status {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-ch:
			if s.Phase == want {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for phase %v", want)
			return guide.Status{}
		}
	}
}
