package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"boneguide-go/internal/assets"
	"boneguide-go/internal/config"
	"boneguide-go/internal/connectivity"
	"boneguide-go/internal/database"
	"boneguide-go/internal/guide"
	"boneguide-go/internal/metrics"
	"boneguide-go/internal/remote"
)

// ErrNotBrowsable is returned by browse operations while the selected
// hospital's content may not be shown.
var ErrNotBrowsable = errors.New("hospital content is not browsable")

// ErrNoHospital is returned when no hospital is given, configured or known.
var ErrNoHospital = errors.New("no hospital selected")

// Options tunes a GuideApp.
type Options struct {
	Verbose bool
	// Progress receives image download progress during replication.
	Progress guide.ProgressFunc
}

// GuideApp is the application layer between the CLI and the sync engine.
// It constructs all dependencies from config and exposes high-level
// operations. The caller must call Close when done.
type GuideApp struct {
	cfg        *config.Config
	store      guide.Store
	assets     guide.AssetStore
	syncCtx    *guide.SyncContext
	tracker    *guide.VersionTracker
	replicator *guide.Replicator
	catalog    *guide.CatalogRefresher
	publisher  *guide.StatusPublisher
	orch       *guide.Orchestrator
	monitor    *connectivity.Monitor
	metrics    *metrics.Recorder
	logger     guide.Logger
	logFile    *os.File
}

// NewGuideApp creates a fully wired GuideApp from the given config.
// command identifies the CLI command being run and is attached to every log record.
func NewGuideApp(ctx context.Context, cfg *config.Config, command string, opts Options) (*GuideApp, error) {
	runID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, runID, opts.Verbose)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger = logger.With("command", command)

	api := remote.NewClient(nil, cfg.Remote.BaseURL, cfg.Remote.Timeout())
	a, err := newGuideApp(ctx, cfg, api, logger, opts)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.logFile = logFile
	return a, nil
}

// newGuideApp wires the app around an existing content API.
func newGuideApp(ctx context.Context, cfg *config.Config, api guide.ContentAPI, logger *slog.Logger, opts Options) (*GuideApp, error) {
	store, err := database.NewStoreFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}
	if err := store.CheckMigrations(); err != nil {
		store.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	assetStore, err := assets.NewAssetStoreFromConfig(ctx, cfg.Assets)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating asset store: %w", err)
	}

	log := &slogAdapter{l: logger}
	log.Debug("mirror opened", "database", cfg.Database.Type, "schema_version", store.SchemaVersion())
	rec := metrics.NewRecorder()
	clock := guide.RealClock{}
	syncCtx := guide.NewSyncContext()

	tracker := guide.NewVersionTracker(api, store, clock, log, rec)
	replicator := guide.NewReplicator(api, store, assetStore, syncCtx, clock, guide.UUIDGenerator{}, log, rec,
		guide.ReplicatorOptions{
			VersionSource:    guide.VersionSource(cfg.Sync.VersionSource),
			ImageConcurrency: cfg.Sync.ImageConcurrency,
			Progress:         opts.Progress,
		})
	catalog := guide.NewCatalogRefresher(api, store, log)
	publisher := guide.NewStatusPublisher(syncCtx, clock)

	return &GuideApp{
		cfg:        cfg,
		store:      store,
		assets:     assetStore,
		syncCtx:    syncCtx,
		tracker:    tracker,
		replicator: replicator,
		catalog:    catalog,
		publisher:  publisher,
		orch:       guide.NewOrchestrator(syncCtx, tracker, replicator, catalog, publisher, log, rec),
		monitor:    connectivity.NewMonitor(api, syncCtx, cfg.Sync.ProbeInterval(), log),
		metrics:    rec,
		logger:     log,
	}, nil
}

// RefreshCatalog downloads the hospital list and default selections.
func (a *GuideApp) RefreshCatalog(ctx context.Context) (*guide.CatalogReport, error) {
	return a.catalog.Refresh(ctx)
}

// ListHospitals returns the locally stored hospital catalog.
func (a *GuideApp) ListHospitals(ctx context.Context) ([]guide.Hospital, error) {
	return a.store.ListHospitals(ctx)
}

// HospitalStatuses compares every known hospital against its remote version.
func (a *GuideApp) HospitalStatuses(ctx context.Context) ([]guide.HospitalVersionStatus, error) {
	return a.tracker.CompareHospitalVersions(ctx)
}

// ResolveHospital picks the hospital to work on: the explicit id, then the
// configured one, then the catalog default.
func (a *GuideApp) ResolveHospital(ctx context.Context, id int64) (int64, error) {
	if id != 0 {
		return id, nil
	}
	if a.cfg.Sync.HospitalID != 0 {
		return a.cfg.Sync.HospitalID, nil
	}
	def, err := a.catalog.DefaultSelection(ctx)
	if err != nil {
		return 0, err
	}
	if def == nil {
		return 0, ErrNoHospital
	}
	return def.ID, nil
}

// Sync runs one reconciliation pass for the hospital. Unless offline is set,
// connectivity is probed first.
func (a *GuideApp) Sync(ctx context.Context, hospitalID int64, offline bool) (guide.Status, error) {
	a.syncCtx.SelectHospital(hospitalID)
	if offline {
		a.syncCtx.SetOnline(false)
	} else {
		if err := a.assets.ValidateSetup(); err != nil {
			return guide.Status{}, fmt.Errorf("asset store not ready: %w", err)
		}
		a.monitor.Check(ctx)
	}
	return a.orch.Reconcile(ctx, a.syncCtx.State()), nil
}

// Status returns the latest published status.
func (a *GuideApp) Status() guide.Status {
	return a.publisher.Current()
}

// Watch keeps the selected hospital reconciled until ctx is done: it probes
// connectivity, reruns passes on every change and, when configured, serves
// metrics over HTTP.
func (a *GuideApp) Watch(ctx context.Context, hospitalID int64) error {
	if err := a.assets.ValidateSetup(); err != nil {
		return fmt.Errorf("asset store not ready: %w", err)
	}
	a.syncCtx.SelectHospital(hospitalID)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.orch.Run(ctx)
	})
	g.Go(func() error {
		a.monitor.Run(ctx)
		return nil
	})
	g.Go(func() error {
		statuses, unsubscribe := a.publisher.Subscribe()
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return nil
			case s := <-statuses:
				a.logger.Info("status", "hospital_id", s.HospitalID, "phase", s.Phase.String(), "generation", s.Generation)
			}
		}
	})
	if addr := a.cfg.Sync.MetricsAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: a.metricsMux()}
		g.Go(func() error {
			a.logger.Info("serving metrics", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

func (a *GuideApp) metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	return mux
}

// checkBrowsable assesses the hospital from local data only and reports
// whether its content may be shown. Stale content passes when allowStale is set.
func (a *GuideApp) checkBrowsable(ctx context.Context, hospitalID int64, allowStale bool) error {
	a.syncCtx.SelectHospital(hospitalID)
	a.syncCtx.SetOnline(false)
	st := a.orch.Reconcile(ctx, a.syncCtx.State())
	if st.Err != nil {
		return st.Err
	}
	if st.Flags().CanBrowse() || (allowStale && st.Phase == guide.PhaseStaleOffline) {
		return nil
	}
	return fmt.Errorf("%w: hospital %d is %s", ErrNotBrowsable, hospitalID, st.Phase)
}

// Categories lists the hospital's top-level categories.
func (a *GuideApp) Categories(ctx context.Context, hospitalID int64, allowStale bool) ([]guide.Category, error) {
	if err := a.checkBrowsable(ctx, hospitalID, allowStale); err != nil {
		return nil, err
	}
	return a.store.ListCategories(ctx, hospitalID)
}

// Children lists child nodes under a category, optionally filtered by title.
func (a *GuideApp) Children(ctx context.Context, hospitalID, categoryID int64, query string, allowStale bool) ([]guide.ChildNode, error) {
	if err := a.checkBrowsable(ctx, hospitalID, allowStale); err != nil {
		return nil, err
	}
	return a.store.ListChildNodes(ctx, hospitalID, categoryID, query)
}

// Leaves lists leaf nodes under a child node.
func (a *GuideApp) Leaves(ctx context.Context, hospitalID, childID int64, allowStale bool) ([]guide.LeafNode, error) {
	if err := a.checkBrowsable(ctx, hospitalID, allowStale); err != nil {
		return nil, err
	}
	return a.store.ListLeafNodes(ctx, hospitalID, childID)
}

// Leaf returns one leaf node with its breadcrumbs.
func (a *GuideApp) Leaf(ctx context.Context, hospitalID, leafID int64, allowStale bool) (*guide.LeafNode, []guide.Breadcrumb, error) {
	if err := a.checkBrowsable(ctx, hospitalID, allowStale); err != nil {
		return nil, nil, err
	}
	leaf, err := a.store.FindLeafNode(ctx, hospitalID, leafID)
	if err != nil {
		return nil, nil, err
	}
	if leaf == nil {
		return nil, nil, fmt.Errorf("leaf %d not found in hospital %d", leafID, hospitalID)
	}
	crumbs, err := a.store.ListBreadcrumbs(ctx, hospitalID, leafID)
	if err != nil {
		return nil, nil, err
	}
	return leaf, crumbs, nil
}

// Breadcrumbs returns the navigation path stored for any node.
func (a *GuideApp) Breadcrumbs(ctx context.Context, hospitalID, nodeID int64, allowStale bool) ([]guide.Breadcrumb, error) {
	if err := a.checkBrowsable(ctx, hospitalID, allowStale); err != nil {
		return nil, err
	}
	return a.store.ListBreadcrumbs(ctx, hospitalID, nodeID)
}

// SchemaVersion reports the mirror's schema version.
func (a *GuideApp) SchemaVersion() uint {
	return a.store.SchemaVersion()
}

// History returns the most recent replication runs.
func (a *GuideApp) History(ctx context.Context, limit int) ([]*guide.SyncRun, error) {
	return a.store.ListSyncRuns(ctx, limit)
}

// Close closes the store and the log file.
func (a *GuideApp) Close() error {
	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
