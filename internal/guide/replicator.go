package guide

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// VersionSource selects which remote value stamps the applied version.
type VersionSource string

const (
	// VersionSourceHospital stamps the hospital-level version from the version
	// endpoint, the same value the orchestrator compares against.
	VersionSourceHospital VersionSource = "hospital"
	// VersionSourceProject stamps the first published project's name.
	VersionSourceProject VersionSource = "project"
)

const defaultImageConcurrency = 4

// ReplicatorOptions tunes a Replicator.
type ReplicatorOptions struct {
	VersionSource    VersionSource
	ImageConcurrency int
	Progress         ProgressFunc
}

// ReplicationResult summarizes a committed replication.
type ReplicationResult struct {
	HospitalID    int64
	VersionName   string
	Categories    int
	NodesWritten  int
	NodesFailed   int
	ImagesFetched int
	ImagesFailed  int
	MalformedDocs int
	Elapsed       time.Duration
}

// Replicator mirrors one hospital's remote tree into the local store.
type Replicator struct {
	api     ContentAPI
	store   Store
	gens    Generations
	clock   Clock
	logger  Logger
	metrics Metrics
	opts    ReplicatorOptions
	images  *imageMaterializer

	flight singleflight.Group

	mu    sync.Mutex
	gates map[int64]chan struct{}
}

// NewReplicator creates a Replicator.
func NewReplicator(api ContentAPI, store Store, assets AssetStore, gens Generations, clock Clock, idgen IDGenerator, logger Logger, metrics Metrics, opts ReplicatorOptions) *Replicator {
	if opts.VersionSource == "" {
		opts.VersionSource = VersionSourceHospital
	}
	if opts.ImageConcurrency <= 0 {
		opts.ImageConcurrency = defaultImageConcurrency
	}
	return &Replicator{
		api:     api,
		store:   store,
		gens:    gens,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		opts:    opts,
		images: &imageMaterializer{
			api:      api,
			assets:   assets,
			idgen:    idgen,
			limit:    opts.ImageConcurrency,
			logger:   logger,
			progress: opts.Progress,
		},
		gates: make(map[int64]chan struct{}),
	}
}

// Replicate fetches the hospital's tree and replaces its mirrored content.
// Calls for the same hospital and generation share one run. Runs for the same
// hospital never overlap. A run whose generation is replaced before commit
// rolls back and returns ErrSuperseded.
func (r *Replicator) Replicate(ctx context.Context, hospitalID int64, generation uint64) (*ReplicationResult, error) {
	key := strconv.FormatInt(hospitalID, 10) + "/" + strconv.FormatUint(generation, 10)
	v, err, _ := r.flight.Do(key, func() (any, error) {
		return r.replicateGated(ctx, hospitalID, generation)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ReplicationResult), nil
}

func (r *Replicator) replicateGated(ctx context.Context, hospitalID int64, generation uint64) (*ReplicationResult, error) {
	gate := r.gate(hospitalID)
	select {
	case gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-gate }()

	if !r.gens.IsCurrent(generation) {
		return nil, ErrSuperseded
	}

	run := &SyncRun{
		HospitalID: hospitalID,
		Generation: generation,
		StartedAt:  r.clock.Now(),
		Status:     "running",
	}
	runID, err := r.store.CreateSyncRun(ctx, run)
	if err != nil {
		r.logger.Warn("could not record sync run", "hospital_id", hospitalID, "error", err)
	}
	run.ID = runID

	r.logger.Info("replication started", "hospital_id", hospitalID, "generation", generation)
	result, err := r.replicate(ctx, hospitalID, generation)
	elapsed := r.clock.Now().Sub(run.StartedAt)

	outcome := "success"
	switch {
	case errors.Is(err, ErrSuperseded), errors.Is(err, context.Canceled):
		outcome = "superseded"
	case err != nil:
		outcome = "error"
	}
	r.finishRun(run, outcome, result, err)

	if result != nil {
		result.Elapsed = elapsed
		r.metrics.ObserveReplication(outcome, elapsed, result.NodesWritten, result.NodesFailed)
	} else {
		r.metrics.ObserveReplication(outcome, elapsed, 0, 0)
	}

	if err != nil {
		if outcome == "superseded" {
			r.logger.Info("replication superseded", "hospital_id", hospitalID, "generation", generation)
			return nil, ErrSuperseded
		}
		r.logger.Error("replication failed", "hospital_id", hospitalID, "error", err)
		return nil, err
	}

	r.logger.Info("replication finished",
		"hospital_id", hospitalID,
		"version", result.VersionName,
		"nodes", result.NodesWritten,
		"node_failures", result.NodesFailed,
		"images", result.ImagesFetched,
		"image_failures", result.ImagesFailed,
		"elapsed", elapsed)
	return result, nil
}

func (r *Replicator) replicate(ctx context.Context, hospitalID int64, generation uint64) (*ReplicationResult, error) {
	tree, err := r.api.GetHospitalTree(ctx, hospitalID)
	if err != nil {
		return nil, fmt.Errorf("fetching hospital tree: %w", err)
	}

	var remoteVersion string
	v, err := r.api.GetCurrentVersion(ctx, hospitalID)
	switch {
	case err == nil:
		remoteVersion = v.Name
	case r.opts.VersionSource == VersionSourceHospital:
		return nil, fmt.Errorf("fetching hospital version: %w", err)
	default:
		r.logger.Warn("hospital version unavailable", "hospital_id", hospitalID, "error", err)
	}

	published := tree.PublishedProjects()
	var projectVersion string
	if len(published) > 0 {
		projectVersion = published[0].Name
	} else {
		r.logger.Warn("hospital has no published projects", "hospital_id", hospitalID)
	}

	applied := remoteVersion
	if r.opts.VersionSource == VersionSourceProject {
		applied = projectVersion
	}

	mirror, docs := r.flatten(hospitalID, tree.Hospital, published)
	mirror.Hospital.VersionName = applied
	mirror.Hospital.ProjectVersionName = projectVersion
	mirror.Hospital.RemoteVersionName = remoteVersion

	result := &ReplicationResult{
		HospitalID:    hospitalID,
		VersionName:   applied,
		Categories:    len(mirror.Categories),
		MalformedDocs: docs.malformed,
	}

	refs, failed, err := r.images.materialize(ctx, docs.imageURLs())
	if err != nil {
		return nil, err
	}
	result.ImagesFetched = len(refs)
	result.ImagesFailed = failed
	r.metrics.ObserveImages(len(refs), failed)

	docs.apply(mirror, refs, r.logger)

	if err := r.checkCurrent(ctx, generation); err != nil {
		return nil, err
	}

	mirror.Hospital.SyncedAt = r.clock.Now()
	report, err := r.store.ReplaceHospitalTree(ctx, mirror, func() error {
		return r.checkCurrent(ctx, generation)
	})
	if err != nil {
		if errors.Is(err, ErrSuperseded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, StorageError("replacing hospital tree", err)
	}

	for _, f := range report.Failures {
		r.logger.Warn("node skipped", "hospital_id", hospitalID, "kind", f.Kind, "node_id", f.NodeID, "error", f.Err)
	}
	result.NodesWritten = report.NodesWritten
	result.NodesFailed = len(report.Failures)
	return result, nil
}

func (r *Replicator) checkCurrent(ctx context.Context, generation uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !r.gens.IsCurrent(generation) {
		return ErrSuperseded
	}
	return nil
}

// leafDocs tracks parsed leaf documents and image refs awaiting download.
type leafDocs struct {
	docs      map[int]*Document // index into MirrorTree.Leaves
	images    map[int]string    // leaf index to leaf image URL
	urls      []string
	seen      map[string]bool
	malformed int
}

func (d *leafDocs) addURL(u string) {
	if !isRemoteRef(u) || d.seen[u] {
		return
	}
	d.seen[u] = true
	d.urls = append(d.urls, u)
}

func (d *leafDocs) imageURLs() []string { return d.urls }

// apply rewrites image references in the mirror using refs. A leaf whose
// rewritten document cannot be encoded keeps its original content.
func (d *leafDocs) apply(mirror *MirrorTree, refs map[string]string, logger Logger) {
	for i, u := range d.images {
		if ref, ok := refs[u]; ok {
			mirror.Leaves[i].Node.Image = &ref
		}
	}
	for i, doc := range d.docs {
		if doc.RewriteImages(refs) == 0 {
			continue
		}
		s, err := doc.String()
		if err != nil {
			logger.Warn("keeping remote image refs in leaf content",
				"hospital_id", mirror.Hospital.ID, "leaf_id", mirror.Leaves[i].Node.ID, "error", err)
			continue
		}
		mirror.Leaves[i].Node.Content = &s
	}
}

// flatten turns the published projects into mirror rows. The stored tree is
// three levels deep: categories, child nodes and leaves.
func (r *Replicator) flatten(hospitalID int64, h Hospital, projects []Project) (*MirrorTree, *leafDocs) {
	mirror := &MirrorTree{
		Hospital: SyncedHospital{
			ID:              hospitalID,
			Name:            h.Name,
			MaintenanceMode: h.MaintenanceMode,
			MaintenanceDate: h.MaintenanceDate,
		},
	}
	docs := &leafDocs{
		docs:   make(map[int]*Document),
		images: make(map[int]string),
		seen:   make(map[string]bool),
	}

	for _, p := range projects {
		for _, cat := range p.Nodes {
			mirror.Categories = append(mirror.Categories, Category{
				ID:         cat.ID,
				HospitalID: hospitalID,
				ProjectID:  p.ID,
				Title:      cat.Title,
			})

			for _, child := range cat.ChildNodes {
				mirror.Children = append(mirror.Children, MirrorChild{
					Node: ChildNode{
						ID:           child.ID,
						HospitalID:   hospitalID,
						ParentNodeID: cat.ID,
						Title:        child.Title,
					},
					Crumbs: breadcrumbs(hospitalID, child.ID, child.Breadcrumb),
				})

				for _, leaf := range child.ChildNodes {
					if len(leaf.ChildNodes) > 0 {
						r.logger.Warn("ignoring nodes below leaf depth", "hospital_id", hospitalID, "leaf_id", leaf.ID, "count", len(leaf.ChildNodes))
					}
					idx := len(mirror.Leaves)
					mirror.Leaves = append(mirror.Leaves, MirrorLeaf{
						Node:   r.leafNode(hospitalID, child.ID, leaf, docs, idx),
						Crumbs: breadcrumbs(hospitalID, leaf.ID, leaf.Breadcrumb),
					})
				}
			}
		}
	}
	return mirror, docs
}

func (r *Replicator) leafNode(hospitalID, parentID int64, leaf Node, docs *leafDocs, idx int) LeafNode {
	n := LeafNode{
		ID:           leaf.ID,
		HospitalID:   hospitalID,
		ParentNodeID: parentID,
		Title:        leaf.Title,
	}

	if leaf.Image != nil && *leaf.Image != "" {
		img := *leaf.Image
		n.Image = &img
		if isRemoteRef(img) {
			docs.images[idx] = img
			docs.addURL(img)
		}
	}

	if strings.TrimSpace(leaf.Content) == "" {
		return n
	}
	doc, err := ParseDocument(leaf.Content)
	if err != nil {
		docs.malformed++
		r.logger.Warn("malformed leaf content stored as empty", "hospital_id", hospitalID, "leaf_id", leaf.ID, "error", err)
		return n
	}
	content := leaf.Content
	n.Content = &content
	docs.docs[idx] = doc
	for _, src := range doc.ImageSources() {
		docs.addURL(src)
	}
	return n
}

func breadcrumbs(hospitalID, ownerID int64, crumbs []Crumb) []Breadcrumb {
	out := make([]Breadcrumb, 0, len(crumbs))
	for i, c := range crumbs {
		out = append(out, Breadcrumb{
			HospitalID:  hospitalID,
			OwnerNodeID: ownerID,
			Position:    i,
			CrumbID:     c.ID,
			Title:       c.Title,
		})
	}
	return out
}

func (r *Replicator) gate(hospitalID int64) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gates[hospitalID]
	if !ok {
		g = make(chan struct{}, 1)
		r.gates[hospitalID] = g
	}
	return g
}

func (r *Replicator) finishRun(run *SyncRun, status string, result *ReplicationResult, err error) {
	if run.ID == 0 {
		return
	}
	now := r.clock.Now()
	run.FinishedAt = &now
	run.Status = status
	if result != nil {
		run.VersionName = result.VersionName
		run.NodesWritten = result.NodesWritten
		run.NodesFailed = result.NodesFailed
	}
	if err != nil {
		run.Error = err.Error()
	}
	// The run context may already be cancelled; history is written regardless.
	if ferr := r.store.FinishSyncRun(context.Background(), run); ferr != nil {
		r.logger.Warn("could not finish sync run", "run_id", run.ID, "error", ferr)
	}
}
