package guide

import (
	"context"
	"io"
)

// Store is the local relational mirror. Lookups return nil, nil (or ok=false)
// when nothing is stored.
type Store interface {
	// Catalog
	ReplaceHospitals(ctx context.Context, hospitals []Hospital) error
	ListHospitals(ctx context.Context) ([]Hospital, error)
	FindHospital(ctx context.Context, id int64) (*Hospital, error)
	ReplaceDefaultHospital(ctx context.Context, h Hospital) error
	FindDefaultHospital(ctx context.Context) (*Hospital, error)
	ReplaceDefaultProject(ctx context.Context, p DefaultProject) error
	FindDefaultProject(ctx context.Context, hospitalID int64) (*DefaultProject, error)

	// Versions
	ReplaceVersionSnapshot(ctx context.Context, s VersionSnapshot) error
	FindVersionSnapshot(ctx context.Context, hospitalID int64) (*VersionSnapshot, error)
	FindSyncedHospital(ctx context.Context, hospitalID int64) (*SyncedHospital, error)

	// ReplaceHospitalTree deletes every mirrored row of the tree's hospital and
	// writes the tree in one transaction. Per-node insert failures are reported,
	// not returned. beforeCommit runs last; a non-nil result rolls back and is
	// returned as is.
	ReplaceHospitalTree(ctx context.Context, tree *MirrorTree, beforeCommit func() error) (*WriteReport, error)

	// Mirror reads
	ListCategories(ctx context.Context, hospitalID int64) ([]Category, error)
	ListChildNodes(ctx context.Context, hospitalID, parentID int64, query string) ([]ChildNode, error)
	ListLeafNodes(ctx context.Context, hospitalID, parentID int64) ([]LeafNode, error)
	FindLeafNode(ctx context.Context, hospitalID, id int64) (*LeafNode, error)
	ListBreadcrumbs(ctx context.Context, hospitalID, ownerNodeID int64) ([]Breadcrumb, error)

	// History
	CreateSyncRun(ctx context.Context, run *SyncRun) (int64, error)
	FinishSyncRun(ctx context.Context, run *SyncRun) error
	ListSyncRuns(ctx context.Context, limit int) ([]*SyncRun, error)

	CheckMigrations() error
	// SchemaVersion is the schema version the mirror was opened at.
	SchemaVersion() uint
	Close() error
}

// ContentAPI is the remote content service.
type ContentAPI interface {
	ListHospitals(ctx context.Context) ([]Hospital, error)
	GetDefaultHospital(ctx context.Context) (*Hospital, error)
	GetHospital(ctx context.Context, id int64) (*Hospital, error)
	// GetDefaultProject returns nil, nil when the hospital has none.
	GetDefaultProject(ctx context.Context, hospitalID int64) (*DefaultProject, error)
	GetHospitalTree(ctx context.Context, hospitalID int64) (*HospitalTree, error)
	GetCurrentVersion(ctx context.Context, hospitalID int64) (*RemoteVersion, error)
	FetchAsset(ctx context.Context, url string) (*Asset, error)
	Ping(ctx context.Context) error
}

// Asset is a downloaded binary, typically an image.
type Asset struct {
	Data        []byte
	ContentType string
}

// AssetStore persists downloaded images and returns the local reference that
// replaces the remote URL in stored content.
type AssetStore interface {
	Put(ctx context.Context, name string, r io.Reader, size int64) (string, error)
	ValidateSetup() error
}
