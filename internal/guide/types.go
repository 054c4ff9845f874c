package guide

import "time"

// Hospital is a tenant whose guideline content is mirrored independently.
type Hospital struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	MaintenanceMode bool    `json:"maintenanceMode"`
	MaintenanceDate *string `json:"maintenanceDate"`
}

// DefaultProject is the project a hospital opens on by default.
type DefaultProject struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	HospitalID int64  `json:"-"`
}

// RemoteVersion is the current content version advertised by the remote for a hospital.
type RemoteVersion struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// HospitalTree is the full content payload for one hospital.
type HospitalTree struct {
	Hospital Hospital  `json:"hospital"`
	Projects []Project `json:"projects"`
}

// Project is a versioned bundle of content nodes.
type Project struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	IsPublished bool   `json:"isPublished"`
	Nodes       []Node `json:"nodes"`
}

// PublishedProjects returns the projects flagged as published, in payload order.
func (t *HospitalTree) PublishedProjects() []Project {
	var out []Project
	for _, p := range t.Projects {
		if p.IsPublished {
			out = append(out, p)
		}
	}
	return out
}

// Node is one element of the recursive content tree. Its role (category,
// child, leaf) follows from its depth below the project.
type Node struct {
	ID           int64   `json:"id"`
	Title        string  `json:"title"`
	Content      string  `json:"content"`
	Image        *string `json:"image"`
	ParentNodeID *int64  `json:"parentNodeId"`
	Breadcrumb   []Crumb `json:"breadcrumb"`
	ChildNodes   []Node  `json:"childNodes"`
}

// Crumb is one entry of a node's navigation path as sent by the remote.
type Crumb struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// VersionSnapshot is the last remote version observed for a hospital.
type VersionSnapshot struct {
	HospitalID  int64
	VersionID   int64
	VersionName string
	CheckedAt   time.Time
}

// SyncedHospital marks a hospital whose content has been fully replicated.
// VersionName is the applied version every comparison uses. ProjectVersionName
// and RemoteVersionName record both candidate stamps seen during the run.
type SyncedHospital struct {
	ID                 int64
	Name               string
	MaintenanceMode    bool
	MaintenanceDate    *string
	VersionName        string
	ProjectVersionName string
	RemoteVersionName  string
	SyncedAt           time.Time
}

// Category is a first-level node of a published project.
type Category struct {
	ID         int64
	HospitalID int64
	ProjectID  int64
	Title      string
}

// ChildNode is a second-level node under a category.
type ChildNode struct {
	ID           int64
	HospitalID   int64
	ParentNodeID int64
	Title        string
}

// LeafNode is a content-bearing node under a child node.
// Content is nil when the remote sent nothing or the document was malformed.
type LeafNode struct {
	ID           int64
	HospitalID   int64
	ParentNodeID int64
	Title        string
	Image        *string
	Content      *string
}

// Breadcrumb is one stored entry of a node's navigation path.
type Breadcrumb struct {
	HospitalID  int64
	OwnerNodeID int64
	Position    int
	CrumbID     int64
	Title       string
}

// MirrorTree is the flattened content of one hospital, ready to be written
// to the local store in a single replace.
type MirrorTree struct {
	Hospital   SyncedHospital
	Categories []Category
	Children   []MirrorChild
	Leaves     []MirrorLeaf
}

// MirrorChild is a child node together with its breadcrumbs.
type MirrorChild struct {
	Node   ChildNode
	Crumbs []Breadcrumb
}

// MirrorLeaf is a leaf node together with its breadcrumbs.
type MirrorLeaf struct {
	Node   LeafNode
	Crumbs []Breadcrumb
}

// NodeFailure records one node that could not be written.
type NodeFailure struct {
	Kind   string // "category", "child" or "leaf"
	NodeID int64
	Err    error
}

// WriteReport summarizes a tree replace.
type WriteReport struct {
	NodesWritten int
	Failures     []NodeFailure
}

// SyncRun is one recorded replication attempt.
type SyncRun struct {
	ID           int64
	HospitalID   int64
	Generation   uint64
	StartedAt    time.Time
	FinishedAt   *time.Time
	Status       string // "running", "success", "error" or "superseded"
	VersionName  string
	NodesWritten int
	NodesFailed  int
	Error        string
}
