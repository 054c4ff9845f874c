package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"boneguide-go/internal/database/migrations"
	"boneguide-go/internal/guide"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// memoryPath selects an in-memory mirror.
const memoryPath = ":memory:"

// SQLiteStore implements guide.Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	schema uint
	// pin keeps a shared-cache memory database alive; SQLite drops it as
	// soon as its last connection closes.
	pin *sql.Conn
}

// NewSQLiteStore opens the mirror at path and migrates it to the latest schema.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, pin, err := openConnection(path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db, path: path, pin: pin}

	version, err := migrations.Up(db)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	s.schema = version
	return s, nil
}

// NewSQLiteStoreFromDB wraps an existing database connection without migrating it.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// openConnection opens path with its PRAGMAs in the DSN, so a connection the
// pool replaces after a cancelled transaction is configured like the first.
//
// ":memory:" becomes a uniquely named shared-cache database. Every pooled
// connection sees the same tables, and a pinned connection holds the database
// open for the store's lifetime. The pin takes one of the two pool slots, so
// queries still run on a single connection.
func openConnection(path string) (*sql.DB, *sql.Conn, error) {
	dsn := path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
	maxConns := 1
	if path == memoryPath {
		dsn = fmt.Sprintf("file:boneguide-%s?mode=memory&cache=shared&_foreign_keys=on&_busy_timeout=5000", uuid.NewString())
		maxConns = 2
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(maxConns)

	if path != memoryPath {
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		return db, nil, nil
	}

	pin, err := db.Conn(context.Background())
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("pinning in-memory database: %w", err)
	}
	return db, pin, nil
}

// Path returns the database file path, empty for wrapped connections.
func (s *SQLiteStore) Path() string { return s.path }

// SchemaVersion returns the schema version the mirror was migrated to on open.
func (s *SQLiteStore) SchemaVersion() uint { return s.schema }

// Catalog

func (s *SQLiteStore) ReplaceHospitals(ctx context.Context, hospitals []guide.Hospital) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM hospitals"); err != nil {
		return fmt.Errorf("clearing hospitals: %w", err)
	}
	for _, h := range hospitals {
		_, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO hospitals (id, name, maintenance_mode, maintenance_date) VALUES (?, ?, ?, ?)",
			h.ID, h.Name, h.MaintenanceMode, nullString(h.MaintenanceDate))
		if err != nil {
			return fmt.Errorf("inserting hospital %d: %w", h.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListHospitals(ctx context.Context) ([]guide.Hospital, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, maintenance_mode, maintenance_date FROM hospitals ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing hospitals: %w", err)
	}
	defer rows.Close()

	var out []guide.Hospital
	for rows.Next() {
		h, err := scanHospital(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning hospital: %w", err)
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) FindHospital(ctx context.Context, id int64) (*guide.Hospital, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, maintenance_mode, maintenance_date FROM hospitals WHERE id = ?", id)
	h, err := scanHospital(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding hospital: %w", err)
	}
	return h, nil
}

func (s *SQLiteStore) ReplaceDefaultHospital(ctx context.Context, h guide.Hospital) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO default_hospital (slot, id, name, maintenance_mode, maintenance_date)
		 VALUES (1, ?, ?, ?, ?)`,
		h.ID, h.Name, h.MaintenanceMode, nullString(h.MaintenanceDate))
	if err != nil {
		return fmt.Errorf("replacing default hospital: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindDefaultHospital(ctx context.Context) (*guide.Hospital, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, maintenance_mode, maintenance_date FROM default_hospital WHERE slot = 1")
	h, err := scanHospital(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding default hospital: %w", err)
	}
	return h, nil
}

func (s *SQLiteStore) ReplaceDefaultProject(ctx context.Context, p guide.DefaultProject) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO default_projects (hospital_id, id, title) VALUES (?, ?, ?)",
		p.HospitalID, p.ID, p.Title)
	if err != nil {
		return fmt.Errorf("replacing default project: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindDefaultProject(ctx context.Context, hospitalID int64) (*guide.DefaultProject, error) {
	var p guide.DefaultProject
	err := s.db.QueryRowContext(ctx,
		"SELECT hospital_id, id, title FROM default_projects WHERE hospital_id = ?", hospitalID).
		Scan(&p.HospitalID, &p.ID, &p.Title)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding default project: %w", err)
	}
	return &p, nil
}

// Versions

func (s *SQLiteStore) ReplaceVersionSnapshot(ctx context.Context, v guide.VersionSnapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO hospital_versions (hospital_id, version_id, version_name, checked_at)
		 VALUES (?, ?, ?, ?)`,
		v.HospitalID, v.VersionID, v.VersionName, v.CheckedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("replacing version snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindVersionSnapshot(ctx context.Context, hospitalID int64) (*guide.VersionSnapshot, error) {
	var (
		v         guide.VersionSnapshot
		checkedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT hospital_id, version_id, version_name, checked_at FROM hospital_versions WHERE hospital_id = ?",
		hospitalID).Scan(&v.HospitalID, &v.VersionID, &v.VersionName, &checkedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding version snapshot: %w", err)
	}
	v.CheckedAt = time.UnixMilli(checkedAt).UTC()
	return &v, nil
}

func (s *SQLiteStore) FindSyncedHospital(ctx context.Context, hospitalID int64) (*guide.SyncedHospital, error) {
	var (
		h        guide.SyncedHospital
		date     sql.NullString
		syncedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, maintenance_mode, maintenance_date, version_name,
		        project_version_name, remote_version_name, synced_at
		 FROM synced_hospitals WHERE id = ?`, hospitalID).
		Scan(&h.ID, &h.Name, &h.MaintenanceMode, &date, &h.VersionName,
			&h.ProjectVersionName, &h.RemoteVersionName, &syncedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding synced hospital: %w", err)
	}
	h.MaintenanceDate = stringPtr(date)
	h.SyncedAt = time.UnixMilli(syncedAt).UTC()
	return &h, nil
}

// Replication

// hospitalTables lists every table holding per-hospital mirror content.
var hospitalTables = []string{"breadcrumbs", "leaf_nodes", "child_nodes", "categories"}

func (s *SQLiteStore) ReplaceHospitalTree(ctx context.Context, tree *guide.MirrorTree, beforeCommit func() error) (*guide.WriteReport, error) {
	hid := tree.Hospital.ID

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	// Full delete first: nothing of an older generation survives the replace.
	if _, err := tx.ExecContext(ctx, "DELETE FROM synced_hospitals WHERE id = ?", hid); err != nil {
		return nil, fmt.Errorf("clearing synced hospital: %w", err)
	}
	for _, table := range hospitalTables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE hospital_id = ?", hid); err != nil {
			return nil, fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	h := tree.Hospital
	_, err = tx.ExecContext(ctx,
		`INSERT INTO synced_hospitals (id, name, maintenance_mode, maintenance_date, version_name,
		                               project_version_name, remote_version_name, synced_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.Name, h.MaintenanceMode, nullString(h.MaintenanceDate), h.VersionName,
		h.ProjectVersionName, h.RemoteVersionName, h.SyncedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("inserting synced hospital: %w", err)
	}

	report := &guide.WriteReport{}
	record := func(kind string, id int64, err error) {
		if err != nil {
			report.Failures = append(report.Failures, guide.NodeFailure{Kind: kind, NodeID: id, Err: err})
			return
		}
		report.NodesWritten++
	}

	for _, c := range tree.Categories {
		err := s.savepoint(ctx, tx, func() error {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO categories (hospital_id, id, project_id, title) VALUES (?, ?, ?, ?)",
				hid, c.ID, c.ProjectID, c.Title)
			return err
		})
		if isContextErr(err) {
			return nil, err
		}
		record("category", c.ID, err)
	}

	for _, c := range tree.Children {
		err := s.savepoint(ctx, tx, func() error {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO child_nodes (hospital_id, id, parent_node_id, title) VALUES (?, ?, ?, ?)",
				hid, c.Node.ID, c.Node.ParentNodeID, c.Node.Title)
			if err != nil {
				return err
			}
			return replaceBreadcrumbs(ctx, tx, hid, c.Node.ID, c.Crumbs)
		})
		if isContextErr(err) {
			return nil, err
		}
		record("child", c.Node.ID, err)
	}

	for _, l := range tree.Leaves {
		err := s.savepoint(ctx, tx, func() error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO leaf_nodes (hospital_id, id, parent_node_id, title, image, content)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				hid, l.Node.ID, l.Node.ParentNodeID, l.Node.Title, nullString(l.Node.Image), nullString(l.Node.Content))
			if err != nil {
				return err
			}
			return replaceBreadcrumbs(ctx, tx, hid, l.Node.ID, l.Crumbs)
		})
		if isContextErr(err) {
			return nil, err
		}
		record("leaf", l.Node.ID, err)
	}

	if beforeCommit != nil {
		if err := beforeCommit(); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return report, nil
}

// savepoint runs fn inside a savepoint so a failed node leaves the enclosing
// transaction usable.
func (s *SQLiteStore) savepoint(ctx context.Context, tx *sql.Tx, fn func() error) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT node"); err != nil {
		return fmt.Errorf("opening savepoint: %w", err)
	}
	if err := fn(); err != nil {
		if _, rerr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT node"); rerr != nil {
			return fmt.Errorf("%w (rollback to savepoint: %v)", err, rerr)
		}
		tx.ExecContext(ctx, "RELEASE SAVEPOINT node")
		return err
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT node"); err != nil {
		return fmt.Errorf("releasing savepoint: %w", err)
	}
	return nil
}

// replaceBreadcrumbs rewrites the breadcrumb set of one owning node.
func replaceBreadcrumbs(ctx context.Context, tx *sql.Tx, hospitalID, ownerID int64, crumbs []guide.Breadcrumb) error {
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM breadcrumbs WHERE hospital_id = ? AND owner_node_id = ?", hospitalID, ownerID); err != nil {
		return fmt.Errorf("clearing breadcrumbs: %w", err)
	}
	for _, c := range crumbs {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO breadcrumbs (hospital_id, owner_node_id, position, crumb_id, title) VALUES (?, ?, ?, ?, ?)",
			hospitalID, ownerID, c.Position, c.CrumbID, c.Title)
		if err != nil {
			return fmt.Errorf("inserting breadcrumb: %w", err)
		}
	}
	return nil
}

// Mirror reads

func (s *SQLiteStore) ListCategories(ctx context.Context, hospitalID int64) ([]guide.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, hospital_id, project_id, title FROM categories WHERE hospital_id = ? ORDER BY rowid",
		hospitalID)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	defer rows.Close()

	var out []guide.Category
	for rows.Next() {
		var c guide.Category
		if err := rows.Scan(&c.ID, &c.HospitalID, &c.ProjectID, &c.Title); err != nil {
			return nil, fmt.Errorf("scanning category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListChildNodes returns the children of parentID whose title contains query.
// An empty query matches every child.
func (s *SQLiteStore) ListChildNodes(ctx context.Context, hospitalID, parentID int64, query string) ([]guide.ChildNode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, hospital_id, parent_node_id, title FROM child_nodes
		 WHERE hospital_id = ? AND parent_node_id = ? AND title LIKE ? ESCAPE '\'
		 ORDER BY rowid`,
		hospitalID, parentID, "%"+escapeLike(query)+"%")
	if err != nil {
		return nil, fmt.Errorf("listing child nodes: %w", err)
	}
	defer rows.Close()

	var out []guide.ChildNode
	for rows.Next() {
		var n guide.ChildNode
		if err := rows.Scan(&n.ID, &n.HospitalID, &n.ParentNodeID, &n.Title); err != nil {
			return nil, fmt.Errorf("scanning child node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListLeafNodes(ctx context.Context, hospitalID, parentID int64) ([]guide.LeafNode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, hospital_id, parent_node_id, title, image, content FROM leaf_nodes
		 WHERE hospital_id = ? AND parent_node_id = ? ORDER BY rowid`,
		hospitalID, parentID)
	if err != nil {
		return nil, fmt.Errorf("listing leaf nodes: %w", err)
	}
	defer rows.Close()

	var out []guide.LeafNode
	for rows.Next() {
		n, err := scanLeaf(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning leaf node: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) FindLeafNode(ctx context.Context, hospitalID, id int64) (*guide.LeafNode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, hospital_id, parent_node_id, title, image, content FROM leaf_nodes
		 WHERE hospital_id = ? AND id = ?`, hospitalID, id)
	n, err := scanLeaf(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding leaf node: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) ListBreadcrumbs(ctx context.Context, hospitalID, ownerNodeID int64) ([]guide.Breadcrumb, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hospital_id, owner_node_id, position, crumb_id, title FROM breadcrumbs
		 WHERE hospital_id = ? AND owner_node_id = ? ORDER BY position`,
		hospitalID, ownerNodeID)
	if err != nil {
		return nil, fmt.Errorf("listing breadcrumbs: %w", err)
	}
	defer rows.Close()

	var out []guide.Breadcrumb
	for rows.Next() {
		var b guide.Breadcrumb
		if err := rows.Scan(&b.HospitalID, &b.OwnerNodeID, &b.Position, &b.CrumbID, &b.Title); err != nil {
			return nil, fmt.Errorf("scanning breadcrumb: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// History

func (s *SQLiteStore) CreateSyncRun(ctx context.Context, run *guide.SyncRun) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO sync_runs (hospital_id, generation, started_at, status) VALUES (?, ?, ?, ?)",
		run.HospitalID, int64(run.Generation), run.StartedAt.UnixMilli(), run.Status)
	if err != nil {
		return 0, fmt.Errorf("creating sync run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading sync run id: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) FinishSyncRun(ctx context.Context, run *guide.SyncRun) error {
	var finished sql.NullInt64
	if run.FinishedAt != nil {
		finished = sql.NullInt64{Int64: run.FinishedAt.UnixMilli(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET finished_at = ?, status = ?, version_name = ?,
		        nodes_written = ?, nodes_failed = ?, error = ?
		 WHERE id = ?`,
		finished, run.Status, run.VersionName, run.NodesWritten, run.NodesFailed, run.Error, run.ID)
	if err != nil {
		return fmt.Errorf("finishing sync run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finishing sync run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sync run %d not found", run.ID)
	}
	return nil
}

// ListSyncRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListSyncRuns(ctx context.Context, limit int) ([]*guide.SyncRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, hospital_id, generation, started_at, finished_at, status, version_name,
		        nodes_written, nodes_failed, error
		 FROM sync_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sync runs: %w", err)
	}
	defer rows.Close()

	var out []*guide.SyncRun
	for rows.Next() {
		var (
			r          guide.SyncRun
			generation int64
			started    int64
			finished   sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.HospitalID, &generation, &started, &finished, &r.Status,
			&r.VersionName, &r.NodesWritten, &r.NodesFailed, &r.Error); err != nil {
			return nil, fmt.Errorf("scanning sync run: %w", err)
		}
		r.Generation = uint64(generation)
		r.StartedAt = time.UnixMilli(started).UTC()
		if finished.Valid {
			t := time.UnixMilli(finished.Int64).UTC()
			r.FinishedAt = &t
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// CheckMigrations verifies the schema is at the version this binary expects.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.Check(s.db)
}

func (s *SQLiteStore) Close() error {
	if s.pin != nil {
		s.pin.Close()
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHospital(row scanner) (*guide.Hospital, error) {
	var (
		h    guide.Hospital
		date sql.NullString
	)
	if err := row.Scan(&h.ID, &h.Name, &h.MaintenanceMode, &date); err != nil {
		return nil, err
	}
	h.MaintenanceDate = stringPtr(date)
	return &h, nil
}

func scanLeaf(row scanner) (*guide.LeafNode, error) {
	var (
		n              guide.LeafNode
		image, content sql.NullString
	)
	if err := row.Scan(&n.ID, &n.HospitalID, &n.ParentNodeID, &n.Title, &image, &content); err != nil {
		return nil, err
	}
	n.Image = stringPtr(image)
	n.Content = stringPtr(content)
	return &n, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Compile-time check that SQLiteStore implements guide.Store.
var _ guide.Store = (*SQLiteStore)(nil)
