// Package migrations owns the mirror schema. Migrations are embedded SQL files
// applied through golang-migrate when a store opens.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var files embed.FS

var (
	// ErrNotMigrated is returned for a mirror that has no schema version yet.
	ErrNotMigrated = errors.New("mirror schema not migrated")
	// ErrDirty is returned when an earlier migration failed halfway.
	ErrDirty = errors.New("mirror schema is dirty")
	// ErrMismatch is returned when the mirror and this binary disagree on the schema.
	ErrMismatch = errors.New("mirror schema version mismatch")
)

// Latest returns the newest schema version embedded in this binary.
func Latest() (uint, error) {
	src, err := iofs.New(files, "files")
	if err != nil {
		return 0, fmt.Errorf("reading embedded migrations: %w", err)
	}
	defer src.Close()

	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("reading first migration: %w", err)
	}
	for {
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		if err != nil {
			return 0, fmt.Errorf("reading migration after %d: %w", v, err)
		}
		v = next
	}
}

// Applied returns the schema version recorded in db. ok is false when the
// mirror was never migrated.
func Applied(db *sql.DB) (version uint, ok bool, err error) {
	m, err := newMigrate(db)
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading schema version: %w", err)
	}
	if dirty {
		return v, true, fmt.Errorf("%w at version %d", ErrDirty, v)
	}
	return v, true, nil
}

// Up brings db to the latest schema and returns the version it ends at.
func Up(db *sql.DB) (uint, error) {
	m, err := newMigrate(db)
	if err != nil {
		return 0, err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("applying migrations: %w", err)
	}

	v, _, err := Applied(db)
	if err != nil {
		return 0, err
	}
	return v, nil
}

// Check returns nil when db is exactly at the latest embedded version.
func Check(db *sql.DB) error {
	v, ok, err := Applied(db)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMigrated
	}
	latest, err := Latest()
	if err != nil {
		return err
	}
	switch {
	case v < latest:
		return fmt.Errorf("%w: mirror is at %d, binary expects %d (%d behind)", ErrMismatch, v, latest, latest-v)
	case v > latest:
		return fmt.Errorf("%w: mirror is at %d, newer than binary version %d", ErrMismatch, v, latest)
	}
	return nil
}

// newMigrate binds the embedded files to db. The returned instance is never
// closed: closing it would close db, which the store owns.
func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(files, "files")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("binding migrations to database: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}
