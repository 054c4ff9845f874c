package database

import (
	"fmt"
	"os"
	"path/filepath"

	"boneguide-go/internal/config"
	"boneguide-go/internal/guide"
)

// mirrorFile is the database file name inside data_dir.
const mirrorFile = "boneguide.db"

// NewStoreFromConfig creates a Store implementation based on the database config type.
func NewStoreFromConfig(cfg config.DatabaseConfig) (guide.Store, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return openStore(filepath.Join(cfg.DataDir, mirrorFile))
	case "memory":
		return openStore(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// openStore keeps a failed open from escaping as a typed nil interface.
func openStore(path string) (guide.Store, error) {
	s, err := NewSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}
