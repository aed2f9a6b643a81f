package database

import (
	"fmt"
	"os"
	"path/filepath"

	"ctrack-go/internal/config"
	"ctrack-go/internal/ctrack"
)

// IndexFileName is the snapshot index file inside IndexConfig.DataDir.
const IndexFileName = "ctrack.db"

// NewIndexFromConfig creates a SnapshotIndex implementation based on the index config type.
func NewIndexFromConfig(cfg config.IndexConfig) (ctrack.SnapshotIndex, error) {
	switch cfg.Type {
	case "sqlite", "":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite index")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
		return openIndex(filepath.Join(cfg.DataDir, IndexFileName))
	case "memory":
		return openIndex(":memory:")
	default:
		return nil, fmt.Errorf("unknown index type: %s", cfg.Type)
	}
}

// openIndex avoids returning a typed nil inside the interface.
func openIndex(path string) (ctrack.SnapshotIndex, error) {
	idx, err := NewSQLiteIndex(path)
	if err != nil {
		return nil, err
	}
	return idx, nil
}
