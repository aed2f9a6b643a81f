package store

import (
	"fmt"

	"ctrack-go/internal/config"
	"ctrack-go/internal/ctrack"
)

// Store persists both change records and investigation snapshots.
type Store interface {
	ctrack.ChangeStore
	ctrack.SnapshotStore
}

// NewStoreFromConfig creates a Store implementation based on the store config type.
func NewStoreFromConfig(cfg config.StoreConfig, root string) (Store, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "filesystem", "":
		if root == "" {
			return nil, fmt.Errorf("filesystem store requires storage_root to be set")
		}
		s, err := NewFileSystemStore(root)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
