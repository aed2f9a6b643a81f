package testutil

import (
	"testing"

	"ctrack-go/internal/database"
)

// NewTestIndex creates a new in-memory SQLite snapshot index with schema applied.
// The index is automatically closed when the test completes.
func NewTestIndex(t *testing.T) *database.SQLiteIndex {
	t.Helper()

	idx, err := database.NewSQLiteIndex(":memory:")
	if err != nil {
		t.Fatalf("failed to open snapshot index: %v", err)
	}

	t.Cleanup(func() {
		idx.Close()
	})

	return idx
}
