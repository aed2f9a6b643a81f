package ctrack

import (
	"fmt"
)

const (
	// SnapshotChangeLimit bounds the changes embedded in one snapshot.
	SnapshotChangeLimit = 1000
	// DefaultHistoryLimit is used when GetSnapshotHistory gets no limit.
	DefaultHistoryLimit = 10
)

// CreateSnapshot persists a snapshot of the investigation holding every
// change recorded for it since the previous snapshot, and links it at the end
// of the investigation's snapshot chain.
func (t *ChangeTracker) CreateSnapshot(investigationID, path string, fileCount int, metadata map[string]any) (*InvestigationSnapshot, error) {
	if investigationID == "" {
		return nil, fmt.Errorf("creating snapshot: investigation id is required")
	}

	previous, err := t.index.Latest(investigationID)
	if err != nil {
		return nil, fmt.Errorf("finding previous snapshot: %w", err)
	}

	q := ChangeQuery{InvestigationID: investigationID, Limit: SnapshotChangeLimit}
	if previous != nil {
		q.Since = previous.Timestamp
	}
	changes, err := t.GetChanges(q)
	if err != nil {
		return nil, fmt.Errorf("collecting changes since last snapshot: %w", err)
	}

	snapshot := &InvestigationSnapshot{
		InvestigationID:  investigationID,
		Timestamp:        t.clock.Now().UTC(),
		Path:             path,
		FileCount:        fileCount,
		ChangesSinceLast: changes,
		Metadata:         metadata,
	}
	if snapshot.Metadata == nil {
		snapshot.Metadata = map[string]any{}
	}

	name, err := t.snapshots.PutSnapshot(snapshot)
	if err != nil {
		return nil, fmt.Errorf("writing snapshot: %w", err)
	}

	entry := &SnapshotEntry{
		ID:              t.idgen.New(),
		InvestigationID: investigationID,
		Seq:             1,
		Name:            name,
		Timestamp:       snapshot.Timestamp,
		ChangeCount:     len(changes),
	}
	if previous != nil {
		entry.Seq = previous.Seq + 1
		entry.PreviousID = previous.ID
	}
	// A failure here leaves an unlinked snapshot file behind, which
	// RebuildSnapshotIndex picks up.
	if err := t.index.Append(entry); err != nil {
		return nil, fmt.Errorf("linking snapshot %s: %w", name, err)
	}

	t.logger.Info("snapshot created", "investigation", investigationID, "name", name, "seq", entry.Seq, "changes", len(changes))
	return snapshot, nil
}

// GetSnapshotHistory returns up to limit snapshots of the investigation,
// newest first. Snapshots that cannot be read are skipped.
func (t *ChangeTracker) GetSnapshotHistory(investigationID string, limit int) ([]*InvestigationSnapshot, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	entries, err := t.index.List(investigationID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing snapshot chain: %w", err)
	}

	history := make([]*InvestigationSnapshot, 0, len(entries))
	for _, e := range entries {
		snapshot, err := t.snapshots.GetSnapshot(investigationID, e.Name)
		if err != nil {
			t.logger.Warn("skipping unreadable snapshot", "investigation", investigationID, "name", e.Name, "error", err)
			continue
		}
		history = append(history, snapshot)
	}
	return history, nil
}

// RebuildSnapshotIndex replaces the investigation's snapshot chain with one
// link per readable snapshot file, in CompareSnapshotNames order. It returns
// the length of the rebuilt chain.
func (t *ChangeTracker) RebuildSnapshotIndex(investigationID string) (int, error) {
	names, err := t.snapshots.ListSnapshots(investigationID)
	if err != nil {
		return 0, fmt.Errorf("listing snapshots: %w", err)
	}

	if err := t.index.Reset(investigationID); err != nil {
		return 0, fmt.Errorf("resetting snapshot chain: %w", err)
	}

	var previous *SnapshotEntry
	for _, name := range names {
		snapshot, err := t.snapshots.GetSnapshot(investigationID, name)
		if err != nil {
			t.logger.Warn("skipping unreadable snapshot", "investigation", investigationID, "name", name, "error", err)
			continue
		}
		entry := &SnapshotEntry{
			ID:              t.idgen.New(),
			InvestigationID: investigationID,
			Seq:             1,
			Name:            name,
			Timestamp:       snapshot.Timestamp,
			ChangeCount:     len(snapshot.ChangesSinceLast),
		}
		if previous != nil {
			entry.Seq = previous.Seq + 1
			entry.PreviousID = previous.ID
		}
		if err := t.index.Append(entry); err != nil {
			return 0, fmt.Errorf("linking snapshot %s: %w", name, err)
		}
		previous = entry
	}

	count := 0
	if previous != nil {
		count = int(previous.Seq)
	}
	t.logger.Info("snapshot chain rebuilt", "investigation", investigationID, "links", count)
	return count, nil
}
