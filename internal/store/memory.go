package store

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"ctrack-go/internal/ctrack"
)

// MemoryStore is an in-memory implementation of the change and snapshot
// stores, useful for testing. Values are kept in their serialized form so
// reads go through the same codec as the filesystem store.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	files     map[string][]byte            // change file name -> JSON
	snapshots map[string]map[string][]byte // investigation -> name -> JSON
	mu        sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files:     make(map[string][]byte),
		snapshots: make(map[string]map[string][]byte),
	}
}

// AppendDaily appends records to the day's aggregate entry.
func (m *MemoryStore) AppendDaily(day time.Time, records []*ctrack.ChangeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := day.UTC().Format(dayLayout) + fileExt
	var existing []*ctrack.ChangeRecord
	if data, ok := m.files[name]; ok {
		if err := json.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf("parsing existing change file %s: %w", name, err)
		}
	}

	data, err := json.Marshal(append(existing, records...))
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	m.files[name] = data
	return nil
}

// WriteCritical stores one record under a unique timestamp-derived name.
func (m *MemoryStore) WriteCritical(record *ctrack.ChangeRecord) (string, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to encode change: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ts := record.Timestamp.UTC()
	base := fmt.Sprintf("%d.%09d", ts.Unix(), ts.Nanosecond())
	name := base + fileExt
	for i := 1; m.files[name] != nil; i++ {
		name = fmt.Sprintf("%s_%d%s", base, i, fileExt)
	}
	m.files[name] = data
	return name, nil
}

// ListChangeFiles enumerates stored change files in name order.
func (m *MemoryStore) ListChangeFiles() ([]ctrack.ChangeFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	sort.Strings(names)

	var files []ctrack.ChangeFile
	for _, name := range names {
		if f, ok := parseChangeFileName(name); ok {
			files = append(files, f)
		}
	}
	return files, nil
}

// ReadChangeFile decodes a stored change file.
func (m *MemoryStore) ReadChangeFile(file ctrack.ChangeFile) ([]*ctrack.ChangeRecord, error) {
	m.mu.RLock()
	data, ok := m.files[file.Name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("change file not found: %s", file.Name)
	}

	if file.Kind == ctrack.CriticalChangeFile {
		var record ctrack.ChangeRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("parsing change file %s: %w", file.Name, err)
		}
		return []*ctrack.ChangeRecord{&record}, nil
	}

	var records []*ctrack.ChangeRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing change file %s: %w", file.Name, err)
	}
	return records, nil
}

// PutRaw stores arbitrary bytes under a change file name. Tests use it to
// plant unreadable files.
func (m *MemoryStore) PutRaw(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = data
}

// PutSnapshot stores a snapshot under a name derived from its timestamp.
func (m *MemoryStore) PutSnapshot(snapshot *ctrack.InvestigationSnapshot) (string, error) {
	if snapshot.InvestigationID == "" {
		return "", fmt.Errorf("invalid investigation id: %q", snapshot.InvestigationID)
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	byName, ok := m.snapshots[snapshot.InvestigationID]
	if !ok {
		byName = make(map[string][]byte)
		m.snapshots[snapshot.InvestigationID] = byName
	}

	base := ctrack.SnapshotName(snapshot.Timestamp)
	name := base
	for i := 1; byName[name] != nil; i++ {
		name = fmt.Sprintf("%s_%d", base, i)
	}
	byName[name] = data
	return name, nil
}

// GetSnapshot decodes a stored snapshot.
func (m *MemoryStore) GetSnapshot(investigationID, name string) (*ctrack.InvestigationSnapshot, error) {
	m.mu.RLock()
	data, ok := m.snapshots[investigationID][name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("snapshot not found: %s/%s", investigationID, name)
	}

	var snapshot ctrack.InvestigationSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("parsing snapshot %s/%s: %w", investigationID, name, err)
	}
	return &snapshot, nil
}

// ListSnapshots returns the snapshot names of an investigation, ascending.
func (m *MemoryStore) ListSnapshots(investigationID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for name := range m.snapshots[investigationID] {
		names = append(names, name)
	}
	slices.SortFunc(names, ctrack.CompareSnapshotNames)
	return names, nil
}

// Compile-time checks that MemoryStore implements the ctrack store interfaces
var (
	_ ctrack.ChangeStore   = (*MemoryStore)(nil)
	_ ctrack.SnapshotStore = (*MemoryStore)(nil)
)
