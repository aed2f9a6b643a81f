package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"ctrack-go/internal/ctrack"
)

const (
	fileExt    = ".json"
	dayLayout  = "2006-01-02"
	tempPrefix = ".tmp-"
)

// FileSystemStore is a filesystem-based implementation of the change and
// snapshot stores. Every file is indented JSON:
//
//	<root>/
//	  changes/
//	    <YYYY-MM-DD>.json          (records of one UTC day, appended on flush)
//	    <unix>.<nanos>.json        (one critical record, written immediately)
//	  snapshots/
//	    <investigation_id>/
//	      <YYYYMMDD_HHMMSS>.json   (one snapshot)
type FileSystemStore struct {
	root         string
	changesDir   string
	snapshotsDir string
	// mu serializes name allocation and the read-modify-write of daily files.
	mu sync.Mutex
}

// NewFileSystemStore creates a new filesystem store rooted at the given path.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	changesDir := filepath.Join(root, "changes")
	snapshotsDir := filepath.Join(root, "snapshots")

	if err := os.MkdirAll(changesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create changes directory: %w", err)
	}
	if err := os.MkdirAll(snapshotsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshots directory: %w", err)
	}

	return &FileSystemStore{
		root:         root,
		changesDir:   changesDir,
		snapshotsDir: snapshotsDir,
	}, nil
}

// Root returns the storage root.
func (s *FileSystemStore) Root() string {
	return s.root
}

// AppendDaily appends records to the aggregate file of their UTC day.
func (s *FileSystemStore) AppendDaily(day time.Time, records []*ctrack.ChangeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	destPath := filepath.Join(s.changesDir, day.UTC().Format(dayLayout)+fileExt)

	var existing []*ctrack.ChangeRecord
	data, err := os.ReadFile(destPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf("parsing existing change file %s: %w", filepath.Base(destPath), err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("reading existing change file: %w", err)
	}

	return s.writeJSON(destPath, append(existing, records...), false)
}

// WriteCritical writes one record to its own file, synced to disk before the
// call returns.
func (s *FileSystemStore) WriteCritical(record *ctrack.ChangeRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := record.Timestamp.UTC()
	base := fmt.Sprintf("%d.%09d", ts.Unix(), ts.Nanosecond())
	name := uniqueName(s.changesDir, base)

	if err := s.writeJSON(filepath.Join(s.changesDir, name+fileExt), record, true); err != nil {
		return "", err
	}
	return name + fileExt, nil
}

// ListChangeFiles enumerates daily and critical change files by name.
// Files that match neither naming scheme are ignored.
func (s *FileSystemStore) ListChangeFiles() ([]ctrack.ChangeFile, error) {
	entries, err := os.ReadDir(s.changesDir)
	if err != nil {
		return nil, fmt.Errorf("reading changes directory: %w", err)
	}

	var files []ctrack.ChangeFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, tempPrefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		if f, ok := parseChangeFileName(name); ok {
			files = append(files, f)
		}
	}
	return files, nil
}

// ReadChangeFile reads the records held by a change file.
func (s *FileSystemStore) ReadChangeFile(file ctrack.ChangeFile) ([]*ctrack.ChangeRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.changesDir, file.Name))
	if err != nil {
		return nil, fmt.Errorf("reading change file: %w", err)
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

// PutSnapshot writes a snapshot under its investigation's directory.
// A second snapshot within the same second gets a numeric suffix.
func (s *FileSystemStore) PutSnapshot(snapshot *ctrack.InvestigationSnapshot) (string, error) {
	dir, err := s.investigationDir(snapshot.InvestigationID)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	name := uniqueName(dir, ctrack.SnapshotName(snapshot.Timestamp))
	if err := s.writeJSON(filepath.Join(dir, name+fileExt), snapshot, true); err != nil {
		return "", err
	}
	return name, nil
}

// GetSnapshot reads a snapshot by investigation and name.
func (s *FileSystemStore) GetSnapshot(investigationID, name string) (*ctrack.InvestigationSnapshot, error) {
	dir, err := s.investigationDir(investigationID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, name+fileExt))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("snapshot not found: %s/%s", investigationID, name)
		}
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	var snapshot ctrack.InvestigationSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("parsing snapshot %s/%s: %w", investigationID, name, err)
	}
	return &snapshot, nil
}

// ListSnapshots returns the snapshot names of an investigation, ascending.
func (s *FileSystemStore) ListSnapshots(investigationID string) ([]string, error) {
	dir, err := s.investigationDir(investigationID)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading snapshot directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, tempPrefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(name, fileExt))
	}
	slices.SortFunc(names, ctrack.CompareSnapshotNames)
	return names, nil
}

// investigationDir maps an investigation id to its snapshot directory,
// rejecting ids that would escape the snapshots directory.
func (s *FileSystemStore) investigationDir(investigationID string) (string, error) {
	if investigationID == "" || investigationID == "." || investigationID == ".." ||
		strings.ContainsAny(investigationID, `/\`) {
		return "", fmt.Errorf("invalid investigation id: %q", investigationID)
	}
	return filepath.Join(s.snapshotsDir, investigationID), nil
}

// writeJSON writes v as 2-space indented JSON using an atomic write
// (temp file + rename). When durable is set the data is flushed to stable
// storage before the rename.
func (s *FileSystemStore) writeJSON(destPath string, v any, durable bool) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(destPath), err)
	}
	data = append(data, '\n')

	// Create temp file in the same directory to ensure atomic rename works
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if durable {
		if err := tmpFile.Sync(); err != nil {
			tmpFile.Close()
			return fmt.Errorf("failed to sync temp file: %w", err)
		}
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// uniqueName returns base, or base_N for the smallest N >= 1 such that no
// <name>.json exists in dir.
func uniqueName(dir, base string) string {
	name := base
	for i := 1; ; i++ {
		if _, err := os.Stat(filepath.Join(dir, name+fileExt)); errors.Is(err, os.ErrNotExist) {
			return name
		}
		name = base + "_" + strconv.Itoa(i)
	}
}

// parseChangeFileName classifies a change file by its name.
func parseChangeFileName(name string) (ctrack.ChangeFile, bool) {
	stem := strings.TrimSuffix(name, fileExt)

	if day, err := time.Parse(dayLayout, stem); err == nil {
		return ctrack.ChangeFile{Name: name, Kind: ctrack.DailyChangeFile, Time: day.UTC()}, true
	}

	if i := strings.IndexByte(stem, '_'); i >= 0 {
		stem = stem[:i]
	}
	secs, nanos, ok := strings.Cut(stem, ".")
	if !ok {
		return ctrack.ChangeFile{}, false
	}
	sec, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return ctrack.ChangeFile{}, false
	}
	nsec, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return ctrack.ChangeFile{}, false
	}
	return ctrack.ChangeFile{Name: name, Kind: ctrack.CriticalChangeFile, Time: time.Unix(sec, nsec).UTC()}, true
}

// Compile-time checks that FileSystemStore implements the ctrack store interfaces
var (
	_ ctrack.ChangeStore   = (*FileSystemStore)(nil)
	_ ctrack.SnapshotStore = (*FileSystemStore)(nil)
)
