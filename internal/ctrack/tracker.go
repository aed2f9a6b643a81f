package ctrack

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultCacheCapacity is the number of records held in memory before the
// oldest half is flushed to the per-date files.
const DefaultCacheCapacity = 1000

// ChangeTracker records filesystem change events for a storage root, serves
// filtered queries over them and chains investigation snapshots.
//
// Ordinary records are buffered in memory and reach disk when the buffer
// overflows or ClearCache is called. Critical records (deleted, moved) are
// additionally written to their own file before they are buffered.
type ChangeTracker struct {
	changes   ChangeStore
	snapshots SnapshotStore
	index     SnapshotIndex
	logger    Logger
	clock     Clock
	idgen     IDGenerator
	capacity  int

	mu    sync.Mutex
	cache []*ChangeRecord
}

// Option configures a ChangeTracker.
type Option func(*ChangeTracker)

// WithCacheCapacity sets the cache capacity. Values below 1 are ignored.
func WithCacheCapacity(n int) Option {
	return func(t *ChangeTracker) {
		if n > 0 {
			t.capacity = n
		}
	}
}

// NewChangeTracker creates a ChangeTracker with the provided dependencies.
func NewChangeTracker(changes ChangeStore, snapshots SnapshotStore, index SnapshotIndex, logger Logger, clock Clock, idgen IDGenerator, opts ...Option) *ChangeTracker {
	t := &ChangeTracker{
		changes:   changes,
		snapshots: snapshots,
		index:     index,
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
		capacity:  DefaultCacheCapacity,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ChangeInput describes one change to record. Empty OldPath and FileHash
// are stored as absent.
type ChangeInput struct {
	Path        string
	ChangeType  string
	IsDirectory bool
	OldPath     string
	FileHash    string
}

// RecordChange stamps the change with the current UTC time and records it.
// An empty investigationID is stored as absent.
//
// If the record is critical, it is written to its own file first; when that
// write fails nothing is recorded. If appending the record overflows the
// cache and the flush fails, the record is returned together with the error;
// it and the other unflushed records remain cached for the next flush.
func (t *ChangeTracker) RecordChange(in ChangeInput, investigationID string) (*ChangeRecord, error) {
	if in.Path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidChange)
	}
	if in.ChangeType == "" {
		return nil, fmt.Errorf("%w: empty change type for %s", ErrInvalidChange, in.Path)
	}

	record := &ChangeRecord{
		Path:            in.Path,
		ChangeType:      in.ChangeType,
		Timestamp:       t.clock.Now().UTC(),
		IsDirectory:     in.IsDirectory,
		OldPath:         optional(in.OldPath),
		FileHash:        optional(in.FileHash),
		InvestigationID: optional(investigationID),
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if IsCritical(record.ChangeType) {
		name, err := t.changes.WriteCritical(record)
		if err != nil {
			return nil, fmt.Errorf("writing critical change %s: %w", record.Path, err)
		}
		t.logger.Debug("critical change persisted", "path", record.Path, "type", record.ChangeType, "file", name)
	}

	t.cache = append(t.cache, record)
	if len(t.cache) > t.capacity {
		keep := len(t.cache) / 2
		if err := t.flushLocked(len(t.cache) - keep); err != nil {
			return record, fmt.Errorf("flushing change cache: %w", err)
		}
	}

	return record, nil
}

// RecordChanges records each entry of batch in order and returns the records
// it stored. It stops at the first entry that cannot be recorded at all. Flush
// failures do not stop the batch; they are joined into the returned error.
func (t *ChangeTracker) RecordChanges(batch []ChangeInput, investigationID string) ([]*ChangeRecord, error) {
	records := make([]*ChangeRecord, 0, len(batch))
	var flushErrs []error
	for i, in := range batch {
		record, err := t.RecordChange(in, investigationID)
		if record != nil {
			records = append(records, record)
		}
		if err == nil {
			continue
		}
		err = fmt.Errorf("recording change %d of %d: %w", i+1, len(batch), err)
		if record == nil {
			return records, errors.Join(append(flushErrs, err)...)
		}
		flushErrs = append(flushErrs, err)
	}
	return records, errors.Join(flushErrs...)
}

// ClearCache flushes every cached record to the per-date files.
func (t *ChangeTracker) ClearCache() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.flushLocked(len(t.cache)); err != nil {
		return fmt.Errorf("flushing change cache: %w", err)
	}
	return nil
}

// CacheLen returns the number of records currently held in memory.
func (t *ChangeTracker) CacheLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cache)
}

// flushLocked persists the oldest n cached records to their per-date files
// and drops them from the cache. Records of a day whose write fails stay
// cached. The caller must hold t.mu.
func (t *ChangeTracker) flushLocked(n int) error {
	if n <= 0 {
		return nil
	}
	evicted := t.cache[:n]

	byDay := make(map[time.Time][]*ChangeRecord)
	for _, r := range evicted {
		day := dayOf(r.Timestamp)
		byDay[day] = append(byDay[day], r)
	}
	days := make([]time.Time, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	var firstErr error
	written := 0
	failed := make(map[time.Time]bool)
	for _, day := range days {
		if err := t.changes.AppendDaily(day, byDay[day]); err != nil {
			t.logger.Error("flushing changes failed", "day", day.Format("2006-01-02"), "count", len(byDay[day]), "error", err)
			failed[day] = true
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		written += len(byDay[day])
	}

	remaining := make([]*ChangeRecord, 0, len(t.cache)-written)
	for _, r := range evicted {
		if failed[dayOf(r.Timestamp)] {
			remaining = append(remaining, r)
		}
	}
	remaining = append(remaining, t.cache[n:]...)
	t.logger.Info("change cache flushed", "flushed", written, "cached", len(remaining))
	t.cache = remaining

	return firstErr
}

// dayOf returns midnight UTC of the day containing ts.
func dayOf(ts time.Time) time.Time {
	y, m, d := ts.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
