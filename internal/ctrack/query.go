package ctrack

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultQueryLimit is the result bound used when ChangeQuery.Limit is not set.
const DefaultQueryLimit = 100

// ChangeQuery filters GetChanges. Zero values mean "no constraint".
// Time bounds are inclusive, PathContains is a substring match and
// ChangeType and InvestigationID are exact matches.
type ChangeQuery struct {
	Since           time.Time
	Until           time.Time
	PathContains    string
	ChangeType      string
	InvestigationID string
	Limit           int
}

func (q ChangeQuery) matches(r *ChangeRecord) bool {
	if !q.Since.IsZero() && r.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && r.Timestamp.After(q.Until) {
		return false
	}
	if q.PathContains != "" && !strings.Contains(r.Path, q.PathContains) {
		return false
	}
	if q.ChangeType != "" && r.ChangeType != q.ChangeType {
		return false
	}
	if q.InvestigationID != "" && r.Investigation() != q.InvestigationID {
		return false
	}
	return true
}

// covers reports whether a change file can hold records inside the query's
// time bounds.
func (q ChangeQuery) covers(f ChangeFile) bool {
	start, end := f.Time, f.Time
	if f.Kind == DailyChangeFile {
		end = f.Time.Add(24 * time.Hour)
		if !q.Since.IsZero() && !end.After(q.Since) {
			return false
		}
	} else if !q.Since.IsZero() && end.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && start.After(q.Until) {
		return false
	}
	return true
}

// GetChanges returns the records matching q from the cache and the persisted
// files, newest first, bounded by q.Limit.
//
// Change files that cannot be read or parsed are skipped. Records of the
// critical-event journal that also appear in a daily file or the cache are
// returned once.
func (t *ChangeTracker) GetChanges(q ChangeQuery) ([]*ChangeRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	files, err := t.changes.ListChangeFiles()
	if err != nil {
		return nil, fmt.Errorf("listing change files: %w", err)
	}

	seen := make(map[string]bool)
	var results []*ChangeRecord
	add := func(r *ChangeRecord) {
		seen[r.key()] = true
		if q.matches(r) {
			results = append(results, r)
		}
	}

	for _, r := range t.cache {
		add(r)
	}

	var journal []*ChangeRecord
	for _, f := range files {
		if !q.covers(f) {
			continue
		}
		records, err := t.changes.ReadChangeFile(f)
		if err != nil {
			t.logger.Warn("skipping unreadable change file", "file", f.Name, "error", err)
			continue
		}
		if f.Kind == CriticalChangeFile {
			journal = append(journal, records...)
			continue
		}
		for _, r := range records {
			add(r)
		}
	}
	for _, r := range journal {
		if seen[r.key()] {
			continue
		}
		add(r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp.After(results[j].Timestamp)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
