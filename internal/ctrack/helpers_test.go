package ctrack_test

import (
	"testing"
	"time"

	"ctrack-go/internal/ctrack"
	"ctrack-go/internal/testutil"
)

type harness struct {
	tracker *ctrack.ChangeTracker
	store   *testutil.FaultyStore
	index   ctrack.SnapshotIndex
	clock   *testutil.StubClock
}

func newHarness(t *testing.T, opts ...ctrack.Option) *harness {
	t.Helper()
	st := testutil.NewFaultyStore()
	idx := testutil.NewTestIndex(t)
	clock := testutil.FixedClock()
	tr := ctrack.NewChangeTracker(st, st, idx, ctrack.NewNopLogger(), clock, testutil.NewStubIDGenerator(), opts...)
	return &harness{tracker: tr, store: st, index: idx, clock: clock}
}

// reopen builds a second tracker over the same store and index, as a process
// restart would.
func (h *harness) reopen(opts ...ctrack.Option) *ctrack.ChangeTracker {
	return ctrack.NewChangeTracker(h.store, h.store, h.index, ctrack.NewNopLogger(), h.clock, testutil.NewStubIDGenerator(), opts...)
}

// record records one change and advances the clock by a second.
func (h *harness) record(t *testing.T, path, changeType, investigationID string) *ctrack.ChangeRecord {
	t.Helper()
	r, err := h.tracker.RecordChange(ctrack.ChangeInput{Path: path, ChangeType: changeType}, investigationID)
	if err != nil {
		t.Fatalf("RecordChange(%s, %s) error = %v", path, changeType, err)
	}
	h.clock.Advance(time.Second)
	return r
}

// persisted returns every record held by the store's files, per kind.
func (h *harness) persisted(t *testing.T) (daily, critical []*ctrack.ChangeRecord) {
	t.Helper()
	files, err := h.store.ListChangeFiles()
	if err != nil {
		t.Fatalf("ListChangeFiles() error = %v", err)
	}
	for _, f := range files {
		records, err := h.store.ReadChangeFile(f)
		if err != nil {
			t.Fatalf("ReadChangeFile(%s) error = %v", f.Name, err)
		}
		if f.Kind == ctrack.CriticalChangeFile {
			critical = append(critical, records...)
		} else {
			daily = append(daily, records...)
		}
	}
	return daily, critical
}

func countPaths(records []*ctrack.ChangeRecord) map[string]int {
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.Path]++
	}
	return counts
}
