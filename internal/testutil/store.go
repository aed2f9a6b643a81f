package testutil

import (
	"errors"
	"sync"
	"time"

	"ctrack-go/internal/ctrack"
	"ctrack-go/internal/store"
)

// ErrInjected is returned by FaultyStore when a fault is enabled.
var ErrInjected = errors.New("injected store failure")

// NewTestStore creates a new in-memory change and snapshot store for testing.
func NewTestStore() *store.MemoryStore {
	return store.NewMemoryStore()
}

// FaultyStore wraps a MemoryStore and fails selected writes on demand.
type FaultyStore struct {
	*store.MemoryStore

	mu           sync.Mutex
	failDays     map[time.Time]bool
	failAllDays  bool
	failCritical bool
	appendCalls  int
}

// NewFaultyStore creates a FaultyStore with no faults enabled.
func NewFaultyStore() *FaultyStore {
	return &FaultyStore{
		MemoryStore: store.NewMemoryStore(),
		failDays:    make(map[time.Time]bool),
	}
}

// FailDay makes AppendDaily fail for the UTC day containing day.
func (f *FaultyStore) FailDay(day time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	y, m, d := day.UTC().Date()
	f.failDays[time.Date(y, m, d, 0, 0, 0, 0, time.UTC)] = true
}

// FailAllDays toggles failure of every AppendDaily call.
func (f *FaultyStore) FailAllDays(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAllDays = fail
	if !fail {
		f.failDays = make(map[time.Time]bool)
	}
}

// FailCritical toggles failure of WriteCritical.
func (f *FaultyStore) FailCritical(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCritical = fail
}

// AppendCalls returns how many times AppendDaily was called.
func (f *FaultyStore) AppendCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appendCalls
}

func (f *FaultyStore) AppendDaily(day time.Time, records []*ctrack.ChangeRecord) error {
	f.mu.Lock()
	f.appendCalls++
	fail := f.failAllDays || f.failDays[day.UTC()]
	f.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return f.MemoryStore.AppendDaily(day, records)
}

func (f *FaultyStore) WriteCritical(record *ctrack.ChangeRecord) (string, error) {
	f.mu.Lock()
	fail := f.failCritical
	f.mu.Unlock()
	if fail {
		return "", ErrInjected
	}
	return f.MemoryStore.WriteCritical(record)
}

var _ ctrack.ChangeStore = (*FaultyStore)(nil)
