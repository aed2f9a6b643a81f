package testutil

import (
	"fmt"
	"sync"
	"time"
)

// InvestigationStart is the reading of FixedClock: 2024-01-15 10:30:00 UTC.
var InvestigationStart = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// StubClock is a ctrack.Clock that moves only when a test moves it, or by a
// fixed step after every reading. Safe for concurrent use.
type StubClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock reading InvestigationStart.
func FixedClock() *StubClock {
	return NewStubClock(InvestigationStart)
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t, which may be earlier than the current reading.
func (c *StubClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Step makes every later reading advance the clock by d, so records taken
// back to back get distinct timestamps.
func (c *StubClock) Step(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = d
}

// StubIDGenerator hands out snapshot link ids link-1, link-2, ... in order.
type StubIDGenerator struct {
	mu   sync.Mutex
	next int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("link-%d", g.next)
}
