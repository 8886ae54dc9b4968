// Package timeutil provides a clock abstraction so time-dependent code
// (session expiry, animation stepping, replay pacing) can run against a
// controllable clock in tests instead of the wall clock.
package timeutil

import (
	"sort"
	"sync"
	"time"
)

// Clock abstracts the subset of package time the engine depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// NowNanos returns the current time as Unix nanoseconds. Engine
	// timestamps are int64 nanos throughout, so this avoids repeated
	// time.Time round trips on hot paths.
	NowNanos() int64

	// Sleep blocks for the given duration.
	Sleep(d time.Duration)

	// NewTicker returns a ticker that fires every d.
	NewTicker(d time.Duration) Ticker
}

// Ticker abstracts time.Ticker.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// RealClock is the production Clock backed by package time.
type RealClock struct{}

func (RealClock) Now() time.Time        { return time.Now() }
func (RealClock) NowNanos() int64       { return time.Now().UnixNano() }
func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) Chan() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()                  { r.t.Stop() }

// MockClock is a manually advanced Clock for tests. Advance moves the
// current time forward and fires any tickers whose next tick falls within
// the advanced window. Sleep returns immediately but records the request
// so tests can assert pacing behaviour.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	tickers []*mockTicker
}

// NewMockClock returns a MockClock starting at the given time.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) NowNanos() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.UnixNano()
}

// Sleep records the requested duration and advances the clock by it.
func (c *MockClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	if d > 0 {
		c.Advance(d)
	}
}

// Sleeps returns a copy of all durations passed to Sleep.
func (c *MockClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// Set jumps the clock to t without firing tickers.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d, delivering ticks to mock tickers
// in chronological order as each tick time is crossed.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	deadline := c.now.Add(d)
	for {
		// Find the earliest pending tick within the window.
		var next *mockTicker
		for _, t := range c.tickers {
			if t.stopped || t.next.After(deadline) {
				continue
			}
			if next == nil || t.next.Before(next.next) {
				next = t
			}
		}
		if next == nil {
			break
		}
		c.now = next.next
		next.next = next.next.Add(next.period)
		ch := next.ch
		now := c.now
		c.mu.Unlock()
		select {
		case ch <- now:
		default:
			// Receiver not ready; drop like time.Ticker does.
		}
		c.mu.Lock()
	}
	c.now = deadline
	c.mu.Unlock()
}

func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timeutil: non-positive ticker period")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &mockTicker{
		clock:  c,
		period: d,
		next:   c.now.Add(d),
		ch:     make(chan time.Time, 1),
	}
	c.tickers = append(c.tickers, t)
	// Keep ticker order deterministic for equal fire times.
	sort.SliceStable(c.tickers, func(i, j int) bool {
		return c.tickers[i].period < c.tickers[j].period
	})
	return t
}

type mockTicker struct {
	clock   *MockClock
	period  time.Duration
	next    time.Time
	ch      chan time.Time
	stopped bool
}

func (t *mockTicker) Chan() <-chan time.Time { return t.ch }

func (t *mockTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
}
