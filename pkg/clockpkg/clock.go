// Package clockpkg provides the wall clock used for event ordering and TTL computation.
package clockpkg

import (
	"sync"
	"time"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now in UTC.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Monotonic wraps a Clock and never returns the same or an earlier instant twice.
// Timestamps are truncated to microseconds to match database precision.
type Monotonic struct {
	mu   sync.Mutex
	base Clock
	last time.Time
}

// NewMonotonic returns a Monotonic clock on top of base.
func NewMonotonic(base Clock) *Monotonic {
	return &Monotonic{base: base}
}

// Now implements Clock.
func (m *Monotonic) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.base.Now().Truncate(time.Microsecond)
	if !now.After(m.last) {
		now = m.last.Add(time.Microsecond)
	}

	m.last = now

	return now
}

// Fake is a manually driven clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake clock set to t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t.UTC()}
}

// Now implements Clock.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.now
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)
}

// Set moves the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = t.UTC()
}
