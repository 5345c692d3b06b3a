package throttle

import (
	"sync"
	"time"
)

// Throttle lets one event through per interval, such as a progress
// report during a long scan. It is safe for concurrent use.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

// New creates a throttle. A non-positive interval lets every event through.
func New(interval time.Duration) *Throttle {
	return &Throttle{
		interval: interval,
		now:      time.Now,
	}
}

// Allow reports whether an event may fire now and, if so, records it.
// When blocked it also returns how long until the next event may fire.
func (t *Throttle) Allow() (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	since := now.Sub(t.last)
	if t.last.IsZero() || since >= t.interval {
		t.last = now
		return true, 0
	}
	return false, t.interval - since
}

// Ready is Allow without the wait duration
func (t *Throttle) Ready() bool {
	ok, _ := t.Allow()
	return ok
}

// Reset lets the next event through immediately
func (t *Throttle) Reset() {
	t.mu.Lock()
	t.last = time.Time{}
	t.mu.Unlock()
}

// Interval returns the configured interval
func (t *Throttle) Interval() time.Duration {
	return t.interval
}
