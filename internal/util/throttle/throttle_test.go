package throttle

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is advanced by hand
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestThrottle(interval time.Duration) (*Throttle, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	th := New(interval)
	th.now = clock.Now
	return th, clock
}

func TestThrottle_Allow(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		advances []time.Duration // clock advance before each Allow() call
		want     []bool
	}{
		{
			name:     "first call always allowed",
			interval: time.Second,
			advances: []time.Duration{0},
			want:     []bool{true},
		},
		{
			name:     "immediate second call is blocked",
			interval: time.Second,
			advances: []time.Duration{0, 0},
			want:     []bool{true, false},
		},
		{
			name:     "call after interval is allowed",
			interval: time.Second,
			advances: []time.Duration{0, 999 * time.Millisecond, time.Millisecond},
			want:     []bool{true, false, true},
		},
		{
			name:     "zero interval allows everything",
			interval: 0,
			advances: []time.Duration{0, 0, 0},
			want:     []bool{true, true, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th, clock := newTestThrottle(tt.interval)

			for i, adv := range tt.advances {
				clock.Advance(adv)
				allowed, wait := th.Allow()
				if allowed != tt.want[i] {
					t.Errorf("call %d: Allow() = %v, want %v", i, allowed, tt.want[i])
				}
				if allowed && wait != 0 {
					t.Errorf("call %d: allowed but wait = %v", i, wait)
				}
				if !allowed && wait <= 0 {
					t.Errorf("call %d: blocked but wait = %v", i, wait)
				}
			}
		})
	}
}

func TestThrottle_WaitAndReset(t *testing.T) {
	th, clock := newTestThrottle(100 * time.Millisecond)

	th.Allow()
	clock.Advance(40 * time.Millisecond)
	if ok, wait := th.Allow(); ok || wait != 60*time.Millisecond {
		t.Errorf("Allow() = %v, %v, want blocked for 60ms", ok, wait)
	}

	th.Reset()
	if !th.Ready() {
		t.Error("Ready() after Reset() should be true")
	}
	if th.Interval() != 100*time.Millisecond {
		t.Errorf("Interval() = %v", th.Interval())
	}
}

func TestThrottle_Concurrent(t *testing.T) {
	th := New(time.Hour)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if th.Ready() {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if allowed.Load() != 1 {
		t.Errorf("allowed = %d, want exactly 1", allowed.Load())
	}
}
