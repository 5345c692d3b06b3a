package sqlite

import "sync"

// hitWindow tracks the outcome of the last N lookups in this process
type hitWindow struct {
	mu     sync.Mutex
	ring   []bool
	next   int
	filled int
	hits   int

	totalHits   int64
	totalMisses int64
}

func newHitWindow(size int) *hitWindow {
	if size < 1 {
		size = 1
	}
	return &hitWindow{ring: make([]bool, size)}
}

func (w *hitWindow) record(hit bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.filled == len(w.ring) {
		if w.ring[w.next] {
			w.hits--
		}
	} else {
		w.filled++
	}

	w.ring[w.next] = hit
	w.next = (w.next + 1) % len(w.ring)

	if hit {
		w.hits++
		w.totalHits++
	} else {
		w.totalMisses++
	}
}

type windowSnapshot struct {
	rate    float64
	lookups int
	size    int
	hits    int64
	misses  int64
}

func (w *hitWindow) snapshot() windowSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := windowSnapshot{
		lookups: w.filled,
		size:    len(w.ring),
		hits:    w.totalHits,
		misses:  w.totalMisses,
	}
	if w.filled > 0 {
		s.rate = float64(w.hits) / float64(w.filled)
	}
	return s
}
