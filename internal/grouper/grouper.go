package grouper

import (
	"sort"
	"strconv"
	"sync"

	"github.com/vertextoedge/dupecache/internal/domain"
)

// Options holds grouping thresholds
type Options struct {
	// MinGroupSize is the fewest members a group may have; at least 2
	MinGroupSize int

	// MinGroupBytes suppresses groups whose combined size is below it
	MinGroupBytes int64
}

// DefaultOptions returns default grouping thresholds
func DefaultOptions() Options {
	return Options{MinGroupSize: 2}
}

type bucket struct {
	hash  string
	size  int64
	paths []string
}

// Grouper accumulates (path, digest) pairs as they stream in and
// finalizes them into duplicate groups. Safe for concurrent Add.
type Grouper struct {
	opts   Options
	exists func(path string) bool

	mu      sync.Mutex
	buckets map[string]*bucket
	added   int64
}

// New creates a grouper. exists is the live existence check applied to
// every member right before a group is finalized; nil skips the check.
func New(opts Options, exists func(path string) bool) *Grouper {
	if opts.MinGroupSize < 2 {
		opts.MinGroupSize = 2
	}
	return &Grouper{
		opts:    opts,
		exists:  exists,
		buckets: make(map[string]*bucket),
	}
}

// Add records one hashed file. Keying on size as well as digest keeps
// non-cryptographic collisions between different sizes apart.
func (g *Grouper) Add(path, hash string, size int64) {
	key := strconv.FormatInt(size, 10) + ":" + hash

	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.buckets[key]
	if !ok {
		b = &bucket{hash: hash, size: size}
		g.buckets[key] = b
	}
	b.paths = append(b.paths, path)
	g.added++
}

// Added returns the number of files recorded
func (g *Grouper) Added() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.added
}

// Len returns the number of distinct (size, digest) keys seen
func (g *Grouper) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.buckets)
}

// Groups finalizes the accumulated buckets. Members are sorted by path;
// groups are ordered by total size descending, then digest.
func (g *Grouper) Groups() []domain.DuplicateGroup {
	g.mu.Lock()
	defer g.mu.Unlock()

	groups := make([]domain.DuplicateGroup, 0)
	for _, b := range g.buckets {
		if len(b.paths) < g.opts.MinGroupSize {
			continue
		}

		paths := dedupe(b.paths)
		if g.exists != nil {
			live := paths[:0]
			for _, p := range paths {
				if g.exists(p) {
					live = append(live, p)
				}
			}
			paths = live
		}
		if len(paths) < g.opts.MinGroupSize {
			continue
		}

		total := b.size * int64(len(paths))
		if total < g.opts.MinGroupBytes {
			continue
		}

		groups = append(groups, domain.DuplicateGroup{
			Hash:      b.hash,
			Size:      b.size,
			Paths:     paths,
			TotalSize: total,
		})
	}

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].TotalSize != groups[j].TotalSize {
			return groups[i].TotalSize > groups[j].TotalSize
		}
		if groups[i].Hash != groups[j].Hash {
			return groups[i].Hash < groups[j].Hash
		}
		return groups[i].Size < groups[j].Size
	})

	return groups
}

// dedupe returns a sorted copy of paths with repeats removed
func dedupe(paths []string) []string {
	out := append([]string(nil), paths...)
	sort.Strings(out)
	n := 0
	for i, p := range out {
		if i > 0 && p == out[n-1] {
			continue
		}
		out[n] = p
		n++
	}
	return out[:n]
}
