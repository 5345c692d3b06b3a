package scanner

import (
	"context"
	"strconv"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/vertextoedge/dupecache/internal/adapter/filesystem"
	"github.com/vertextoedge/dupecache/internal/domain"
)

// quickCandidate is a file taking part in prefix comparison. Cached files
// already have their full digest and only serve as comparison partners.
type quickCandidate struct {
	id     domain.FileIdentity
	cached bool
}

// sizeIndex tracks the walk by file size
type sizeIndex struct {
	seen    map[int64]int
	cached  map[int64][]domain.FileIdentity
	pending map[int64][]domain.FileIdentity
}

// staged reads only files that can still have a duplicate. Cached digests
// are used as they are. Uncached files with a unique size are dropped, then
// same-size files are compared by a digest of their first QuickHashBytes
// and only prefix collisions are read whole.
func (r *scanRun) staged(scanCtx, hashCtx context.Context, walker *filesystem.Walker, roots []string) (*filesystem.WalkSummary, error) {
	cfg := r.svc.config
	idx := &sizeIndex{
		seen:    make(map[int64]int),
		cached:  make(map[int64][]domain.FileIdentity),
		pending: make(map[int64][]domain.FileIdentity),
	}

	workers := pool.New().WithMaxGoroutines(cfg.Workers)
	summary, err := walker.Walk(scanCtx, roots, func(id domain.FileIdentity) error {
		if err := scanCtx.Err(); err != nil {
			return err
		}
		r.mu.Lock()
		r.found++
		idx.seen[id.Size]++
		r.mu.Unlock()

		workers.Go(func() {
			res, hit, err := r.computer.Lookup(hashCtx, id)
			if err != nil || hit {
				if hit {
					r.mu.Lock()
					idx.cached[id.Size] = append(idx.cached[id.Size], id)
					r.mu.Unlock()
				}
				r.collect(id, res, err)
				return
			}
			r.mu.Lock()
			idx.pending[id.Size] = append(idx.pending[id.Size], id)
			r.mu.Unlock()
		})
		return nil
	})
	workers.Wait()
	if err != nil || scanCtx.Err() != nil {
		return summary, err
	}

	var full []domain.FileIdentity
	var quick []quickCandidate
	for size, ids := range idx.pending {
		switch {
		case idx.seen[size] < cfg.MinGroupSize:
			r.eliminate(ids)
		case size <= cfg.QuickHashBytes:
			full = append(full, ids...)
		default:
			for _, id := range ids {
				quick = append(quick, quickCandidate{id: id})
			}
			for _, id := range idx.cached[size] {
				quick = append(quick, quickCandidate{id: id, cached: true})
			}
		}
	}

	full = append(full, r.narrow(scanCtx, hashCtx, quick)...)

	forEach(scanCtx, cfg.Workers, full, func(id domain.FileIdentity) {
		res, err := r.computer.ComputeIdentity(hashCtx, id)
		r.collect(id, res, err)
	})
	return summary, nil
}

// narrow computes prefix digests and returns the uncached files that share
// one with enough others to form a group
func (r *scanRun) narrow(scanCtx, hashCtx context.Context, candidates []quickCandidate) []domain.FileIdentity {
	if len(candidates) == 0 {
		return nil
	}
	cfg := r.svc.config

	buckets := make(map[string][]quickCandidate)
	// A cached partner without a prefix digest leaves its size undecided
	undecided := make(map[int64]bool)

	forEach(scanCtx, cfg.Workers, candidates, func(c quickCandidate) {
		res, err := r.computer.QuickHashIdentity(hashCtx, c.id, cfg.QuickHashBytes)
		if err != nil {
			if c.cached && domain.IsFileError(err) {
				r.svc.logger.Warn("failed to read prefix of cached file",
					zap.String("path", c.id.Path), zap.Error(err))
				r.mu.Lock()
				undecided[c.id.Size] = true
				r.mu.Unlock()
				return
			}
			r.collect(c.id, nil, err)
			return
		}
		key := strconv.FormatInt(c.id.Size, 10) + ":" + res.Hash
		r.mu.Lock()
		buckets[key] = append(buckets[key], c)
		r.mu.Unlock()
	})
	if scanCtx.Err() != nil {
		return nil
	}

	var survivors, dropped []domain.FileIdentity
	for _, members := range buckets {
		keep := len(members) >= cfg.MinGroupSize
		for _, m := range members {
			switch {
			case m.cached:
				// already grouped
			case keep || undecided[m.id.Size]:
				survivors = append(survivors, m.id)
			default:
				dropped = append(dropped, m.id)
			}
		}
	}
	r.eliminate(dropped)
	return survivors
}

// forEach runs fn over items on a bounded pool until ctx is done
func forEach[T any](ctx context.Context, workers int, items []T, fn func(T)) {
	p := pool.New().WithMaxGoroutines(workers)
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		item := item
		p.Go(func() { fn(item) })
	}
	p.Wait()
}
