package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/dupecache/internal/domain"
	"github.com/vertextoedge/dupecache/internal/port"
)

// ErrInProgress is returned when another maintenance operation is running
var ErrInProgress = errors.New("maintenance operation already running")

// Service runs operator-triggered maintenance on the stores.
// Nothing here runs on a schedule.
type Service struct {
	cache   port.HashCache
	history port.HistoryStore
	logger  *zap.Logger

	// Held for the duration of one operation; a second caller fails fast
	mu sync.Mutex
}

// New creates a new maintenance Service
func New(cache port.HashCache, history port.HistoryStore, logger *zap.Logger) *Service {
	return &Service{
		cache:   cache,
		history: history,
		logger:  logger,
	}
}

func (s *Service) acquire(op string) (func(), error) {
	if !s.mu.TryLock() {
		return nil, fmt.Errorf("%s: %w", op, ErrInProgress)
	}
	return s.mu.Unlock, nil
}

// CompactCache drops stale and aged entries and reclaims space
func (s *Service) CompactCache(ctx context.Context) (*domain.CompactResult, error) {
	release, err := s.acquire("compact cache")
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	res, err := s.cache.Compact(ctx)
	if err != nil {
		s.logger.Error("failed to compact hash cache", zap.Error(err))
		return nil, err
	}

	s.logger.Info("compacted hash cache",
		zap.Duration("duration", time.Since(start)),
		zap.Int64("checked", res.Checked),
		zap.Int64("removed_stale", res.RemovedStale),
		zap.Int64("removed_aged", res.RemovedAged),
		zap.Int64("bytes_before", res.BytesBefore),
		zap.Int64("bytes_after", res.BytesAfter))
	return res, nil
}

// CompactHistory reclaims free pages in the history database.
// Records are never removed.
func (s *Service) CompactHistory(ctx context.Context) error {
	release, err := s.acquire("compact history")
	if err != nil {
		return err
	}
	defer release()

	if err := s.history.Compact(ctx); err != nil {
		s.logger.Error("failed to compact history", zap.Error(err))
		return err
	}
	s.logger.Info("compacted history")
	return nil
}

// ClearCache drops every cache entry. The history is untouched.
func (s *Service) ClearCache(ctx context.Context, confirmed bool) error {
	if !confirmed {
		return fmt.Errorf("clear cache: %w", domain.ErrNotConfirmed)
	}
	release, err := s.acquire("clear cache")
	if err != nil {
		return err
	}
	defer release()

	if err := s.cache.Clear(ctx); err != nil {
		s.logger.Error("failed to clear hash cache", zap.Error(err))
		return err
	}
	s.logger.Warn("hash cache cleared")
	return nil
}

// ClearHistory drops every scan and deletion record. The cache is untouched.
func (s *Service) ClearHistory(ctx context.Context, confirmed bool) error {
	if !confirmed {
		return fmt.Errorf("clear history: %w", domain.ErrNotConfirmed)
	}
	release, err := s.acquire("clear history")
	if err != nil {
		return err
	}
	defer release()

	if err := s.history.Clear(ctx); err != nil {
		s.logger.Error("failed to clear history", zap.Error(err))
		return err
	}
	s.logger.Warn("scan history cleared")
	return nil
}

// InvalidatePaths removes the cache entries of every given path
func (s *Service) InvalidatePaths(ctx context.Context, paths []string) (int64, error) {
	var removed int64
	for _, p := range paths {
		n, err := s.cache.Invalidate(ctx, p)
		if err != nil {
			return removed, fmt.Errorf("invalidate %s: %w", p, err)
		}
		removed += n
	}
	if removed > 0 {
		s.logger.Info("invalidated cache entries",
			zap.Int("paths", len(paths)),
			zap.Int64("removed", removed))
	}
	return removed, nil
}
