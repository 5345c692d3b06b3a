package audit

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vertextoedge/dupecache/internal/domain"
	"github.com/vertextoedge/dupecache/internal/port"
	"github.com/vertextoedge/dupecache/internal/service/verifier"
)

// DeletedFile is one file removed by the caller
type DeletedFile struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// DeletionRequest reports a deletion the caller has already performed
type DeletionRequest struct {
	// ScanID is the scan whose results drove the deletion; it may be empty
	ScanID string        `json:"scan_id"`
	Files  []DeletedFile `json:"files"`
}

// Service is the audit and reporting surface over the history and cache
type Service struct {
	history  port.HistoryStore
	cache    port.HashCache
	fs       port.FileSystem
	verifier *verifier.Service
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a new audit Service
func New(history port.HistoryStore, cache port.HashCache, fs port.FileSystem, logger *zap.Logger) *Service {
	return &Service{
		history:  history,
		cache:    cache,
		fs:       fs,
		verifier: verifier.New(cache, history, fs, logger),
		logger:   logger,
		now:      time.Now,
	}
}

// CaptureSizes stats paths before an external deletion so the recovered
// bytes can be reported afterwards
func (s *Service) CaptureSizes(paths []string) ([]DeletedFile, error) {
	files := make([]DeletedFile, 0, len(paths))
	for _, p := range paths {
		abs, err := absPath(p)
		if err != nil {
			return nil, err
		}
		id, err := s.fs.Identity(abs)
		if err != nil {
			return nil, err
		}
		files = append(files, DeletedFile{Path: id.Path, Size: id.Size})
	}
	return files, nil
}

// RecordDeletion appends a deletion record and drops the cache entries of
// the removed files
func (s *Service) RecordDeletion(ctx context.Context, req DeletionRequest) (*domain.DeletionRecord, error) {
	if len(req.Files) == 0 {
		return nil, fmt.Errorf("%w: deletion lists no files", domain.ErrInvalidInput)
	}

	rec := &domain.DeletionRecord{
		ID:         uuid.NewString(),
		ScanID:     req.ScanID,
		Paths:      make([]string, 0, len(req.Files)),
		RecordedAt: s.now(),
	}
	for _, f := range req.Files {
		if f.Path == "" {
			return nil, fmt.Errorf("%w: deleted file has an empty path", domain.ErrInvalidInput)
		}
		if f.Size < 0 {
			return nil, fmt.Errorf("%w: negative size for %s", domain.ErrInvalidInput, f.Path)
		}
		abs, err := absPath(f.Path)
		if err != nil {
			return nil, err
		}
		rec.Paths = append(rec.Paths, abs)
		rec.BytesRecovered += f.Size
	}

	if err := s.history.RecordDeletion(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to record deletion: %w", err)
	}

	// The record is durable; a stale cache entry is only a miss later
	for _, p := range rec.Paths {
		if _, err := s.cache.Invalidate(ctx, p); err != nil {
			s.logger.Warn("failed to invalidate deleted file",
				zap.String("path", p),
				zap.Error(err))
		}
	}

	s.logger.Info("deletion recorded",
		zap.String("deletion_id", rec.ID),
		zap.String("scan_id", rec.ScanID),
		zap.Int("files", len(rec.Paths)),
		zap.Int64("bytes_recovered", rec.BytesRecovered))

	return rec, nil
}

// RecentScans returns the last n scans in insertion order
func (s *Service) RecentScans(ctx context.Context, n int) ([]*domain.ScanRecord, error) {
	return s.history.RecentScans(ctx, n)
}

// RecentDeletions returns the last n deletions in insertion order
func (s *Service) RecentDeletions(ctx context.Context, n int) ([]*domain.DeletionRecord, error) {
	return s.history.RecentDeletions(ctx, n)
}

// GetScan returns one scan with the deletions that reference it
func (s *Service) GetScan(ctx context.Context, id string) (*domain.ScanRecord, []*domain.DeletionRecord, error) {
	rec, err := s.history.GetScan(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	deletions, err := s.history.DeletionsForScan(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return rec, deletions, nil
}

func (s *Service) AggregateStats(ctx context.Context) (*domain.AggregateStats, error) {
	return s.history.AggregateStats(ctx)
}

// DeletionStats summarizes the deletions of the trailing period
func (s *Service) DeletionStats(ctx context.Context, period time.Duration) (*domain.DeletionStats, error) {
	return s.history.DeletionStatsSince(ctx, s.now().Add(-period))
}

func (s *Service) CacheStats(ctx context.Context) (*domain.CacheStatistics, error) {
	return s.cache.Stats(ctx)
}

// Ping checks that both stores can be reached
func (s *Service) Ping(ctx context.Context) error {
	if err := s.history.Ping(ctx); err != nil {
		return err
	}
	return s.cache.Ping(ctx)
}

// Verify runs a read-only integrity check over both stores
func (s *Service) Verify(ctx context.Context) (*domain.IntegrityReport, error) {
	return s.verifier.Verify(ctx)
}

// absPath matches the form the walker stores cache keys in
func absPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("%w: resolve %s: %v", domain.ErrInvalidInput, p, err)
	}
	return abs, nil
}
