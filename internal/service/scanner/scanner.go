package scanner

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/vertextoedge/dupecache/internal/adapter/filesystem"
	"github.com/vertextoedge/dupecache/internal/domain"
	"github.com/vertextoedge/dupecache/internal/grouper"
	"github.com/vertextoedge/dupecache/internal/hasher"
	"github.com/vertextoedge/dupecache/internal/port"
	"github.com/vertextoedge/dupecache/internal/util/throttle"
)

// Config holds scan configuration
type Config struct {
	// Roots are scanned when Scan is called without explicit roots
	Roots []string

	Filter    domain.FilterOptions
	Algorithm domain.Algorithm
	ChunkSize int

	// Workers bounds concurrent hashing; zero means runtime.NumCPU()
	Workers int

	MinGroupSize  int
	MinGroupBytes int64

	// Timeout bounds the whole scan; zero disables it
	Timeout time.Duration

	// ProgressInterval throttles progress log lines
	ProgressInterval time.Duration

	// MaxRecordedErrors caps the error messages kept on the scan record
	MaxRecordedErrors int

	// QuickHash narrows uncached files by size and by a digest of their
	// first QuickHashBytes before reading them whole
	QuickHash      bool
	QuickHashBytes int64
}

// DefaultConfig returns default scan configuration
func DefaultConfig() *Config {
	return &Config{
		Algorithm:         domain.DefaultAlgorithm,
		ChunkSize:         hasher.DefaultChunkSize,
		Workers:           runtime.NumCPU(),
		MinGroupSize:      2,
		ProgressInterval:  5 * time.Second,
		MaxRecordedErrors: 100,
		QuickHashBytes:    hasher.DefaultQuickBytes,
	}
}

// Progress is a snapshot handed to the progress callback
type Progress struct {
	FilesFound  int64
	FilesHashed int64
	Eliminated  int64
	CacheHits   int64
	Errors      int64
	BytesRead   int64
	LastPath    string
}

// Result is the outcome of one scan
type Result struct {
	Record     *domain.ScanRecord
	Groups     []domain.DuplicateGroup
	FileErrors []error
	Warnings   []*domain.FileError
	HashStats  hasher.Stats

	// Eliminated counts files ruled out without a full read
	Eliminated int64
}

// Cancelled reports whether the scan stopped before finishing
func (r *Result) Cancelled() bool {
	return r.Record.Status == domain.ScanStatusCancelled
}

// Err combines every per-file error; nil when there were none
func (r *Result) Err() error {
	return multierr.Combine(r.FileErrors...)
}

// Service runs duplicate scans
type Service struct {
	config  *Config
	cache   port.HashCache
	history port.HistoryStore
	fs      port.FileSystem
	logger  *zap.Logger

	onProgress func(Progress)
	now        func() time.Time
}

// New creates a new scan Service
func New(cfg *Config, cache port.HashCache, history port.HistoryStore, fs port.FileSystem, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = domain.DefaultAlgorithm
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = hasher.DefaultChunkSize
	}
	if cfg.Workers < 1 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.MinGroupSize < 2 {
		cfg.MinGroupSize = 2
	}
	if cfg.ProgressInterval == 0 {
		cfg.ProgressInterval = 5 * time.Second
	}
	if cfg.MaxRecordedErrors <= 0 {
		cfg.MaxRecordedErrors = 100
	}
	if cfg.QuickHashBytes <= 0 {
		cfg.QuickHashBytes = hasher.DefaultQuickBytes
	}

	return &Service{
		config:  cfg,
		cache:   cache,
		history: history,
		fs:      fs,
		logger:  logger,
		now:     time.Now,
	}
}

// OnProgress registers a callback run after every processed file.
// It is called from worker goroutines, one call at a time.
func (s *Service) OnProgress(fn func(Progress)) {
	s.onProgress = fn
}

// scanRun is the state of a single Scan call
type scanRun struct {
	svc      *Service
	computer *hasher.Computer
	progress *throttle.Throttle
	cancel   context.CancelFunc

	mu         sync.Mutex
	groups     *grouper.Grouper
	fileErrs   []error
	fatal      error
	found      int64
	hashed     int64
	eliminated int64
}

// Scan walks roots, hashes every candidate and groups the duplicates.
// A cancelled or timed out scan still records and returns a partial result.
// Only store failures are returned as errors.
func (s *Service) Scan(ctx context.Context, roots []string) (*Result, error) {
	if len(roots) == 0 {
		roots = s.config.Roots
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w: no scan roots given", domain.ErrInvalidInput)
	}

	if err := s.cache.Ping(ctx); err != nil {
		return nil, storeErr(domain.ErrCacheUnavailable, err)
	}
	if err := s.history.Ping(ctx); err != nil {
		return nil, storeErr(domain.ErrHistoryUnavailable, err)
	}

	computer, err := hasher.New(s.cache, s.fs, hasher.Options{
		Algorithm: s.config.Algorithm,
		ChunkSize: s.config.ChunkSize,
	}, s.logger)
	if err != nil {
		return nil, err
	}

	var scanCtx context.Context
	var cancel context.CancelFunc
	if s.config.Timeout > 0 {
		scanCtx, cancel = context.WithTimeout(ctx, s.config.Timeout)
	} else {
		scanCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	// Started hashes run to completion so no cache write is cut short
	hashCtx := context.WithoutCancel(scanCtx)

	record := &domain.ScanRecord{
		ID:        uuid.NewString(),
		StartedAt: s.now(),
		Roots:     append([]string(nil), roots...),
		Algorithm: s.config.Algorithm,
	}

	s.logger.Info("starting scan",
		zap.String("scan_id", record.ID),
		zap.Strings("roots", roots),
		zap.String("algorithm", string(s.config.Algorithm)),
		zap.Int("workers", s.config.Workers))

	state := &scanRun{
		svc:      s,
		computer: computer,
		progress: throttle.New(s.config.ProgressInterval),
		cancel:   cancel,
		groups: grouper.New(grouper.Options{
			MinGroupSize:  s.config.MinGroupSize,
			MinGroupBytes: s.config.MinGroupBytes,
		}, s.fs.Exists),
	}
	walker := filesystem.NewWalker(s.config.Filter, s.logger)

	var summary *filesystem.WalkSummary
	var walkErr error
	if s.config.QuickHash {
		summary, walkErr = state.staged(scanCtx, hashCtx, walker, roots)
	} else {
		summary, walkErr = state.direct(scanCtx, hashCtx, walker, roots)
	}

	cancelled := scanCtx.Err() != nil
	if state.fatal != nil {
		s.logger.Error("scan aborted",
			zap.String("scan_id", record.ID),
			zap.Error(state.fatal))
		return nil, fmt.Errorf("scan %s aborted: %w", record.ID, state.fatal)
	}
	if walkErr != nil && !errors.Is(walkErr, context.Canceled) && !errors.Is(walkErr, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan %s walk failed: %w", record.ID, walkErr)
	}

	groups := state.groups.Groups()
	dupFiles, reclaimable := domain.SummarizeGroups(groups)

	record.FinishedAt = s.now()
	record.FilesProcessed = state.hashed + state.eliminated + int64(len(state.fileErrs))
	record.GroupsFound = int64(len(groups))
	record.DuplicateFiles = dupFiles
	record.ReclaimableBytes = reclaimable
	record.ErrorCount = int64(len(state.fileErrs))
	record.WarningCount = int64(len(summary.Warnings))
	record.Errors = s.errorMessages(state.fileErrs, summary.Warnings)
	record.Status = domain.ScanStatusComplete
	if cancelled {
		record.Status = domain.ScanStatusCancelled
	}

	if err := s.history.RecordScan(context.WithoutCancel(ctx), record); err != nil {
		return nil, fmt.Errorf("record scan %s: %w", record.ID, err)
	}

	stats := computer.Stats()
	s.logger.Info("scan completed",
		zap.String("scan_id", record.ID),
		zap.String("status", string(record.Status)),
		zap.Duration("duration", record.Duration()),
		zap.Int64("files", record.FilesProcessed),
		zap.Int64("groups", record.GroupsFound),
		zap.Int64("duplicates", record.DuplicateFiles),
		zap.Int64("reclaimable_bytes", record.ReclaimableBytes),
		zap.Int64("cache_hits", stats.CacheHits),
		zap.Int64("eliminated", state.eliminated),
		zap.Int64("errors", record.ErrorCount),
		zap.Int64("warnings", record.WarningCount))

	return &Result{
		Record:     record,
		Groups:     groups,
		FileErrors: state.fileErrs,
		Warnings:   summary.Warnings,
		HashStats:  stats,
		Eliminated: state.eliminated,
	}, nil
}

// direct hashes every candidate as the walk yields it
func (r *scanRun) direct(scanCtx, hashCtx context.Context, walker *filesystem.Walker, roots []string) (*filesystem.WalkSummary, error) {
	workers := pool.New().WithMaxGoroutines(r.svc.config.Workers)
	summary, err := walker.Walk(scanCtx, roots, func(id domain.FileIdentity) error {
		if err := scanCtx.Err(); err != nil {
			return err
		}
		r.mu.Lock()
		r.found++
		r.mu.Unlock()

		// Blocks while every worker is busy
		workers.Go(func() {
			res, err := r.computer.HashIdentity(hashCtx, id)
			r.collect(id, res, err)
		})
		return nil
	})
	workers.Wait()
	return summary, err
}

// collect folds one hash outcome into the run
func (r *scanRun) collect(id domain.FileIdentity, res *hasher.Result, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case err == nil:
		r.groups.Add(res.Identity.Path, res.Hash, res.Identity.Size)
		r.hashed++
	case domain.IsFileError(err):
		r.svc.logger.Warn("failed to hash file", zap.String("path", id.Path), zap.Error(err))
		r.fileErrs = append(r.fileErrs, err)
	default:
		if r.fatal == nil {
			r.fatal = err
			r.cancel()
		}
		return
	}
	r.reportLocked(id.Path)
}

// eliminate counts files that cannot have a duplicate
func (r *scanRun) eliminate(ids []domain.FileIdentity) {
	if len(ids) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eliminated += int64(len(ids))
	r.reportLocked(ids[len(ids)-1].Path)
}

// reportLocked emits progress; r.mu must be held
func (r *scanRun) reportLocked(lastPath string) {
	stats := r.computer.Stats()
	p := Progress{
		FilesFound:  r.found,
		FilesHashed: r.hashed,
		Eliminated:  r.eliminated,
		CacheHits:   stats.CacheHits,
		Errors:      int64(len(r.fileErrs)),
		BytesRead:   stats.BytesRead,
		LastPath:    lastPath,
	}
	if r.svc.onProgress != nil {
		r.svc.onProgress(p)
	}
	if r.progress.Ready() {
		r.svc.logger.Info("scan progress",
			zap.Int64("found", p.FilesFound),
			zap.Int64("hashed", p.FilesHashed),
			zap.Int64("cache_hits", p.CacheHits),
			zap.Int64("errors", p.Errors))
	}
}

// errorMessages keeps the first MaxRecordedErrors messages, file errors first
func (s *Service) errorMessages(fileErrs []error, warnings []*domain.FileError) []string {
	limit := s.config.MaxRecordedErrors
	msgs := make([]string, 0)
	for _, err := range fileErrs {
		if len(msgs) >= limit {
			return msgs
		}
		msgs = append(msgs, err.Error())
	}
	for _, w := range warnings {
		if len(msgs) >= limit {
			return msgs
		}
		msgs = append(msgs, w.Error())
	}
	return msgs
}

func storeErr(sentinel, err error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}
