package verifier

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/dupecache/internal/domain"
	"github.com/vertextoedge/dupecache/internal/port"
)

// Service cross-checks the hash cache and history against the filesystem.
// It never writes to either store.
type Service struct {
	cache   port.HashCacheReader
	history port.HistoryReader
	fs      port.FileSystem
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a new verifier Service
func New(cache port.HashCacheReader, history port.HistoryReader, fs port.FileSystem, logger *zap.Logger) *Service {
	return &Service{
		cache:   cache,
		history: history,
		fs:      fs,
		logger:  logger,
		now:     time.Now,
	}
}

// Verify returns every discrepancy found. Findings are data; an error
// means a store could not be read.
func (s *Service) Verify(ctx context.Context) (*domain.IntegrityReport, error) {
	start := time.Now()
	report := &domain.IntegrityReport{
		GeneratedAt:   s.now(),
		Discrepancies: make([]domain.Discrepancy, 0),
	}

	err := s.cache.Entries(ctx, func(e domain.HashEntry) error {
		report.CacheEntriesChecked++
		if d, ok := s.checkEntry(e); ok {
			report.Discrepancies = append(report.Discrepancies, d)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("verify cache: %w", err)
	}

	scanIDs := make(map[string]struct{})
	err = s.history.EachScan(ctx, func(rec *domain.ScanRecord) error {
		switch _, dup := scanIDs[rec.ID]; {
		case rec.ID == "":
			report.Discrepancies = append(report.Discrepancies, domain.Discrepancy{
				Kind:   domain.DiscrepancyInvalidScanRow,
				Detail: "scan record has an empty id",
			})
		case dup:
			report.Discrepancies = append(report.Discrepancies, domain.Discrepancy{
				Kind:     domain.DiscrepancyInvalidScanRow,
				RecordID: rec.ID,
				Detail:   "duplicate scan id",
			})
		}
		scanIDs[rec.ID] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("verify scans: %w", err)
	}

	// A deletion without a scan id references nothing and is valid
	err = s.history.EachDeletion(ctx, func(rec *domain.DeletionRecord) error {
		if rec.ScanID == "" {
			return nil
		}
		if _, ok := scanIDs[rec.ScanID]; ok {
			return nil
		}
		report.Discrepancies = append(report.Discrepancies, domain.Discrepancy{
			Kind:     domain.DiscrepancyDanglingScan,
			RecordID: rec.ID,
			ScanID:   rec.ScanID,
			Detail:   "deletion references an unknown scan",
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("verify deletions: %w", err)
	}

	sortDiscrepancies(report.Discrepancies)

	s.logger.Info("integrity check completed",
		zap.Duration("duration", time.Since(start)),
		zap.Int64("cache_entries", report.CacheEntriesChecked),
		zap.Int("discrepancies", len(report.Discrepancies)))

	return report, nil
}

func (s *Service) checkEntry(e domain.HashEntry) (domain.Discrepancy, bool) {
	current, err := s.fs.Identity(e.Identity.Path)
	if err != nil {
		d := domain.Discrepancy{
			Kind:      domain.DiscrepancyMissingFile,
			Path:      e.Identity.Path,
			Algorithm: e.Algorithm,
			Detail:    "file no longer exists",
		}
		if !errors.Is(err, fs.ErrNotExist) {
			d.Detail = err.Error()
		}
		return d, true
	}

	if !current.Matches(e.Identity) {
		return domain.Discrepancy{
			Kind:      domain.DiscrepancyStaleEntry,
			Path:      e.Identity.Path,
			Algorithm: e.Algorithm,
			Detail: fmt.Sprintf("cached size %d mtime %d, on disk size %d mtime %d",
				e.Identity.Size, e.Identity.ModTimeNanos(), current.Size, current.ModTimeNanos()),
		}, true
	}
	return domain.Discrepancy{}, false
}

func sortDiscrepancies(ds []domain.Discrepancy) {
	sort.SliceStable(ds, func(i, j int) bool {
		a, b := ds[i], ds[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Algorithm != b.Algorithm {
			return a.Algorithm < b.Algorithm
		}
		return a.RecordID < b.RecordID
	})
}
