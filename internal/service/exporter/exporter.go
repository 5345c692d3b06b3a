package exporter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vertextoedge/dupecache/internal/domain"
	"github.com/vertextoedge/dupecache/internal/port"
)

// SchemaVersion is bumped on every incompatible document change
const SchemaVersion = 1

// Format is an export encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts json, yaml or yml; empty means json
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: unknown export format %q", domain.ErrInvalidInput, s)
	}
}

// FormatForPath picks the format from the destination's extension
func FormatForPath(path string, fallback Format) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	default:
		return fallback
	}
}

// ScanSummary is one scan as it appears in an export
type ScanSummary struct {
	ID              string            `json:"id" yaml:"id"`
	StartedAt       time.Time         `json:"started_at" yaml:"started_at"`
	FinishedAt      time.Time         `json:"finished_at" yaml:"finished_at"`
	Status          domain.ScanStatus `json:"status" yaml:"status"`
	Algorithm       domain.Algorithm  `json:"algorithm" yaml:"algorithm"`
	FilesProcessed  int64             `json:"files_processed" yaml:"files_processed"`
	DuplicatesFound int64             `json:"duplicates_found" yaml:"duplicates_found"`
	GroupsFound     int64             `json:"groups_found" yaml:"groups_found"`
	ErrorCount      int64             `json:"error_count" yaml:"error_count"`
}

// CacheSummary is the cache statistics block of an export
type CacheSummary struct {
	EntryCount      int64   `json:"entry_count" yaml:"entry_count"`
	ApproxSizeBytes int64   `json:"approx_size_bytes" yaml:"approx_size_bytes"`
	HitRate         float64 `json:"hit_rate" yaml:"hit_rate"`
}

// Document is the self-describing export
type Document struct {
	SchemaVersion int                    `json:"schema_version" yaml:"schema_version"`
	ExportedAt    time.Time              `json:"exported_at" yaml:"exported_at"`
	CoreVersion   string                 `json:"core_version" yaml:"core_version"`
	Scans         []ScanSummary          `json:"scans" yaml:"scans"`
	Cache         CacheSummary           `json:"cache" yaml:"cache"`
	Aggregate     *domain.AggregateStats `json:"aggregate,omitempty" yaml:"aggregate,omitempty"`
	Environment   map[string]any         `json:"environment" yaml:"environment"`
}

// Scope selects what goes into a document
type Scope struct {
	// ScanLimit is the number of most recent scans; zero or less exports all
	ScanLimit int
}

// Service builds and writes export documents. It only reads the stores.
type Service struct {
	cache   port.HashCacheReader
	history port.HistoryReader
	fs      port.FileSystem
	version string
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a new exporter Service
func New(cache port.HashCacheReader, history port.HistoryReader, fs port.FileSystem, version string, logger *zap.Logger) *Service {
	return &Service{
		cache:   cache,
		history: history,
		fs:      fs,
		version: version,
		logger:  logger,
		now:     time.Now,
	}
}

// Build assembles a document for scope. env is copied in as given.
func (s *Service) Build(ctx context.Context, scope Scope, env map[string]any) (*Document, error) {
	scans, err := s.history.RecentScans(ctx, scope.ScanLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to read scans: %w", err)
	}
	stats, err := s.cache.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache stats: %w", err)
	}
	agg, err := s.history.AggregateStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read aggregate stats: %w", err)
	}

	if env == nil {
		env = map[string]any{}
	}

	doc := &Document{
		SchemaVersion: SchemaVersion,
		ExportedAt:    s.now().UTC(),
		CoreVersion:   s.version,
		Scans:         make([]ScanSummary, 0, len(scans)),
		Cache: CacheSummary{
			EntryCount:      stats.TotalEntries,
			ApproxSizeBytes: stats.ApproxSizeBytes,
			HitRate:         stats.HitRate,
		},
		Aggregate:   agg,
		Environment: env,
	}
	for _, rec := range scans {
		doc.Scans = append(doc.Scans, ScanSummary{
			ID:              rec.ID,
			StartedAt:       rec.StartedAt.UTC(),
			FinishedAt:      rec.FinishedAt.UTC(),
			Status:          rec.Status,
			Algorithm:       rec.Algorithm,
			FilesProcessed:  rec.FilesProcessed,
			DuplicatesFound: rec.DuplicateFiles,
			GroupsFound:     rec.GroupsFound,
			ErrorCount:      rec.ErrorCount,
		})
	}
	return doc, nil
}

// Export builds a document and writes it to dest atomically.
// On failure dest is left as it was.
func (s *Service) Export(ctx context.Context, scope Scope, env map[string]any, dest string, format Format) (*Document, error) {
	doc, err := s.Build(ctx, scope, env)
	if err != nil {
		return nil, err
	}

	if err := s.fs.WriteFileAtomic(dest, func(w io.Writer) error {
		return Encode(w, doc, format)
	}); err != nil {
		return nil, fmt.Errorf("failed to write export %s: %w", dest, err)
	}

	s.logger.Info("export written",
		zap.String("path", dest),
		zap.String("format", string(format)),
		zap.Int("scans", len(doc.Scans)))

	return doc, nil
}

// Encode writes doc in the given format
func Encode(w io.Writer, doc *Document, format Format) error {
	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w: unknown export format %q", domain.ErrInvalidInput, format)
	}
}

// Decode reads a document back and rejects schema versions it does not know
func Decode(r io.Reader, format Format) (*Document, error) {
	doc := &Document{}
	var err error
	switch format {
	case FormatJSON, "":
		err = json.NewDecoder(r).Decode(doc)
	case FormatYAML:
		err = yaml.NewDecoder(r).Decode(doc)
	default:
		return nil, fmt.Errorf("%w: unknown export format %q", domain.ErrInvalidInput, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: malformed export document: %v", domain.ErrInvalidInput, err)
	}

	if doc.SchemaVersion < 1 || doc.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("%w: unsupported schema version %d", domain.ErrInvalidInput, doc.SchemaVersion)
	}
	return doc, nil
}
