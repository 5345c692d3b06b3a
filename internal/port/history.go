package port

import (
	"context"
	"time"

	"github.com/vertextoedge/dupecache/internal/domain"
)

// HistoryReader is the read side of the scan history store.
// Lists are returned in insertion order.
type HistoryReader interface {
	// RecentScans returns the last n scan records; n <= 0 returns all
	RecentScans(ctx context.Context, n int) ([]*domain.ScanRecord, error)

	// RecentDeletions returns the last n deletion records; n <= 0 returns all
	RecentDeletions(ctx context.Context, n int) ([]*domain.DeletionRecord, error)

	// GetScan returns the scan record with the given id
	GetScan(ctx context.Context, id string) (*domain.ScanRecord, error)

	// DeletionsForScan returns deletions referencing scanID
	DeletionsForScan(ctx context.Context, scanID string) ([]*domain.DeletionRecord, error)

	// AggregateStats folds totals over the stored records
	AggregateStats(ctx context.Context) (*domain.AggregateStats, error)

	// DeletionStatsSince summarizes deletions recorded at or after since
	DeletionStatsSince(ctx context.Context, since time.Time) (*domain.DeletionStats, error)

	// EachScan visits every scan record in insertion order
	EachScan(ctx context.Context, fn func(*domain.ScanRecord) error) error

	// EachDeletion visits every deletion record in insertion order
	EachDeletion(ctx context.Context, fn func(*domain.DeletionRecord) error) error

	// Ping checks that the store can be reached
	Ping(ctx context.Context) error
}

// HistoryStore is the append-only record of scans and deletions
type HistoryStore interface {
	HistoryReader

	// RecordScan appends a scan record; durable before return
	RecordScan(ctx context.Context, rec *domain.ScanRecord) error

	// RecordDeletion appends a deletion record; durable before return
	RecordDeletion(ctx context.Context, rec *domain.DeletionRecord) error

	// Compact reclaims free pages
	Compact(ctx context.Context) error

	// Clear drops every record. Maintenance only.
	Clear(ctx context.Context) error

	// Close releases the underlying database
	Close() error
}
