package port

import (
	"context"

	"github.com/vertextoedge/dupecache/internal/domain"
)

// HashCacheReader is the read side of the hash cache
type HashCacheReader interface {
	// Lookup returns the stored hash when path, size and mtime all match.
	// A mismatch is reported as a miss, never an error.
	Lookup(ctx context.Context, id domain.FileIdentity, algo domain.Algorithm) (string, bool, error)

	// Entries visits every entry ordered by path then algorithm.
	// Returning an error from fn stops the iteration and is passed through.
	Entries(ctx context.Context, fn func(domain.HashEntry) error) error

	// Stats returns derived cache statistics
	Stats(ctx context.Context) (*domain.CacheStatistics, error)

	// Ping checks that the cache can be reached
	Ping(ctx context.Context) error
}

// HashCache is the persistent content-addressable hash cache
type HashCache interface {
	HashCacheReader

	// Store upserts the hash for the identity. Last writer wins.
	Store(ctx context.Context, id domain.FileIdentity, algo domain.Algorithm, hash string) error

	// Invalidate removes every entry for path and returns how many were removed
	Invalidate(ctx context.Context, path string) (int64, error)

	// Compact removes stale and aged entries and reclaims space
	Compact(ctx context.Context) (*domain.CompactResult, error)

	// Clear drops every entry
	Clear(ctx context.Context) error

	// Close releases the underlying database
	Close() error
}
