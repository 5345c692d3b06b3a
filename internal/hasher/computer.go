package hasher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/vertextoedge/dupecache/internal/domain"
	"github.com/vertextoedge/dupecache/internal/port"
)

const (
	DefaultChunkSize = 64 * 1024
	MinChunkSize     = 4 * 1024
	MaxChunkSize     = 64 * 1024 * 1024

	// DefaultQuickBytes is the prefix length of a quick digest
	DefaultQuickBytes = 64 * 1024
)

// ErrChangedDuringHash means the file's identity moved while it was read
var ErrChangedDuringHash = errors.New("file changed while hashing")

// Options holds hashing configuration
type Options struct {
	Algorithm domain.Algorithm
	ChunkSize int
}

// DefaultOptions returns default hashing configuration
func DefaultOptions() Options {
	return Options{
		Algorithm: domain.DefaultAlgorithm,
		ChunkSize: DefaultChunkSize,
	}
}

// Result is the digest of one file
type Result struct {
	Identity domain.FileIdentity
	Hash     string
	CacheHit bool
}

// Stats counts cache outcomes and actual reads. Quick counters cover
// prefix digests only.
type Stats struct {
	CacheHits   int64
	CacheMisses int64
	QuickHits   int64
	QuickMisses int64
	FilesOpened int64
	BytesRead   int64
}

// Computer produces content digests, consulting the hash cache first.
// It is safe for concurrent use.
type Computer struct {
	cache  port.HashCache
	fs     port.FileSystem
	opts   Options
	logger *zap.Logger

	stats struct {
		hits        atomic.Int64
		misses      atomic.Int64
		quickHits   atomic.Int64
		quickMisses atomic.Int64
		opened      atomic.Int64
		bytes       atomic.Int64
	}
}

// New creates a new Computer
func New(cache port.HashCache, fs port.FileSystem, opts Options, logger *zap.Logger) (*Computer, error) {
	if opts.Algorithm == "" {
		opts.Algorithm = domain.DefaultAlgorithm
	}
	if !opts.Algorithm.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownAlgo, opts.Algorithm)
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkSize < MinChunkSize || opts.ChunkSize > MaxChunkSize {
		return nil, fmt.Errorf("%w: chunk size %d out of range", domain.ErrInvalidInput, opts.ChunkSize)
	}

	return &Computer{
		cache:  cache,
		fs:     fs,
		opts:   opts,
		logger: logger,
	}, nil
}

// Algorithm returns the algorithm this computer hashes with
func (c *Computer) Algorithm() domain.Algorithm {
	return c.opts.Algorithm
}

// Hash stats path for its current identity and returns its digest
func (c *Computer) Hash(ctx context.Context, path string) (*Result, error) {
	id, err := c.fs.Identity(path)
	if err != nil {
		return nil, err
	}
	return c.HashIdentity(ctx, id)
}

// HashIdentity returns the digest for a file whose identity is already known.
// A cache hit returns without opening the file. Per-file failures are
// *domain.FileError; cache failures wrap domain.ErrCacheUnavailable.
func (c *Computer) HashIdentity(ctx context.Context, id domain.FileIdentity) (*Result, error) {
	res, hit, err := c.Lookup(ctx, id)
	if err != nil || hit {
		return res, err
	}
	return c.ComputeIdentity(ctx, id)
}

// Lookup returns the cached full digest for id without touching the file
func (c *Computer) Lookup(ctx context.Context, id domain.FileIdentity) (*Result, bool, error) {
	hash, hit, err := c.cache.Lookup(ctx, id, c.opts.Algorithm)
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup %s: %w", id.Path, err)
	}
	if !hit {
		c.stats.misses.Add(1)
		return nil, false, nil
	}
	c.stats.hits.Add(1)
	return &Result{Identity: id, Hash: hash, CacheHit: true}, true, nil
}

// ComputeIdentity reads the whole file and stores its digest, skipping the lookup
func (c *Computer) ComputeIdentity(ctx context.Context, id domain.FileIdentity) (*Result, error) {
	digest, err := c.compute(id, 0)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Store(ctx, id, c.opts.Algorithm, digest); err != nil {
		return nil, fmt.Errorf("cache store %s: %w", id.Path, err)
	}

	c.logger.Debug("hashed file",
		zap.String("path", id.Path),
		zap.Int64("size", id.Size),
		zap.String("algorithm", string(c.opts.Algorithm)))

	return &Result{Identity: id, Hash: digest}, nil
}

// QuickHashIdentity returns the digest of the first n bytes of the file,
// cached under domain.QuickAlgorithm. Quick digests only compare between
// files of equal size.
func (c *Computer) QuickHashIdentity(ctx context.Context, id domain.FileIdentity, n int64) (*Result, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: quick digest length %d", domain.ErrInvalidInput, n)
	}
	algo := domain.QuickAlgorithm(c.opts.Algorithm, n)

	hash, hit, err := c.cache.Lookup(ctx, id, algo)
	if err != nil {
		return nil, fmt.Errorf("cache lookup %s: %w", id.Path, err)
	}
	if hit {
		c.stats.quickHits.Add(1)
		return &Result{Identity: id, Hash: hash, CacheHit: true}, nil
	}
	c.stats.quickMisses.Add(1)

	digest, err := c.compute(id, n)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Store(ctx, id, algo, digest); err != nil {
		return nil, fmt.Errorf("cache store %s: %w", id.Path, err)
	}
	return &Result{Identity: id, Hash: digest}, nil
}

// compute digests the first limit bytes of the file, or all of it when
// limit is zero or covers the whole file
func (c *Computer) compute(id domain.FileIdentity, limit int64) (string, error) {
	rc, err := c.fs.Open(id.Path)
	if err != nil {
		if domain.IsFileError(err) {
			return "", err
		}
		return "", domain.NewFileError(id.Path, "open", err)
	}
	defer rc.Close()
	c.stats.opened.Add(1)

	var r io.Reader = rc
	want := id.Size
	if limit > 0 && limit < want {
		r = io.LimitReader(rc, limit)
		want = limit
	}

	digest, n, err := DigestReader(r, c.opts.Algorithm, c.opts.ChunkSize)
	c.stats.bytes.Add(n)
	if err != nil {
		return "", domain.NewFileError(id.Path, "read", err)
	}

	// The digest is only trusted if the file did not move underneath the read
	after, err := c.fs.Identity(id.Path)
	if err != nil {
		return "", err
	}
	if !after.Matches(id) || n != want {
		return "", domain.NewFileError(id.Path, "read", ErrChangedDuringHash)
	}

	return digest, nil
}

// Stats returns a snapshot of the counters
func (c *Computer) Stats() Stats {
	return Stats{
		CacheHits:   c.stats.hits.Load(),
		CacheMisses: c.stats.misses.Load(),
		QuickHits:   c.stats.quickHits.Load(),
		QuickMisses: c.stats.quickMisses.Load(),
		FilesOpened: c.stats.opened.Load(),
		BytesRead:   c.stats.bytes.Load(),
	}
}
