package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vertextoedge/dupecache/internal/domain"
	"github.com/vertextoedge/dupecache/internal/port"
)

// HashCacheOptions configures a HashCache
type HashCacheOptions struct {
	Options

	// HitRateWindow is the number of recent lookups the hit rate covers
	HitRateWindow int

	// MaxEntryAge drops entries computed longer ago during Compact. Zero disables it.
	MaxEntryAge time.Duration

	// FileSystem is used by Compact to find removed or changed files
	FileSystem port.FileSystem
}

// HashCache implements port.HashCache using SQLite
type HashCache struct {
	db   *sql.DB
	opts HashCacheOptions

	// Serializes writers in this process; readers are not blocked.
	writeMu sync.Mutex

	window *hitWindow
	now    func() time.Time
}

// Ensure HashCache implements port.HashCache
var _ port.HashCache = (*HashCache)(nil)

var hashCacheMigrations = []string{
	`CREATE TABLE IF NOT EXISTS hash_entries (
		path TEXT NOT NULL,
		algorithm TEXT NOT NULL,
		size INTEGER NOT NULL,
		mtime_ns INTEGER NOT NULL,
		hash TEXT NOT NULL,
		computed_at INTEGER NOT NULL,
		PRIMARY KEY (path, algorithm)
	) WITHOUT ROWID`,
	`CREATE INDEX IF NOT EXISTS idx_hash_entries_computed_at ON hash_entries(computed_at)`,
}

// OpenHashCache opens (creating if needed) the hash cache database
func OpenHashCache(dbPath string, opts HashCacheOptions) (*HashCache, error) {
	if opts.HitRateWindow <= 0 {
		opts.HitRateWindow = 1000
	}

	db, err := open(dbPath, opts.Options, "NORMAL", hashCacheMigrations)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}

	return &HashCache{
		db:     db,
		opts:   opts,
		window: newHitWindow(opts.HitRateWindow),
		now:    time.Now,
	}, nil
}

// Close closes the database connection
func (c *HashCache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping checks database connectivity
func (c *HashCache) Ping(ctx context.Context) error {
	return c.wrap("ping", c.db.PingContext(ctx))
}

func (c *HashCache) wrap(op string, err error) error {
	return wrapErr(domain.ErrCacheUnavailable, op, err, c.opts.BusyTimeout)
}

// Lookup returns the cached hash if the stored identity still matches
func (c *HashCache) Lookup(ctx context.Context, id domain.FileIdentity, algo domain.Algorithm) (string, bool, error) {
	var (
		size    int64
		mtimeNs int64
		hash    string
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT size, mtime_ns, hash FROM hash_entries WHERE path = ? AND algorithm = ?`,
		id.Path, string(algo),
	).Scan(&size, &mtimeNs, &hash)

	if errors.Is(err, sql.ErrNoRows) {
		c.window.record(false)
		return "", false, nil
	}
	if err != nil {
		return "", false, c.wrap("lookup", err)
	}

	// Stale entries are detected here and left for Store or Compact to replace
	if size != id.Size || mtimeNs != id.ModTimeNanos() {
		c.window.record(false)
		return "", false, nil
	}

	c.window.record(true)
	return hash, true, nil
}

// Store upserts the hash for the identity
func (c *HashCache) Store(ctx context.Context, id domain.FileIdentity, algo domain.Algorithm, hash string) error {
	if id.Path == "" || hash == "" || !algo.Cacheable() {
		return fmt.Errorf("%w: incomplete hash entry for %q", domain.ErrInvalidInput, id.Path)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO hash_entries (path, algorithm, size, mtime_ns, hash, computed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path, algorithm) DO UPDATE SET
			size = excluded.size,
			mtime_ns = excluded.mtime_ns,
			hash = excluded.hash,
			computed_at = excluded.computed_at`,
		id.Path, string(algo), id.Size, id.ModTimeNanos(), hash, c.now().UnixNano(),
	)
	return c.wrap("store", err)
}

// Invalidate removes every entry for the path regardless of algorithm
func (c *HashCache) Invalidate(ctx context.Context, path string) (int64, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	result, err := c.db.ExecContext(ctx, `DELETE FROM hash_entries WHERE path = ?`, path)
	if err != nil {
		return 0, c.wrap("invalidate", err)
	}
	return result.RowsAffected()
}

// Entries visits every entry ordered by path then algorithm
func (c *HashCache) Entries(ctx context.Context, fn func(domain.HashEntry) error) error {
	rows, err := c.db.QueryContext(ctx, `
		SELECT path, algorithm, size, mtime_ns, hash, computed_at
		FROM hash_entries ORDER BY path, algorithm`)
	if err != nil {
		return c.wrap("list entries", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e                   domain.HashEntry
			algo                string
			mtimeNs, computedAt int64
		)
		if err := rows.Scan(&e.Identity.Path, &algo, &e.Identity.Size, &mtimeNs, &e.Hash, &computedAt); err != nil {
			return c.wrap("scan entry", err)
		}
		e.Algorithm = domain.Algorithm(algo)
		e.Identity.ModTime = time.Unix(0, mtimeNs)
		e.ComputedAt = time.Unix(0, computedAt)

		if err := fn(e); err != nil {
			return err
		}
	}
	return c.wrap("list entries", rows.Err())
}

// Compact drops aged entries and entries whose file is gone or changed,
// then vacuums the database
func (c *HashCache) Compact(ctx context.Context) (*domain.CompactResult, error) {
	if c.opts.FileSystem == nil {
		return nil, fmt.Errorf("%w: compaction requires a filesystem", domain.ErrInvalidInput)
	}

	result := &domain.CompactResult{}
	before, err := approxSize(ctx, c.db)
	if err != nil {
		return nil, c.wrap("measure", err)
	}
	result.BytesBefore = before

	if c.opts.MaxEntryAge > 0 {
		cutoff := c.now().Add(-c.opts.MaxEntryAge).UnixNano()
		c.writeMu.Lock()
		res, err := c.db.ExecContext(ctx, `DELETE FROM hash_entries WHERE computed_at < ?`, cutoff)
		c.writeMu.Unlock()
		if err != nil {
			return nil, c.wrap("drop aged entries", err)
		}
		result.RemovedAged, _ = res.RowsAffected()
	}

	var stale []domain.HashEntry
	err = c.Entries(ctx, func(e domain.HashEntry) error {
		result.Checked++
		current, err := c.opts.FileSystem.Identity(e.Identity.Path)
		if err != nil || !current.Matches(e.Identity) {
			stale = append(stale, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(stale) > 0 {
		c.writeMu.Lock()
		err := func() error {
			tx, err := c.db.BeginTx(ctx, nil)
			if err != nil {
				return err
			}
			defer tx.Rollback()

			// Matching on the stale identity keeps entries stored since the check
			stmt, err := tx.PrepareContext(ctx, `
				DELETE FROM hash_entries
				WHERE path = ? AND algorithm = ? AND size = ? AND mtime_ns = ?`)
			if err != nil {
				return err
			}
			defer stmt.Close()

			for _, e := range stale {
				res, err := stmt.ExecContext(ctx, e.Identity.Path, string(e.Algorithm), e.Identity.Size, e.Identity.ModTimeNanos())
				if err != nil {
					return err
				}
				n, _ := res.RowsAffected()
				result.RemovedStale += n
			}
			return tx.Commit()
		}()
		c.writeMu.Unlock()
		if err != nil {
			return nil, c.wrap("drop stale entries", err)
		}
	}

	c.writeMu.Lock()
	err = vacuum(ctx, c.db)
	c.writeMu.Unlock()
	if err != nil {
		return nil, c.wrap("vacuum", err)
	}

	after, err := approxSize(ctx, c.db)
	if err != nil {
		return nil, c.wrap("measure", err)
	}
	result.BytesAfter = after

	return result, nil
}

// Clear drops every entry
func (c *HashCache) Clear(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.db.ExecContext(ctx, `DELETE FROM hash_entries`); err != nil {
		return c.wrap("clear", err)
	}
	return c.wrap("vacuum", vacuum(ctx, c.db))
}

// Stats returns entry count, approximate size and the rolling hit rate
func (c *HashCache) Stats(ctx context.Context) (*domain.CacheStatistics, error) {
	stats := &domain.CacheStatistics{}

	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hash_entries`).Scan(&stats.TotalEntries); err != nil {
		return nil, c.wrap("count entries", err)
	}

	size, err := approxSize(ctx, c.db)
	if err != nil {
		return nil, c.wrap("measure", err)
	}
	stats.ApproxSizeBytes = size

	snap := c.window.snapshot()
	stats.HitRate = snap.rate
	stats.WindowLookups = snap.lookups
	stats.WindowSize = snap.size
	stats.Hits = snap.hits
	stats.Misses = snap.misses

	return stats, nil
}
