package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/vertextoedge/dupecache/internal/domain"
)

// Options contains connection settings shared by both stores
type Options struct {
	// BusyTimeout bounds how long a statement waits on a lock.
	// Past it the store returns a retryable error.
	BusyTimeout time.Duration

	// CacheSizeMB sets the SQLite page cache size
	CacheSizeMB int
}

// DefaultOptions returns the default connection settings
func DefaultOptions() Options {
	return Options{
		BusyTimeout: 5 * time.Second,
		CacheSizeMB: 64,
	}
}

// open opens the database with WAL journaling and runs the migrations.
// Pragmas go in the DSN so every pooled connection gets them.
func open(dbPath string, opts Options, synchronous string, migrations []string) (*sql.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}

	pragmas := []string{
		"journal_mode(WAL)",
		fmt.Sprintf("busy_timeout(%d)", opts.BusyTimeout.Milliseconds()),
		"synchronous(" + synchronous + ")",
		"temp_store(MEMORY)",
	}
	if opts.CacheSizeMB > 0 {
		pragmas = append(pragmas, fmt.Sprintf("cache_size(-%d)", opts.CacheSizeMB*1000))
	}

	dsn := dbPath + "?_pragma=" + strings.Join(pragmas, "&_pragma=")
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			db.Close()
			return nil, fmt.Errorf("migration failed: %w\nSQL: %s", err, migration)
		}
	}

	return db, nil
}

// approxSize returns page_count * page_size for the main database file
func approxSize(ctx context.Context, db *sql.DB) (int64, error) {
	var pages, pageSize int64
	if err := db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pages); err != nil {
		return 0, err
	}
	if err := db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, err
	}
	return pages * pageSize, nil
}

// vacuum rebuilds the database file and truncates the WAL
func vacuum(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// wrapErr maps a driver error onto the store's sentinel.
// Lock contention becomes a RetryableError; context errors pass through.
func wrapErr(sentinel error, op string, err error, retryAfter time.Duration) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	wrapped := fmt.Errorf("%w: %s: %v", sentinel, op, err)
	if isBusyError(err) {
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		return domain.NewRetryableError(wrapped, retryAfter)
	}
	return wrapped
}

// isBusyError checks if the error is a SQLite lock timeout
func isBusyError(err error) bool {
	var se *sqlitedrv.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// isUniqueConstraintError checks if the error is a UNIQUE or PRIMARY KEY violation
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
