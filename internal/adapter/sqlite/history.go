package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vertextoedge/dupecache/internal/domain"
	"github.com/vertextoedge/dupecache/internal/port"
)

// HistoryStore implements port.HistoryStore using SQLite.
// Rows are only ever inserted; triggers reject updates.
type HistoryStore struct {
	db      *sql.DB
	opts    Options
	writeMu sync.Mutex
}

// Ensure HistoryStore implements port.HistoryStore
var _ port.HistoryStore = (*HistoryStore)(nil)

var historyMigrations = []string{
	`CREATE TABLE IF NOT EXISTS scans (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		roots TEXT NOT NULL DEFAULT '[]',
		algorithm TEXT NOT NULL,
		files_processed INTEGER NOT NULL DEFAULT 0,
		groups_found INTEGER NOT NULL DEFAULT 0,
		duplicate_files INTEGER NOT NULL DEFAULT 0,
		reclaimable_bytes INTEGER NOT NULL DEFAULT 0,
		error_count INTEGER NOT NULL DEFAULT 0,
		warning_count INTEGER NOT NULL DEFAULT 0,
		errors TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS deletions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE NOT NULL,
		scan_id TEXT NOT NULL,
		paths TEXT NOT NULL DEFAULT '[]',
		files_deleted INTEGER NOT NULL DEFAULT 0,
		bytes_recovered INTEGER NOT NULL DEFAULT 0,
		recorded_at INTEGER NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_deletions_scan_id ON deletions(scan_id)`,
	`CREATE INDEX IF NOT EXISTS idx_deletions_recorded_at ON deletions(recorded_at)`,

	`CREATE TRIGGER IF NOT EXISTS scans_append_only BEFORE UPDATE ON scans
	BEGIN
		SELECT RAISE(ABORT, 'scan records are append-only');
	END`,
	`CREATE TRIGGER IF NOT EXISTS deletions_append_only BEFORE UPDATE ON deletions
	BEGIN
		SELECT RAISE(ABORT, 'deletion records are append-only');
	END`,
}

// OpenHistory opens (creating if needed) the history database.
// Commits are fully synced so a record is durable once RecordX returns.
func OpenHistory(dbPath string, opts Options) (*HistoryStore, error) {
	db, err := open(dbPath, opts, "FULL", historyMigrations)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrHistoryUnavailable, err)
	}
	return &HistoryStore{db: db, opts: opts}, nil
}

// Close closes the database connection
func (s *HistoryStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks database connectivity
func (s *HistoryStore) Ping(ctx context.Context) error {
	return s.wrap("ping", s.db.PingContext(ctx))
}

func (s *HistoryStore) wrap(op string, err error) error {
	return wrapErr(domain.ErrHistoryUnavailable, op, err, s.opts.BusyTimeout)
}

// RecordScan appends a scan record
func (s *HistoryStore) RecordScan(ctx context.Context, rec *domain.ScanRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: scan record requires an id", domain.ErrInvalidInput)
	}
	switch rec.Status {
	case domain.ScanStatusComplete, domain.ScanStatusCancelled:
	default:
		return fmt.Errorf("%w: unknown scan status %q", domain.ErrInvalidInput, rec.Status)
	}

	roots, err := encodeList(rec.Roots)
	if err != nil {
		return err
	}
	errs, err := encodeList(rec.Errors)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scans (id, started_at, finished_at, roots, algorithm, files_processed,
			groups_found, duplicate_files, reclaimable_bytes, error_count, warning_count, errors, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, nanos(rec.StartedAt), nanos(rec.FinishedAt), roots, string(rec.Algorithm),
		rec.FilesProcessed, rec.GroupsFound, rec.DuplicateFiles, rec.ReclaimableBytes,
		rec.ErrorCount, rec.WarningCount, errs, string(rec.Status),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: scan %s", domain.ErrAlreadyExists, rec.ID)
	}
	return s.wrap("record scan", err)
}

// RecordDeletion appends a deletion record
func (s *HistoryStore) RecordDeletion(ctx context.Context, rec *domain.DeletionRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: deletion record requires an id", domain.ErrInvalidInput)
	}
	if rec.BytesRecovered < 0 {
		return fmt.Errorf("%w: negative bytes recovered", domain.ErrInvalidInput)
	}

	paths, err := encodeList(rec.Paths)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deletions (id, scan_id, paths, files_deleted, bytes_recovered, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ScanID, paths, len(rec.Paths), rec.BytesRecovered, nanos(rec.RecordedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: deletion %s", domain.ErrAlreadyExists, rec.ID)
	}
	return s.wrap("record deletion", err)
}

const scanColumns = `id, started_at, finished_at, roots, algorithm, files_processed,
	groups_found, duplicate_files, reclaimable_bytes, error_count, warning_count, errors, status, seq`

const deletionColumns = `id, scan_id, paths, bytes_recovered, recorded_at, seq`

// RecentScans returns the last n scan records in insertion order
func (s *HistoryStore) RecentScans(ctx context.Context, n int) ([]*domain.ScanRecord, error) {
	query := `SELECT ` + scanColumns + ` FROM (
		SELECT ` + scanColumns + ` FROM scans ORDER BY seq DESC LIMIT ?
	) ORDER BY seq ASC`

	var records []*domain.ScanRecord
	err := s.queryScans(ctx, query, func(r *domain.ScanRecord) error {
		records = append(records, r)
		return nil
	}, limit(n))
	return records, err
}

// GetScan returns the scan record with the given id
func (s *HistoryStore) GetScan(ctx context.Context, id string) (*domain.ScanRecord, error) {
	var found *domain.ScanRecord
	err := s.queryScans(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = ?`, func(r *domain.ScanRecord) error {
		found = r
		return nil
	}, id)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: scan %s", domain.ErrNotFound, id)
	}
	return found, nil
}

// EachScan visits every scan record in insertion order
func (s *HistoryStore) EachScan(ctx context.Context, fn func(*domain.ScanRecord) error) error {
	return s.queryScans(ctx, `SELECT `+scanColumns+` FROM scans ORDER BY seq ASC`, fn)
}

// RecentDeletions returns the last n deletion records in insertion order
func (s *HistoryStore) RecentDeletions(ctx context.Context, n int) ([]*domain.DeletionRecord, error) {
	query := `SELECT ` + deletionColumns + ` FROM (
		SELECT ` + deletionColumns + ` FROM deletions ORDER BY seq DESC LIMIT ?
	) ORDER BY seq ASC`

	var records []*domain.DeletionRecord
	err := s.queryDeletions(ctx, query, func(r *domain.DeletionRecord) error {
		records = append(records, r)
		return nil
	}, limit(n))
	return records, err
}

// DeletionsForScan returns deletions referencing scanID in insertion order
func (s *HistoryStore) DeletionsForScan(ctx context.Context, scanID string) ([]*domain.DeletionRecord, error) {
	var records []*domain.DeletionRecord
	err := s.queryDeletions(ctx,
		`SELECT `+deletionColumns+` FROM deletions WHERE scan_id = ? ORDER BY seq ASC`,
		func(r *domain.DeletionRecord) error {
			records = append(records, r)
			return nil
		}, scanID)
	return records, err
}

// EachDeletion visits every deletion record in insertion order
func (s *HistoryStore) EachDeletion(ctx context.Context, fn func(*domain.DeletionRecord) error) error {
	return s.queryDeletions(ctx, `SELECT `+deletionColumns+` FROM deletions ORDER BY seq ASC`, fn)
}

// AggregateStats folds totals over every stored record
func (s *HistoryStore) AggregateStats(ctx context.Context) (*domain.AggregateStats, error) {
	stats := &domain.AggregateStats{}

	var lastScan sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(groups_found), 0), COALESCE(SUM(duplicate_files), 0), MAX(finished_at)
		FROM scans`,
	).Scan(&stats.TotalScans, &stats.TotalGroupsFound, &stats.TotalDuplicatesFound, &lastScan)
	if err != nil {
		return nil, s.wrap("aggregate scans", err)
	}
	if lastScan.Valid && lastScan.Int64 != 0 {
		t := fromNanos(lastScan.Int64)
		stats.LastScanAt = &t
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(files_deleted), 0), COALESCE(SUM(bytes_recovered), 0)
		FROM deletions`,
	).Scan(&stats.TotalDeletions, &stats.TotalFilesDeleted, &stats.TotalBytesRecovered)
	if err != nil {
		return nil, s.wrap("aggregate deletions", err)
	}

	return stats, nil
}

// DeletionStatsSince summarizes deletions recorded at or after since
func (s *HistoryStore) DeletionStatsSince(ctx context.Context, since time.Time) (*domain.DeletionStats, error) {
	stats := &domain.DeletionStats{Since: since}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(files_deleted), 0), COALESCE(SUM(bytes_recovered), 0)
		FROM deletions WHERE recorded_at >= ?`, nanos(since),
	).Scan(&stats.Deletions, &stats.FilesDeleted, &stats.BytesRecovered)
	if err != nil {
		return nil, s.wrap("deletion stats", err)
	}
	return stats, nil
}

// Compact reclaims free pages
func (s *HistoryStore) Compact(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.wrap("vacuum", vacuum(ctx, s.db))
}

// Clear drops every scan and deletion record
func (s *HistoryStore) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("clear", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{`DELETE FROM deletions`, `DELETE FROM scans`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return s.wrap("clear", err)
		}
	}
	return s.wrap("clear", tx.Commit())
}

func (s *HistoryStore) queryScans(ctx context.Context, query string, fn func(*domain.ScanRecord) error, args ...any) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return s.wrap("query scans", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r                     domain.ScanRecord
			startedAt, finishedAt int64
			roots, errs           string
			algo, status          string
			seq                   int64
		)
		if err := rows.Scan(&r.ID, &startedAt, &finishedAt, &roots, &algo, &r.FilesProcessed,
			&r.GroupsFound, &r.DuplicateFiles, &r.ReclaimableBytes, &r.ErrorCount, &r.WarningCount,
			&errs, &status, &seq); err != nil {
			return s.wrap("scan row", err)
		}
		r.StartedAt = fromNanos(startedAt)
		r.FinishedAt = fromNanos(finishedAt)
		r.Algorithm = domain.Algorithm(algo)
		r.Status = domain.ScanStatus(status)
		if r.Roots, err = decodeList(roots); err != nil {
			return s.wrap("decode roots", err)
		}
		if r.Errors, err = decodeList(errs); err != nil {
			return s.wrap("decode errors", err)
		}

		if err := fn(&r); err != nil {
			return err
		}
	}
	return s.wrap("query scans", rows.Err())
}

func (s *HistoryStore) queryDeletions(ctx context.Context, query string, fn func(*domain.DeletionRecord) error, args ...any) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return s.wrap("query deletions", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r          domain.DeletionRecord
			paths      string
			recordedAt int64
			seq        int64
		)
		if err := rows.Scan(&r.ID, &r.ScanID, &paths, &r.BytesRecovered, &recordedAt, &seq); err != nil {
			return s.wrap("scan row", err)
		}
		r.RecordedAt = fromNanos(recordedAt)
		if r.Paths, err = decodeList(paths); err != nil {
			return s.wrap("decode paths", err)
		}

		if err := fn(&r); err != nil {
			return err
		}
	}
	return s.wrap("query deletions", rows.Err())
}

// limit converts n into a LIMIT argument; SQLite treats -1 as unbounded
func limit(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}

func encodeList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return string(b), nil
}

func decodeList(raw string) ([]string, error) {
	var items []string
	if raw == "" {
		return items, nil
	}
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, errors.New("malformed list column: " + err.Error())
	}
	return items, nil
}
