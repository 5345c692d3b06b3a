package domain

import (
	"time"
)

// ScanStatus marks whether a scan ran to completion
type ScanStatus string

const (
	ScanStatusComplete  ScanStatus = "complete"
	ScanStatusCancelled ScanStatus = "cancelled"
)

// ScanRecord summarizes one scan run. Immutable once written.
type ScanRecord struct {
	ID               string     `json:"id"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       time.Time  `json:"finished_at"`
	Roots            []string   `json:"roots"`
	Algorithm        Algorithm  `json:"algorithm"`
	FilesProcessed   int64      `json:"files_processed"`
	GroupsFound      int64      `json:"groups_found"`
	DuplicateFiles   int64      `json:"duplicate_files"`
	ReclaimableBytes int64      `json:"reclaimable_bytes"`
	ErrorCount       int64      `json:"error_count"`
	WarningCount     int64      `json:"warning_count"`
	Errors           []string   `json:"errors,omitempty"`
	Status           ScanStatus `json:"status"`
}

// Incomplete reports whether the scan stopped before finishing
func (r *ScanRecord) Incomplete() bool {
	return r.Status != ScanStatusComplete
}

// Duration returns how long the scan ran
func (r *ScanRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// DeletionRecord is the audit entry for a deletion performed by an external actor.
// ScanID is a weak reference and may not resolve.
type DeletionRecord struct {
	ID             string    `json:"id"`
	ScanID         string    `json:"scan_id,omitempty"`
	Paths          []string  `json:"paths"`
	BytesRecovered int64     `json:"bytes_recovered"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// AggregateStats is folded over stored history records
type AggregateStats struct {
	TotalScans           int64      `json:"total_scans" yaml:"total_scans"`
	TotalGroupsFound     int64      `json:"total_groups_found" yaml:"total_groups_found"`
	TotalDuplicatesFound int64      `json:"total_duplicates_found" yaml:"total_duplicates_found"`
	TotalDeletions       int64      `json:"total_deletions" yaml:"total_deletions"`
	TotalFilesDeleted    int64      `json:"total_files_deleted" yaml:"total_files_deleted"`
	TotalBytesRecovered  int64      `json:"total_bytes_recovered" yaml:"total_bytes_recovered"`
	LastScanAt           *time.Time `json:"last_scan_at,omitempty" yaml:"last_scan_at,omitempty"`
}

// DeletionStats summarizes deletions recorded within a period
type DeletionStats struct {
	Since          time.Time `json:"since"`
	Deletions      int64     `json:"deletions"`
	FilesDeleted   int64     `json:"files_deleted"`
	BytesRecovered int64     `json:"bytes_recovered"`
}
