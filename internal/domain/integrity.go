package domain

import (
	"slices"
	"time"
)

// DiscrepancyKind classifies an integrity finding
type DiscrepancyKind string

const (
	DiscrepancyMissingFile    DiscrepancyKind = "missing_file"
	DiscrepancyStaleEntry     DiscrepancyKind = "stale_entry"
	DiscrepancyDanglingScan   DiscrepancyKind = "dangling_scan_ref"
	DiscrepancyInvalidScanRow DiscrepancyKind = "invalid_scan_record"
)

// Discrepancy is one integrity finding. Findings are data, not errors.
type Discrepancy struct {
	Kind      DiscrepancyKind `json:"kind"`
	Path      string          `json:"path,omitempty"`
	Algorithm Algorithm       `json:"algorithm,omitempty"`
	RecordID  string          `json:"record_id,omitempty"`
	ScanID    string          `json:"scan_id,omitempty"`
	Detail    string          `json:"detail,omitempty"`
}

// IntegrityReport lists discrepancies between the stores and the filesystem
type IntegrityReport struct {
	GeneratedAt         time.Time     `json:"generated_at"`
	CacheEntriesChecked int64         `json:"cache_entries_checked"`
	Discrepancies       []Discrepancy `json:"discrepancies"`
}

// Clean reports whether no discrepancy was found
func (r *IntegrityReport) Clean() bool {
	return len(r.Discrepancies) == 0
}

// Count returns the number of findings of the given kind
func (r *IntegrityReport) Count(kind DiscrepancyKind) int {
	n := 0
	for _, d := range r.Discrepancies {
		if d.Kind == kind {
			n++
		}
	}
	return n
}

// Equal compares findings, ignoring when the report was generated
func (r *IntegrityReport) Equal(other *IntegrityReport) bool {
	if other == nil {
		return false
	}
	return r.CacheEntriesChecked == other.CacheEntriesChecked &&
		slices.Equal(r.Discrepancies, other.Discrepancies)
}
