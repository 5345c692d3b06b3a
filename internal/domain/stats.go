package domain

// CacheStatistics is derived from the hash cache on demand
type CacheStatistics struct {
	TotalEntries    int64   `json:"total_entries"`
	ApproxSizeBytes int64   `json:"approx_size_bytes"`
	HitRate         float64 `json:"hit_rate"`
	WindowLookups   int     `json:"window_lookups"`
	WindowSize      int     `json:"window_size"`
	Hits            int64   `json:"hits"`
	Misses          int64   `json:"misses"`
}

// CompactResult reports what a compaction removed
type CompactResult struct {
	Checked      int64 `json:"checked"`
	RemovedStale int64 `json:"removed_stale"`
	RemovedAged  int64 `json:"removed_aged"`
	BytesBefore  int64 `json:"bytes_before"`
	BytesAfter   int64 `json:"bytes_after"`
}

// Removed returns the total number of entries dropped
func (r *CompactResult) Removed() int64 {
	return r.RemovedStale + r.RemovedAged
}
