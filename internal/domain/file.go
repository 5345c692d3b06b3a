package domain

import (
	"time"
)

// FileIdentity is the cache key for a file: path plus size and modification time.
// Two identities are equal only if all three match at nanosecond precision.
type FileIdentity struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// NewFileIdentity builds an identity, truncating the clock reading so that
// values read back from storage compare equal.
func NewFileIdentity(path string, size int64, modTime time.Time) FileIdentity {
	return FileIdentity{Path: path, Size: size, ModTime: time.Unix(0, modTime.UnixNano())}
}

// ModTimeNanos returns the modification time as Unix nanoseconds
func (f FileIdentity) ModTimeNanos() int64 {
	return f.ModTime.UnixNano()
}

// Matches reports whether the size and modification time agree with other.
// The path is not compared.
func (f FileIdentity) Matches(other FileIdentity) bool {
	return f.Size == other.Size && f.ModTimeNanos() == other.ModTimeNanos()
}

// HashEntry is a persisted digest for one file identity under one algorithm
type HashEntry struct {
	Identity   FileIdentity
	Algorithm  Algorithm
	Hash       string
	ComputedAt time.Time
}

// FilterOptions controls which files the walker yields
type FilterOptions struct {
	Exclude        []string
	MinSize        int64
	MaxSize        int64 // 0 means no upper bound
	IncludeHidden  bool
	IncludeSystem  bool
	FollowSymlinks bool
}

// SizeAllowed reports whether size falls within the configured bounds
func (o FilterOptions) SizeAllowed(size int64) bool {
	if size < o.MinSize {
		return false
	}
	if o.MaxSize > 0 && size > o.MaxSize {
		return false
	}
	return true
}
