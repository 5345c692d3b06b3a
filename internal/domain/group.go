package domain

// DuplicateGroup is a set of files sharing one digest.
// Paths are sorted ascending; groups are rebuilt every scan.
type DuplicateGroup struct {
	Hash      string   `json:"hash" yaml:"hash"`
	Size      int64    `json:"size" yaml:"size"`
	Paths     []string `json:"paths" yaml:"paths"`
	TotalSize int64    `json:"total_size" yaml:"total_size"`
}

// Count returns the number of members
func (g DuplicateGroup) Count() int {
	return len(g.Paths)
}

// ReclaimableBytes is the space freed by keeping a single copy
func (g DuplicateGroup) ReclaimableBytes() int64 {
	if len(g.Paths) < 2 {
		return 0
	}
	return int64(len(g.Paths)-1) * g.Size
}

// SummarizeGroups totals member and reclaimable counts over groups
func SummarizeGroups(groups []DuplicateGroup) (files int64, reclaimable int64) {
	for _, g := range groups {
		files += int64(len(g.Paths))
		reclaimable += g.ReclaimableBytes()
	}
	return files, reclaimable
}
