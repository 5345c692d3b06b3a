//go:build darwin

package filesystem

import (
	"io/fs"

	"golang.org/x/sys/unix"
)

var systemDirs = map[string]struct{}{
	"/dev":            {},
	"/System":         {},
	"/private/var/vm": {},
}

// hasHiddenAttr checks the Finder hidden flag (chflags hidden)
func hasHiddenAttr(path string) bool {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return false
	}
	return st.Flags&unix.UF_HIDDEN != 0
}

func hasSystemAttr(string, fs.FileInfo) bool {
	return false
}

func isSystemDir(path string) bool {
	_, ok := systemDirs[path]
	return ok
}
