//go:build !windows && !darwin

package filesystem

import (
	"io/fs"
)

var systemDirs = map[string]struct{}{
	"/proc": {},
	"/sys":  {},
	"/dev":  {},
	"/run":  {},
}

func hasHiddenAttr(string) bool {
	return false
}

func hasSystemAttr(string, fs.FileInfo) bool {
	return false
}

func isSystemDir(path string) bool {
	if _, ok := systemDirs[path]; ok {
		return true
	}
	return onPseudoFS(path)
}
