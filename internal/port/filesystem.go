package port

import (
	"io"

	"github.com/vertextoedge/dupecache/internal/domain"
)

// FileSystem defines the interface for filesystem operations
type FileSystem interface {
	// Identity stats path and returns its current identity.
	// A missing file yields an error matching fs.ErrNotExist.
	Identity(path string) (domain.FileIdentity, error)

	// Exists performs a live existence check on a regular file
	Exists(path string) bool

	// Open opens a file for reading
	Open(path string) (io.ReadCloser, error)

	// WriteFileAtomic writes to a temp file in the destination directory,
	// syncs it and renames it over path
	WriteFileAtomic(path string, write func(w io.Writer) error) error
}
