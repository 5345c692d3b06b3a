package filesystem

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/vertextoedge/dupecache/internal/domain"
	"github.com/vertextoedge/dupecache/internal/port"
)

// Manager handles file metadata, reads and atomic writes
type Manager struct {
	fs         afero.Fs
	bufferSize int
}

// Ensure Manager implements port.FileSystem
var _ port.FileSystem = (*Manager)(nil)

// NewManager creates a manager over the given filesystem
func NewManager(fs afero.Fs) *Manager {
	return &Manager{fs: fs, bufferSize: 64 * 1024}
}

// NewOSManager creates a manager over the host filesystem
func NewOSManager() *Manager {
	return NewManager(afero.NewOsFs())
}

// Identity stats path and returns its current identity
func (m *Manager) Identity(path string) (domain.FileIdentity, error) {
	info, err := m.fs.Stat(path)
	if err != nil {
		return domain.FileIdentity{}, domain.NewFileError(path, "stat", err)
	}
	if !info.Mode().IsRegular() {
		return domain.FileIdentity{}, domain.NewFileError(path, "stat", fmt.Errorf("not a regular file"))
	}
	return domain.NewFileIdentity(path, info.Size(), info.ModTime()), nil
}

// Exists checks if a regular file exists at path
func (m *Manager) Exists(path string) bool {
	info, err := m.fs.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Open opens a file for reading
func (m *Manager) Open(path string) (io.ReadCloser, error) {
	f, err := m.fs.Open(path)
	if err != nil {
		return nil, domain.NewFileError(path, "open", err)
	}
	return f, nil
}

// WriteFileAtomic writes through a temp file in the destination directory
// and renames it into place, so readers never observe a partial file
func (m *Manager) WriteFileAtomic(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := m.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create parent dir: %w", err)
	}

	tmp, err := afero.TempFile(m.fs, dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	fail := func(err error) error {
		tmp.Close()
		m.fs.Remove(tmpPath)
		return err
	}

	bw := bufio.NewWriterSize(tmp, m.bufferSize)
	if err := write(bw); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(fmt.Errorf("failed to write file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("failed to sync file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		m.fs.Remove(tmpPath)
		return fmt.Errorf("failed to close file: %w", err)
	}

	if err := m.fs.Rename(tmpPath, path); err != nil {
		m.fs.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
