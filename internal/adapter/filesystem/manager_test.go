package filesystem

import (
	"errors"
	"io"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/vertextoedge/dupecache/internal/domain"
)

func TestManager_Identity(t *testing.T) {
	mem := afero.NewMemMapFs()
	mtime := time.Date(2025, 1, 2, 3, 4, 5, 6, time.UTC)
	afero.WriteFile(mem, "/data/a.bin", []byte("hello"), 0644)
	mem.Chtimes("/data/a.bin", mtime, mtime)
	m := NewManager(mem)

	id, err := m.Identity("/data/a.bin")
	if err != nil {
		t.Fatalf("Identity() error = %v", err)
	}
	if id.Path != "/data/a.bin" || id.Size != 5 || !id.ModTime.Equal(mtime) {
		t.Errorf("Identity() = %+v", id)
	}

	_, err = m.Identity("/data/missing")
	if !errors.Is(err, fs.ErrNotExist) || !errors.Is(err, domain.ErrIOFailure) {
		t.Errorf("missing file error = %v, want not-exist I/O failure", err)
	}

	if _, err := m.Identity("/data"); err == nil {
		t.Error("directories have no file identity")
	}

	if !m.Exists("/data/a.bin") || m.Exists("/data/missing") || m.Exists("/data") {
		t.Error("Exists() should only report regular files")
	}
}

func TestManager_WriteFileAtomic(t *testing.T) {
	mem := afero.NewMemMapFs()
	m := NewManager(mem)

	err := m.WriteFileAtomic("/out/report.json", func(w io.Writer) error {
		_, err := io.WriteString(w, `{"v":1}`)
		return err
	})
	if err != nil {
		t.Fatalf("WriteFileAtomic() error = %v", err)
	}

	got, err := afero.ReadFile(mem, "/out/report.json")
	if err != nil || string(got) != `{"v":1}` {
		t.Fatalf("content = %q, %v", got, err)
	}

	// A failed write leaves the previous file intact and no temp files behind
	failure := errors.New("encoder exploded")
	err = m.WriteFileAtomic("/out/report.json", func(w io.Writer) error {
		io.WriteString(w, "partial")
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("WriteFileAtomic() error = %v, want %v", err, failure)
	}

	got, _ = afero.ReadFile(mem, "/out/report.json")
	if string(got) != `{"v":1}` {
		t.Errorf("previous content replaced: %q", got)
	}

	entries, _ := afero.ReadDir(mem, "/out")
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestManager_Open(t *testing.T) {
	mem := afero.NewMemMapFs()
	afero.WriteFile(mem, "/a", []byte("abc"), 0644)
	m := NewManager(mem)

	rc, err := m.Open("/a")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "abc" {
		t.Errorf("read %q", b)
	}

	if _, err := m.Open("/nope"); !domain.IsFileError(err) {
		t.Errorf("Open() missing error = %v, want FileError", err)
	}
}
