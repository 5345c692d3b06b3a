package filesystem

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"testing"

	"go.uber.org/zap"

	"github.com/vertextoedge/dupecache/internal/domain"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func collect(t *testing.T, w *Walker, roots ...string) ([]string, *WalkSummary) {
	t.Helper()
	var paths []string
	summary, err := w.Walk(context.Background(), roots, func(id domain.FileIdentity) error {
		paths = append(paths, id.Path)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	return paths, summary
}

func rel(t *testing.T, root string, paths []string) []string {
	t.Helper()
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		r, err := filepath.Rel(root, p)
		if err != nil {
			t.Fatalf("rel: %v", err)
		}
		out = append(out, filepath.ToSlash(r))
	}
	return out
}

func TestWalker_LexicalOrderAndIdentity(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.txt"), 3)
	writeFile(t, filepath.Join(root, "a", "z.txt"), 5)
	writeFile(t, filepath.Join(root, "a", "y.txt"), 7)
	writeFile(t, filepath.Join(root, "c.txt"), 1)

	w := NewWalker(domain.FilterOptions{}, zap.NewNop())

	var ids []domain.FileIdentity
	summary, err := w.Walk(context.Background(), []string{root}, func(id domain.FileIdentity) error {
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}

	var paths []string
	for _, id := range ids {
		paths = append(paths, id.Path)
	}
	want := []string{"a/y.txt", "a/z.txt", "b.txt", "c.txt"}
	if got := rel(t, root, paths); !slices.Equal(got, want) {
		t.Errorf("paths = %v, want %v", got, want)
	}
	if ids[0].Size != 7 || ids[0].ModTime.IsZero() {
		t.Errorf("identity = %+v, want size 7 and a modification time", ids[0])
	}
	if summary.FilesYielded != 4 || summary.DirsVisited != 2 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestWalker_OverlappingRoots(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	writeFile(t, filepath.Join(root, "a"), 1)
	writeFile(t, filepath.Join(sub, "b"), 1)
	writeFile(t, filepath.Join(sub, "c"), 1)

	w := NewWalker(domain.FilterOptions{}, zap.NewNop())
	want := []string{"a", "sub/b", "sub/c"}

	tests := []struct {
		name  string
		roots []string
	}{
		{"parent first", []string{root, sub}},
		{"nested first", []string{sub, root}},
		{"same root twice", []string{root, root}},
		{"file inside root", []string{root, filepath.Join(sub, "b")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paths, summary := collect(t, w, tt.roots...)
			got := rel(t, root, paths)
			slices.Sort(got)
			if !slices.Equal(got, want) {
				t.Errorf("paths = %v, want each file once: %v", got, want)
			}
			if summary.FilesYielded != 3 {
				t.Errorf("FilesYielded = %d, want 3", summary.FilesYielded)
			}
		})
	}
}

func TestWalker_Filters(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.bin"), 100)
	writeFile(t, filepath.Join(root, "tiny.bin"), 1)
	writeFile(t, filepath.Join(root, "huge.bin"), 5000)
	writeFile(t, filepath.Join(root, "scratch.tmp"), 100)
	writeFile(t, filepath.Join(root, ".hidden"), 100)
	writeFile(t, filepath.Join(root, ".git", "objects", "pack"), 100)
	writeFile(t, filepath.Join(root, "node_modules", "lib.js"), 100)
	writeFile(t, filepath.Join(root, "src", "main.go"), 100)

	tests := []struct {
		name string
		opts domain.FilterOptions
		want []string
	}{
		{
			name: "defaults skip hidden",
			opts: domain.FilterOptions{},
			want: []string{"huge.bin", "keep.bin", "node_modules/lib.js", "scratch.tmp", "src/main.go", "tiny.bin"},
		},
		{
			name: "include hidden",
			opts: domain.FilterOptions{IncludeHidden: true, Exclude: []string{"node_modules", "src"}},
			want: []string{".git/objects/pack", ".hidden", "huge.bin", "keep.bin", "scratch.tmp", "tiny.bin"},
		},
		{
			name: "exclude by name and glob",
			opts: domain.FilterOptions{Exclude: []string{"node_modules", "*.tmp"}},
			want: []string{"huge.bin", "keep.bin", "src/main.go", "tiny.bin"},
		},
		{
			name: "exclude by full path",
			opts: domain.FilterOptions{Exclude: []string{filepath.ToSlash(filepath.Join(root, "src"))}},
			want: []string{"huge.bin", "keep.bin", "node_modules/lib.js", "scratch.tmp", "tiny.bin"},
		},
		{
			name: "size bounds",
			opts: domain.FilterOptions{MinSize: 10, MaxSize: 1000, Exclude: []string{"node_modules", "src", "*.tmp"}},
			want: []string{"keep.bin"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paths, _ := collect(t, NewWalker(tt.opts, zap.NewNop()), root)
			if got := rel(t, root, paths); !slices.Equal(got, tt.want) {
				t.Errorf("paths = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWalker_Symlinks(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "data", "a.bin"), 10)
	if err := os.Symlink(filepath.Join(root, "data", "a.bin"), filepath.Join(root, "link.bin")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	// Directory link back to the root creates a cycle
	if err := os.Symlink(root, filepath.Join(root, "data", "loop")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	t.Run("not followed", func(t *testing.T) {
		paths, _ := collect(t, NewWalker(domain.FilterOptions{}, zap.NewNop()), root)
		if got := rel(t, root, paths); !slices.Equal(got, []string{"data/a.bin"}) {
			t.Errorf("paths = %v", got)
		}
	})

	t.Run("followed with cycle", func(t *testing.T) {
		canonicalRoot, err := filepath.EvalSymlinks(root)
		if err != nil {
			t.Fatalf("EvalSymlinks: %v", err)
		}
		paths, summary := collect(t, NewWalker(domain.FilterOptions{FollowSymlinks: true}, zap.NewNop()), root)

		// The link and its target are the same file and are yielded once
		if got := rel(t, canonicalRoot, paths); !slices.Equal(got, []string{"data/a.bin"}) {
			t.Errorf("paths = %v", got)
		}
		if summary.DirsVisited != 2 {
			t.Errorf("dirs visited = %d, want 2", summary.DirsVisited)
		}
	})
}

func TestWalker_UnreadableDirectory(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "ok.bin"), 10)
	locked := filepath.Join(root, "locked")
	writeFile(t, filepath.Join(locked, "secret.bin"), 10)
	if err := os.Chmod(locked, 0); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { os.Chmod(locked, 0755) })

	paths, summary := collect(t, NewWalker(domain.FilterOptions{}, zap.NewNop()), root)
	if got := rel(t, root, paths); !slices.Equal(got, []string{"ok.bin"}) {
		t.Errorf("paths = %v", got)
	}
	if len(summary.Warnings) != 1 || summary.Warnings[0].Op != "readdir" {
		t.Fatalf("warnings = %v, want one readdir warning", summary.Warnings)
	}
	if !errors.Is(summary.Warnings[0], domain.ErrIOFailure) {
		t.Error("warning should be an I/O failure")
	}
}

func TestWalker_MissingRootIsWarning(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.bin"), 1)

	paths, summary := collect(t, NewWalker(domain.FilterOptions{}, zap.NewNop()),
		filepath.Join(root, "absent"), root)
	if len(paths) != 1 {
		t.Errorf("paths = %v, want the file from the existing root", paths)
	}
	if len(summary.Warnings) != 1 {
		t.Errorf("warnings = %v, want one", summary.Warnings)
	}
}

func TestWalker_StopAndCancel(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a", "b", "c", "d"} {
		writeFile(t, filepath.Join(root, name), 1)
	}
	w := NewWalker(domain.FilterOptions{}, zap.NewNop())

	t.Run("stop", func(t *testing.T) {
		n := 0
		_, err := w.Walk(context.Background(), []string{root}, func(domain.FileIdentity) error {
			n++
			if n == 2 {
				return ErrStopWalk
			}
			return nil
		})
		if err != nil {
			t.Errorf("ErrStopWalk should end the walk cleanly, got %v", err)
		}
		if n != 2 {
			t.Errorf("visited %d files, want 2", n)
		}
	})

	t.Run("cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		n := 0
		_, err := w.Walk(ctx, []string{root}, func(domain.FileIdentity) error {
			n++
			cancel()
			return nil
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Walk() error = %v, want context.Canceled", err)
		}
		if n != 1 {
			t.Errorf("visited %d files after cancel, want 1", n)
		}
	})
}
