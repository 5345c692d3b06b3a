package filesystem

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/vertextoedge/dupecache/internal/domain"
)

// ErrStopWalk can be returned by a visit function to end the walk early
var ErrStopWalk = errors.New("stop walk")

// WalkSummary reports what a walk saw
type WalkSummary struct {
	FilesYielded int64
	DirsVisited  int64
	Skipped      int64
	Warnings     []*domain.FileError
}

// Walker lazily enumerates candidate files under a set of roots
type Walker struct {
	opts   domain.FilterOptions
	logger *zap.Logger
}

// NewWalker creates a walker with the given filters
func NewWalker(opts domain.FilterOptions, logger *zap.Logger) *Walker {
	return &Walker{opts: opts, logger: logger}
}

// traversal holds the state of one Walk call across all of its roots
type traversal struct {
	w       *Walker
	summary *WalkSummary
	fn      func(domain.FileIdentity) error
	visited map[string]struct{}
	yielded map[string]struct{}
}

// Walk visits every candidate file under roots, in lexical order per directory.
// A file reachable from more than one root is visited once.
// Unreadable directories become warnings and the walk continues.
// Cancellation is checked between entries.
func (w *Walker) Walk(ctx context.Context, roots []string, fn func(domain.FileIdentity) error) (*WalkSummary, error) {
	summary := &WalkSummary{}
	t := &traversal{
		w:       w,
		summary: summary,
		fn:      fn,
		visited: make(map[string]struct{}),
		yielded: make(map[string]struct{}),
	}

	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		abs, err := filepath.Abs(root)
		if err != nil {
			w.warn(summary, root, "resolve", err)
			continue
		}

		if err := t.walkRoot(ctx, abs); err != nil {
			if errors.Is(err, ErrStopWalk) {
				return summary, nil
			}
			return summary, err
		}
	}

	return summary, nil
}

func (w *Walker) warn(summary *WalkSummary, path, op string, err error) {
	fe := domain.NewFileError(path, op, err)
	summary.Warnings = append(summary.Warnings, fe)
	w.logger.Warn("skipping path", zap.String("path", path), zap.String("op", op), zap.Error(err))
}

func (t *traversal) walkRoot(ctx context.Context, root string) error {
	// Roots are resolved even when links are not followed
	info, err := os.Stat(root)
	if err != nil {
		t.w.warn(t.summary, root, "stat", err)
		return nil
	}

	if info.IsDir() {
		return t.walkDir(ctx, root)
	}
	if info.Mode().IsRegular() {
		return t.yield(root, root, info)
	}

	t.summary.Skipped++
	return nil
}

func (t *traversal) walkDir(ctx context.Context, dir string) error {
	canonical, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.w.warn(t.summary, dir, "resolve", err)
		return nil
	}
	if _, seen := t.visited[canonical]; seen {
		t.w.logger.Debug("directory already visited", zap.String("path", dir), zap.String("canonical", canonical))
		return nil
	}
	t.visited[canonical] = struct{}{}
	t.summary.DirsVisited++

	// ReadDir returns the entries it managed to read alongside the error
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.w.warn(t.summary, dir, "readdir", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.visit(ctx, dir, canonical, entry); err != nil {
			return err
		}
	}
	return nil
}

func (t *traversal) visit(ctx context.Context, dir, canonicalDir string, entry fs.DirEntry) error {
	opts := t.w.opts
	name := entry.Name()
	path := filepath.Join(dir, name)

	if !opts.IncludeHidden && isHidden(path, name) {
		t.summary.Skipped++
		return nil
	}
	if t.w.excluded(path, name) {
		t.summary.Skipped++
		return nil
	}

	mode := entry.Type()
	switch {
	case mode&fs.ModeSymlink != 0:
		if !opts.FollowSymlinks {
			t.summary.Skipped++
			return nil
		}
		target, err := os.Stat(path)
		if err != nil {
			t.w.warn(t.summary, path, "stat", err)
			return nil
		}
		if target.IsDir() {
			return t.walkDir(ctx, path)
		}
		if !target.Mode().IsRegular() {
			t.summary.Skipped++
			return nil
		}
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			t.w.warn(t.summary, path, "resolve", err)
			return nil
		}
		return t.yield(resolved, resolved, target)

	case entry.IsDir():
		if !opts.IncludeSystem && isSystemDir(path) {
			t.summary.Skipped++
			return nil
		}
		return t.walkDir(ctx, path)

	case !mode.IsRegular():
		// Devices, sockets and pipes are never candidates
		t.summary.Skipped++
		return nil
	}

	info, err := entry.Info()
	if err != nil {
		t.w.warn(t.summary, path, "stat", err)
		return nil
	}
	if !opts.IncludeSystem && hasSystemAttr(path, info) {
		t.summary.Skipped++
		return nil
	}

	if opts.FollowSymlinks {
		canonical := filepath.Join(canonicalDir, name)
		return t.yield(canonical, canonical, info)
	}
	return t.yield(path, path, info)
}

// yield hands a file to the visit function once per canonical path
func (t *traversal) yield(path, key string, info fs.FileInfo) error {
	if !t.w.opts.SizeAllowed(info.Size()) {
		t.summary.Skipped++
		return nil
	}
	if _, seen := t.yielded[key]; seen {
		return nil
	}
	t.yielded[key] = struct{}{}
	t.summary.FilesYielded++

	return t.fn(domain.NewFileIdentity(path, info.Size(), info.ModTime()))
}

// excluded matches every pattern against the base name and the full path
func (w *Walker) excluded(path, name string) bool {
	slashed := filepath.ToSlash(path)
	for _, pattern := range w.opts.Exclude {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
		if ok, _ := filepath.Match(filepath.ToSlash(pattern), slashed); ok {
			return true
		}
	}
	return false
}

func isHidden(path, name string) bool {
	if strings.HasPrefix(name, ".") && name != "." && name != ".." {
		return true
	}
	return hasHiddenAttr(path)
}
