// Package worktree synchronizes a working directory with trees and the
// index, and scans it for status.
package worktree

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/odvcencio/vcscore/pkg/metrics"
	"github.com/odvcencio/vcscore/pkg/object"
)

// DefaultMetadataDir is the name of the repository metadata directory at
// the worktree root.
const DefaultMetadataDir = ".vcs"

// ErrInvalidPath is returned for paths that may not be written to the
// working tree.
var ErrInvalidPath = errors.New("worktree: invalid path")

// Worktree is a working directory backed by a billy filesystem.
type Worktree struct {
	fs          billy.Filesystem
	store       *object.Store
	metadataDir string
	concurrency int
	logger      *slog.Logger
	metrics     *metrics.Collectors
}

// Option configures a Worktree.
type Option func(*Worktree)

// WithMetadataDir sets the metadata directory name that scans skip and
// checkouts refuse to touch.
func WithMetadataDir(name string) Option {
	return func(w *Worktree) { w.metadataDir = name }
}

// WithConcurrency bounds the number of files hashed in parallel.
func WithConcurrency(n int) Option {
	return func(w *Worktree) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Worktree) {
		if l != nil {
			w.logger = l
		}
	}
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(w *Worktree) { w.metrics = m }
}

// New returns a Worktree over fsys. Blob content is read from and written
// to store.
func New(fsys billy.Filesystem, store *object.Store, opts ...Option) *Worktree {
	w := &Worktree{
		fs:          fsys,
		store:       store,
		metadataDir: DefaultMetadataDir,
		concurrency: 8,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Filesystem returns the underlying filesystem.
func (w *Worktree) Filesystem() billy.Filesystem { return w.fs }

// ValidatePath rejects paths that must never reach the working tree:
// absolute paths, empty or "." or ".." segments, and anything inside the
// metadata directory or a .git directory.
func (w *Worktree) ValidatePath(p string) error {
	if p == "" || strings.HasPrefix(p, "/") || strings.ContainsAny(p, "\\\x00") || filepath.IsAbs(p) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	for _, seg := range strings.Split(p, "/") {
		switch {
		case seg == "" || seg == "." || seg == "..":
			return fmt.Errorf("%w: %q", ErrInvalidPath, p)
		case strings.EqualFold(seg, w.metadataDir) || strings.EqualFold(seg, ".git"):
			return fmt.Errorf("%w: %q is inside a metadata directory", ErrInvalidPath, p)
		}
	}
	return nil
}

func fsPath(p string) string { return filepath.FromSlash(p) }

// ReadFile returns a working file's content as it would be stored: file
// bytes, or the link target for a symlink.
func (w *Worktree) ReadFile(p string) ([]byte, object.FileMode, fs.FileInfo, error) {
	info, err := w.fs.Lstat(fsPath(p))
	if err != nil {
		return nil, 0, nil, err
	}
	mode := modeFromFileInfo(info)
	if mode == object.ModeSymlink {
		target, err := w.fs.Readlink(fsPath(p))
		if err != nil {
			return nil, 0, nil, err
		}
		return []byte(filepath.ToSlash(target)), mode, info, nil
	}
	data, err := util.ReadFile(w.fs, fsPath(p))
	if err != nil {
		return nil, 0, nil, err
	}
	return data, mode, info, nil
}

// StageFile writes a working file's content to the object store and
// returns the resulting file description.
func (w *Worktree) StageFile(p string) (File, error) {
	if err := w.ValidatePath(p); err != nil {
		return File{}, err
	}
	data, mode, info, err := w.ReadFile(p)
	if err != nil {
		return File{}, fmt.Errorf("stage %q: %w", p, err)
	}
	id, err := w.store.WriteBlob(data)
	if err != nil {
		return File{}, fmt.Errorf("stage %q: %w", p, err)
	}
	return File{Path: p, Mode: mode, ID: id, Size: info.Size(), ModTime: info.ModTime()}, nil
}

func modeFromFileInfo(info fs.FileInfo) object.FileMode {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return object.ModeSymlink
	case info.Mode()&0o111 != 0:
		return object.ModeExecutable
	default:
		return object.ModeFile
	}
}

func filePermFromMode(mode object.FileMode) os.FileMode {
	if mode == object.ModeExecutable {
		return 0o755
	}
	return 0o644
}

// writeFile replaces p with data. Missing parent directories are created
// and a file blocking a parent directory is removed.
func (w *Worktree) writeFile(p string, mode object.FileMode, data []byte) error {
	if dir := path.Dir(p); dir != "." {
		if err := w.clearFileAncestors(dir); err != nil {
			return err
		}
		if err := w.fs.MkdirAll(fsPath(dir), 0o755); err != nil {
			return fmt.Errorf("mkdir %q: %w", dir, err)
		}
	}
	if info, err := w.fs.Lstat(fsPath(p)); err == nil && info.IsDir() {
		if err := util.RemoveAll(w.fs, fsPath(p)); err != nil {
			return fmt.Errorf("remove directory %q: %w", p, err)
		}
	} else if err := w.fs.Remove(fsPath(p)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %q: %w", p, err)
	}

	switch mode {
	case object.ModeSymlink:
		if err := w.fs.Symlink(filepath.FromSlash(string(data)), fsPath(p)); err != nil {
			return fmt.Errorf("symlink %q: %w", p, err)
		}
		return nil
	case object.ModeSubmodule:
		// Gitlinks are checked out as empty directories.
		return w.fs.MkdirAll(fsPath(p), 0o755)
	}

	f, err := w.fs.OpenFile(fsPath(p), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermFromMode(mode))
	if err != nil {
		return fmt.Errorf("create %q: %w", p, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %q: %w", p, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %q: %w", p, err)
	}
	if ch, ok := w.fs.(billy.Change); ok {
		// Some filesystems keep the mode of the file that was replaced.
		if err := ch.Chmod(fsPath(p), filePermFromMode(mode)); err != nil && !errors.Is(err, billy.ErrNotSupported) {
			return fmt.Errorf("chmod %q: %w", p, err)
		}
	}
	return nil
}

// clearFileAncestors removes regular files or symlinks that occupy a
// directory position on the way to dir.
func (w *Worktree) clearFileAncestors(dir string) error {
	parts := strings.Split(dir, "/")
	for i := range parts {
		prefix := strings.Join(parts[:i+1], "/")
		info, err := w.fs.Lstat(fsPath(prefix))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("stat %q: %w", prefix, err)
		}
		if !info.IsDir() {
			if err := w.fs.Remove(fsPath(prefix)); err != nil {
				return fmt.Errorf("remove %q: %w", prefix, err)
			}
			return nil
		}
	}
	return nil
}

// removeFile deletes p and prunes directories it leaves empty, stopping at
// the worktree root.
func (w *Worktree) removeFile(p string) error {
	if err := w.fs.Remove(fsPath(p)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %q: %w", p, err)
	}
	for dir := path.Dir(p); dir != "."; dir = path.Dir(dir) {
		entries, err := w.fs.ReadDir(fsPath(dir))
		if err != nil || len(entries) > 0 {
			return nil
		}
		if err := w.fs.Remove(fsPath(dir)); err != nil {
			return nil
		}
	}
	return nil
}
