package worktree

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/vcscore/pkg/index"
	"github.com/odvcencio/vcscore/pkg/object"
	"github.com/odvcencio/vcscore/pkg/tree"
)

// File is a working-tree file with its content ID.
type File struct {
	Path    string
	Mode    object.FileMode
	ID      object.ID
	Size    int64
	ModTime time.Time
}

// TreeFile converts f to a tree.File.
func (f File) TreeFile() tree.File { return tree.File{Path: f.Path, Mode: f.Mode, ID: f.ID} }

// IndexEntry converts f to a normal-stage index entry.
func (f File) IndexEntry() index.Entry {
	return index.Entry{Path: f.Path, ID: f.ID, Mode: f.Mode, Size: f.Size, ModTime: f.ModTime.UnixNano()}
}

// Scan lists the working tree and hashes every file without writing any
// objects. Untracked paths matching ig are skipped; paths present in idx
// at any stage are always reported. Files whose size and modification time
// match their normal-stage index entry reuse the recorded ID.
func (w *Worktree) Scan(ctx context.Context, ig *Ignore, idx *index.Index) (map[string]File, error) {
	tracked := make(map[string]index.Entry)
	trackedDirs := make(map[string]bool)
	if idx != nil {
		for _, e := range idx.Entries() {
			if prev, ok := tracked[e.Path]; !ok || prev.Stage != index.Normal {
				tracked[e.Path] = e
			}
			for dir := path.Dir(e.Path); dir != "."; dir = path.Dir(dir) {
				trackedDirs[dir] = true
			}
		}
	}

	var pending []File
	var walk func(dir string) error
	walk = func(dir string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		infos, err := w.fs.ReadDir(fsPath(dir))
		if err != nil {
			return fmt.Errorf("scan %q: %w", dir, err)
		}
		for _, info := range infos {
			rel := info.Name()
			if dir != "" {
				rel = dir + "/" + rel
			}
			if dir == "" && (strings.EqualFold(rel, w.metadataDir) || strings.EqualFold(rel, ".git")) {
				continue
			}
			if info.IsDir() {
				if ig.Match(rel, true) && !trackedDirs[rel] {
					continue
				}
				if e, ok := tracked[rel]; ok && e.Mode == object.ModeSubmodule {
					continue
				}
				if err := walk(rel); err != nil {
					return err
				}
				continue
			}
			if _, ok := tracked[rel]; !ok && ig.Match(rel, false) {
				continue
			}
			pending = append(pending, File{
				Path:    rel,
				Mode:    modeFromFileInfo(info),
				Size:    info.Size(),
				ModTime: info.ModTime(),
			})
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for i := range pending {
		f := &pending[i]
		if e, ok := tracked[f.Path]; ok && e.Stage == index.Normal && e.Mode == f.Mode &&
			e.Size == f.Size && e.ModTime != 0 && e.ModTime == f.ModTime.UnixNano() {
			f.ID = e.ID
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, _, _, err := w.ReadFile(f.Path)
			if err != nil {
				return fmt.Errorf("scan %q: %w", f.Path, err)
			}
			f.ID = w.store.Hash(object.TypeBlob, data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]File, len(pending))
	for _, f := range pending {
		out[f.Path] = f
	}
	return out, nil
}

// FileStatus is the state of a path in one comparison.
type FileStatus uint8

const (
	StatusClean FileStatus = iota
	StatusNew
	StatusModified
	StatusRenamed
	StatusConflict
	StatusDeleted
	StatusUntracked
	StatusTypeChange
)

func (s FileStatus) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusModified:
		return "modified"
	case StatusRenamed:
		return "renamed"
	case StatusConflict:
		return "conflict"
	case StatusDeleted:
		return "deleted"
	case StatusUntracked:
		return "untracked"
	case StatusTypeChange:
		return "typechange"
	default:
		return "clean"
	}
}

// StatusEntry records the status of a single path.
type StatusEntry struct {
	Path        string
	RenamedFrom string     // set when IndexStatus is StatusRenamed
	IndexStatus FileStatus // index against HEAD
	WorkStatus  FileStatus // working tree against index
}

// Status compares HEAD's files, the index and the working tree. Paths that
// are clean in both comparisons are omitted. Entries are sorted by path.
func (w *Worktree) Status(ctx context.Context, head map[string]tree.File, idx *index.Index, ig *Ignore) ([]StatusEntry, error) {
	work, err := w.Scan(ctx, ig, idx)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	result := make(map[string]*StatusEntry)
	entry := func(p string) *StatusEntry {
		se, ok := result[p]
		if !ok {
			se = &StatusEntry{Path: p}
			result[p] = se
		}
		return se
	}

	conflicted := make(map[string]bool)
	for _, p := range idx.ConflictPaths() {
		conflicted[p] = true
		se := entry(p)
		se.IndexStatus = StatusConflict
		se.WorkStatus = StatusConflict
	}

	staged := idx.Files()
	for _, d := range tree.DiffFiles(head, staged, tree.Options{DetectRenames: true}) {
		p := d.Path()
		if conflicted[p] {
			continue
		}
		se := entry(p)
		switch d.Status {
		case tree.Added:
			se.IndexStatus = StatusNew
		case tree.Deleted:
			se.IndexStatus = StatusDeleted
		case tree.Modified:
			se.IndexStatus = StatusModified
		case tree.TypeChange:
			se.IndexStatus = StatusTypeChange
		case tree.Renamed:
			se.IndexStatus = StatusRenamed
			se.RenamedFrom = d.Old.Path
		}
	}

	for p, f := range work {
		if conflicted[p] {
			continue
		}
		s, ok := staged[p]
		switch {
		case !ok:
			entry(p).WorkStatus = StatusUntracked
		case s.Mode != f.Mode && (s.Mode == object.ModeSymlink || f.Mode == object.ModeSymlink):
			entry(p).WorkStatus = StatusTypeChange
		case s.ID != f.ID || s.Mode != f.Mode:
			entry(p).WorkStatus = StatusModified
		}
	}
	for p, s := range staged {
		if _, ok := work[p]; !ok && s.Mode != object.ModeSubmodule {
			entry(p).WorkStatus = StatusDeleted
		}
	}

	out := make([]StatusEntry, 0, len(result))
	for _, se := range result {
		out = append(out, *se)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
