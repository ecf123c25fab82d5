// Package index implements the staging area: an ordered, path-keyed
// snapshot of the next commit's tree that can also hold the three conflict
// stages left behind by a merge.
package index

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/odvcencio/vcscore/pkg/object"
	"github.com/odvcencio/vcscore/pkg/tree"
)

// ErrConflictPresent is returned when an operation requires a path, or the
// whole index, to be free of conflict-stage entries.
var ErrConflictPresent = errors.New("index: conflict present")

// ErrNotFound is returned when a path has no entry at the requested stage.
var ErrNotFound = errors.New("index: entry not found")

// Stage identifies which side of a merge an entry represents.
type Stage uint8

const (
	Normal Stage = iota
	Ancestor
	Ours
	Theirs
)

func (s Stage) String() string {
	switch s {
	case Normal:
		return "normal"
	case Ancestor:
		return "ancestor"
	case Ours:
		return "ours"
	case Theirs:
		return "theirs"
	default:
		return fmt.Sprintf("stage(%d)", uint8(s))
	}
}

// Entry is one staged file.
type Entry struct {
	Path    string          `json:"path"`
	ID      object.ID       `json:"id"`
	Mode    object.FileMode `json:"mode"`
	Size    int64           `json:"size"`
	ModTime int64           `json:"mod_time"` // unix nanoseconds of the working file when staged
	Stage   Stage           `json:"stage,omitempty"`
}

// File returns the entry as a tree file.
func (e Entry) File() tree.File {
	return tree.File{Path: e.Path, Mode: e.Mode, ID: e.ID}
}

// Conflict groups the conflict-stage entries of one path. At least one of
// the three sides is set; a nil side means the path did not exist there.
type Conflict struct {
	Path     string
	Ancestor *Entry
	Ours     *Entry
	Theirs   *Entry
}

// Index is the in-memory staging area. Entries are kept sorted by path,
// then stage. An Index is not safe for concurrent use.
type Index struct {
	entries []Entry
}

// New returns an empty index.
func New() *Index {
	return &Index{}
}

func compareEntry(a Entry, path string, stage Stage) int {
	if c := strings.Compare(a.Path, path); c != 0 {
		return c
	}
	return int(a.Stage) - int(stage)
}

func (idx *Index) find(path string, stage Stage) (int, bool) {
	return slices.BinarySearchFunc(idx.entries, path, func(e Entry, p string) int {
		return compareEntry(e, p, stage)
	})
}

// pathRange returns the half-open range of entries for path.
func (idx *Index) pathRange(path string) (int, int) {
	lo, _ := idx.find(path, Normal)
	hi := lo
	for hi < len(idx.entries) && idx.entries[hi].Path == path {
		hi++
	}
	return lo, hi
}

// Add inserts or replaces the Normal entry for e.Path. It fails with
// ErrConflictPresent when the path has conflict entries; callers must
// remove them first with RemoveConflictEntries.
func (idx *Index) Add(e Entry) error {
	if err := tree.ValidatePath(e.Path); err != nil {
		return fmt.Errorf("index add: %w", err)
	}
	if e.Mode == 0 {
		e.Mode = object.ModeFile
	}
	e.Stage = Normal
	lo, hi := idx.pathRange(e.Path)
	for _, x := range idx.entries[lo:hi] {
		if x.Stage != Normal {
			return fmt.Errorf("index add %q: %w", e.Path, ErrConflictPresent)
		}
	}
	if hi > lo {
		idx.entries[lo] = e
		return nil
	}
	idx.entries = slices.Insert(idx.entries, lo, e)
	return nil
}

// Remove deletes every entry for path, at any stage. It reports whether
// anything was removed.
func (idx *Index) Remove(path string) bool {
	lo, hi := idx.pathRange(path)
	if lo == hi {
		return false
	}
	idx.entries = slices.Delete(idx.entries, lo, hi)
	return true
}

// AddConflict replaces all entries for c.Path with its stage entries.
func (idx *Index) AddConflict(c Conflict) error {
	if err := tree.ValidatePath(c.Path); err != nil {
		return fmt.Errorf("index add conflict: %w", err)
	}
	var staged []Entry
	for _, side := range []struct {
		e     *Entry
		stage Stage
	}{{c.Ancestor, Ancestor}, {c.Ours, Ours}, {c.Theirs, Theirs}} {
		if side.e == nil {
			continue
		}
		e := *side.e
		e.Path = c.Path
		e.Stage = side.stage
		staged = append(staged, e)
	}
	if len(staged) == 0 {
		return fmt.Errorf("index add conflict %q: no sides", c.Path)
	}
	lo, hi := idx.pathRange(c.Path)
	idx.entries = slices.Replace(idx.entries, lo, hi, staged...)
	return nil
}

// RemoveConflictEntries deletes the ancestor, ours and theirs entries for
// path. A path without conflicts is left as it is.
func (idx *Index) RemoveConflictEntries(path string) {
	lo, hi := idx.pathRange(path)
	kept := slices.DeleteFunc(slices.Clone(idx.entries[lo:hi]), func(e Entry) bool {
		return e.Stage != Normal
	})
	idx.entries = slices.Replace(idx.entries, lo, hi, kept...)
}

// HasConflicts reports whether any path has a conflict-stage entry.
func (idx *Index) HasConflicts() bool {
	for _, e := range idx.entries {
		if e.Stage != Normal {
			return true
		}
	}
	return false
}

// Conflicts yields one Conflict per conflicted path in path order. Each
// range reads the index state at the time it starts.
func (idx *Index) Conflicts() iter.Seq[Conflict] {
	return func(yield func(Conflict) bool) {
		for _, c := range idx.conflictSnapshot() {
			if !yield(c) {
				return
			}
		}
	}
}

func (idx *Index) conflictSnapshot() []Conflict {
	var out []Conflict
	for i := 0; i < len(idx.entries); {
		e := idx.entries[i]
		if e.Stage == Normal {
			i++
			continue
		}
		c := Conflict{Path: e.Path}
		for ; i < len(idx.entries) && idx.entries[i].Path == c.Path; i++ {
			x := idx.entries[i]
			switch x.Stage {
			case Ancestor:
				c.Ancestor = &x
			case Ours:
				c.Ours = &x
			case Theirs:
				c.Theirs = &x
			}
		}
		out = append(out, c)
	}
	return out
}

// ConflictPaths lists conflicted paths in order.
func (idx *Index) ConflictPaths() []string {
	var paths []string
	for c := range idx.Conflicts() {
		paths = append(paths, c.Path)
	}
	return paths
}

// Conflict returns the conflict for path, if any.
func (idx *Index) Conflict(path string) (Conflict, bool) {
	lo, hi := idx.pathRange(path)
	c := Conflict{Path: path}
	found := false
	for _, x := range idx.entries[lo:hi] {
		switch x.Stage {
		case Ancestor:
			c.Ancestor = &x
		case Ours:
			c.Ours = &x
		case Theirs:
			c.Theirs = &x
		default:
			continue
		}
		found = true
	}
	return c, found
}

// Len returns the number of entries across all stages.
func (idx *Index) Len() int { return len(idx.entries) }

// EntryAt returns the i-th entry in (path, stage) order.
func (idx *Index) EntryAt(i int) Entry { return idx.entries[i] }

// Entry returns the entry for path at stage.
func (idx *Index) Entry(path string, stage Stage) (Entry, error) {
	i, ok := idx.find(path, stage)
	if !ok {
		return Entry{}, fmt.Errorf("index entry %q (%s): %w", path, stage, ErrNotFound)
	}
	return idx.entries[i], nil
}

// Entries returns a copy of all entries in (path, stage) order.
func (idx *Index) Entries() []Entry {
	return slices.Clone(idx.entries)
}

// Files returns the Normal-stage entries as tree files keyed by path.
func (idx *Index) Files() map[string]tree.File {
	m := make(map[string]tree.File, len(idx.entries))
	for _, e := range idx.entries {
		if e.Stage == Normal {
			m[e.Path] = e.File()
		}
	}
	return m
}

// WriteTree writes the Normal-stage entries as a tree hierarchy and returns
// the root tree ID.
func (idx *Index) WriteTree(store *object.Store) (object.ID, error) {
	if idx.HasConflicts() {
		return object.ID{}, fmt.Errorf("index write tree: %w", ErrConflictPresent)
	}
	files := make([]tree.File, 0, len(idx.entries))
	for _, e := range idx.entries {
		files = append(files, e.File())
	}
	id, err := tree.Build(store, files)
	if err != nil {
		return object.ID{}, fmt.Errorf("index write tree: %w", err)
	}
	return id, nil
}

// ReadTree replaces the index contents with the files of treeID. Stat data
// is left empty so the next status scan rehashes those files. The zero ID
// empties the index.
func (idx *Index) ReadTree(store *object.Store, treeID object.ID) error {
	files, err := tree.Flatten(store, treeID)
	if err != nil {
		return fmt.Errorf("index read tree: %w", err)
	}
	entries := make([]Entry, 0, len(files))
	for _, f := range files {
		entries = append(entries, Entry{Path: f.Path, ID: f.ID, Mode: f.Mode})
	}
	slices.SortFunc(entries, func(a, b Entry) int { return strings.Compare(a.Path, b.Path) })
	idx.entries = entries
	return nil
}
