package merge

import (
	"fmt"
	"path"
	"sort"

	"github.com/odvcencio/vcscore/pkg/index"
	"github.com/odvcencio/vcscore/pkg/object"
	"github.com/odvcencio/vcscore/pkg/tree"
)

// ConflictKind says why a path could not be merged.
type ConflictKind uint8

const (
	// ConflictContent is a textual conflict; the working file carries
	// conflict markers.
	ConflictContent ConflictKind = iota
	// ConflictBinary is a change to binary content on both sides.
	ConflictBinary
	// ConflictModifyDelete is a modification on one side and a deletion
	// on the other.
	ConflictModifyDelete
	// ConflictMode is an incompatible mode or file kind change.
	ConflictMode
	// ConflictDirectory is a file on one side where the other side has a
	// directory.
	ConflictDirectory
)

func (k ConflictKind) String() string {
	switch k {
	case ConflictBinary:
		return "binary"
	case ConflictModifyDelete:
		return "modify/delete"
	case ConflictMode:
		return "mode"
	case ConflictDirectory:
		return "file/directory"
	default:
		return "content"
	}
}

// ConflictFile is the working-tree rendering of a conflicted path.
type ConflictFile struct {
	Path string
	Kind ConflictKind
	Mode object.FileMode
	// Data is written to the working tree: marker text for content
	// conflicts, otherwise the surviving side (ours when both exist).
	Data []byte
}

// Result is the outcome of Trees.
type Result struct {
	// Index holds clean paths at the normal stage and conflicted paths
	// at the ancestor, ours and theirs stages.
	Index *index.Index
	// Conflicts lists conflicted paths in path order.
	Conflicts []ConflictFile
	// Merged lists paths whose content came from a textual merge of both
	// sides.
	Merged []string
}

// HasConflicts reports whether any path conflicted.
func (r *Result) HasConflicts() bool { return len(r.Conflicts) > 0 }

// Trees merges the trees ours and theirs relative to base. A zero base
// merges two unrelated histories. Clean textual merges are written to
// store as blobs; conflicted paths are left as index stages that point at
// the existing side blobs.
func Trees(store *object.Store, ours, theirs, base object.ID, opts Options) (*Result, error) {
	baseFiles, err := tree.FlattenMap(store, base)
	if err != nil {
		return nil, fmt.Errorf("merge: flatten base tree: %w", err)
	}
	oursFiles, err := tree.FlattenMap(store, ours)
	if err != nil {
		return nil, fmt.Errorf("merge: flatten ours tree: %w", err)
	}
	theirsFiles, err := tree.FlattenMap(store, theirs)
	if err != nil {
		return nil, fmt.Errorf("merge: flatten theirs tree: %w", err)
	}

	m := &treeMerger{store: store, opts: opts, result: &Result{Index: index.New()}}
	for _, p := range collectAllPaths(baseFiles, oursFiles, theirsFiles) {
		if err := m.path(p, lookup(baseFiles, p), lookup(oursFiles, p), lookup(theirsFiles, p)); err != nil {
			return nil, fmt.Errorf("merge file %q: %w", p, err)
		}
	}
	if err := m.directoryConflicts(); err != nil {
		return nil, err
	}
	sort.Slice(m.result.Conflicts, func(i, j int) bool { return m.result.Conflicts[i].Path < m.result.Conflicts[j].Path })
	return m.result, nil
}

func lookup(files map[string]tree.File, p string) *tree.File {
	f, ok := files[p]
	if !ok {
		return nil
	}
	return &f
}

// collectAllPaths returns a sorted, deduplicated list of all file paths
// across three file maps.
func collectAllPaths(base, ours, theirs map[string]tree.File) []string {
	seen := make(map[string]bool, len(ours))
	for _, m := range []map[string]tree.File{base, ours, theirs} {
		for p := range m {
			seen[p] = true
		}
	}
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

type treeMerger struct {
	store  *object.Store
	opts   Options
	result *Result

	// taken records, for each cleanly merged path, the ours and theirs
	// files it was taken from.
	taken map[string][2]*tree.File
}

func sameFile(a, b *tree.File) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID && a.Mode == b.Mode
}

func entryOf(f *tree.File) *index.Entry {
	if f == nil {
		return nil
	}
	return &index.Entry{Path: f.Path, ID: f.ID, Mode: f.Mode}
}

func (m *treeMerger) take(f, ours, theirs *tree.File) error {
	if f == nil {
		return nil
	}
	if m.taken == nil {
		m.taken = make(map[string][2]*tree.File)
	}
	m.taken[f.Path] = [2]*tree.File{ours, theirs}
	return m.result.Index.Add(index.Entry{Path: f.Path, ID: f.ID, Mode: f.Mode})
}

func (m *treeMerger) conflict(p string, kind ConflictKind, base, ours, theirs *tree.File, mode object.FileMode, data []byte) error {
	err := m.result.Index.AddConflict(index.Conflict{
		Path:     p,
		Ancestor: entryOf(base),
		Ours:     entryOf(ours),
		Theirs:   entryOf(theirs),
	})
	if err != nil {
		return err
	}
	m.result.Conflicts = append(m.result.Conflicts, ConflictFile{Path: p, Kind: kind, Mode: mode, Data: data})
	return nil
}

func (m *treeMerger) blob(f *tree.File) ([]byte, error) {
	if f == nil || f.Mode == object.ModeSubmodule {
		return nil, nil
	}
	b, err := m.store.ReadBlob(f.ID)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", f.ID, err)
	}
	return b.Data, nil
}

// path merges a single path. One side unchanged relative to base takes the
// other side; identical changes take either.
func (m *treeMerger) path(p string, base, ours, theirs *tree.File) error {
	switch {
	case sameFile(ours, theirs):
		return m.take(ours, ours, theirs)
	case sameFile(base, ours):
		return m.take(theirs, nil, theirs)
	case sameFile(base, theirs):
		return m.take(ours, ours, nil)
	}

	// Both sides changed differently.
	if ours == nil || theirs == nil {
		survivor := ours
		if survivor == nil {
			survivor = theirs
		}
		data, err := m.blob(survivor)
		if err != nil {
			return err
		}
		return m.conflict(p, ConflictModifyDelete, base, ours, theirs, survivor.Mode, data)
	}

	mode, modeOK := mergeMode(base, ours, theirs)
	if !ours.Mode.IsRegular() || !theirs.Mode.IsRegular() {
		// Symlinks and submodules cannot be merged textually.
		data, err := m.blob(ours)
		if err != nil {
			return err
		}
		return m.conflict(p, ConflictMode, base, ours, theirs, ours.Mode, data)
	}

	baseData, err := m.blob(base)
	if err != nil {
		return err
	}
	oursData, err := m.blob(ours)
	if err != nil {
		return err
	}
	theirsData, err := m.blob(theirs)
	if err != nil {
		return err
	}

	res := MergeFiles(baseData, oursData, theirsData, m.opts)
	switch {
	case res.Binary:
		return m.conflict(p, ConflictBinary, base, ours, theirs, ours.Mode, oursData)
	case res.HasConflicts:
		return m.conflict(p, ConflictContent, base, ours, theirs, mode, res.Merged)
	case !modeOK:
		return m.conflict(p, ConflictMode, base, ours, theirs, ours.Mode, res.Merged)
	}

	id := ours.ID
	if ours.ID != theirs.ID {
		if id, err = m.store.WriteBlob(res.Merged); err != nil {
			return fmt.Errorf("write merged blob: %w", err)
		}
		m.result.Merged = append(m.result.Merged, p)
	}
	return m.result.Index.Add(index.Entry{Path: p, ID: id, Mode: mode})
}

// mergeMode applies the copy-forward rule to file modes. ok is false when
// both sides changed the mode differently.
func mergeMode(base, ours, theirs *tree.File) (object.FileMode, bool) {
	switch {
	case ours.Mode == theirs.Mode:
		return ours.Mode, true
	case base != nil && base.Mode == ours.Mode:
		return theirs.Mode, true
	case base != nil && base.Mode == theirs.Mode:
		return ours.Mode, true
	default:
		return ours.Mode, false
	}
}

// directoryConflicts finds paths that are files in the merged result while
// another merged path lives below them, and turns those files into
// conflicts.
func (m *treeMerger) directoryConflicts() error {
	idx := m.result.Index
	present := make(map[string]bool, idx.Len())
	for i := 0; i < idx.Len(); i++ {
		present[idx.EntryAt(i).Path] = true
	}
	var clash []string
	for p := range present {
		for dir := path.Dir(p); dir != "."; dir = path.Dir(dir) {
			if present[dir] {
				clash = append(clash, dir)
			}
		}
	}
	sort.Strings(clash)
	for i, p := range clash {
		if i > 0 && clash[i-1] == p {
			continue
		}
		if _, already := idx.Conflict(p); already {
			continue
		}
		e, err := idx.Entry(p, index.Normal)
		if err != nil {
			return fmt.Errorf("merge: directory conflict %q: %w", p, err)
		}
		f := &tree.File{Path: p, Mode: e.Mode, ID: e.ID}
		data, err := m.blob(f)
		if err != nil {
			return err
		}
		ours, theirs := f, f
		if from, ok := m.taken[p]; ok {
			ours, theirs = from[0], from[1]
		}
		idx.Remove(p)
		if err := m.conflict(p, ConflictDirectory, nil, ours, theirs, f.Mode, data); err != nil {
			return err
		}
	}
	return nil
}
