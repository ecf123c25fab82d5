package tree

import (
	"fmt"
	"path"
	"sort"

	"github.com/odvcencio/vcscore/pkg/object"
)

// Status classifies a Delta.
type Status uint8

const (
	Unmodified Status = iota
	Added
	Deleted
	Modified
	Renamed
	Copied
	TypeChange
)

func (s Status) String() string {
	switch s {
	case Added:
		return "added"
	case Deleted:
		return "deleted"
	case Modified:
		return "modified"
	case Renamed:
		return "renamed"
	case Copied:
		return "copied"
	case TypeChange:
		return "typechange"
	default:
		return "unmodified"
	}
}

// Delta describes how one path differs between two trees. For Added the
// Old side is empty; for Deleted the New side is empty.
type Delta struct {
	Status Status
	Old    File
	New    File
	// Similarity is the percentage of shared content for renames and
	// copies. Detection is exact-match only, so it is always 100.
	Similarity int
}

// Path is the path the delta is reported under: the new path when the
// new side exists, otherwise the old one.
func (d Delta) Path() string {
	if d.New.Path != "" {
		return d.New.Path
	}
	return d.Old.Path
}

// Options controls Diff.
type Options struct {
	// IncludeUnmodified reports paths whose content is unchanged.
	IncludeUnmodified bool
	// DetectRenames pairs deleted and added files with identical content.
	DetectRenames bool
	// DetectCopies reports added files whose content matches any file of
	// the old tree as copies of it.
	DetectCopies bool
}

// Diff compares two trees. A zero ID on either side stands for the empty
// tree. Subtrees with equal IDs are skipped unless IncludeUnmodified is
// set. Deltas are ordered by Path.
func Diff(store *object.Store, oldTree, newTree object.ID, opts Options) ([]Delta, error) {
	d := &differ{store: store, opts: opts}
	if err := d.trees(oldTree, newTree, ""); err != nil {
		return nil, err
	}

	var oldFiles map[string]File
	if opts.DetectCopies {
		var err error
		if oldFiles, err = FlattenMap(store, oldTree); err != nil {
			return nil, fmt.Errorf("diff: %w", err)
		}
	}
	return finish(d.deltas, oldFiles, opts), nil
}

// DiffFiles compares two flattened snapshots, such as the index against
// HEAD. It applies the same classification as Diff.
func DiffFiles(oldFiles, newFiles map[string]File, opts Options) []Delta {
	var deltas []Delta
	for p, o := range oldFiles {
		n, ok := newFiles[p]
		if !ok {
			deltas = append(deltas, Delta{Status: Deleted, Old: o})
			continue
		}
		deltas = append(deltas, classify(o, n))
	}
	for p, n := range newFiles {
		if _, ok := oldFiles[p]; !ok {
			deltas = append(deltas, Delta{Status: Added, New: n})
		}
	}
	return finish(deltas, oldFiles, opts)
}

type differ struct {
	store  *object.Store
	opts   Options
	deltas []Delta
}

func (d *differ) readEntries(id object.ID) ([]object.TreeEntry, error) {
	if id.IsZero() {
		return nil, nil
	}
	t, err := d.store.ReadTree(id)
	if err != nil {
		return nil, fmt.Errorf("diff: read tree %s: %w", id, err)
	}
	return t.Entries, nil
}

func (d *differ) trees(oldID, newID object.ID, prefix string) error {
	if oldID == newID && !d.opts.IncludeUnmodified {
		return nil
	}
	oldEntries, err := d.readEntries(oldID)
	if err != nil {
		return err
	}
	newEntries, err := d.readEntries(newID)
	if err != nil {
		return err
	}

	type pair struct{ old, new *object.TreeEntry }
	byName := make(map[string]*pair, len(oldEntries)+len(newEntries))
	var names []string
	for i := range oldEntries {
		e := &oldEntries[i]
		byName[e.Name] = &pair{old: e}
		names = append(names, e.Name)
	}
	for i := range newEntries {
		e := &newEntries[i]
		if p, ok := byName[e.Name]; ok {
			p.new = e
			continue
		}
		byName[e.Name] = &pair{new: e}
		names = append(names, e.Name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := byName[name]
		full := path.Join(prefix, name)
		oldDir := p.old != nil && p.old.Mode.IsDir()
		newDir := p.new != nil && p.new.Mode.IsDir()

		var oldSub, newSub object.ID
		if oldDir {
			oldSub = p.old.ID
		}
		if newDir {
			newSub = p.new.ID
		}
		if oldDir || newDir {
			if err := d.trees(oldSub, newSub, full); err != nil {
				return err
			}
		}

		oldFile := p.old != nil && !oldDir
		newFile := p.new != nil && !newDir
		switch {
		case oldFile && newFile:
			d.deltas = append(d.deltas, classify(
				File{Path: full, Mode: p.old.Mode, ID: p.old.ID},
				File{Path: full, Mode: p.new.Mode, ID: p.new.ID},
			))
		case oldFile:
			d.deltas = append(d.deltas, Delta{Status: Deleted, Old: File{Path: full, Mode: p.old.Mode, ID: p.old.ID}})
		case newFile:
			d.deltas = append(d.deltas, Delta{Status: Added, New: File{Path: full, Mode: p.new.Mode, ID: p.new.ID}})
		}
	}
	return nil
}

func classify(o, n File) Delta {
	switch {
	case kindOf(o.Mode) != kindOf(n.Mode):
		return Delta{Status: TypeChange, Old: o, New: n}
	case o.ID != n.ID || o.Mode != n.Mode:
		return Delta{Status: Modified, Old: o, New: n}
	default:
		return Delta{Status: Unmodified, Old: o, New: n}
	}
}

type fileKind uint8

const (
	kindRegular fileKind = iota
	kindSymlink
	kindSubmodule
)

func kindOf(m object.FileMode) fileKind {
	switch m {
	case object.ModeSymlink:
		return kindSymlink
	case object.ModeSubmodule:
		return kindSubmodule
	default:
		return kindRegular
	}
}

// finish runs rename and copy detection, drops unmodified entries unless
// asked for, and sorts by path.
func finish(deltas []Delta, oldFiles map[string]File, opts Options) []Delta {
	if opts.DetectRenames {
		deltas = pairRenames(deltas)
	}
	if opts.DetectCopies {
		deltas = markCopies(deltas, oldFiles)
	}
	out := deltas[:0]
	for _, d := range deltas {
		if d.Status == Unmodified && !opts.IncludeUnmodified {
			continue
		}
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out
}

type renameKey struct {
	id   object.ID
	kind fileKind
}

// pairRenames matches deleted and added files with identical content and
// file kind. Candidates sharing a key are paired in path order.
func pairRenames(deltas []Delta) []Delta {
	added := make(map[renameKey][]int)
	deleted := make(map[renameKey][]int)
	for i, d := range deltas {
		switch d.Status {
		case Added:
			k := renameKey{d.New.ID, kindOf(d.New.Mode)}
			added[k] = append(added[k], i)
		case Deleted:
			k := renameKey{d.Old.ID, kindOf(d.Old.Mode)}
			deleted[k] = append(deleted[k], i)
		}
	}

	drop := make(map[int]bool)
	for k, newIdx := range added {
		oldIdx := deleted[k]
		if len(oldIdx) == 0 {
			continue
		}
		sort.Slice(newIdx, func(a, b int) bool { return deltas[newIdx[a]].New.Path < deltas[newIdx[b]].New.Path })
		sort.Slice(oldIdx, func(a, b int) bool { return deltas[oldIdx[a]].Old.Path < deltas[oldIdx[b]].Old.Path })
		for i := 0; i < len(newIdx) && i < len(oldIdx); i++ {
			n, o := newIdx[i], oldIdx[i]
			deltas[n] = Delta{Status: Renamed, Old: deltas[o].Old, New: deltas[n].New, Similarity: 100}
			drop[o] = true
		}
	}
	if len(drop) == 0 {
		return deltas
	}
	out := make([]Delta, 0, len(deltas)-len(drop))
	for i, d := range deltas {
		if !drop[i] {
			out = append(out, d)
		}
	}
	return out
}

// markCopies turns remaining additions whose content exists in the old
// snapshot into copies of the lexically first matching source.
func markCopies(deltas []Delta, oldFiles map[string]File) []Delta {
	sources := make(map[renameKey]File)
	for _, f := range oldFiles {
		k := renameKey{f.ID, kindOf(f.Mode)}
		if cur, ok := sources[k]; !ok || f.Path < cur.Path {
			sources[k] = f
		}
	}
	for i, d := range deltas {
		if d.Status != Added {
			continue
		}
		if src, ok := sources[renameKey{d.New.ID, kindOf(d.New.Mode)}]; ok {
			deltas[i] = Delta{Status: Copied, Old: src, New: d.New, Similarity: 100}
		}
	}
	return deltas
}
