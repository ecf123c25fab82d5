// Package tree builds tree objects from flat path lists and compares,
// walks and renders them.
package tree

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/odvcencio/vcscore/pkg/object"
)

// File is a single non-directory entry in a flattened tree.
type File struct {
	Path string
	Mode object.FileMode
	ID   object.ID
}

// Build converts flat file entries into a hierarchy of tree objects,
// writing every tree to store and returning the root ID. Paths use
// forward slashes. An empty list produces the empty tree.
func Build(store *object.Store, files []File) (object.ID, error) {
	sorted := make([]File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	seen := make(map[string]struct{}, len(sorted))
	for _, f := range sorted {
		if err := ValidatePath(f.Path); err != nil {
			return object.ID{}, fmt.Errorf("build tree: %w", err)
		}
		if f.Mode.IsDir() {
			return object.ID{}, fmt.Errorf("build tree: %q: directory mode on file entry", f.Path)
		}
		if _, dup := seen[f.Path]; dup {
			return object.ID{}, fmt.Errorf("build tree: duplicate path %q", f.Path)
		}
		seen[f.Path] = struct{}{}
	}
	for _, f := range sorted {
		for dir := path.Dir(f.Path); dir != "."; dir = path.Dir(dir) {
			if _, ok := seen[dir]; ok {
				return object.ID{}, fmt.Errorf("build tree: %q is both a file and a directory", dir)
			}
		}
	}
	return buildDir(store, sorted, "")
}

// buildDir builds the tree for files, all of which live under prefix, and
// writes it to the store.
func buildDir(store *object.Store, files []File, prefix string) (object.ID, error) {
	var entries []object.TreeEntry
	for i := 0; i < len(files); {
		rel := files[i].Path[len(prefix):]
		slash := strings.IndexByte(rel, '/')
		if slash < 0 {
			entries = append(entries, object.TreeEntry{Name: rel, Mode: files[i].Mode, ID: files[i].ID})
			i++
			continue
		}

		name := rel[:slash]
		childPrefix := prefix + name + "/"
		j := i
		for j < len(files) && strings.HasPrefix(files[j].Path, childPrefix) {
			j++
		}
		sub, err := buildDir(store, files[i:j], childPrefix)
		if err != nil {
			return object.ID{}, err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: object.ModeDir, ID: sub})
		i = j
	}

	id, err := store.WriteTree(&object.Tree{Entries: entries})
	if err != nil {
		return object.ID{}, fmt.Errorf("write tree (prefix=%q): %w", prefix, err)
	}
	return id, nil
}

// ValidatePath rejects paths that cannot be stored in a tree: empty,
// absolute, or containing empty, "." or ".." segments.
func ValidatePath(p string) error {
	if p == "" {
		return fmt.Errorf("empty path")
	}
	if strings.HasPrefix(p, "/") || strings.ContainsRune(p, 0) {
		return fmt.Errorf("invalid path %q", p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("invalid path %q", p)
		}
	}
	return nil
}

// Flatten walks a tree recursively, returning every non-directory entry
// with its full path in tree order. The zero ID flattens to nothing.
func Flatten(store *object.Store, id object.ID) ([]File, error) {
	if id.IsZero() {
		return nil, nil
	}
	var out []File
	err := flattenRec(store, id, "", &out)
	return out, err
}

func flattenRec(store *object.Store, id object.ID, prefix string, out *[]File) error {
	t, err := store.ReadTree(id)
	if err != nil {
		return fmt.Errorf("flatten tree: read %s: %w", id, err)
	}
	for _, e := range t.Entries {
		full := path.Join(prefix, e.Name)
		if e.Mode.IsDir() {
			if err := flattenRec(store, e.ID, full, out); err != nil {
				return err
			}
			continue
		}
		*out = append(*out, File{Path: full, Mode: e.Mode, ID: e.ID})
	}
	return nil
}

// FlattenMap is Flatten keyed by path.
func FlattenMap(store *object.Store, id object.ID) (map[string]File, error) {
	files, err := Flatten(store, id)
	if err != nil {
		return nil, err
	}
	m := make(map[string]File, len(files))
	for _, f := range files {
		m[f.Path] = f
	}
	return m, nil
}

// Lookup resolves a slash-separated path through nested trees. It returns
// nil without error when any segment is missing or an intermediate
// segment is not a directory.
func Lookup(store *object.Store, treeID object.ID, p string) (*object.TreeEntry, error) {
	p = strings.Trim(p, "/")
	if treeID.IsZero() || p == "" {
		return nil, nil
	}
	parts := strings.Split(p, "/")
	current := treeID
	for i, part := range parts {
		t, err := store.ReadTree(current)
		if err != nil {
			return nil, fmt.Errorf("lookup %q: read tree %s: %w", p, current, err)
		}
		entry, ok := t.Entry(part)
		if !ok {
			return nil, nil
		}
		if i == len(parts)-1 {
			return &entry, nil
		}
		if !entry.Mode.IsDir() {
			return nil, nil
		}
		current = entry.ID
	}
	return nil, nil
}
