package index

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/odvcencio/vcscore/pkg/object"
	"github.com/odvcencio/vcscore/pkg/tree"
)

func blobEntry(t *testing.T, s *object.Store, path, content string) Entry {
	t.Helper()
	id, err := s.WriteBlob([]byte(content))
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	return Entry{Path: path, ID: id, Mode: object.ModeFile, Size: int64(len(content))}
}

func TestAddKeepsPathOrder(t *testing.T) {
	s := object.NewMemoryStore(object.SHA1)
	idx := New()
	for _, p := range []string{"b.txt", "a/z.txt", "a.txt", "c"} {
		if err := idx.Add(blobEntry(t, s, p, p)); err != nil {
			t.Fatalf("Add(%s): %v", p, err)
		}
	}
	// Replacing keeps a single entry.
	if err := idx.Add(blobEntry(t, s, "a.txt", "changed")); err != nil {
		t.Fatalf("Add replace: %v", err)
	}

	want := []string{"a.txt", "a/z.txt", "b.txt", "c"}
	if idx.Len() != len(want) {
		t.Fatalf("Len = %d, want %d", idx.Len(), len(want))
	}
	for i, p := range want {
		if got := idx.EntryAt(i).Path; got != p {
			t.Errorf("EntryAt(%d) = %q, want %q", i, got, p)
		}
	}
	e, err := idx.Entry("a.txt", Normal)
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	if e.Size != int64(len("changed")) {
		t.Errorf("replaced entry size = %d", e.Size)
	}
}

func TestAddRejectsInvalidPath(t *testing.T) {
	idx := New()
	for _, p := range []string{"", "/abs", "a/../b", "a//b"} {
		if err := idx.Add(Entry{Path: p}); err == nil {
			t.Errorf("Add(%q) succeeded, want error", p)
		}
	}
}

func TestConflictLifecycle(t *testing.T) {
	s := object.NewMemoryStore(object.SHA1)
	idx := New()
	if err := idx.Add(blobEntry(t, s, "clean.txt", "clean")); err != nil {
		t.Fatal(err)
	}
	base := blobEntry(t, s, "f", "base")
	ours := blobEntry(t, s, "f", "ours")
	theirs := blobEntry(t, s, "f", "theirs")
	if err := idx.AddConflict(Conflict{Path: "f", Ancestor: &base, Ours: &ours, Theirs: &theirs}); err != nil {
		t.Fatalf("AddConflict: %v", err)
	}

	if !idx.HasConflicts() {
		t.Fatal("HasConflicts = false after AddConflict")
	}
	var got []Conflict
	for c := range idx.Conflicts() {
		got = append(got, c)
	}
	if len(got) != 1 || got[0].Path != "f" {
		t.Fatalf("Conflicts = %+v", got)
	}
	if got[0].Ancestor.ID != base.ID || got[0].Ours.ID != ours.ID || got[0].Theirs.ID != theirs.ID {
		t.Error("conflict sides do not match the staged entries")
	}
	if got[0].Ours.Stage != Ours {
		t.Errorf("ours stage = %s", got[0].Ours.Stage)
	}

	// Adding over a conflict is refused.
	if err := idx.Add(blobEntry(t, s, "f", "resolved")); !errors.Is(err, ErrConflictPresent) {
		t.Fatalf("Add over conflict err = %v, want ErrConflictPresent", err)
	}
	if _, err := idx.WriteTree(s); !errors.Is(err, ErrConflictPresent) {
		t.Fatalf("WriteTree err = %v, want ErrConflictPresent", err)
	}

	idx.RemoveConflictEntries("f")
	if idx.HasConflicts() {
		t.Fatal("HasConflicts = true after RemoveConflictEntries")
	}
	for range idx.Conflicts() {
		t.Fatal("Conflicts yielded after removal")
	}
	if err := idx.Add(blobEntry(t, s, "f", "resolved")); err != nil {
		t.Fatalf("Add after removal: %v", err)
	}
	if _, err := idx.WriteTree(s); err != nil {
		t.Fatalf("WriteTree: %v", err)
	}
}

func TestRemoveConflictEntriesIsIdempotent(t *testing.T) {
	s := object.NewMemoryStore(object.SHA1)
	idx := New()
	if err := idx.Add(blobEntry(t, s, "keep", "x")); err != nil {
		t.Fatal(err)
	}
	idx.RemoveConflictEntries("keep")
	idx.RemoveConflictEntries("missing")
	if idx.Len() != 1 {
		t.Fatalf("Len = %d, want 1", idx.Len())
	}
}

func TestConflictsRestartableAndLive(t *testing.T) {
	s := object.NewMemoryStore(object.SHA1)
	idx := New()
	ours := blobEntry(t, s, "x", "o")
	if err := idx.AddConflict(Conflict{Path: "a", Ours: &ours}); err != nil {
		t.Fatal(err)
	}
	seq := idx.Conflicts()
	count := func() int {
		n := 0
		for range seq {
			n++
		}
		return n
	}
	if n := count(); n != 1 {
		t.Fatalf("first range = %d", n)
	}
	if err := idx.AddConflict(Conflict{Path: "b", Ours: &ours}); err != nil {
		t.Fatal(err)
	}
	if n := count(); n != 2 {
		t.Fatalf("second range = %d, want 2", n)
	}
	paths := idx.ConflictPaths()
	if len(paths) != 2 || paths[0] != "a" || paths[1] != "b" {
		t.Fatalf("ConflictPaths = %v", paths)
	}
	if !idx.HasConflicts() {
		t.Fatal("HasConflicts should match a non-empty Conflicts sequence")
	}
}

func TestWriteTreeReadTreeRoundTrip(t *testing.T) {
	s := object.NewMemoryStore(object.SHA1)
	idx := New()
	for p, c := range map[string]string{"README": "r", "src/main.go": "m", "src/lib/lib.go": "l"} {
		if err := idx.Add(blobEntry(t, s, p, c)); err != nil {
			t.Fatal(err)
		}
	}
	root, err := idx.WriteTree(s)
	if err != nil {
		t.Fatalf("WriteTree: %v", err)
	}
	e, err := tree.Lookup(s, root, "src/lib/lib.go")
	if err != nil || e == nil {
		t.Fatalf("Lookup = %v, %v", e, err)
	}

	other := New()
	if err := other.ReadTree(s, root); err != nil {
		t.Fatalf("ReadTree: %v", err)
	}
	if other.Len() != 3 {
		t.Fatalf("Len = %d", other.Len())
	}
	again, err := other.WriteTree(s)
	if err != nil {
		t.Fatal(err)
	}
	if again != root {
		t.Errorf("round trip tree = %s, want %s", again, root)
	}

	if err := other.ReadTree(s, object.ID{}); err != nil {
		t.Fatal(err)
	}
	if other.Len() != 0 {
		t.Errorf("ReadTree(zero) left %d entries", other.Len())
	}
}

func TestSaveLoad(t *testing.T) {
	s := object.NewMemoryStore(object.SHA1)
	dir := t.TempDir()
	path := filepath.Join(dir, "index")

	empty, err := Load(path)
	if err != nil {
		t.Fatalf("Load missing: %v", err)
	}
	if empty.Len() != 0 {
		t.Fatalf("missing index has %d entries", empty.Len())
	}

	idx := New()
	e := blobEntry(t, s, "dir/file", "content")
	e.ModTime = 1710021600000000000
	if err := idx.Add(e); err != nil {
		t.Fatal(err)
	}
	theirs := blobEntry(t, s, "x", "theirs")
	if err := idx.AddConflict(Conflict{Path: "conflicted", Theirs: &theirs}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("Len = %d, want 2", loaded.Len())
	}
	got, err := loaded.Entry("dir/file", Normal)
	if err != nil {
		t.Fatal(err)
	}
	if got != e {
		t.Errorf("loaded entry = %+v, want %+v", got, e)
	}
	c, ok := loaded.Conflict("conflicted")
	if !ok || c.Theirs == nil || c.Theirs.ID != theirs.ID || c.Ours != nil {
		t.Errorf("loaded conflict = %+v", c)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, ".index-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load succeeded on garbage")
	}
}
