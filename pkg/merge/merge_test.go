package merge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odvcencio/vcscore/pkg/diff3"
	"github.com/odvcencio/vcscore/pkg/index"
	"github.com/odvcencio/vcscore/pkg/object"
	"github.com/odvcencio/vcscore/pkg/tree"
)

type fakeAncestry map[[2]object.ID]bool

func (f fakeAncestry) IsAncestor(a, d object.ID) (bool, error) {
	if a == d {
		return true, nil
	}
	return f[[2]object.ID{a, d}], nil
}

func id(s string) object.ID {
	return object.HashObject(object.SHA1, object.TypeCommit, []byte(s))
}

func TestAnalyzeRules(t *testing.T) {
	base, head, ahead, other := id("base"), id("head"), id("ahead"), id("other")
	g := fakeAncestry{
		{base, head}:  true,
		{base, ahead}: true,
		{head, ahead}: true,
		{base, other}: true,
	}

	tests := []struct {
		name       string
		head, targ object.ID
		want       Analysis
	}{
		{"unborn", object.ID{}, head, AnalysisUnborn | AnalysisFastForward},
		{"same commit", head, head, AnalysisUpToDate},
		{"target behind", head, base, AnalysisUpToDate},
		{"fast-forward", head, ahead, AnalysisFastForward},
		{"diverged", head, other, AnalysisNormal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Analyze(g, tc.head, tc.targ)
			require.NoError(t, err)
			require.Equal(t, tc.want, got, got.String())
		})
	}
}

func TestAnalyzeIsExclusiveForBornHeads(t *testing.T) {
	commits := []object.ID{id("a"), id("b"), id("c")}
	g := fakeAncestry{{commits[0], commits[1]}: true, {commits[0], commits[2]}: true}
	for _, h := range commits {
		for _, target := range commits {
			a, err := Analyze(g, h, target)
			require.NoError(t, err)
			n := 0
			for _, set := range []bool{a.IsUpToDate(), a.IsFastForward(), a.IsNormal()} {
				if set {
					n++
				}
			}
			require.Equal(t, 1, n, "%s into %s: %s", target.Short(), h.Short(), a)
			require.False(t, a.IsUnborn())
		}
	}
}

type errAncestry struct{}

func (errAncestry) IsAncestor(object.ID, object.ID) (bool, error) {
	return false, errors.New("graph unavailable")
}

func TestAnalyzePropagatesErrors(t *testing.T) {
	_, err := Analyze(errAncestry{}, id("a"), id("b"))
	require.ErrorContains(t, err, "graph unavailable")
	_, err = Analyze(errAncestry{}, id("a"), object.ID{})
	require.Error(t, err)
}

func TestParsePreference(t *testing.T) {
	for in, want := range map[string]Preference{
		"":      PreferenceNone,
		"true":  PreferenceNone,
		"only":  PreferenceFastForwardOnly,
		"ONLY":  PreferenceFastForwardOnly,
		"false": PreferenceNoFastForward,
	} {
		got, err := ParsePreference(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParsePreference("sometimes")
	require.Error(t, err)
}

func TestMergeFiles(t *testing.T) {
	base := []byte("a\nb\nc\n")

	clean := MergeFiles(base, []byte("A\nb\nc\n"), []byte("a\nb\nC\n"), Options{})
	require.False(t, clean.HasConflicts)
	require.Equal(t, "A\nb\nC\n", string(clean.Merged))

	oneSide := MergeFiles(base, base, []byte("x\n"), Options{})
	require.Equal(t, "x\n", string(oneSide.Merged))

	conflict := MergeFiles(base, []byte("a\nours\nc\n"), []byte("a\ntheirs\nc\n"), Options{})
	require.True(t, conflict.HasConflicts)
	require.Equal(t, 1, conflict.ConflictCount)
	require.Contains(t, string(conflict.Merged), "||||||| base\nb\n")

	bin := MergeFiles([]byte("\x00base"), []byte("\x00ours"), []byte("\x00theirs"), Options{})
	require.True(t, bin.Binary)
	require.True(t, bin.HasConflicts)
	require.Equal(t, "\x00ours", string(bin.Merged))
}

type fixture struct {
	t     *testing.T
	store *object.Store
}

func (f fixture) tree(files map[string]string) object.ID {
	f.t.Helper()
	var list []tree.File
	for p, content := range files {
		bid, err := f.store.WriteBlob([]byte(content))
		require.NoError(f.t, err)
		list = append(list, tree.File{Path: p, Mode: object.ModeFile, ID: bid})
	}
	root, err := tree.Build(f.store, list)
	require.NoError(f.t, err)
	return root
}

func (f fixture) blob(e *index.Entry) string {
	f.t.Helper()
	b, err := f.store.ReadBlob(e.ID)
	require.NoError(f.t, err)
	return string(b.Data)
}

func TestTreesCleanMerge(t *testing.T) {
	f := fixture{t: t, store: object.NewMemoryStore(object.SHA1)}
	base := f.tree(map[string]string{"shared": "1\n2\n3\n", "gone": "x\n", "keep": "k\n"})
	ours := f.tree(map[string]string{"shared": "one\n2\n3\n", "keep": "k\n", "ours-new": "o\n"})
	theirs := f.tree(map[string]string{"shared": "1\n2\nthree\n", "gone": "x\n", "keep": "k\n", "theirs-new": "t\n"})

	res, err := Trees(f.store, ours, theirs, base, Options{})
	require.NoError(t, err)
	require.False(t, res.HasConflicts())
	require.False(t, res.Index.HasConflicts())
	require.Equal(t, []string{"shared"}, res.Merged)

	files := res.Index.Files()
	require.Len(t, files, 4)
	require.NotContains(t, files, "gone")

	e, err := res.Index.Entry("shared", index.Normal)
	require.NoError(t, err)
	require.Equal(t, "one\n2\nthree\n", f.blob(&e))

	_, err = res.Index.WriteTree(f.store)
	require.NoError(t, err)
}

func TestTreesTextConflictStagesAllSides(t *testing.T) {
	f := fixture{t: t, store: object.NewMemoryStore(object.SHA1)}
	base := f.tree(map[string]string{"f.txt": "line\n", "other": "same\n"})
	ours := f.tree(map[string]string{"f.txt": "ours\n", "other": "same\n"})
	theirs := f.tree(map[string]string{"f.txt": "theirs\n", "other": "same\n"})

	res, err := Trees(f.store, ours, theirs, base, Options{Labels: diff3.Labels{Ours: "HEAD", Theirs: "feature"}})
	require.NoError(t, err)
	require.True(t, res.HasConflicts())
	require.Equal(t, []string{"f.txt"}, res.Index.ConflictPaths())

	c, ok := res.Index.Conflict("f.txt")
	require.True(t, ok)
	require.Equal(t, "line\n", f.blob(c.Ancestor))
	require.Equal(t, "ours\n", f.blob(c.Ours))
	require.Equal(t, "theirs\n", f.blob(c.Theirs))

	require.Len(t, res.Conflicts, 1)
	cf := res.Conflicts[0]
	require.Equal(t, ConflictContent, cf.Kind)
	require.Equal(t,
		"<<<<<<< HEAD\nours\n||||||| base\nline\n=======\ntheirs\n>>>>>>> feature\n",
		string(cf.Data))

	// Conflict markers are never stored as objects.
	require.False(t, f.store.Exists(f.store.Hash(object.TypeBlob, cf.Data)))
}

func TestTreesModifyDeleteAndBinary(t *testing.T) {
	f := fixture{t: t, store: object.NewMemoryStore(object.SHA1)}
	base := f.tree(map[string]string{"md": "base\n", "bin": "\x00base"})
	ours := f.tree(map[string]string{"md": "modified\n", "bin": "\x00ours"})
	theirs := f.tree(map[string]string{"bin": "\x00theirs"})

	res, err := Trees(f.store, ours, theirs, base, Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"bin", "md"}, res.Index.ConflictPaths())

	kinds := map[string]ConflictKind{}
	for _, c := range res.Conflicts {
		kinds[c.Path] = c.Kind
	}
	require.Equal(t, ConflictBinary, kinds["bin"])
	require.Equal(t, ConflictModifyDelete, kinds["md"])

	md, _ := res.Index.Conflict("md")
	require.NotNil(t, md.Ancestor)
	require.NotNil(t, md.Ours)
	require.Nil(t, md.Theirs)
}

func TestTreesAddAddAndUnrelatedHistories(t *testing.T) {
	f := fixture{t: t, store: object.NewMemoryStore(object.SHA1)}
	ours := f.tree(map[string]string{"same": "s\n", "diff": "o\n"})
	theirs := f.tree(map[string]string{"same": "s\n", "diff": "t\n"})

	res, err := Trees(f.store, ours, theirs, object.ID{}, Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"diff"}, res.Index.ConflictPaths())
	c, _ := res.Index.Conflict("diff")
	require.Nil(t, c.Ancestor)
	_, err = res.Index.Entry("same", index.Normal)
	require.NoError(t, err)
}

func TestTreesModeMerge(t *testing.T) {
	f := fixture{t: t, store: object.NewMemoryStore(object.SHA1)}
	bid, err := f.store.WriteBlob([]byte("#!/bin/sh\n"))
	require.NoError(t, err)
	changed, err := f.store.WriteBlob([]byte("#!/bin/sh\necho hi\n"))
	require.NoError(t, err)

	build := func(mode object.FileMode, blob object.ID) object.ID {
		root, err := tree.Build(f.store, []tree.File{{Path: "run.sh", Mode: mode, ID: blob}})
		require.NoError(t, err)
		return root
	}
	base := build(object.ModeFile, bid)
	ours := build(object.ModeExecutable, bid)
	theirs := build(object.ModeFile, changed)

	res, err := Trees(f.store, ours, theirs, base, Options{})
	require.NoError(t, err)
	require.False(t, res.HasConflicts())
	e, err := res.Index.Entry("run.sh", index.Normal)
	require.NoError(t, err)
	require.Equal(t, object.ModeExecutable, e.Mode)
	require.Equal(t, changed, e.ID)
}

func TestTreesFileDirectoryConflict(t *testing.T) {
	f := fixture{t: t, store: object.NewMemoryStore(object.SHA1)}
	base := f.tree(map[string]string{"keep": "k\n"})
	ours := f.tree(map[string]string{"keep": "k\n", "thing": "file\n"})
	theirs := f.tree(map[string]string{"keep": "k\n", "thing/inner": "nested\n"})

	res, err := Trees(f.store, ours, theirs, base, Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"thing"}, res.Index.ConflictPaths())
	require.Equal(t, ConflictDirectory, res.Conflicts[0].Kind)
	c, _ := res.Index.Conflict("thing")
	require.NotNil(t, c.Ours)
	require.Nil(t, c.Theirs)
	_, err = res.Index.Entry("thing/inner", index.Normal)
	require.NoError(t, err)
}
