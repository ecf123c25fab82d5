package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odvcencio/vcscore/pkg/refs"
	"github.com/odvcencio/vcscore/pkg/worktree"
)

func TestCheckoutBranchAndDetached(t *testing.T) {
	remote := seededRemote(t, 2)
	local := cloneFrom(t, remote.r.Root(), CloneOptions{})
	ctx := context.Background()
	local.commit("local", map[string]string{"local.txt": "local\n"})

	id, err := local.r.Checkout(ctx, "origin/main", 0)
	require.NoError(t, err)
	require.Equal(t, remote.head(), id)
	require.False(t, local.exists("local.txt"))

	head, err := local.r.Head()
	require.NoError(t, err)
	require.Empty(t, head.Symbolic)
	require.Equal(t, id, head.Target)
	br, err := local.r.CurrentBranch()
	require.NoError(t, err)
	require.Empty(t, br)

	_, err = local.r.Checkout(ctx, "HEAD~1", 0)
	require.NoError(t, err)
	require.Equal(t, "line\n", local.read("remote.txt"))

	local.checkout("main")
	br, err = local.r.CurrentBranch()
	require.NoError(t, err)
	require.Equal(t, "refs/heads/main", br)
	require.Equal(t, "local\n", local.read("local.txt"))
	require.Equal(t, "line\nline\n", local.read("remote.txt"))

	entries, err := local.r.Reflog(refs.HEAD, 0)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
}

func TestCheckoutStreamReportsProgress(t *testing.T) {
	f := newFixture(t)
	f.commit("base", map[string]string{"a.txt": "a\n"})
	_, err := f.r.CreateBranch("topic", refs.HEAD, false)
	require.NoError(t, err)
	f.checkout("topic")
	f.commit("topic", map[string]string{"b.txt": "b\n", "c/d.txt": "d\n"})
	f.checkout("main")

	var events []worktree.Progress
	_, err = f.r.CheckoutStream(context.Background(), "topic", 0).Wait(func(p worktree.Progress) {
		events = append(events, p)
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.True(t, f.exists("c/d.txt"))
}

func TestCheckoutRefusesLocalChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.commit("base", map[string]string{"a.txt": "a\n"})
	_, err := f.r.CreateBranch("topic", refs.HEAD, false)
	require.NoError(t, err)
	f.checkout("topic")
	f.commit("topic", map[string]string{"a.txt": "topic\n"})
	f.checkout("main")

	f.write("a.txt", "local edit\n")
	_, err = f.r.Checkout(ctx, "topic", 0)
	require.ErrorIs(t, err, worktree.ErrCheckoutConflict)
	require.Equal(t, "local edit\n", f.read("a.txt"))
	br, err := f.r.CurrentBranch()
	require.NoError(t, err)
	require.Equal(t, "refs/heads/main", br)

	_, err = f.r.Checkout(ctx, "topic", worktree.Force)
	require.NoError(t, err)
	require.Equal(t, "topic\n", f.read("a.txt"))
}

func TestCheckoutCarriesStagedChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.commit("base", map[string]string{"a.txt": "a\n", "keep.txt": "keep\n"})
	_, err := f.r.CreateBranch("topic", refs.HEAD, false)
	require.NoError(t, err)
	f.checkout("topic")
	f.commit("topic", map[string]string{"a.txt": "topic\n"})
	f.checkout("main")

	f.write("keep.txt", "staged edit\n")
	f.write("added.txt", "added\n")
	require.NoError(t, f.r.Add(ctx, "keep.txt", "added.txt"))

	f.checkout("topic")
	require.Equal(t, "topic\n", f.read("a.txt"))
	require.Equal(t, "staged edit\n", f.read("keep.txt"))

	entries, err := f.r.Status(ctx)
	require.NoError(t, err)
	got := make(map[string]worktree.FileStatus)
	for _, e := range entries {
		got[e.Path] = e.IndexStatus
	}
	require.Equal(t, map[string]worktree.FileStatus{
		"added.txt": worktree.StatusNew,
		"keep.txt":  worktree.StatusModified,
	}, got)

	f.write("a.txt", "topic edit\n")
	require.NoError(t, f.r.Add(ctx, "a.txt"))
	_, err = f.r.Checkout(ctx, "main", 0)
	require.ErrorIs(t, err, worktree.ErrCheckoutConflict)
}
