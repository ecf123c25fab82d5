package repo

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odvcencio/vcscore/pkg/logging"
	"github.com/odvcencio/vcscore/pkg/refs"
	"github.com/odvcencio/vcscore/pkg/transport"
)

// seededRemote returns a repository with n commits on main.
func seededRemote(t *testing.T, n int) *fixture {
	t.Helper()
	f := newFixture(t)
	content := ""
	for i := 0; i < n; i++ {
		content += "line\n"
		f.commit("remote commit", map[string]string{"remote.txt": content})
	}
	return f
}

func fetch(t *testing.T, f *fixture, remote string, opts FetchOptions) *FetchResult {
	t.Helper()
	res, err := f.r.Fetch(context.Background(), remote, opts).Wait(nil)
	require.NoError(t, err)
	return res
}

func cloneFrom(t *testing.T, url string, opts CloneOptions) *fixture {
	t.Helper()
	dst := filepath.Join(t.TempDir(), "clone")
	r, err := Clone(context.Background(), url, dst, opts, WithLogger(logging.Discard())).Wait(nil)
	require.NoError(t, err)
	return wrap(t, r)
}

func aheadBehind(t *testing.T, f *fixture, a, b string) [2]int {
	t.Helper()
	ahead, behind, err := f.r.AheadBehind(a, b)
	require.NoError(t, err)
	return [2]int{ahead, behind}
}

func TestFetchIntoUnbornThenFastForward(t *testing.T) {
	remote := seededRemote(t, 1)
	local := newFixture(t)
	ctx := context.Background()

	require.NoError(t, local.r.SetRemote("origin", remote.r.Root()))
	res := fetch(t, local, "origin", FetchOptions{})
	require.Equal(t, "refs/heads/main", res.DefaultBranch)
	require.Len(t, res.Updated, 1)
	require.Equal(t, "refs/remotes/origin/main", res.Updated[0].Name)
	require.Equal(t, [2]int{0, 1}, aheadBehind(t, local, refs.HEAD, "origin/main"))

	merged, err := local.r.Merge(ctx, "origin/main", MergeOptions{Signature: sig()})
	require.NoError(t, err)
	require.True(t, merged.IsFastForward())
	require.False(t, merged.IsMerge())
	require.Equal(t, remote.head(), local.head())
	require.Equal(t, "line\n", local.read("remote.txt"))
	require.Equal(t, [2]int{0, 0}, aheadBehind(t, local, refs.HEAD, "origin/main"))

	br, err := local.r.CurrentBranch()
	require.NoError(t, err)
	require.Equal(t, "refs/heads/main", br)
}

func TestAheadBehindUnbornAgainstRemote(t *testing.T) {
	remote := seededRemote(t, 3)
	local := newFixture(t)

	require.NoError(t, local.r.SetRemote("origin", remote.r.Root()))
	fetch(t, local, "origin", FetchOptions{})
	require.Equal(t, [2]int{0, 3}, aheadBehind(t, local, refs.HEAD, "origin/main"))
	require.Equal(t, [2]int{3, 0}, aheadBehind(t, local, "origin/main", refs.HEAD))
}

func TestDivergedFetchAndMerge(t *testing.T) {
	remote := seededRemote(t, 1)
	local := cloneFrom(t, remote.r.Root(), CloneOptions{})
	ctx := context.Background()

	local.commit("local work", map[string]string{"local.txt": "local\n"})
	remote.commit("remote one", map[string]string{"other.txt": "one\n"})
	remote.commit("remote two", map[string]string{"other.txt": "one\ntwo\n"})

	fetch(t, local, "origin", FetchOptions{})
	require.Equal(t, [2]int{1, 2}, aheadBehind(t, local, refs.HEAD, "origin/main"))

	res, err := local.r.Merge(ctx, "origin/main", MergeOptions{Signature: sig()})
	require.NoError(t, err)
	require.True(t, res.IsMerge())
	require.False(t, res.IsFastForward())
	require.Empty(t, res.Conflicts)
	require.Equal(t, [2]int{2, 0}, aheadBehind(t, local, refs.HEAD, "origin/main"))

	require.Equal(t, "local\n", local.read("local.txt"))
	require.Equal(t, "one\ntwo\n", local.read("other.txt"))
	c, err := local.r.Store().ReadCommit(res.Commit)
	require.NoError(t, err)
	require.Equal(t, "Merge remote-tracking branch 'origin/main'\n", c.Message)

	reachable, err := local.r.IsReachable("origin/main", refs.HEAD)
	require.NoError(t, err)
	require.True(t, reachable)
}

func TestRemoteConflictMerge(t *testing.T) {
	remote := seededRemote(t, 1)
	local := cloneFrom(t, remote.r.Root(), CloneOptions{})
	ctx := context.Background()

	local.commit("local", map[string]string{"remote.txt": "local side\n"})
	remote.commit("remote", map[string]string{"remote.txt": "remote\n"})
	fetch(t, local, "origin", FetchOptions{})

	_, err := local.r.Merge(ctx, "origin/main", MergeOptions{Signature: sig()})
	var conflictErr *ConflictError
	require.ErrorAs(t, err, &conflictErr)
	require.Equal(t, []string{"remote.txt"}, conflictErr.Paths)
	require.Equal(t, StateMerge, local.r.State())
}

func TestRemoteURL(t *testing.T) {
	f := newFixture(t)

	url, err := f.r.RemoteURL("origin")
	require.NoError(t, err)
	require.Empty(t, url)
	_, err = f.r.RemoteURL("")
	require.Error(t, err)

	require.NoError(t, f.r.SetRemote("origin", "/srv/repo"))
	url, err = f.r.RemoteURL("origin")
	require.NoError(t, err)
	require.Equal(t, "/srv/repo", url)
	require.Equal(t, []string{"origin"}, f.r.Remotes())

	reopened, err := Open(f.r.Root(), WithLogger(logging.Discard()))
	require.NoError(t, err)
	url, err = reopened.RemoteURL("origin")
	require.NoError(t, err)
	require.Equal(t, "/srv/repo", url)
	require.NoError(t, reopened.Close())

	require.NoError(t, f.r.RemoveRemote("origin"))
	url, err = f.r.RemoteURL("origin")
	require.NoError(t, err)
	require.Empty(t, url)

	_, err = f.r.Fetch(context.Background(), "origin", FetchOptions{}).Wait(nil)
	require.ErrorIs(t, err, ErrRemoteNotFound)
}

func TestClone(t *testing.T) {
	remote := seededRemote(t, 2)
	_, err := remote.r.CreateTag("v1", refs.HEAD, false)
	require.NoError(t, err)

	local := cloneFrom(t, remote.r.Root(), CloneOptions{})
	require.Equal(t, remote.head(), local.head())
	require.Equal(t, "line\nline\n", local.read("remote.txt"))

	br, err := local.r.CurrentBranch()
	require.NoError(t, err)
	require.Equal(t, "refs/heads/main", br)
	up, err := local.r.Upstream("main")
	require.NoError(t, err)
	require.Equal(t, "refs/remotes/origin/main", up.Name)

	tag, err := local.r.ResolveRevision("v1")
	require.NoError(t, err)
	require.Equal(t, remote.head(), tag)

	target, err := local.r.Refs().SymbolicTarget("refs/remotes/origin/HEAD")
	require.NoError(t, err)
	require.Equal(t, "refs/remotes/origin/main", target)

	clean, err := local.r.IsClean(context.Background())
	require.NoError(t, err)
	require.True(t, clean)
}

func TestCloneEmptyAndShallow(t *testing.T) {
	empty := newFixture(t)
	local := cloneFrom(t, empty.r.Root(), CloneOptions{})
	_, err := local.r.ResolveRevision(refs.HEAD)
	require.Error(t, err)
	require.Equal(t, [2]int{0, 0}, aheadBehind(t, local, refs.HEAD, refs.HEAD))

	remote := seededRemote(t, 3)
	shallow := cloneFrom(t, remote.r.Root(), CloneOptions{Depth: 1})
	log, err := shallow.r.Log(refs.HEAD, 0)
	require.NoError(t, err)
	require.Len(t, log, 1)
	require.Equal(t, remote.head(), log[0].ID)
}

func TestCloneBare(t *testing.T) {
	remote := seededRemote(t, 1)
	local := cloneFrom(t, remote.r.Root(), CloneOptions{Bare: true, RemoteName: "upstream"})
	require.True(t, local.r.IsBare())
	require.Equal(t, remote.head(), local.head())
	url, err := local.r.RemoteURL("upstream")
	require.NoError(t, err)
	require.Equal(t, remote.r.Root(), url)
}

func TestFetchPrune(t *testing.T) {
	remote := seededRemote(t, 1)
	_, err := remote.r.CreateBranch("topic", refs.HEAD, false)
	require.NoError(t, err)
	local := cloneFrom(t, remote.r.Root(), CloneOptions{})

	_, err = local.r.ResolveRevision("origin/topic")
	require.NoError(t, err)

	_, err = remote.r.DeleteBranch("topic")
	require.NoError(t, err)

	res := fetch(t, local, "origin", FetchOptions{})
	require.Empty(t, res.Pruned)
	_, err = local.r.ResolveRevision("origin/topic")
	require.NoError(t, err)

	res = fetch(t, local, "origin", FetchOptions{Prune: true})
	require.Equal(t, []string{"refs/remotes/origin/topic"}, res.Pruned)
	_, err = local.r.ResolveRevision("origin/topic")
	require.Error(t, err)
	_, err = local.r.ResolveRevision("origin/main")
	require.NoError(t, err)
}

func TestPush(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	bare, err := InitBare(t.TempDir(), WithLogger(logging.Discard()))
	require.NoError(t, err)
	remote := wrap(t, bare)
	ctx := context.Background()

	local := newFixture(t)
	require.NoError(t, local.r.SetRemote("origin", remote.r.Dir()))
	first := local.commit("first", map[string]string{"a.txt": "a\n"})

	res, err := local.r.Push(ctx, "origin", []string{"main"}, PushOptions{}).Wait(nil)
	require.NoError(t, err)
	require.Len(t, res.Updated, 1)
	require.Equal(t, first, remote.head())
	tracking, err := local.r.ResolveRevision("origin/main")
	require.NoError(t, err)
	require.Equal(t, first, tracking)

	res, err = local.r.Push(ctx, "origin", nil, PushOptions{}).Wait(nil)
	require.NoError(t, err)
	require.Empty(t, res.Updated)

	second := local.commit("second", map[string]string{"a.txt": "a\nb\n"})
	_, err = local.r.Push(ctx, "origin", nil, PushOptions{}).Wait(nil)
	require.NoError(t, err)
	require.Equal(t, second, remote.head())

	require.NoError(t, local.r.Reset(ctx, first.String(), ResetHard))
	rewritten := local.commit("rewritten", map[string]string{"b.txt": "b\n"})
	_, err = local.r.Push(ctx, "origin", []string{"main"}, PushOptions{}).Wait(nil)
	require.ErrorIs(t, err, transport.ErrRejected)
	require.Equal(t, second, remote.head())

	_, err = local.r.Push(ctx, "origin", []string{"+main"}, PushOptions{}).Wait(nil)
	require.NoError(t, err)
	require.Equal(t, rewritten, remote.head())

	_, err = local.r.Push(ctx, "origin", []string{"main:feature"}, PushOptions{}).Wait(nil)
	require.NoError(t, err)
	feature, err := remote.r.ResolveRevision("feature")
	require.NoError(t, err)
	require.Equal(t, rewritten, feature)

	_, err = local.r.Push(ctx, "origin", []string{":feature"}, PushOptions{}).Wait(nil)
	require.NoError(t, err)
	_, err = remote.r.ResolveRevision("feature")
	require.Error(t, err)
	_, err = local.r.ResolveRevision("origin/feature")
	require.Error(t, err)
}

func TestPushToCheckedOutBranchRefused(t *testing.T) {
	remote := seededRemote(t, 1)
	local := cloneFrom(t, remote.r.Root(), CloneOptions{})
	local.commit("local", map[string]string{"x.txt": "x\n"})

	_, err := local.r.Push(context.Background(), "origin", nil, PushOptions{}).Wait(nil)
	require.ErrorIs(t, err, transport.ErrRejected)
}
