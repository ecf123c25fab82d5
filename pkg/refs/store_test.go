package refs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odvcencio/vcscore/pkg/object"
)

func testID(i int) object.ID {
	return object.HashObject(object.SHA1, object.TypeCommit, []byte(fmt.Sprintf("commit %d", i)))
}

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	return NewStore(dir, object.SHA1, nil), dir
}

func TestCreateLookupResolve(t *testing.T) {
	s, _ := newTestStore(t)
	id := testID(1)

	ref, err := s.Create("refs/heads/main", id, false, "init")
	require.NoError(t, err)
	require.Equal(t, id, ref.Target)

	require.NoError(t, s.SetSymbolicTarget(HEAD, "refs/heads/main"))

	head, err := s.Lookup(HEAD)
	require.NoError(t, err)
	require.True(t, head.IsSymbolic())
	require.Equal(t, "refs/heads/main", head.Symbolic)

	got, err := s.ResolveToID(HEAD)
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func TestCreateExistingFailsUnlessForced(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Create("refs/heads/main", testID(1), false, "")
	require.NoError(t, err)

	_, err = s.Create("refs/heads/main", testID(2), false, "")
	require.ErrorIs(t, err, ErrAlreadyExists)

	_, err = s.Create("refs/heads/main", testID(2), true, "")
	require.NoError(t, err)
	got, err := s.ResolveToID("refs/heads/main")
	require.NoError(t, err)
	require.Equal(t, testID(2), got)
}

func TestLookupMissing(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Lookup("refs/heads/nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUnbornHeadResolvesNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.SetSymbolicTarget(HEAD, "refs/heads/main"))

	_, err := s.ResolveToID(HEAD)
	require.ErrorIs(t, err, ErrNotFound)

	target, err := s.SymbolicTarget(HEAD)
	require.NoError(t, err)
	require.Equal(t, "refs/heads/main", target)
}

func TestSymbolicCycleIsInvalid(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.SetSymbolicTarget("refs/heads/a", "refs/heads/b"))
	require.NoError(t, s.SetSymbolicTarget("refs/heads/b", "refs/heads/a"))

	_, err := s.ResolveToID("refs/heads/a")
	require.ErrorIs(t, err, ErrInvalidReference)
}

func TestSymbolicChainDepthLimit(t *testing.T) {
	s, _ := newTestStore(t)
	// refs/heads/r0 -> r1 -> ... -> r6 (direct): six hops.
	for i := 0; i < 6; i++ {
		require.NoError(t, s.SetSymbolicTarget(fmt.Sprintf("refs/heads/r%d", i), fmt.Sprintf("refs/heads/r%d", i+1)))
	}
	_, err := s.Create("refs/heads/r6", testID(1), false, "")
	require.NoError(t, err)

	_, err = s.ResolveToID("refs/heads/r0")
	require.ErrorIs(t, err, ErrInvalidReference)

	got, err := s.ResolveToID("refs/heads/r1")
	require.NoError(t, err)
	require.Equal(t, testID(1), got)
}

func TestDeleteReturnsPriorTarget(t *testing.T) {
	s, dir := newTestStore(t)
	_, err := s.Create("refs/heads/feature/x", testID(3), false, "")
	require.NoError(t, err)

	prior, err := s.Delete("refs/heads/feature/x")
	require.NoError(t, err)
	require.Equal(t, testID(3), prior)

	_, err = s.Delete("refs/heads/feature/x")
	require.ErrorIs(t, err, ErrNotFound)

	_, statErr := os.Stat(filepath.Join(dir, "refs", "heads", "feature"))
	require.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(dir, "logs", "refs", "heads", "feature"))
	require.True(t, os.IsNotExist(statErr))
}

func TestDeleteThenCreateParentName(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Create("refs/heads/feature/x", testID(3), false, "create")
	require.NoError(t, err)
	_, err = s.Delete("refs/heads/feature/x")
	require.NoError(t, err)

	_, err = s.Create("refs/heads/feature", testID(4), false, "create")
	require.NoError(t, err)
	got, err := s.ResolveToID("refs/heads/feature")
	require.NoError(t, err)
	require.Equal(t, testID(4), got)
	entries, err := s.ReadReflog("refs/heads/feature", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestIterateReportsListFailure(t *testing.T) {
	s, dir := newTestStore(t)
	_, err := s.Create("refs/heads/main", testID(1), false, "")
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "refs", "heads")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "refs", "heads"), []byte("not a dir"), 0o644))

	var errs []error
	for r, err := range s.Iterate(Local) {
		require.Empty(t, r.Name)
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	require.Error(t, errs[0])
}

func TestSetDirectTargetDetachesHead(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.SetSymbolicTarget(HEAD, "refs/heads/main"))
	require.NoError(t, s.SetDirectTarget(HEAD, testID(7), "checkout"))

	head, err := s.Lookup(HEAD)
	require.NoError(t, err)
	require.False(t, head.IsSymbolic())
	require.Equal(t, testID(7), head.Target)
}

func TestIterateIsSnapshotAndRestartable(t *testing.T) {
	s, _ := newTestStore(t)
	for _, name := range []string{"refs/heads/main", "refs/heads/dev", "refs/remotes/origin/main", "refs/tags/v1"} {
		_, err := s.Create(name, testID(1), false, "")
		require.NoError(t, err)
	}

	collect := func(k Kind) []string {
		var names []string
		for r, err := range s.Iterate(k) {
			require.NoError(t, err)
			names = append(names, r.Name)
		}
		return names
	}

	require.Equal(t, []string{"refs/heads/dev", "refs/heads/main"}, collect(Local))
	require.Equal(t, []string{"refs/remotes/origin/main"}, collect(Remote))
	require.Equal(t, []string{"refs/tags/v1"}, collect(Tags))
	require.Len(t, collect(All), 4)

	seq := s.Iterate(Local)
	var first []string
	for r, err := range seq {
		require.NoError(t, err)
		first = append(first, r.Name)
		_, err = s.Create("refs/heads/zz-added-during", testID(2), true, "")
		require.NoError(t, err)
	}
	require.Equal(t, []string{"refs/heads/dev", "refs/heads/main"}, first)

	var second []string
	for r, err := range seq {
		require.NoError(t, err)
		second = append(second, r.Name)
	}
	require.Equal(t, []string{"refs/heads/dev", "refs/heads/main", "refs/heads/zz-added-during"}, second)
}

func TestDWIM(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Create("refs/heads/main", testID(1), false, "")
	require.NoError(t, err)
	_, err = s.Create("refs/remotes/origin/main", testID(2), false, "")
	require.NoError(t, err)
	_, err = s.Create("refs/tags/v1", testID(3), false, "")
	require.NoError(t, err)
	require.NoError(t, s.SetSymbolicTarget("refs/remotes/origin/HEAD", "refs/remotes/origin/main"))

	tests := map[string]string{
		"main":        "refs/heads/main",
		"origin/main": "refs/remotes/origin/main",
		"v1":          "refs/tags/v1",
		"origin":      "refs/remotes/origin/HEAD",
		"heads/main":  "refs/heads/main",
	}
	for short, want := range tests {
		got, err := s.DWIM(short)
		require.NoError(t, err, short)
		require.Equal(t, want, got, short)
	}

	_, err = s.DWIM("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestValidateName(t *testing.T) {
	valid := []string{"HEAD", "MERGE_HEAD", "refs/heads/main", "refs/heads/feature/x-1", "refs/tags/v1.0"}
	for _, n := range valid {
		require.NoError(t, ValidateName(n), n)
	}
	invalid := []string{
		"", "head", "main", "refs/heads/", "refs//heads", "refs/heads/a..b",
		"refs/heads/a.lock", "refs/heads/.hidden", "refs/heads/a b", "refs/heads/a~1",
		"refs/heads/a^", "refs/heads/a:b", "refs/heads/a?", "refs/heads/a*", "refs/heads/a[",
		"refs/heads/a\\b", "refs/heads/a\x01", "refs/heads/a@{1}", "refs/heads/end.",
	}
	for _, n := range invalid {
		require.ErrorIs(t, ValidateName(n), ErrInvalidReference, n)
	}
}

func TestUpdateCASConcurrentSingleWinner(t *testing.T) {
	s, _ := newTestStore(t)
	base := testID(0)
	require.NoError(t, s.Update("refs/heads/main", base, "base"))

	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			results <- s.Update("refs/heads/main", testID(i+1), "race", base)
		}()
	}
	wg.Wait()
	close(results)

	wins, mismatches := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		default:
			require.ErrorIs(t, err, ErrCASMismatch)
			mismatches++
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, workers-1, mismatches)
}

func TestUpdateCASCleansLockOnMismatch(t *testing.T) {
	s, dir := newTestStore(t)
	require.NoError(t, s.Update("refs/heads/main", testID(1), ""))

	err := s.Update("refs/heads/main", testID(2), "", testID(3))
	require.ErrorIs(t, err, ErrCASMismatch)

	_, statErr := os.Stat(filepath.Join(dir, "refs", "heads", "main.lock"))
	require.True(t, os.IsNotExist(statErr))
}

func TestReflogNewestFirst(t *testing.T) {
	s, _ := newTestStore(t)
	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Update("refs/heads/main", testID(i), fmt.Sprintf("step %d", i)))
	}

	entries, err := s.ReadReflog("refs/heads/main", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, testID(5), entries[0].NewID)
	require.Equal(t, testID(4), entries[0].OldID)
	require.Equal(t, "step 5", entries[0].Reason)

	all, err := s.ReadReflog("refs/heads/main", 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	require.True(t, all[4].OldID.IsZero())
}
