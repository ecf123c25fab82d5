package revwalk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odvcencio/vcscore/pkg/object"
)

type history struct {
	t     *testing.T
	store *object.Store
	tree  object.ID
	clock time.Time
}

func newHistory(t *testing.T) *history {
	t.Helper()
	s := object.NewMemoryStore(object.SHA1)
	tree, err := s.WriteTree(&object.Tree{})
	require.NoError(t, err)
	return &history{t: t, store: s, tree: tree, clock: time.Unix(1700000000, 0).UTC()}
}

func (h *history) commit(msg string, parents ...object.ID) object.ID {
	h.t.Helper()
	h.clock = h.clock.Add(time.Minute)
	sig := object.Signature{Name: "Test", Email: "test@example.com", When: h.clock}
	id, err := h.store.WriteCommit(&object.Commit{
		Tree:      h.tree,
		Parents:   parents,
		Author:    sig,
		Committer: sig,
		Message:   msg + "\n",
	})
	require.NoError(h.t, err)
	return id
}

// chain appends n commits on top of parent and returns them in order.
func (h *history) chain(parent object.ID, n int, prefix string) []object.ID {
	var out []object.ID
	for i := 0; i < n; i++ {
		var parents []object.ID
		if !parent.IsZero() {
			parents = []object.ID{parent}
		}
		parent = h.commit(prefix, parents...)
		out = append(out, parent)
	}
	return out
}

func TestWalkNewestFirstAndStops(t *testing.T) {
	h := newHistory(t)
	ids := h.chain(object.ID{}, 4, "c")
	w := New(h.store)

	var seen []object.ID
	require.NoError(t, w.Walk(ids[3], func(c *Commit) bool {
		seen = append(seen, c.ID)
		return true
	}))
	require.Equal(t, []object.ID{ids[3], ids[2], ids[1], ids[0]}, seen)

	seen = nil
	require.NoError(t, w.Walk(ids[3], func(c *Commit) bool {
		seen = append(seen, c.ID)
		return len(seen) < 2
	}))
	require.Len(t, seen, 2)
}

func TestCommitsIsSinglePass(t *testing.T) {
	h := newHistory(t)
	ids := h.chain(object.ID{}, 3, "c")
	seq := New(h.store).Commits(ids[2])

	n := 0
	for _, err := range seq {
		require.NoError(t, err)
		n++
	}
	require.Equal(t, 3, n)
	for range seq {
		t.Fatal("second range over the same sequence yielded")
	}
}

func TestWalkMergeVisitsEachCommitOnce(t *testing.T) {
	h := newHistory(t)
	root := h.commit("root")
	left := h.commit("left", root)
	right := h.commit("right", root)
	merge := h.commit("merge", left, right)

	var seen []object.ID
	require.NoError(t, New(h.store).Walk(merge, func(c *Commit) bool {
		seen = append(seen, c.ID)
		return true
	}))
	require.Equal(t, []object.ID{merge, right, left, root}, seen)
}

func TestRangeHidesReachable(t *testing.T) {
	h := newHistory(t)
	base := h.chain(object.ID{}, 2, "base")
	topic := h.chain(base[1], 3, "topic")

	var got []object.ID
	for c, err := range New(h.store).Range([]object.ID{topic[2]}, []object.ID{base[1]}) {
		require.NoError(t, err)
		got = append(got, c.ID)
	}
	require.Equal(t, []object.ID{topic[2], topic[1], topic[0]}, got)
}

func TestWalkMissingCommitFails(t *testing.T) {
	h := newHistory(t)
	missing := object.HashObject(object.SHA1, object.TypeCommit, []byte("nope"))
	err := New(h.store).Walk(missing, func(*Commit) bool { return true })
	require.ErrorIs(t, err, object.ErrNotFound)
}

func TestMergeBase(t *testing.T) {
	h := newHistory(t)
	shared := h.chain(object.ID{}, 3, "shared")
	ours := h.chain(shared[2], 2, "ours")
	theirs := h.chain(shared[2], 3, "theirs")
	w := New(h.store)

	base, err := w.MergeBase(ours[1], theirs[2])
	require.NoError(t, err)
	require.Equal(t, shared[2], base)

	// Cached lookups are symmetric.
	base, err = w.MergeBase(theirs[2], ours[1])
	require.NoError(t, err)
	require.Equal(t, shared[2], base)

	// Linear history: the older commit is the base.
	base, err = w.MergeBase(shared[0], ours[1])
	require.NoError(t, err)
	require.Equal(t, shared[0], base)

	unrelated := h.commit("orphan")
	base, err = w.MergeBase(unrelated, ours[1])
	require.NoError(t, err)
	require.True(t, base.IsZero())

	base, err = w.MergeBase(object.ID{}, ours[1])
	require.NoError(t, err)
	require.True(t, base.IsZero())
}

func TestMergeBaseCrissCrossPicksHighestGeneration(t *testing.T) {
	h := newHistory(t)
	root := h.commit("root")
	a1 := h.commit("a1", root)
	b1 := h.commit("b1", root)
	a2 := h.commit("a2", a1, b1)
	b2 := h.commit("b2", b1, a1)

	base, err := New(h.store).MergeBase(a2, b2)
	require.NoError(t, err)
	require.Contains(t, []object.ID{a1, b1}, base)
}

func TestMergeBaseStepLimit(t *testing.T) {
	h := newHistory(t)
	shared := h.chain(object.ID{}, 1, "root")
	left := h.chain(shared[0], 20, "l")
	right := h.chain(shared[0], 20, "r")

	old := traversalStepsLimit
	traversalStepsLimit = 5
	t.Cleanup(func() { traversalStepsLimit = old })

	_, err := New(h.store).MergeBase(left[19], right[19])
	require.ErrorContains(t, err, "maximum steps")
}

func TestIsAncestorAndIsReachable(t *testing.T) {
	h := newHistory(t)
	main := h.chain(object.ID{}, 3, "main")
	side := h.chain(main[0], 2, "side")
	w := New(h.store)

	ok, err := w.IsAncestor(main[0], main[2])
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = w.IsAncestor(main[2], main[2])
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = w.IsAncestor(main[2], main[0])
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = w.IsReachable(side[1], []object.ID{main[2]})
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = w.IsReachable(side[0], []object.ID{main[2], side[1]})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = w.IsReachable(main[1], nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAheadBehind(t *testing.T) {
	h := newHistory(t)
	shared := h.chain(object.ID{}, 2, "shared")
	local := h.chain(shared[1], 1, "L")
	remote := h.chain(shared[1], 2, "R")
	w := New(h.store)

	ahead, behind, err := w.AheadBehind(local[0], remote[1])
	require.NoError(t, err)
	require.Equal(t, [2]int{1, 2}, [2]int{ahead, behind})

	merge := h.commit("merge", local[0], remote[1])
	ahead, behind, err = w.AheadBehind(merge, remote[1])
	require.NoError(t, err)
	require.Equal(t, [2]int{2, 0}, [2]int{ahead, behind})

	ahead, behind, err = w.AheadBehind(remote[1], remote[1])
	require.NoError(t, err)
	require.Equal(t, [2]int{0, 0}, [2]int{ahead, behind})
}

func TestAheadBehindUnborn(t *testing.T) {
	h := newHistory(t)
	remote := h.chain(object.ID{}, 4, "R")
	w := New(h.store)

	ahead, behind, err := w.AheadBehind(object.ID{}, remote[3])
	require.NoError(t, err)
	require.Equal(t, [2]int{0, 4}, [2]int{ahead, behind})

	ahead, behind, err = w.AheadBehind(remote[3], object.ID{})
	require.NoError(t, err)
	require.Equal(t, [2]int{4, 0}, [2]int{ahead, behind})

	ahead, behind, err = w.AheadBehind(object.ID{}, object.ID{})
	require.NoError(t, err)
	require.Equal(t, [2]int{0, 0}, [2]int{ahead, behind})
}

func TestAheadBehindMatchesRangeCounts(t *testing.T) {
	h := newHistory(t)
	root := h.commit("root")
	a1 := h.commit("a1", root)
	b1 := h.commit("b1", root)
	a2 := h.commit("a2", a1, b1)
	b2 := h.commit("b2", b1)
	b3 := h.commit("b3", b2, a1)
	w := New(h.store)

	count := func(include, exclude object.ID) int {
		n := 0
		for _, err := range w.Range([]object.ID{include}, []object.ID{exclude}) {
			require.NoError(t, err)
			n++
		}
		return n
	}
	ahead, behind, err := w.AheadBehind(a2, b3)
	require.NoError(t, err)
	require.Equal(t, count(a2, b3), ahead)
	require.Equal(t, count(b3, a2), behind)
}

func TestShallowBoundary(t *testing.T) {
	h := newHistory(t)
	ids := h.chain(object.ID{}, 5, "c")
	w := New(h.store, WithShallow([]object.ID{ids[2]}))

	n, err := w.Count(ids[4])
	require.NoError(t, err)
	require.Equal(t, 3, n)

	c, err := w.Commit(ids[2])
	require.NoError(t, err)
	require.Empty(t, c.ParentIDs())
	require.Len(t, c.Parents, 1)

	n, err = w.Count(object.ID{})
	require.NoError(t, err)
	require.Zero(t, n)
}
