package repo

import (
	"errors"
	"fmt"

	"github.com/odvcencio/vcscore/pkg/object"
	"github.com/odvcencio/vcscore/pkg/refs"
	"github.com/odvcencio/vcscore/pkg/revwalk"
	"github.com/odvcencio/vcscore/pkg/tree"
)

// Walk visits the history of rev newest first until visit returns false.
func (r *Repository) Walk(rev string, visit func(*revwalk.Commit) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.resolveRevision(rev)
	if err != nil {
		return fmt.Errorf("walk: %w", err)
	}
	w, err := r.walker()
	if err != nil {
		return fmt.Errorf("walk: %w", err)
	}
	return w.Walk(id, visit)
}

// Log returns up to limit commits of rev's history, newest first. A limit
// of zero or less returns everything.
func (r *Repository) Log(rev string, limit int) ([]*revwalk.Commit, error) {
	var out []*revwalk.Commit
	err := r.Walk(rev, func(c *revwalk.Commit) bool {
		out = append(out, c)
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, fmt.Errorf("log: %w", err)
	}
	return out, nil
}

// resolveOrUnborn resolves rev, mapping an unborn HEAD or a missing
// reference to the zero ID.
func (r *Repository) resolveOrUnborn(rev string) (object.ID, error) {
	id, err := r.resolveRevision(rev)
	if errors.Is(err, refs.ErrNotFound) {
		return object.ID{}, nil
	}
	return id, err
}

// AheadBehind counts the commits on a but not b and on b but not a. A side
// that resolves to no commit, such as an unborn HEAD, counts as empty: it
// is 0 and the other side reports its full history.
func (r *Repository) AheadBehind(a, b string) (ahead, behind int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	aID, err := r.resolveOrUnborn(a)
	if err != nil {
		return 0, 0, fmt.Errorf("ahead/behind: %w", err)
	}
	bID, err := r.resolveOrUnborn(b)
	if err != nil {
		return 0, 0, fmt.Errorf("ahead/behind: %w", err)
	}
	w, err := r.walker()
	if err != nil {
		return 0, 0, fmt.Errorf("ahead/behind: %w", err)
	}
	ahead, behind, err = w.AheadBehind(aID, bID)
	if err != nil {
		return 0, 0, fmt.Errorf("ahead/behind %s..%s: %w", a, b, err)
	}
	return ahead, behind, nil
}

// IsReachable reports whether rev's commit is an ancestor of, or equal to,
// any of from.
func (r *Repository) IsReachable(rev string, from ...string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.resolveRevision(rev)
	if err != nil {
		return false, fmt.Errorf("reachable: %w", err)
	}
	starts := make([]object.ID, 0, len(from))
	for _, f := range from {
		fid, err := r.resolveRevision(f)
		if err != nil {
			return false, fmt.Errorf("reachable: %w", err)
		}
		starts = append(starts, fid)
	}
	w, err := r.walker()
	if err != nil {
		return false, fmt.Errorf("reachable: %w", err)
	}
	return w.IsReachable(id, starts)
}

// MergeBase returns the best common ancestor of a and b, or the zero ID
// for unrelated histories.
func (r *Repository) MergeBase(a, b string) (object.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	aID, err := r.resolveRevision(a)
	if err != nil {
		return object.ID{}, fmt.Errorf("merge base: %w", err)
	}
	bID, err := r.resolveRevision(b)
	if err != nil {
		return object.ID{}, fmt.Errorf("merge base: %w", err)
	}
	w, err := r.walker()
	if err != nil {
		return object.ID{}, fmt.Errorf("merge base: %w", err)
	}
	return w.MergeBase(aID, bID)
}

// Diff compares the trees of two revisions. An empty from compares
// against the empty tree.
func (r *Repository) Diff(from, to string, opts tree.Options) ([]tree.Delta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var oldTree object.ID
	if from != "" {
		id, err := r.resolveRevision(from)
		if err != nil {
			return nil, fmt.Errorf("diff: %w", err)
		}
		if oldTree, err = r.commitTree(id); err != nil {
			return nil, fmt.Errorf("diff: %w", err)
		}
	}
	id, err := r.resolveRevision(to)
	if err != nil {
		return nil, fmt.Errorf("diff: %w", err)
	}
	newTree, err := r.commitTree(id)
	if err != nil {
		return nil, fmt.Errorf("diff: %w", err)
	}
	return tree.Diff(r.store, oldTree, newTree, opts)
}

// Patch renders Diff(from, to) as a unified diff.
func (r *Repository) Patch(from, to string, opts tree.Options) ([]byte, error) {
	deltas, err := r.Diff(from, to, opts)
	if err != nil {
		return nil, err
	}
	return tree.Patch(r.store, deltas, tree.PatchOptions{Context: tree.DefaultContext})
}
