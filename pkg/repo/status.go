package repo

import (
	"context"
	"fmt"

	"github.com/odvcencio/vcscore/pkg/tree"
	"github.com/odvcencio/vcscore/pkg/worktree"
)

// Status compares HEAD, the index and the working tree. Ignored files are
// not reported; conflicted paths are reported as StatusConflict on both
// sides.
func (r *Repository) Status(ctx context.Context) ([]worktree.StatusEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireWorktree("status"); err != nil {
		return nil, err
	}
	headTree, err := r.headTree()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	head, err := tree.FlattenMap(r.store, headTree)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	idx, err := r.loadIndex()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	ig, err := r.wt.LoadIgnore()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	return r.wt.Status(ctx, head, idx, ig)
}

// IsClean reports whether Status has nothing to show, untracked files
// included.
func (r *Repository) IsClean(ctx context.Context) (bool, error) {
	entries, err := r.Status(ctx)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}
