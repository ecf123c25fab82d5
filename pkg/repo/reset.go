package repo

import (
	"context"
	"fmt"

	"github.com/odvcencio/vcscore/pkg/index"
	"github.com/odvcencio/vcscore/pkg/object"
	"github.com/odvcencio/vcscore/pkg/refs"
	"github.com/odvcencio/vcscore/pkg/worktree"
)

// ResetMode selects how much of the repository Reset rewrites.
type ResetMode uint8

const (
	// ResetSoft moves HEAD only.
	ResetSoft ResetMode = iota
	// ResetMixed also replaces the index with the target tree.
	ResetMixed
	// ResetHard also overwrites the working tree.
	ResetHard
)

// Reset moves HEAD's branch to the commit rev resolves to and, depending on
// mode, rewrites the index and working tree to match it. Any merge state
// is cleared.
func (r *Repository) Reset(ctx context.Context, rev string, mode ResetMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.resolveRevision(rev)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if err := r.reset(ctx, id, mode, "reset: moving to "+rev); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

func (r *Repository) reset(ctx context.Context, id object.ID, mode ResetMode, reason string) error {
	if mode == ResetHard {
		if err := r.requireWorktree("reset --hard"); err != nil {
			return err
		}
	}
	c, err := r.store.ReadCommit(id)
	if err != nil {
		return err
	}

	switch mode {
	case ResetMixed:
		idx := index.New()
		if err := idx.ReadTree(r.store, c.Tree); err != nil {
			return err
		}
		if err := r.saveIndex(idx); err != nil {
			return err
		}
	case ResetHard:
		baseline, err := r.loadIndex()
		if err != nil {
			return err
		}
		next, err := r.wt.CheckoutTree(ctx, worktree.NewCheckout(worktree.Force, nil), c.Tree, baseline)
		if err != nil {
			return err
		}
		if err := r.saveIndex(next); err != nil {
			return err
		}
	}

	head, err := r.headID()
	if err != nil {
		return err
	}
	if head != id {
		if !head.IsZero() {
			if err := r.refs.Update(refs.OrigHead, head, reason); err != nil {
				r.logger.Warn("write ORIG_HEAD failed", "err", err)
			}
		}
		if err := r.advanceHead(head, id, reason); err != nil {
			return err
		}
	}
	return r.cleanup()
}
