package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/vcscore/pkg/index"
	"github.com/odvcencio/vcscore/pkg/object"
	"github.com/odvcencio/vcscore/pkg/progress"
	"github.com/odvcencio/vcscore/pkg/refs"
	"github.com/odvcencio/vcscore/pkg/tree"
	"github.com/odvcencio/vcscore/pkg/worktree"
)

// Checkout switches to name and returns the commit checked out. A local
// branch is checked out symbolically; a remote-tracking branch, a tag or
// any other revision detaches HEAD at its commit. A zero strategy means
// worktree.Safe.
func (r *Repository) Checkout(ctx context.Context, name string, strategy worktree.Strategy) (object.ID, error) {
	return r.CheckoutStream(ctx, name, strategy).Wait(nil)
}

// CheckoutStream is Checkout reporting one progress event per file
// written or removed.
func (r *Repository) CheckoutStream(ctx context.Context, name string, strategy worktree.Strategy) *progress.Stream[worktree.Progress, object.ID] {
	return progress.Start(ctx, func(ctx context.Context, report progress.Reporter[worktree.Progress]) (object.ID, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.checkout(ctx, name, strategy, worktree.Observer(report))
	})
}

func (r *Repository) checkout(ctx context.Context, name string, strategy worktree.Strategy, observe worktree.Observer) (object.ID, error) {
	ctx, span := tracer.Start(ctx, "repo.Checkout", trace.WithAttributes(attribute.String("checkout.target", name)))
	defer span.End()

	id, branch, err := r.checkoutTarget(ctx, name, strategy, observe)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return object.ID{}, fmt.Errorf("checkout %q: %w", name, err)
	}
	span.SetAttributes(attribute.String("checkout.commit", id.String()), attribute.Bool("checkout.detached", branch == ""))
	return id, nil
}

func (r *Repository) checkoutTarget(ctx context.Context, name string, strategy worktree.Strategy, observe worktree.Observer) (object.ID, string, error) {
	if err := r.requireWorktree("checkout"); err != nil {
		return object.ID{}, "", err
	}
	if err := r.checkNormalState(); err != nil {
		return object.ID{}, "", err
	}

	branch := ""
	full, err := r.refs.DWIM(name)
	switch {
	case err == nil && refs.IsBranch(full):
		branch = full
	case err != nil && !errors.Is(err, refs.ErrNotFound):
		return object.ID{}, "", err
	}
	id, err := r.resolveRevision(name)
	if err != nil {
		return object.ID{}, "", err
	}
	c, err := r.store.ReadCommit(id)
	if err != nil {
		return object.ID{}, "", err
	}

	from, err := r.headID()
	if err != nil {
		return object.ID{}, "", err
	}
	if err := r.syncTree(ctx, c.Tree, strategy, observe); err != nil {
		return object.ID{}, "", err
	}

	reason := fmt.Sprintf("checkout: moving from %s to %s", r.headName(from), name)
	if branch != "" {
		if err := r.refs.SetSymbolicTarget(refs.HEAD, branch); err != nil {
			return object.ID{}, "", err
		}
		if err := r.refs.AppendReflog(refs.HEAD, from, id, reason); err != nil {
			r.logger.Warn("reflog append failed", "ref", refs.HEAD, "err", err)
		}
	} else if err := r.refs.SetDirectTarget(refs.HEAD, id, reason); err != nil {
		var reflogErr *refs.ReflogError
		if !errors.As(err, &reflogErr) {
			return object.ID{}, "", err
		}
		r.logger.Warn("reflog append failed", "ref", refs.HEAD, "err", err)
	}
	r.logger.Debug("checked out", "target", name, "commit", id.Short(), "detached", branch == "")
	return id, branch, nil
}

// headName describes the current HEAD for reflog messages.
func (r *Repository) headName(head object.ID) string {
	if cur, err := r.currentBranch(); err == nil && cur != "" {
		return refs.ShortName(cur)
	}
	return head.Short()
}

// syncTree makes the working tree and index match treeID, using the
// current index as the baseline. Changes staged against HEAD survive when
// the target leaves their path as it is in HEAD; a staged path the target
// changes differently blocks a safe checkout.
func (r *Repository) syncTree(ctx context.Context, treeID object.ID, strategy worktree.Strategy, observe worktree.Observer) error {
	if strategy == 0 {
		strategy = worktree.Safe
	}
	baseline, err := r.loadIndex()
	if err != nil {
		return err
	}
	var carried []index.Entry
	var removed []string
	if strategy&worktree.Force == 0 {
		target, err := tree.FlattenMap(r.store, treeID)
		if err != nil {
			return err
		}
		carried, removed, err = r.carryStaged(baseline, target)
		if err != nil {
			return err
		}
	}

	next, err := r.wt.CheckoutTree(ctx, worktree.NewCheckout(strategy, observe), treeID, baseline)
	if err != nil {
		return err
	}
	for _, e := range carried {
		next.RemoveConflictEntries(e.Path)
		if err := next.Add(e); err != nil {
			return err
		}
	}
	for _, p := range removed {
		next.Remove(p)
	}
	return r.saveIndex(next)
}

// carryStaged finds index entries that differ from HEAD. Where target
// keeps HEAD's version the baseline is rewritten to target, so checkout
// leaves the working file alone, and the staged state is returned to be
// restored afterwards: entries to re-add and paths to drop.
func (r *Repository) carryStaged(baseline *index.Index, target map[string]tree.File) ([]index.Entry, []string, error) {
	headTree, err := r.headTree()
	if err != nil {
		return nil, nil, err
	}
	head, err := tree.FlattenMap(r.store, headTree)
	if err != nil {
		return nil, nil, err
	}
	staged := baseline.Files()

	var carried []index.Entry
	var removed, blocked []string
	for _, p := range unionPaths(head, staged) {
		h, hok := head[p]
		s, sok := staged[p]
		if sameFile(h, hok, s, sok) {
			continue
		}
		t, tok := target[p]
		switch {
		case sameFile(t, tok, s, sok):
		case sameFile(t, tok, h, hok):
			if tok {
				if err := baseline.Add(index.Entry{Path: p, ID: t.ID, Mode: t.Mode}); err != nil {
					return nil, nil, err
				}
			} else {
				baseline.Remove(p)
			}
			if sok {
				e, err := r.stagedEntry(p, s)
				if err != nil {
					return nil, nil, err
				}
				carried = append(carried, e)
			} else {
				removed = append(removed, p)
			}
		default:
			blocked = append(blocked, p)
		}
	}
	if len(blocked) > 0 {
		return nil, nil, &worktree.CheckoutConflictError{Paths: blocked}
	}
	return carried, removed, nil
}

func (r *Repository) stagedEntry(p string, f tree.File) (index.Entry, error) {
	idx, err := r.loadIndex()
	if err != nil {
		return index.Entry{}, err
	}
	if e, err := idx.Entry(p, index.Normal); err == nil {
		return e, nil
	}
	return index.Entry{Path: p, ID: f.ID, Mode: f.Mode}, nil
}

func sameFile(a tree.File, aok bool, b tree.File, bok bool) bool {
	if !aok || !bok {
		return aok == bok
	}
	return a.ID == b.ID && a.Mode == b.Mode
}

func unionPaths(maps ...map[string]tree.File) []string {
	seen := make(map[string]struct{})
	for _, m := range maps {
		for p := range m {
			seen[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
