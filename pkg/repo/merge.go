package repo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/vcscore/pkg/index"
	"github.com/odvcencio/vcscore/pkg/merge"
	"github.com/odvcencio/vcscore/pkg/object"
	"github.com/odvcencio/vcscore/pkg/refs"
	"github.com/odvcencio/vcscore/pkg/tree"
	"github.com/odvcencio/vcscore/pkg/worktree"
)

// Resolver settles one conflicted path during CheckForConflicts. It edits
// idx in place and reports whether the path is resolved and whether the
// working tree must be rewritten from the index afterwards.
//
// The repository lock is held while resolvers run: a resolver may read
// r.Store() but must not call Repository methods.
type Resolver interface {
	ResolveConflict(ctx context.Context, c index.Conflict, idx *index.Index, r *Repository) (resolved, requiresCheckout bool, err error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, c index.Conflict, idx *index.Index, r *Repository) (bool, bool, error)

func (f ResolverFunc) ResolveConflict(ctx context.Context, c index.Conflict, idx *index.Index, r *Repository) (bool, bool, error) {
	return f(ctx, c, idx, r)
}

var (
	// TakeOurs resolves every conflict with the HEAD side. A path deleted
	// in HEAD is removed.
	TakeOurs Resolver = takeSide(index.Ours)
	// TakeTheirs resolves every conflict with the merged-in side.
	TakeTheirs Resolver = takeSide(index.Theirs)
)

type takeSide index.Stage

func (s takeSide) ResolveConflict(_ context.Context, c index.Conflict, idx *index.Index, _ *Repository) (bool, bool, error) {
	side := c.Ours
	if index.Stage(s) == index.Theirs {
		side = c.Theirs
	}
	if side == nil {
		idx.Remove(c.Path)
		return true, true, nil
	}
	idx.RemoveConflictEntries(c.Path)
	if err := idx.Add(index.Entry{Path: c.Path, ID: side.ID, Mode: side.Mode}); err != nil {
		return false, false, err
	}
	return true, true, nil
}

// MergeOptions configures Merge.
type MergeOptions struct {
	// Preference overrides merge.ff from the configuration when set.
	Preference *merge.Preference
	// Message is the merge commit message. Empty generates one.
	Message string
	// Signature authors the merge commit; nil uses the configured user.
	Signature *object.Signature
	// Resolver is offered each conflicted path before Merge gives up.
	Resolver Resolver
	// NoCommit leaves a clean merge staged with MERGE_HEAD set instead of
	// committing it.
	NoCommit bool
}

// MergeResult describes what Merge did.
type MergeResult struct {
	Analysis   merge.Analysis
	Preference merge.Preference
	// Head is HEAD's commit after the merge.
	Head object.ID
	// Commit is the merge commit, zero unless one was created.
	Commit object.ID
	// Conflicts lists paths left conflicted in the index.
	Conflicts []string
	// Merged lists paths combined from both sides' content.
	Merged []string

	fastForward bool
}

// IsUpToDate reports that nothing was merged.
func (m *MergeResult) IsUpToDate() bool { return m.Analysis.IsUpToDate() }

// IsFastForward reports that HEAD was moved without a merge commit.
func (m *MergeResult) IsFastForward() bool { return m.fastForward }

// IsMerge reports that a merge commit was created.
func (m *MergeResult) IsMerge() bool { return !m.Commit.IsZero() }

// AnalyzeMerge classifies merging rev into HEAD and returns the configured
// fast-forward preference.
func (r *Repository) AnalyzeMerge(rev string) (merge.Analysis, merge.Preference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, err := r.resolveRevision(rev)
	if err != nil {
		return merge.AnalysisNone, merge.PreferenceNone, fmt.Errorf("merge analysis: %w", err)
	}
	a, err := r.analyze(target)
	if err != nil {
		return merge.AnalysisNone, merge.PreferenceNone, err
	}
	pref, err := merge.ParsePreference(r.cfg.Merge.FF)
	if err != nil {
		return merge.AnalysisNone, merge.PreferenceNone, err
	}
	return a, pref, nil
}

func (r *Repository) analyze(target object.ID) (merge.Analysis, error) {
	head, err := r.headID()
	if err != nil {
		return merge.AnalysisNone, err
	}
	w, err := r.walker()
	if err != nil {
		return merge.AnalysisNone, err
	}
	return merge.Analyze(w, head, target)
}

// Merge integrates the commit rev resolves to into HEAD.
//
// An unborn HEAD or an ancestor HEAD is fast-forwarded unless the
// preference forbids it. Diverged histories get a three-way merge: clean
// results are committed, conflicted ones are offered to opts.Resolver and
// otherwise left in the index with the repository in the merge state, in
// which case the returned error is a *ConflictError alongside the result.
func (r *Repository) Merge(ctx context.Context, rev string, opts MergeOptions) (*MergeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := tracer.Start(ctx, "repo.Merge", trace.WithAttributes(attribute.String("merge.target", rev)))
	defer span.End()

	res, err := r.merge(ctx, rev, opts)
	outcome := "failed"
	conflicts := 0
	if res != nil {
		conflicts = len(res.Conflicts)
		switch {
		case res.IsUpToDate():
			outcome = "up-to-date"
		case res.IsFastForward():
			outcome = "fast-forward"
		case conflicts > 0:
			outcome = "conflict"
		default:
			outcome = "normal"
		}
		span.SetAttributes(attribute.String("merge.analysis", res.Analysis.String()), attribute.Int("merge.conflicts", conflicts))
	}
	r.metrics.MergeFinished(outcome, conflicts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, fmt.Errorf("merge %s: %w", rev, err)
	}
	return res, nil
}

func (r *Repository) merge(ctx context.Context, rev string, opts MergeOptions) (*MergeResult, error) {
	if err := r.requireWorktree("merge"); err != nil {
		return nil, err
	}
	if err := r.checkNormalState(); err != nil {
		return nil, err
	}
	target, err := r.resolveRevision(rev)
	if err != nil {
		return nil, err
	}
	head, err := r.headID()
	if err != nil {
		return nil, err
	}
	analysis, err := r.analyze(target)
	if err != nil {
		return nil, err
	}
	pref := merge.PreferenceNone
	if opts.Preference != nil {
		pref = *opts.Preference
	} else if pref, err = merge.ParsePreference(r.cfg.Merge.FF); err != nil {
		return nil, err
	}
	res := &MergeResult{Analysis: analysis, Preference: pref, Head: head}
	r.logger.Debug("merge analysis", "target", rev, "analysis", analysis.String(), "preference", pref.String())

	switch {
	case analysis.IsUpToDate():
		return res, nil
	case analysis.IsUnborn(), analysis.IsFastForward() && pref != merge.PreferenceNoFastForward:
		if err := r.fastForward(ctx, head, target, "merge "+rev+": Fast-forward"); err != nil {
			return nil, err
		}
		res.Head = target
		res.fastForward = true
		return res, nil
	case analysis.IsNormal() && pref == merge.PreferenceFastForwardOnly:
		return res, ErrFastForwardOnly
	}

	result, err := r.performContentMerge(ctx, head, target, rev)
	if err != nil {
		return nil, err
	}
	res.Merged = result.Merged
	message := opts.Message
	if message == "" {
		message = defaultMergeMessage(rev)
	}
	if err := r.writeMergeState(head, target, message, result); err != nil {
		return nil, err
	}

	if result.HasConflicts() {
		if opts.Resolver == nil {
			res.Conflicts = conflictPaths(result)
			return res, &ConflictError{Paths: res.Conflicts}
		}
		if err := r.checkForConflicts(ctx, opts.Resolver); err != nil {
			var ce *ConflictError
			if errors.As(err, &ce) {
				res.Conflicts = ce.Paths
			}
			return res, err
		}
	}
	if opts.NoCommit {
		return res, nil
	}
	id, err := r.commitMerge(message, opts.Signature)
	if err != nil {
		return res, err
	}
	res.Commit = id
	res.Head = id
	return res, nil
}

// fastForward checks out target's tree and moves HEAD to it. For an unborn
// HEAD the branch it names is created.
func (r *Repository) fastForward(ctx context.Context, head, target object.ID, reason string) error {
	c, err := r.store.ReadCommit(target)
	if err != nil {
		return err
	}
	if err := r.syncTree(ctx, c.Tree, worktree.Safe, nil); err != nil {
		return err
	}
	if !head.IsZero() {
		if err := r.refs.Update(refs.OrigHead, head, reason); err != nil {
			r.logger.Warn("write ORIG_HEAD failed", "err", err)
		}
	}
	return r.advanceHead(head, target, reason)
}

// performContentMerge merges target's tree into HEAD's relative to their
// merge base and writes the result to the index and working tree.
// Conflicted paths keep their stages in the index and are written with
// markers.
func (r *Repository) performContentMerge(ctx context.Context, head, target object.ID, label string) (*merge.Result, error) {
	w, err := r.walker()
	if err != nil {
		return nil, err
	}
	base, err := w.MergeBase(head, target)
	if err != nil {
		return nil, fmt.Errorf("find merge base: %w", err)
	}
	ours, err := r.commitTree(head)
	if err != nil {
		return nil, err
	}
	theirs, err := r.commitTree(target)
	if err != nil {
		return nil, err
	}
	baseTree, err := r.commitTree(base)
	if err != nil {
		return nil, err
	}

	baseline, err := r.loadIndex()
	if err != nil {
		return nil, err
	}
	if err := r.requireCleanIndex(baseline, ours); err != nil {
		return nil, err
	}

	opts := r.mergeOptions(label)
	result, err := merge.Trees(r.store, ours, theirs, baseTree, opts)
	if err != nil {
		return nil, err
	}
	run := worktree.NewCheckout(worktree.Safe|worktree.AllowConflicts, nil)
	run.Merge = opts
	next, err := r.wt.CheckoutIndex(ctx, run, result.Index, baseline)
	if err != nil {
		return nil, err
	}
	if err := r.saveIndex(next); err != nil {
		return nil, err
	}
	r.logger.Debug("content merge", "base", base.Short(), "conflicts", len(result.Conflicts), "merged", len(result.Merged))
	return result, nil
}

// commitTree returns the tree of commit id, zero for the zero ID.
func (r *Repository) commitTree(id object.ID) (object.ID, error) {
	if id.IsZero() {
		return object.ID{}, nil
	}
	c, err := r.store.ReadCommit(id)
	if err != nil {
		return object.ID{}, err
	}
	return c.Tree, nil
}

// requireCleanIndex fails when idx holds changes not in the tree headTree.
func (r *Repository) requireCleanIndex(idx *index.Index, headTree object.ID) error {
	if idx.HasConflicts() {
		return &ConflictError{Paths: idx.ConflictPaths()}
	}
	head, err := tree.FlattenMap(r.store, headTree)
	if err != nil {
		return err
	}
	staged := idx.Files()
	var dirty []string
	for _, p := range unionPaths(head, staged) {
		h, hok := head[p]
		s, sok := staged[p]
		if !sameFile(h, hok, s, sok) {
			dirty = append(dirty, p)
		}
	}
	if len(dirty) > 0 {
		return &worktree.CheckoutConflictError{Paths: dirty}
	}
	return nil
}

func (r *Repository) writeMergeState(head, target object.ID, message string, result *merge.Result) error {
	if err := r.refs.Update(refs.OrigHead, head, "merge"); err != nil {
		r.logger.Warn("write ORIG_HEAD failed", "err", err)
	}
	if err := r.refs.Update(refs.MergeHead, target, "merge"); err != nil {
		return fmt.Errorf("write MERGE_HEAD: %w", err)
	}
	if result.HasConflicts() {
		var b strings.Builder
		b.WriteString(message)
		b.WriteString("\n\nConflicts:\n")
		for _, p := range conflictPaths(result) {
			b.WriteString("\t" + p + "\n")
		}
		message = b.String()
	}
	if err := os.WriteFile(r.path(mergeMsg), []byte(message+"\n"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", mergeMsg, err)
	}
	return nil
}

func conflictPaths(result *merge.Result) []string {
	paths := make([]string, len(result.Conflicts))
	for i, c := range result.Conflicts {
		paths[i] = c.Path
	}
	return paths
}

func defaultMergeMessage(rev string) string {
	switch {
	case refs.IsRemote(rev):
		return fmt.Sprintf("Merge remote-tracking branch '%s'", refs.ShortName(rev))
	case strings.Contains(rev, "/") && !refs.IsBranch(rev):
		return fmt.Sprintf("Merge remote-tracking branch '%s'", rev)
	default:
		return fmt.Sprintf("Merge branch '%s'", refs.ShortName(rev))
	}
}

// CheckForConflicts offers each conflicted index path to resolver once and
// saves the index. When any resolution asks for it the working tree is
// rewritten from the index. Paths still conflicted afterwards fail with a
// *ConflictError. A nil resolver only reports.
func (r *Repository) CheckForConflicts(ctx context.Context, resolver Resolver) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkForConflicts(ctx, resolver)
}

func (r *Repository) checkForConflicts(ctx context.Context, resolver Resolver) error {
	idx, err := r.loadIndex()
	if err != nil {
		return err
	}
	if !idx.HasConflicts() {
		return nil
	}
	if resolver == nil {
		return &ConflictError{Paths: idx.ConflictPaths()}
	}

	baseline, err := r.loadIndex()
	if err != nil {
		return err
	}
	checkout := false
	// Snapshot first: resolvers mutate idx.
	var pending []index.Conflict
	for c := range idx.Conflicts() {
		pending = append(pending, c)
	}
	for _, c := range pending {
		resolved, requiresCheckout, err := resolver.ResolveConflict(ctx, c, idx, r)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", c.Path, err)
		}
		checkout = checkout || requiresCheckout
		r.logger.Debug("conflict resolver", "path", c.Path, "resolved", resolved)
	}

	if checkout && !r.bare {
		run := worktree.NewCheckout(worktree.Force|worktree.AllowConflicts, nil)
		run.Merge = r.mergeOptions(r.mergeLabel())
		if idx, err = r.wt.CheckoutIndex(ctx, run, idx, baseline); err != nil {
			return err
		}
	}
	if err := r.saveIndex(idx); err != nil {
		return err
	}
	if idx.HasConflicts() {
		return &ConflictError{Paths: idx.ConflictPaths()}
	}
	return nil
}

// mergeLabel names the merged-in side for conflict markers.
func (r *Repository) mergeLabel() string {
	id, err := r.mergeHead()
	if err != nil || id.IsZero() {
		return "theirs"
	}
	return id.Short()
}

// CommitMerge commits the resolved index with HEAD and MERGE_HEAD as
// parents and clears the merge state. An empty message uses MERGE_MSG.
func (r *Repository) CommitMerge(message string, sig *object.Signature) (object.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commitMerge(message, sig)
}

func (r *Repository) commitMerge(message string, sig *object.Signature) (object.ID, error) {
	if r.state() != StateMerge {
		return object.ID{}, fmt.Errorf("commit merge: %w: no merge in progress", ErrInvalidRepositoryState)
	}
	if strings.TrimSpace(message) == "" {
		data, err := os.ReadFile(r.path(mergeMsg))
		if err != nil {
			return object.ID{}, fmt.Errorf("commit merge: read %s: %w", mergeMsg, err)
		}
		message = string(data)
	}
	return r.commit(message, CommitOptions{Author: sig, AllowEmpty: true})
}
