package repo

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/odvcencio/vcscore/pkg/object"
	"github.com/odvcencio/vcscore/pkg/refs"
)

// Head returns the HEAD reference without following it.
func (r *Repository) Head() (*refs.Reference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	head, err := r.refs.Lookup(refs.HEAD)
	if err != nil {
		return nil, fmt.Errorf("head: %w", err)
	}
	return head, nil
}

// CurrentBranch returns the full name of the branch HEAD points at, or ""
// when HEAD is detached. The branch may be unborn.
func (r *Repository) CurrentBranch() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentBranch()
}

func (r *Repository) currentBranch() (string, error) {
	name, err := r.refs.SymbolicTarget(refs.HEAD)
	if err != nil {
		return "", fmt.Errorf("current branch: %w", err)
	}
	if name == refs.HEAD {
		return "", nil
	}
	return name, nil
}

// headID returns the commit HEAD resolves to. An unborn HEAD yields the
// zero ID and no error.
func (r *Repository) headID() (object.ID, error) {
	id, err := r.refs.ResolveToID(refs.HEAD)
	if errors.Is(err, refs.ErrNotFound) {
		return object.ID{}, nil
	}
	if err != nil {
		return object.ID{}, fmt.Errorf("resolve HEAD: %w", err)
	}
	return id, nil
}

// headTree returns the tree of HEAD's commit, zero when unborn.
func (r *Repository) headTree() (object.ID, error) {
	head, err := r.headID()
	if err != nil || head.IsZero() {
		return object.ID{}, err
	}
	c, err := r.store.ReadCommit(head)
	if err != nil {
		return object.ID{}, fmt.Errorf("read HEAD commit: %w", err)
	}
	return c.Tree, nil
}

// advanceHead moves HEAD to id: the branch it points at when symbolic,
// HEAD itself when detached. The update is guarded by the current value;
// an unborn branch is created.
func (r *Repository) advanceHead(old, id object.ID, reason string) error {
	target, err := r.refs.SymbolicTarget(refs.HEAD)
	if err != nil {
		return err
	}
	if err := r.refs.Update(target, id, reason, old); err != nil {
		var reflogErr *refs.ReflogError
		if errors.As(err, &reflogErr) {
			r.logger.Warn("reflog append failed", "ref", target, "err", err)
			return nil
		}
		return err
	}
	if target != refs.HEAD {
		if err := r.refs.AppendReflog(refs.HEAD, old, id, reason); err != nil {
			r.logger.Warn("reflog append failed", "ref", refs.HEAD, "err", err)
		}
	}
	return nil
}

// ResolveRevision resolves a revision expression to a commit ID. It
// accepts full and abbreviated IDs, HEAD, branch, tag and remote-tracking
// names, followed by any number of ~n (n-th first-parent ancestor) and ^n
// (n-th parent) suffixes.
func (r *Repository) ResolveRevision(rev string) (object.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveRevision(rev)
}

func (r *Repository) resolveRevision(rev string) (object.ID, error) {
	rev = strings.TrimSpace(rev)
	base, ops := splitRevision(rev)
	if base == "" {
		return object.ID{}, fmt.Errorf("resolve revision %q: %w", rev, refs.ErrInvalidReference)
	}
	id, err := r.resolveName(base)
	if err != nil {
		return object.ID{}, fmt.Errorf("resolve revision %q: %w", rev, err)
	}
	id, err = r.store.PeelToCommit(id)
	if err != nil {
		return object.ID{}, fmt.Errorf("resolve revision %q: %w", rev, err)
	}
	for _, op := range ops {
		c, err := r.store.ReadCommit(id)
		if err != nil {
			return object.ID{}, fmt.Errorf("resolve revision %q: %w", rev, err)
		}
		switch op.kind {
		case '~':
			for i := 0; i < op.n; i++ {
				if len(c.Parents) == 0 {
					return object.ID{}, fmt.Errorf("resolve revision %q: %w: history too short", rev, object.ErrNotFound)
				}
				id = c.Parents[0]
				if i+1 < op.n {
					if c, err = r.store.ReadCommit(id); err != nil {
						return object.ID{}, fmt.Errorf("resolve revision %q: %w", rev, err)
					}
				}
			}
		case '^':
			if op.n == 0 {
				continue
			}
			if op.n > len(c.Parents) {
				return object.ID{}, fmt.Errorf("resolve revision %q: %w: no parent %d", rev, object.ErrNotFound, op.n)
			}
			id = c.Parents[op.n-1]
		}
	}
	return id, nil
}

type revOp struct {
	kind byte
	n    int
}

// splitRevision separates "main~2^2" into "main" and its suffix
// operations. A bare ~ or ^ counts as 1.
func splitRevision(rev string) (string, []revOp) {
	i := strings.IndexAny(rev, "~^")
	if i < 0 {
		return rev, nil
	}
	base, rest := rev[:i], rev[i:]
	var ops []revOp
	for len(rest) > 0 {
		kind := rest[0]
		rest = rest[1:]
		j := 0
		for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
			j++
		}
		n := 1
		if j > 0 {
			v, err := strconv.Atoi(rest[:j])
			if err != nil {
				return "", nil
			}
			n = v
		}
		if kind != '~' && kind != '^' {
			return "", nil
		}
		ops = append(ops, revOp{kind: kind, n: n})
		rest = rest[j:]
	}
	return base, ops
}

// resolveName maps a ref name or hex ID to the object it names. Refs win
// over abbreviated IDs.
func (r *Repository) resolveName(name string) (object.ID, error) {
	if id, err := object.ParseID(name); err == nil {
		if !r.store.Exists(id) {
			return object.ID{}, fmt.Errorf("object %s: %w", id, object.ErrNotFound)
		}
		return id, nil
	}
	full, err := r.refs.DWIM(name)
	if err == nil {
		return r.refs.ResolveToID(full)
	}
	if !errors.Is(err, refs.ErrNotFound) {
		return object.ID{}, err
	}
	if len(name) >= 4 && isHex(name) {
		return r.store.ResolvePrefix(name)
	}
	return object.ID{}, err
}

func isHex(s string) bool {
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

// Upstream returns the remote-tracking reference branch tracks, read from
// the branch's [branch.<name>] configuration. An empty branch means the
// current branch.
func (r *Repository) Upstream(branch string) (*refs.Reference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upstream(branch)
}

func (r *Repository) upstream(branch string) (*refs.Reference, error) {
	if branch == "" {
		cur, err := r.currentBranch()
		if err != nil {
			return nil, fmt.Errorf("upstream: %w", err)
		}
		if cur == "" {
			return nil, fmt.Errorf("upstream: HEAD is detached: %w", ErrUpstreamNotConfigured)
		}
		branch = cur
	}
	short := refs.ShortName(branch)
	if _, err := r.refs.Lookup(refs.BranchName(short)); err != nil {
		return nil, fmt.Errorf("upstream of %q: %w", short, err)
	}
	b, ok := r.cfg.Branch[short]
	if !ok || b.Remote == "" || b.Merge == "" {
		return nil, fmt.Errorf("upstream of %q: %w", short, ErrUpstreamNotConfigured)
	}
	ref, err := r.refs.Lookup(refs.RemoteName(b.Remote, refs.ShortName(b.Merge)))
	if err != nil {
		return nil, fmt.Errorf("upstream of %q: %w", short, err)
	}
	return ref, nil
}

// SetUpstream records that branch tracks remoteBranch on remote and saves
// the configuration.
func (r *Repository) SetUpstream(branch, remote, remoteBranch string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	short := refs.ShortName(branch)
	if _, err := r.refs.Lookup(refs.BranchName(short)); err != nil {
		return fmt.Errorf("set upstream: %w", err)
	}
	if _, ok := r.cfg.RemoteURL(remote); !ok {
		return fmt.Errorf("set upstream: remote %q: %w", remote, ErrRemoteNotFound)
	}
	r.cfg.SetUpstream(short, remote, refs.BranchName(refs.ShortName(remoteBranch)))
	if err := r.saveConfig(); err != nil {
		return fmt.Errorf("set upstream: %w", err)
	}
	return nil
}

// Reflog returns the most recent entries of name's reflog, newest first.
// A limit of zero or less returns every entry.
func (r *Repository) Reflog(name string, limit int) ([]refs.ReflogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name != refs.HEAD && !strings.HasPrefix(name, "refs/") {
		full, err := r.refs.DWIM(name)
		if err != nil {
			return nil, fmt.Errorf("reflog: %w", err)
		}
		name = full
	}
	entries, err := r.refs.ReadReflog(name, limit)
	if err != nil {
		return nil, fmt.Errorf("reflog: %w", err)
	}
	return entries, nil
}
