package repo

import (
	"fmt"

	"github.com/odvcencio/vcscore/pkg/refs"
)

// CreateBranch creates refs/heads/<name> at the commit rev resolves to;
// an empty rev means HEAD. Without force an existing branch yields
// refs.ErrAlreadyExists. The checked-out branch cannot be force-moved.
func (r *Repository) CreateBranch(name, rev string, force bool) (*refs.Reference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	full := refs.BranchName(refs.ShortName(name))
	if err := refs.ValidateName(full); err != nil {
		return nil, fmt.Errorf("create branch: %w", err)
	}
	if rev == "" {
		rev = refs.HEAD
	}
	id, err := r.resolveRevision(rev)
	if err != nil {
		return nil, fmt.Errorf("create branch %q: %w", name, err)
	}
	if force {
		cur, err := r.currentBranch()
		if err != nil {
			return nil, fmt.Errorf("create branch %q: %w", name, err)
		}
		if cur == full {
			return nil, fmt.Errorf("create branch %q: cannot force-update the current branch", name)
		}
	}
	ref, err := r.refs.Create(full, id, force, "branch: created from "+rev)
	if err != nil {
		return nil, fmt.Errorf("create branch %q: %w", name, err)
	}
	return ref, nil
}

// DeleteBranch removes a local branch and its upstream configuration. It
// returns the commit the branch pointed at.
func (r *Repository) DeleteBranch(name string) (*refs.Reference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	short := refs.ShortName(name)
	full := refs.BranchName(short)
	cur, err := r.currentBranch()
	if err != nil {
		return nil, fmt.Errorf("delete branch: %w", err)
	}
	if cur == full {
		return nil, fmt.Errorf("delete branch: cannot delete current branch %q", short)
	}
	id, err := r.refs.Delete(full)
	if err != nil {
		return nil, fmt.Errorf("delete branch %q: %w", short, err)
	}
	if _, ok := r.cfg.Branch[short]; ok {
		delete(r.cfg.Branch, short)
		if err := r.saveConfig(); err != nil {
			return nil, fmt.Errorf("delete branch %q: %w", short, err)
		}
	}
	return &refs.Reference{Name: full, Target: id}, nil
}

// Branches lists local or remote-tracking branches in name order.
func (r *Repository) Branches(kind refs.Kind) ([]refs.Reference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if kind != refs.Local && kind != refs.Remote {
		return nil, fmt.Errorf("list branches: kind must be local or remote")
	}
	list, err := r.refs.List(kind)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	return list, nil
}
