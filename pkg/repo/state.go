package repo

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/odvcencio/vcscore/pkg/refs"
)

// State is the repository's in-progress operation, detected from marker
// files in the metadata directory.
type State uint8

const (
	StateNone State = iota
	StateMerge
	StateRevert
	StateCherryPick
	StateRebase
)

func (s State) String() string {
	switch s {
	case StateMerge:
		return "merge"
	case StateRevert:
		return "revert"
	case StateCherryPick:
		return "cherry-pick"
	case StateRebase:
		return "rebase"
	default:
		return "none"
	}
}

// stateMarkers are checked in order; the first present decides the state.
var stateMarkers = []struct {
	name  string
	state State
}{
	{"rebase-merge", StateRebase},
	{"rebase-apply", StateRebase},
	{refs.MergeHead, StateMerge},
	{"REVERT_HEAD", StateRevert},
	{"CHERRY_PICK_HEAD", StateCherryPick},
}

// State reports the operation in progress.
func (r *Repository) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state()
}

func (r *Repository) state() State {
	for _, m := range stateMarkers {
		if _, err := os.Lstat(r.path(m.name)); err == nil {
			return m.state
		}
	}
	return StateNone
}

// CheckNormalState fails with ErrInvalidRepositoryState while a merge,
// revert, cherry-pick or rebase is unresolved.
func (r *Repository) CheckNormalState() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkNormalState()
}

func (r *Repository) checkNormalState() error {
	if s := r.state(); s != StateNone {
		return fmt.Errorf("%w: %s in progress", ErrInvalidRepositoryState, s)
	}
	return nil
}

// Cleanup removes the in-progress state markers. The index and working
// tree are left as they are.
func (r *Repository) Cleanup() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cleanup()
}

func (r *Repository) cleanup() error {
	var errs []error
	for _, name := range []string{refs.MergeHead, mergeMsg, "REVERT_HEAD", "CHERRY_PICK_HEAD"} {
		if err := os.Remove(r.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	for _, name := range []string{"rebase-merge", "rebase-apply"} {
		if err := os.RemoveAll(r.path(name)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	return nil
}

// AbortMerge restores HEAD, the index and the working tree to the commit
// recorded in ORIG_HEAD before the merge and clears the merge state.
func (r *Repository) AbortMerge(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state() != StateMerge {
		return fmt.Errorf("abort merge: %w: no merge in progress", ErrInvalidRepositoryState)
	}
	orig, err := r.refs.ResolveToID(refs.OrigHead)
	if err != nil {
		return fmt.Errorf("abort merge: %w", err)
	}
	if err := r.reset(ctx, orig, ResetHard, "merge: abort"); err != nil {
		return fmt.Errorf("abort merge: %w", err)
	}
	return nil
}
