package refs

import (
	"errors"
	"fmt"

	"github.com/odvcencio/vcscore/pkg/object"
)

var (
	ErrNotFound         = errors.New("reference not found")
	ErrAlreadyExists    = errors.New("reference already exists")
	ErrInvalidReference = errors.New("invalid reference")
	ErrCASMismatch      = errors.New("ref compare-and-swap mismatch")

	ErrUpdatedButReflogAppendFailed = errors.New("ref updated but reflog append failed")
)

// ReflogError indicates the ref file update succeeded, but appending the
// corresponding reflog entry failed.
type ReflogError struct {
	Ref   string
	OldID object.ID
	NewID object.ID
	Err   error
}

func (e *ReflogError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("update ref %q: %s (old=%s new=%s): %v",
		e.Ref, ErrUpdatedButReflogAppendFailed, e.OldID, e.NewID, e.Err)
}

func (e *ReflogError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ReflogError) Is(target error) bool {
	return target == ErrUpdatedButReflogAppendFailed
}
