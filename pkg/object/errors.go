package object

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("object not found")
	ErrTypeMismatch = errors.New("object type mismatch")
	ErrStorage      = errors.New("object storage failure")
	ErrAmbiguousID  = errors.New("ambiguous object id prefix")
)

// StorageError reports an I/O failure inside a backend.
type StorageError struct {
	Op  string
	ID  ID
	Err error
}

func (e *StorageError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.ID.IsZero() {
		return fmt.Sprintf("object store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("object store %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *StorageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func typeMismatch(id ID, got, want Type) error {
	return fmt.Errorf("object %s: %w: got %s, want %s", id, ErrTypeMismatch, got, want)
}
