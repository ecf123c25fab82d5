package tree

import (
	"fmt"
	"path"

	"github.com/odvcencio/vcscore/pkg/object"
)

// Order selects when a directory entry is visited relative to its
// children.
type Order uint8

const (
	Preorder Order = iota
	Postorder
)

// Action tells Walk how to proceed after visiting an entry.
type Action uint8

const (
	Continue Action = iota
	// SkipSubtree does not descend into the directory just visited. In
	// postorder the children have already been visited, so it acts like
	// Continue.
	SkipSubtree
	// Stop ends the walk without error.
	Stop
)

// Visitor is called for every entry. dir is the slash-separated path of
// the containing directory ("" at the root).
type Visitor func(dir string, entry object.TreeEntry) (Action, error)

// Walk traverses the tree depth-first in entry order. The first error
// returned by the visitor, or by reading a tree, ends the walk and is
// returned unchanged in its chain.
func Walk(store *object.Store, treeID object.ID, order Order, visit Visitor) error {
	if treeID.IsZero() {
		return nil
	}
	_, err := walkRec(store, treeID, "", order, visit)
	return err
}

func walkRec(store *object.Store, id object.ID, dir string, order Order, visit Visitor) (bool, error) {
	t, err := store.ReadTree(id)
	if err != nil {
		return false, fmt.Errorf("walk %q: %w", dir, err)
	}
	for _, e := range t.Entries {
		descend := e.Mode.IsDir()
		if order == Preorder {
			act, err := visit(dir, e)
			if err != nil {
				return false, err
			}
			switch act {
			case Stop:
				return false, nil
			case SkipSubtree:
				descend = false
			}
		}
		if descend {
			more, err := walkRec(store, e.ID, path.Join(dir, e.Name), order, visit)
			if err != nil || !more {
				return false, err
			}
		}
		if order == Postorder {
			act, err := visit(dir, e)
			if err != nil {
				return false, err
			}
			if act == Stop {
				return false, nil
			}
		}
	}
	return true, nil
}
