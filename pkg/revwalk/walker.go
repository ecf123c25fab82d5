// Package revwalk traverses commit history: date-ordered walks, merge
// bases, ahead/behind counts and reachability queries.
package revwalk

import (
	"container/heap"
	"iter"
	"log/slog"

	"github.com/odvcencio/vcscore/pkg/object"
)

// Commit is a decoded commit together with its ID.
type Commit struct {
	ID object.ID
	*object.Commit

	// parents is Commit.Parents with the shallow boundary applied.
	parents []object.ID
}

// ParentIDs returns the parents the walker follows. Commits on a shallow
// boundary report none.
func (c *Commit) ParentIDs() []object.ID { return c.parents }

// Walker answers history queries against one object store. Decoded commits
// and generation numbers are cached for the Walker's lifetime, so a Walker
// should be discarded after refs are rewritten by a fetch with a new
// shallow boundary.
type Walker struct {
	g      *graph
	logger *slog.Logger
}

// Option configures a Walker.
type Option func(*Walker)

// WithShallow marks commits whose parents are not available locally. They
// are treated as root commits.
func WithShallow(ids []object.ID) Option {
	return func(w *Walker) {
		for _, id := range ids {
			w.g.shallow[id] = struct{}{}
		}
	}
}

// WithLogger sets the walker's logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Walker) {
		if l != nil {
			w.logger = l
		}
	}
}

// New returns a Walker over store.
func New(store *object.Store, opts ...Option) *Walker {
	w := &Walker{
		g:      newGraph(store, make(map[object.ID]struct{})),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Commit reads a single commit through the walker's cache.
func (w *Walker) Commit(id object.ID) (*Commit, error) {
	return w.g.commit(id)
}

// Walk visits start and its ancestors newest first until visit returns
// false or history is exhausted. Every call starts a fresh traversal.
func (w *Walker) Walk(start object.ID, visit func(*Commit) bool) error {
	for c, err := range w.Commits(start) {
		if err != nil {
			return err
		}
		if !visit(c) {
			return nil
		}
	}
	return nil
}

// Commits returns a single-pass sequence over the commits reachable from
// starts, ordered by committer time with the newest first. Commits
// reachable from any ID in hide, including those IDs, are omitted. A read
// failure is yielded once as the final element.
func (w *Walker) Commits(starts ...object.ID) iter.Seq2[*Commit, error] {
	return w.Range(starts, nil)
}

// Range is Commits with an exclusion set, the "hide..starts" walk.
func (w *Walker) Range(starts, hide []object.ID) iter.Seq2[*Commit, error] {
	used := false
	return func(yield func(*Commit, error) bool) {
		if used {
			return
		}
		used = true

		hidden := map[object.ID]struct{}{}
		if len(hide) > 0 {
			var err error
			hidden, err = w.reachable(hide)
			if err != nil {
				yield(nil, err)
				return
			}
		}

		seen := make(map[object.ID]struct{})
		var queue dateHeap
		push := func(id object.ID) error {
			if id.IsZero() {
				return nil
			}
			if _, ok := seen[id]; ok {
				return nil
			}
			seen[id] = struct{}{}
			if _, ok := hidden[id]; ok {
				return nil
			}
			c, err := w.g.commit(id)
			if err != nil {
				return err
			}
			heap.Push(&queue, c)
			return nil
		}

		for _, id := range starts {
			if err := push(id); err != nil {
				yield(nil, err)
				return
			}
		}
		for queue.Len() > 0 {
			c := heap.Pop(&queue).(*Commit)
			if !yield(c, nil) {
				return
			}
			for _, p := range c.parents {
				if err := push(p); err != nil {
					yield(nil, err)
					return
				}
			}
		}
	}
}

// Count returns the number of commits reachable from id, including id.
// The zero ID counts as an empty history.
func (w *Walker) Count(id object.ID) (int, error) {
	n := 0
	err := w.Walk(id, func(*Commit) bool {
		n++
		return true
	})
	return n, err
}

// reachable returns every commit reachable from roots.
func (w *Walker) reachable(roots []object.ID) (map[object.ID]struct{}, error) {
	seen := make(map[object.ID]struct{})
	stack := append([]object.ID(nil), roots...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id.IsZero() {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		c, err := w.g.commit(id)
		if err != nil {
			return nil, err
		}
		stack = append(stack, c.parents...)
	}
	return seen, nil
}
