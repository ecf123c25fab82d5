package revwalk

import (
	"container/heap"

	"github.com/odvcencio/vcscore/pkg/object"
)

const (
	sideA uint8 = 1 << iota
	sideB
	bothSides = sideA | sideB
)

// AheadBehind counts the commits reachable from a but not from b (ahead)
// and from b but not from a (behind).
//
// A zero ID stands for an unborn branch. Its count is 0 and the other
// side's count is that side's full history length; two unborn sides give
// (0, 0).
func (w *Walker) AheadBehind(a, b object.ID) (ahead, behind int, err error) {
	switch {
	case a.IsZero() && b.IsZero():
		return 0, 0, nil
	case a.IsZero():
		behind, err = w.Count(b)
		return 0, behind, err
	case b.IsZero():
		ahead, err = w.Count(a)
		return ahead, 0, err
	case a == b:
		return 0, 0, nil
	}

	// Paint both histories walking in generation order. A commit is
	// popped only after all of its queued descendants, so its marks are
	// final. The walk ends once every queued commit carries both marks.
	g := w.g
	flags := make(map[object.ID]uint8)
	queued := make(map[object.ID]bool)
	var queue generationHeap
	interesting := 0

	mark := func(id object.ID, f uint8) error {
		old := flags[id]
		next := old | f
		if next == old {
			return nil
		}
		flags[id] = next
		if queued[id] {
			if next == bothSides {
				interesting--
			}
			return nil
		}
		gen, err := g.generation(id)
		if err != nil {
			return err
		}
		queued[id] = true
		heap.Push(&queue, generationItem{id: id, generation: gen})
		if next != bothSides {
			interesting++
		}
		return nil
	}

	if err := mark(a, sideA); err != nil {
		return 0, 0, err
	}
	if err := mark(b, sideB); err != nil {
		return 0, 0, err
	}

	for queue.Len() > 0 && interesting > 0 {
		item := heap.Pop(&queue).(generationItem)
		delete(queued, item.id)
		f := flags[item.id]
		switch f {
		case sideA:
			ahead++
			interesting--
		case sideB:
			behind++
			interesting--
		}

		c, err := g.commit(item.id)
		if err != nil {
			return 0, 0, err
		}
		for _, p := range c.parents {
			if err := mark(p, f); err != nil {
				return 0, 0, err
			}
		}
	}
	return ahead, behind, nil
}
