package revwalk

import (
	"container/heap"
	"fmt"

	"github.com/odvcencio/vcscore/pkg/object"
)

const (
	maxTraversalSteps = 1_000_000
	maxTraversalDepth = 1_000_000
)

// These vars allow tests to tighten safety limits without affecting
// production defaults.
var (
	traversalStepsLimit = maxTraversalSteps
	traversalDepthLimit = maxTraversalDepth
)

type depthItem struct {
	id    object.ID
	depth int
}

func traversalLimits() (maxSteps int, maxDepth int) {
	return normalizeLimit(traversalStepsLimit, maxTraversalSteps), normalizeLimit(traversalDepthLimit, maxTraversalDepth)
}

func normalizeLimit(limit, hardMax int) int {
	// Test hooks may only tighten the hard bounds.
	if limit <= 0 || limit > hardMax {
		return hardMax
	}
	return limit
}

func stepsLimitError(limit int) error {
	return fmt.Errorf("revwalk: traversal exceeded maximum steps (%d)", limit)
}

func depthLimitError(limit int) error {
	return fmt.Errorf("revwalk: traversal exceeded maximum depth (%d)", limit)
}

// MergeBase finds the best common ancestor of a and b. It returns the zero
// ID when the histories are unrelated or either side is zero. It uses
// cached generation numbers for pruning, a fast ancestor check for linear
// histories, and a memoized pair cache for repeated queries.
func (w *Walker) MergeBase(a, b object.ID) (object.ID, error) {
	if a.IsZero() || b.IsZero() {
		return object.ID{}, nil
	}
	if a == b {
		return a, nil
	}

	g := w.g
	if cached, ok := g.loadMergeBase(a, b); ok {
		return cached.base, nil
	}

	genA, err := g.generation(a)
	if err != nil {
		return object.ID{}, err
	}
	genB, err := g.generation(b)
	if err != nil {
		return object.ID{}, err
	}

	// Fast path: one side already contains the other. Try the lower
	// generation as the ancestor first.
	checks := [2]struct {
		anc, desc object.ID
		ga, gd    uint64
	}{{a, b, genA, genB}, {b, a, genB, genA}}
	if genA > genB {
		checks[0], checks[1] = checks[1], checks[0]
	}
	for _, c := range checks {
		isAncestor, err := w.isAncestorWithGeneration(c.anc, c.desc, c.ga, c.gd)
		if err != nil {
			return object.ID{}, err
		}
		if isAncestor {
			g.storeMergeBase(a, b, c.anc, true)
			return c.anc, nil
		}
	}

	base, found, err := w.mergeBaseWithPruning(a, b, genA, genB)
	if err != nil {
		return object.ID{}, err
	}
	g.storeMergeBase(a, b, base, found)
	w.logger.Debug("merge base", "a", a.Short(), "b", b.Short(), "base", base.Short(), "found", found)
	return base, nil
}

// IsAncestor reports whether ancestor is reachable from descendant. A
// commit is its own ancestor.
func (w *Walker) IsAncestor(ancestor, descendant object.ID) (bool, error) {
	if ancestor.IsZero() || descendant.IsZero() {
		return false, nil
	}
	if ancestor == descendant {
		return true, nil
	}
	ga, err := w.g.generation(ancestor)
	if err != nil {
		return false, err
	}
	gd, err := w.g.generation(descendant)
	if err != nil {
		return false, err
	}
	return w.isAncestorWithGeneration(ancestor, descendant, ga, gd)
}

// IsReachable reports whether commit is an ancestor of, or equal to, any
// ID in from.
func (w *Walker) IsReachable(commit object.ID, from []object.ID) (bool, error) {
	for _, f := range from {
		ok, err := w.IsAncestor(commit, f)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (w *Walker) isAncestorWithGeneration(ancestor, descendant object.ID, ancestorGeneration, descendantGeneration uint64) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}
	if ancestorGeneration > descendantGeneration {
		return false, nil
	}

	g := w.g
	maxSteps, maxDepth := traversalLimits()
	visited := map[object.ID]struct{}{descendant: {}}
	queue := []depthItem{{id: descendant, depth: 0}}
	steps := 0

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		steps++
		if steps > maxSteps {
			return false, stepsLimitError(maxSteps)
		}
		if item.depth > maxDepth {
			return false, depthLimitError(maxDepth)
		}

		cur := item.id
		if cur == ancestor {
			return true, nil
		}

		curGeneration, err := g.generation(cur)
		if err != nil {
			return false, err
		}
		if curGeneration <= ancestorGeneration {
			continue
		}

		c, err := g.commit(cur)
		if err != nil {
			return false, err
		}
		for _, p := range c.parents {
			if _, seen := visited[p]; seen {
				continue
			}
			parentGeneration, err := g.generation(p)
			if err != nil {
				return false, err
			}
			if parentGeneration < ancestorGeneration {
				continue
			}
			childDepth := item.depth + 1
			if childDepth > maxDepth {
				return false, depthLimitError(maxDepth)
			}
			visited[p] = struct{}{}
			queue = append(queue, depthItem{id: p, depth: childDepth})
		}
	}

	return false, nil
}

func (w *Walker) mergeBaseWithPruning(a, b object.ID, genA, genB uint64) (object.ID, bool, error) {
	g := w.g
	maxSteps, maxDepth := traversalLimits()

	visitedA := map[object.ID]struct{}{a: {}}
	visitedB := map[object.ID]struct{}{b: {}}
	depthA := map[object.ID]int{a: 0}
	depthB := map[object.ID]int{b: 0}

	queueA := generationHeap{{id: a, generation: genA}}
	queueB := generationHeap{{id: b, generation: genB}}
	heap.Init(&queueA)
	heap.Init(&queueB)

	var best object.ID
	var bestGeneration uint64
	steps := 0

	for queueA.Len() > 0 || queueB.Len() > 0 {
		if !best.IsZero() {
			topA, okA := queueA.Peek()
			topB, okB := queueB.Peek()
			if (!okA || topA.generation < bestGeneration) && (!okB || topB.generation < bestGeneration) {
				break
			}
		}

		var traverseA bool
		switch {
		case queueA.Len() == 0:
			traverseA = false
		case queueB.Len() == 0:
			traverseA = true
		default:
			topA, topB := queueA[0], queueB[0]
			switch {
			case topA.generation > topB.generation:
				traverseA = true
			case topA.generation < topB.generation:
				traverseA = false
			default:
				traverseA = topA.id.Compare(topB.id) <= 0
			}
		}

		ownQueue, ownVisited, ownDepth, otherVisited := &queueA, visitedA, depthA, visitedB
		if !traverseA {
			ownQueue, ownVisited, ownDepth, otherVisited = &queueB, visitedB, depthB, visitedA
		}
		item := heap.Pop(ownQueue).(generationItem)

		steps++
		if steps > maxSteps {
			return object.ID{}, false, stepsLimitError(maxSteps)
		}
		if !best.IsZero() && item.generation < bestGeneration {
			continue
		}

		itemDepth := ownDepth[item.id]
		if itemDepth > maxDepth {
			return object.ID{}, false, depthLimitError(maxDepth)
		}
		if _, seen := otherVisited[item.id]; seen {
			best, bestGeneration = chooseBetterMergeBase(best, bestGeneration, item.id, item.generation)
		}

		c, err := g.commit(item.id)
		if err != nil {
			return object.ID{}, false, err
		}
		for _, p := range c.parents {
			parentGeneration, err := g.generation(p)
			if err != nil {
				return object.ID{}, false, err
			}
			if !best.IsZero() && parentGeneration < bestGeneration {
				continue
			}
			childDepth := itemDepth + 1
			if childDepth > maxDepth {
				return object.ID{}, false, depthLimitError(maxDepth)
			}
			if _, seen := ownVisited[p]; seen {
				continue
			}
			ownVisited[p] = struct{}{}
			ownDepth[p] = childDepth
			heap.Push(ownQueue, generationItem{id: p, generation: parentGeneration})
			if _, seen := otherVisited[p]; seen {
				best, bestGeneration = chooseBetterMergeBase(best, bestGeneration, p, parentGeneration)
			}
		}
	}

	return best, !best.IsZero(), nil
}

func chooseBetterMergeBase(best object.ID, bestGeneration uint64, candidate object.ID, candidateGeneration uint64) (object.ID, uint64) {
	switch {
	case best.IsZero():
		return candidate, candidateGeneration
	case candidateGeneration > bestGeneration:
		return candidate, candidateGeneration
	case candidateGeneration < bestGeneration:
		return best, bestGeneration
	case candidate.Compare(best) < 0:
		return candidate, candidateGeneration
	default:
		return best, bestGeneration
	}
}
