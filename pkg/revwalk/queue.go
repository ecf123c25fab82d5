package revwalk

import (
	"github.com/odvcencio/vcscore/pkg/object"
)

type generationItem struct {
	id         object.ID
	generation uint64
}

// generationHeap pops the highest generation first, so every descendant
// of a commit is popped before the commit itself.
type generationHeap []generationItem

func (h generationHeap) Len() int { return len(h) }

func (h generationHeap) Less(i, j int) bool {
	if h[i].generation == h[j].generation {
		return h[i].id.Compare(h[j].id) < 0
	}
	return h[i].generation > h[j].generation
}

func (h generationHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *generationHeap) Push(x any) {
	*h = append(*h, x.(generationItem))
}

func (h *generationHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (h generationHeap) Peek() (generationItem, bool) {
	if len(h) == 0 {
		return generationItem{}, false
	}
	return h[0], true
}

// dateHeap pops the most recently committed commit first.
type dateHeap []*Commit

func (h dateHeap) Len() int { return len(h) }

func (h dateHeap) Less(i, j int) bool {
	ti, tj := h[i].Committer.When, h[j].Committer.When
	if ti.Equal(tj) {
		return h[i].ID.Compare(h[j].ID) < 0
	}
	return ti.After(tj)
}

func (h dateHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *dateHeap) Push(x any) {
	*h = append(*h, x.(*Commit))
}

func (h *dateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
