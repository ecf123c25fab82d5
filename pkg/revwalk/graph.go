package revwalk

import (
	"fmt"
	"sync"

	"github.com/odvcencio/vcscore/pkg/object"
)

type mergeBaseKey struct {
	left  object.ID
	right object.ID
}

type mergeBaseEntry struct {
	base  object.ID
	found bool
}

// graph memoizes decoded commits, generation numbers and merge bases. It
// is shared by every query on one Walker.
type graph struct {
	store   *object.Store
	shallow map[object.ID]struct{}

	mu          sync.RWMutex
	commits     map[object.ID]*Commit
	generations map[object.ID]uint64
	mergeBases  map[mergeBaseKey]mergeBaseEntry
}

func newGraph(store *object.Store, shallow map[object.ID]struct{}) *graph {
	return &graph{
		store:       store,
		shallow:     shallow,
		commits:     make(map[object.ID]*Commit),
		generations: make(map[object.ID]uint64),
		mergeBases:  make(map[mergeBaseKey]mergeBaseEntry),
	}
}

func canonicalMergeBaseKey(a, b object.ID) mergeBaseKey {
	if a.Compare(b) <= 0 {
		return mergeBaseKey{left: a, right: b}
	}
	return mergeBaseKey{left: b, right: a}
}

func (g *graph) loadMergeBase(a, b object.ID) (mergeBaseEntry, bool) {
	key := canonicalMergeBaseKey(a, b)
	g.mu.RLock()
	entry, ok := g.mergeBases[key]
	g.mu.RUnlock()
	return entry, ok
}

func (g *graph) storeMergeBase(a, b, base object.ID, found bool) {
	key := canonicalMergeBaseKey(a, b)
	g.mu.Lock()
	g.mergeBases[key] = mergeBaseEntry{base: base, found: found}
	g.mu.Unlock()
}

// commit reads and caches a commit. Commits on the shallow boundary are
// returned with their parents cut.
func (g *graph) commit(id object.ID) (*Commit, error) {
	g.mu.RLock()
	cached, ok := g.commits[id]
	g.mu.RUnlock()
	if ok {
		return cached, nil
	}

	c, err := g.store.ReadCommit(id)
	if err != nil {
		return nil, fmt.Errorf("revwalk: read commit %s: %w", id, err)
	}
	parents := c.Parents
	if _, cut := g.shallow[id]; cut {
		parents = nil
	}
	commit := &Commit{ID: id, Commit: c, parents: parents}

	g.mu.Lock()
	if existing, exists := g.commits[id]; exists {
		g.mu.Unlock()
		return existing, nil
	}
	g.commits[id] = commit
	g.mu.Unlock()
	return commit, nil
}

func (g *graph) loadGeneration(id object.ID) (uint64, bool) {
	g.mu.RLock()
	gen, ok := g.generations[id]
	g.mu.RUnlock()
	return gen, ok
}

func (g *graph) storeGeneration(id object.ID, gen uint64) {
	g.mu.Lock()
	g.generations[id] = gen
	g.mu.Unlock()
}

// generation returns 1 + the maximum generation of the parents; root
// commits have generation 1.
func (g *graph) generation(id object.ID) (uint64, error) {
	return g.generationRecursive(id, make(map[object.ID]bool))
}

func (g *graph) generationRecursive(id object.ID, visiting map[object.ID]bool) (uint64, error) {
	if id.IsZero() {
		return 0, nil
	}
	if gen, ok := g.loadGeneration(id); ok {
		return gen, nil
	}
	if visiting[id] {
		return 0, fmt.Errorf("revwalk: commit graph cycle detected at %s", id)
	}

	visiting[id] = true
	c, err := g.commit(id)
	if err != nil {
		delete(visiting, id)
		return 0, err
	}

	var maxParent uint64
	for _, p := range c.parents {
		pg, err := g.generationRecursive(p, visiting)
		if err != nil {
			delete(visiting, id)
			return 0, err
		}
		maxParent = max(maxParent, pg)
	}

	gen := maxParent + 1
	g.storeGeneration(id, gen)
	delete(visiting, id)
	return gen, nil
}
