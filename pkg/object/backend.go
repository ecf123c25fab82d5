package object

import (
	"sort"
	"strings"
	"sync"
)

// Backend is the raw storage layer beneath a Store. Implementations do not
// hash or validate content; the Store does that.
type Backend interface {
	// Has reports whether id is present.
	Has(id ID) (bool, error)
	// Get returns the stored type and content, or ErrNotFound.
	Get(id ID) (Type, []byte, error)
	// Put stores content under id. Storing an existing id is a no-op.
	Put(id ID, objType Type, data []byte) error
	// FindPrefix lists stored IDs whose hex form starts with prefix.
	FindPrefix(prefix string) ([]ID, error)
	Close() error
}

// MemoryBackend keeps objects in a map. It is safe for concurrent use.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[ID]memoryObject
}

type memoryObject struct {
	objType Type
	data    []byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{objects: make(map[ID]memoryObject)}
}

func (m *MemoryBackend) Has(id ID) (bool, error) {
	m.mu.RLock()
	_, ok := m.objects[id]
	m.mu.RUnlock()
	return ok, nil
}

func (m *MemoryBackend) Get(id ID) (Type, []byte, error) {
	m.mu.RLock()
	obj, ok := m.objects[id]
	m.mu.RUnlock()
	if !ok {
		return TypeInvalid, nil, ErrNotFound
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return obj.objType, out, nil
}

func (m *MemoryBackend) Put(id ID, objType Type, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[id]; ok {
		return nil
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	m.objects[id] = memoryObject{objType: objType, data: stored}
	return nil
}

func (m *MemoryBackend) FindPrefix(prefix string) ([]ID, error) {
	prefix = strings.ToLower(prefix)
	m.mu.RLock()
	var out []ID
	for id := range m.objects {
		if id.HasPrefix(prefix) {
			out = append(out, id)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out, nil
}

// Len returns the number of stored objects.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

func (m *MemoryBackend) Close() error { return nil }
