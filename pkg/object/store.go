package object

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/odvcencio/vcscore/pkg/metrics"
)

// DefaultCacheSize is the number of decoded objects kept in memory when
// no WithCacheSize option is given.
const DefaultCacheSize = 1024

// Store is a content-addressed object store layered over a Backend. It
// computes IDs, enforces expected types and caches recently read objects.
type Store struct {
	backend Backend
	algo    HashAlgorithm
	cache   *lru.Cache[ID, *RawObject]
	metrics *metrics.Collectors
	logger  *slog.Logger

	cacheSize int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithCacheSize sets the object cache capacity. Zero disables caching.
func WithCacheSize(n int) StoreOption {
	return func(s *Store) { s.cacheSize = n }
}

// WithLogger sets the logger for store diagnostics.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records object writes and cache lookups on m.
func WithMetrics(m *metrics.Collectors) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// NewStore wraps backend. IDs are computed with algo.
func NewStore(backend Backend, algo HashAlgorithm, opts ...StoreOption) (*Store, error) {
	if algo.Size() == 0 {
		return nil, fmt.Errorf("new store: unsupported hash algorithm %s", algo)
	}
	s := &Store{
		backend:   backend,
		algo:      algo,
		logger:    slog.Default(),
		cacheSize: DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cacheSize > 0 {
		c, err := lru.New[ID, *RawObject](s.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("new store: cache: %w", err)
		}
		s.cache = c
	}
	return s, nil
}

// NewMemoryStore returns a Store over a fresh MemoryBackend.
func NewMemoryStore(algo HashAlgorithm, opts ...StoreOption) *Store {
	s, err := NewStore(NewMemoryBackend(), algo, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// Algorithm returns the hash algorithm used for IDs.
func (s *Store) Algorithm() HashAlgorithm { return s.algo }

// Hash computes the ID content would have without storing it.
func (s *Store) Hash(objType Type, data []byte) ID {
	return HashObject(s.algo, objType, data)
}

// Write stores an object and returns its ID. Writing content that is
// already present is a no-op.
func (s *Store) Write(objType Type, data []byte) (ID, error) {
	if objType == TypeInvalid {
		return ID{}, fmt.Errorf("object write: invalid type")
	}
	id := s.Hash(objType, data)

	ok, err := s.backend.Has(id)
	if err != nil {
		return ID{}, &StorageError{Op: "has", ID: id, Err: err}
	}
	if ok {
		return id, nil
	}
	if err := s.backend.Put(id, objType, data); err != nil {
		return ID{}, &StorageError{Op: "write", ID: id, Err: err}
	}
	s.metrics.ObjectWritten(objType.String(), len(data))
	s.logger.Debug("object written", "id", id.Short(), "type", objType.String(), "size", len(data))
	return id, nil
}

// Read returns the object stored under id. When expected is given the
// stored type must be one of the listed types. The returned data is a
// private copy.
func (s *Store) Read(id ID, expected ...Type) (*RawObject, error) {
	obj, err := s.read(id)
	if err != nil {
		return nil, err
	}
	if len(expected) > 0 {
		match := false
		for _, t := range expected {
			if obj.Type == t {
				match = true
				break
			}
		}
		if !match {
			return nil, typeMismatch(id, obj.Type, expected[0])
		}
	}
	data := make([]byte, len(obj.Data))
	copy(data, obj.Data)
	return &RawObject{ID: obj.ID, Type: obj.Type, Data: data}, nil
}

func (s *Store) read(id ID) (*RawObject, error) {
	if s.cache != nil {
		if obj, ok := s.cache.Get(id); ok {
			s.metrics.CacheLookup(true)
			return obj, nil
		}
		s.metrics.CacheLookup(false)
	}
	objType, data, err := s.backend.Get(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("object read %s: %w", id, ErrNotFound)
		}
		return nil, &StorageError{Op: "read", ID: id, Err: err}
	}
	obj := &RawObject{ID: id, Type: objType, Data: data}
	if s.cache != nil {
		s.cache.Add(id, obj)
	}
	return obj, nil
}

// Exists reports whether id is stored. Backend failures read as absent.
func (s *Store) Exists(id ID) bool {
	if id.IsZero() {
		return false
	}
	if s.cache != nil && s.cache.Contains(id) {
		return true
	}
	ok, err := s.backend.Has(id)
	return err == nil && ok
}

// ResolvePrefix expands an abbreviated hex ID. At least four characters
// are required.
func (s *Store) ResolvePrefix(prefix string) (ID, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if len(prefix) == s.algo.Size()*2 {
		id, err := ParseID(prefix)
		if err != nil {
			return ID{}, err
		}
		if !s.Exists(id) {
			return ID{}, fmt.Errorf("resolve %s: %w", prefix, ErrNotFound)
		}
		return id, nil
	}
	if len(prefix) < 4 || strings.Trim(prefix, "0123456789abcdef") != "" {
		return ID{}, fmt.Errorf("resolve %q: not an object id prefix: %w", prefix, ErrNotFound)
	}
	ids, err := s.backend.FindPrefix(prefix)
	if err != nil {
		return ID{}, &StorageError{Op: "find prefix", Err: err}
	}
	switch len(ids) {
	case 0:
		return ID{}, fmt.Errorf("resolve %s: %w", prefix, ErrNotFound)
	case 1:
		return ids[0], nil
	default:
		return ID{}, fmt.Errorf("resolve %s: %d candidates: %w", prefix, len(ids), ErrAmbiguousID)
	}
}

// Close drops the object cache and closes the backend.
func (s *Store) Close() error {
	if s.cache != nil {
		s.cache.Purge()
	}
	return s.backend.Close()
}

// ---------------------------------------------------------------------------
// Typed convenience methods
// ---------------------------------------------------------------------------

// WriteBlob serializes and stores a Blob.
func (s *Store) WriteBlob(data []byte) (ID, error) {
	return s.Write(TypeBlob, data)
}

// ReadBlob reads the blob stored under id.
func (s *Store) ReadBlob(id ID) (*Blob, error) {
	obj, err := s.Read(id, TypeBlob)
	if err != nil {
		return nil, err
	}
	return &Blob{Data: obj.Data}, nil
}

// WriteTree validates and stores t in canonical order.
func (s *Store) WriteTree(t *Tree) (ID, error) {
	canonical, err := NewTree(t.Entries)
	if err != nil {
		return ID{}, err
	}
	return s.Write(TypeTree, MarshalTree(canonical))
}

// ReadTree reads and parses the tree stored under id.
func (s *Store) ReadTree(id ID) (*Tree, error) {
	obj, err := s.read(id)
	if err != nil {
		return nil, err
	}
	if obj.Type != TypeTree {
		return nil, typeMismatch(id, obj.Type, TypeTree)
	}
	t, err := UnmarshalTree(obj.Data, s.algo.Size())
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", id, err)
	}
	return t, nil
}

// WriteCommit serializes and stores a Commit.
func (s *Store) WriteCommit(c *Commit) (ID, error) {
	if c.Tree.IsZero() {
		return ID{}, fmt.Errorf("write commit: missing tree")
	}
	return s.Write(TypeCommit, MarshalCommit(c))
}

// ReadCommit reads and parses the commit stored under id.
func (s *Store) ReadCommit(id ID) (*Commit, error) {
	obj, err := s.read(id)
	if err != nil {
		return nil, err
	}
	if obj.Type != TypeCommit {
		return nil, typeMismatch(id, obj.Type, TypeCommit)
	}
	c, err := UnmarshalCommit(obj.Data)
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", id, err)
	}
	return c, nil
}

// WriteTag serializes and stores an annotated Tag.
func (s *Store) WriteTag(t *Tag) (ID, error) {
	return s.Write(TypeTag, MarshalTag(t))
}

// ReadTag reads and parses the annotated tag stored under id.
func (s *Store) ReadTag(id ID) (*Tag, error) {
	obj, err := s.read(id)
	if err != nil {
		return nil, err
	}
	if obj.Type != TypeTag {
		return nil, typeMismatch(id, obj.Type, TypeTag)
	}
	t, err := UnmarshalTag(obj.Data)
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", id, err)
	}
	return t, nil
}

// PeelToCommit follows annotated tags until a commit is reached.
func (s *Store) PeelToCommit(id ID) (ID, error) {
	for range 10 {
		obj, err := s.read(id)
		if err != nil {
			return ID{}, err
		}
		switch obj.Type {
		case TypeCommit:
			return id, nil
		case TypeTag:
			tag, err := UnmarshalTag(obj.Data)
			if err != nil {
				return ID{}, fmt.Errorf("object %s: %w", id, err)
			}
			id = tag.Target
		default:
			return ID{}, typeMismatch(id, obj.Type, TypeCommit)
		}
	}
	return ID{}, fmt.Errorf("peel %s: tag chain too deep", id)
}
