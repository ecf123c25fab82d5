// Package refs implements the reference graph: named pointers to objects,
// symbolic indirection (HEAD -> refs/heads/main), compare-and-swap updates
// guarded by lockfiles, and per-ref reflogs.
package refs

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/odvcencio/vcscore/pkg/object"
)

// MaxSymbolicDepth bounds symbolic chains; longer chains are treated as
// cycles.
const MaxSymbolicDepth = 5

const (
	lockRetryDelay = 5 * time.Millisecond
	lockWaitLimit  = 2 * time.Second
)

// Reference is either direct (Target set) or symbolic (Symbolic set).
type Reference struct {
	Name     string
	Target   object.ID
	Symbolic string
}

func (r Reference) IsSymbolic() bool { return r.Symbolic != "" }

// Kind selects which namespace Iterate walks.
type Kind uint8

const (
	All Kind = iota
	Local
	Remote
	Tags
)

func (k Kind) prefix() string {
	switch k {
	case Local:
		return HeadsPrefix
	case Remote:
		return RemotesPrefix
	case Tags:
		return TagsPrefix
	default:
		return "refs/"
	}
}

// Store keeps loose reference files under a metadata directory, one file
// per ref: "<40 or 64 hex>\n" or "ref: <name>\n".
type Store struct {
	dir    string
	algo   object.HashAlgorithm
	logger *slog.Logger
}

func NewStore(dir string, algo object.HashAlgorithm, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, algo: algo, logger: logger}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, filepath.FromSlash(name))
}

// Lookup reads a single reference without following symbolic targets.
func (s *Store) Lookup(name string) (*Reference, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	ref, err := readRef(s.path(name), name)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, fmt.Errorf("lookup %q: %w", name, ErrNotFound)
	}
	return ref, nil
}

func readRef(path, name string) (*Reference, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) || errors.Is(err, syscall.EISDIR) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ref %q: %w", name, err)
	}
	content := strings.TrimSpace(string(data))
	if target, ok := strings.CutPrefix(content, "ref: "); ok {
		return &Reference{Name: name, Symbolic: strings.TrimSpace(target)}, nil
	}
	id, err := object.ParseID(content)
	if err != nil {
		return nil, fmt.Errorf("read ref %q: %w: %v", name, ErrInvalidReference, err)
	}
	return &Reference{Name: name, Target: id}, nil
}

// Resolve follows symbolic references to the final direct reference.
// A dangling symbolic target (an unborn branch) yields ErrNotFound; chains
// longer than MaxSymbolicDepth yield ErrInvalidReference.
func (s *Store) Resolve(name string) (*Reference, error) {
	cur := name
	for hop := 0; hop <= MaxSymbolicDepth; hop++ {
		ref, err := s.Lookup(cur)
		if err != nil {
			if hop > 0 && errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("resolve %q: target %q: %w", name, cur, ErrNotFound)
			}
			return nil, err
		}
		if !ref.IsSymbolic() {
			return ref, nil
		}
		cur = ref.Symbolic
	}
	return nil, fmt.Errorf("resolve %q: %w: symbolic chain exceeds %d hops", name, ErrInvalidReference, MaxSymbolicDepth)
}

// ResolveToID follows name to an object ID.
func (s *Store) ResolveToID(name string) (object.ID, error) {
	ref, err := s.Resolve(name)
	if err != nil {
		return object.ID{}, err
	}
	return ref.Target, nil
}

// SymbolicTarget returns the final ref name a symbolic chain starting at
// name points at, whether or not that ref exists. For a direct ref it
// returns name itself.
func (s *Store) SymbolicTarget(name string) (string, error) {
	cur := name
	for hop := 0; hop <= MaxSymbolicDepth; hop++ {
		ref, err := s.Lookup(cur)
		if err != nil {
			if hop > 0 && errors.Is(err, ErrNotFound) {
				return cur, nil
			}
			return "", err
		}
		if !ref.IsSymbolic() {
			return cur, nil
		}
		cur = ref.Symbolic
	}
	return "", fmt.Errorf("symbolic target %q: %w: symbolic chain exceeds %d hops", name, ErrInvalidReference, MaxSymbolicDepth)
}

// Create writes a new direct reference. Unless force is set an existing
// reference of the same name yields ErrAlreadyExists.
func (s *Store) Create(name string, target object.ID, force bool, reason string) (*Reference, error) {
	if target.IsZero() {
		return nil, fmt.Errorf("create ref %q: missing target", name)
	}
	var err error
	if force {
		err = s.Update(name, target, reason)
	} else {
		err = s.Update(name, target, reason, object.ID{})
	}
	if errors.Is(err, ErrCASMismatch) {
		return nil, fmt.Errorf("create ref %q: %w", name, ErrAlreadyExists)
	}
	if err != nil {
		return nil, err
	}
	return &Reference{Name: name, Target: target}, nil
}

// SetDirectTarget points name at id, creating it if needed. A symbolic
// ref is replaced by a direct one (HEAD becomes detached).
func (s *Store) SetDirectTarget(name string, id object.ID, reason string) error {
	if id.IsZero() {
		return fmt.Errorf("set target %q: missing id", name)
	}
	return s.Update(name, id, reason)
}

// SetSymbolicTarget makes name a symbolic ref to target. The target does
// not need to exist.
func (s *Store) SetSymbolicTarget(name, target string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := ValidateName(target); err != nil {
		return err
	}
	if name == target {
		return fmt.Errorf("set symbolic %q: %w: points at itself", name, ErrInvalidReference)
	}
	return s.writeLocked(name, "ref: "+target+"\n", func(*Reference) error { return nil })
}

// Update writes id to the named ref file using lockfile + rename atomic
// semantics. If expectedOld is provided, the update only succeeds when
// the current ref matches it; a zero expectedOld requires the ref to be
// absent.
//
// Reflog append happens after the ref rename; if reflog append fails, the
// ref update remains committed and a *ReflogError is returned.
func (s *Store) Update(name string, id object.ID, reason string, expectedOld ...object.ID) error {
	if len(expectedOld) > 1 {
		return fmt.Errorf("update ref %q: expected at most one old id", name)
	}
	var oldID object.ID
	check := func(cur *Reference) error {
		if cur != nil && !cur.IsSymbolic() {
			oldID = cur.Target
		}
		if len(expectedOld) == 0 {
			return nil
		}
		want := expectedOld[0]
		switch {
		case want.IsZero() && cur != nil:
			return fmt.Errorf("update ref %q: %w (expected absent)", name, ErrCASMismatch)
		case !want.IsZero() && (cur == nil || cur.Target != want):
			return fmt.Errorf("update ref %q: %w (expected %s, found %s)", name, ErrCASMismatch, want, oldID)
		}
		return nil
	}
	if err := s.writeLocked(name, id.String()+"\n", check); err != nil {
		return err
	}
	s.logger.Debug("ref updated", "ref", name, "old", oldID.Short(), "new", id.Short(), "reason", reason)

	if err := s.AppendReflog(name, oldID, id, reason); err != nil {
		return &ReflogError{Ref: name, OldID: oldID, NewID: id, Err: err}
	}
	return nil
}

func (s *Store) writeLocked(name, content string, check func(*Reference) error) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	refPath := s.path(name)
	if err := os.MkdirAll(filepath.Dir(refPath), 0o755); err != nil {
		return fmt.Errorf("update ref %q: mkdir: %w", name, err)
	}

	lockPath := refPath + ".lock"
	lockFile, err := acquireLock(lockPath)
	if err != nil {
		return fmt.Errorf("update ref %q: lock: %w", name, err)
	}
	cleanupLock := true
	defer func() {
		if lockFile != nil {
			_ = lockFile.Close()
		}
		if cleanupLock {
			_ = os.Remove(lockPath)
		}
	}()

	cur, err := readRef(refPath, name)
	if err != nil {
		return fmt.Errorf("update ref %q: read old value: %w", name, err)
	}
	if err := check(cur); err != nil {
		return err
	}

	if _, err := lockFile.WriteString(content); err != nil {
		return fmt.Errorf("update ref %q: write: %w", name, err)
	}
	if err := lockFile.Sync(); err != nil {
		return fmt.Errorf("update ref %q: sync: %w", name, err)
	}
	if err := lockFile.Close(); err != nil {
		lockFile = nil
		return fmt.Errorf("update ref %q: close: %w", name, err)
	}
	lockFile = nil

	if err := os.Rename(lockPath, refPath); err != nil {
		return fmt.Errorf("update ref %q: rename: %w", name, err)
	}
	cleanupLock = false
	return nil
}

func acquireLock(lockPath string) (*os.File, error) {
	deadline := time.Now().Add(lockWaitLimit)
	for {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if os.IsExist(err) {
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("timeout waiting for lock %q", lockPath)
			}
			time.Sleep(lockRetryDelay)
			continue
		}
		return nil, err
	}
}

// Delete removes name and returns the ID it pointed at (zero for a
// symbolic ref). Its reflog is removed with it.
func (s *Store) Delete(name string) (object.ID, error) {
	ref, err := s.Lookup(name)
	if err != nil {
		return object.ID{}, fmt.Errorf("delete ref: %w", err)
	}
	refPath := s.path(name)
	lockPath := refPath + ".lock"
	lockFile, err := acquireLock(lockPath)
	if err != nil {
		return object.ID{}, fmt.Errorf("delete ref %q: lock: %w", name, err)
	}
	lockFile.Close()

	err = os.Remove(refPath)
	os.Remove(lockPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return object.ID{}, fmt.Errorf("delete ref %q: %w", name, ErrNotFound)
		}
		return object.ID{}, fmt.Errorf("delete ref %q: %w", name, err)
	}
	logPath := filepath.Join(s.dir, "logs", filepath.FromSlash(name))
	_ = os.Remove(logPath)
	s.pruneEmptyParents(filepath.Dir(refPath), filepath.Join(s.dir, "refs"))
	s.pruneEmptyParents(filepath.Dir(logPath), filepath.Join(s.dir, "logs", "refs"))
	s.logger.Debug("ref deleted", "ref", name, "old", ref.Target.Short())
	return ref.Target, nil
}

// pruneEmptyParents removes now-empty directories below stop/<kind>.
func (s *Store) pruneEmptyParents(dir, stop string) {
	for strings.HasPrefix(dir, stop+string(filepath.Separator)) {
		if filepath.Dir(dir) == stop {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// Iterate yields references of the given kind in name order, each paired
// with a nil error. Each range over the sequence takes a fresh snapshot of
// the ref directory when it starts; mutations made during iteration are
// not observed. A failed snapshot yields a single zero Reference with the
// error and ends the sequence.
func (s *Store) Iterate(kind Kind) iter.Seq2[Reference, error] {
	return func(yield func(Reference, error) bool) {
		refs, err := s.List(kind)
		if err != nil {
			yield(Reference{}, fmt.Errorf("iterate refs: %w", err))
			return
		}
		for _, r := range refs {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// List returns a snapshot of references of the given kind in name order.
func (s *Store) List(kind Kind) ([]Reference, error) {
	root := s.path(strings.TrimSuffix(kind.prefix(), "/"))
	var out []Reference
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), ".lock") {
			return nil
		}
		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		ref, err := readRef(path, name)
		if err != nil {
			return err
		}
		if ref != nil {
			out = append(out, *ref)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DWIM expands a short name the way git does, trying in order: the name
// itself, refs/<name>, refs/tags/<name>, refs/heads/<name>,
// refs/remotes/<name> and refs/remotes/<name>/HEAD.
func (s *Store) DWIM(short string) (string, error) {
	candidates := []string{
		short,
		"refs/" + short,
		TagsPrefix + short,
		HeadsPrefix + short,
		RemotesPrefix + short,
		RemotesPrefix + short + "/HEAD",
	}
	for _, c := range candidates {
		if validateName(c) != nil {
			continue
		}
		if _, err := s.Lookup(c); err == nil {
			return c, nil
		} else if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("dwim %q: %w", short, ErrNotFound)
}
