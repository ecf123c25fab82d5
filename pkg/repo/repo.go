// Package repo ties the object store, references, index, working tree and
// history walker into a repository with merge and checkout state.
package repo

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/odvcencio/vcscore/pkg/config"
	"github.com/odvcencio/vcscore/pkg/diff3"
	"github.com/odvcencio/vcscore/pkg/index"
	"github.com/odvcencio/vcscore/pkg/merge"
	"github.com/odvcencio/vcscore/pkg/metrics"
	"github.com/odvcencio/vcscore/pkg/object"
	"github.com/odvcencio/vcscore/pkg/refs"
	"github.com/odvcencio/vcscore/pkg/revwalk"
	"github.com/odvcencio/vcscore/pkg/transport"
	"github.com/odvcencio/vcscore/pkg/worktree"
)

// MetadataDir is the name of the metadata directory of a non-bare
// repository.
const MetadataDir = ".vcs"

const (
	indexFile   = "index"
	mergeMsg    = "MERGE_MSG"
	shallowFile = "shallow"
)

var tracer = otel.Tracer("vcscore.repo")

var (
	// ErrNotRepository is returned by Open when no repository is found.
	ErrNotRepository = errors.New("not a repository")
	// ErrRepositoryExists is returned by Init for an existing repository.
	ErrRepositoryExists = errors.New("repository already exists")
	// ErrBareRepository is returned by operations that need a working tree.
	ErrBareRepository = errors.New("operation requires a working tree")
	// ErrInvalidRepositoryState is returned when a merge, cherry-pick,
	// revert or rebase is still in progress.
	ErrInvalidRepositoryState = errors.New("invalid repository state")
	// ErrFastForwardOnly is returned when merge.ff is "only" and the
	// histories diverged.
	ErrFastForwardOnly = errors.New("not possible to fast-forward")
	// ErrUpstreamNotConfigured is returned for a branch without an
	// upstream.
	ErrUpstreamNotConfigured = errors.New("no upstream configured")
	// ErrUnbornHead is returned when HEAD points at a branch with no
	// commits and a commit is required.
	ErrUnbornHead = errors.New("HEAD has no commits")
	// ErrConflict is matched by every *ConflictError.
	ErrConflict = errors.New("unresolved conflicts")
	// ErrNothingToCommit is returned when the index matches HEAD.
	ErrNothingToCommit = errors.New("nothing to commit")
	// ErrRemoteNotFound is returned for a remote missing from the
	// configuration.
	ErrRemoteNotFound = errors.New("remote not found")
)

// ConflictError lists the paths left conflicted in the index.
type ConflictError struct {
	Paths []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConflict, strings.Join(e.Paths, ", "))
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Repository is a single-writer view of one repository. Every exported
// method takes the repository lock, so a Repository may be shared but its
// operations never interleave.
type Repository struct {
	mu sync.Mutex

	root string // working tree root; empty when bare
	dir  string // metadata directory
	bare bool

	cfg        *config.Config
	store      *object.Store
	refs       *refs.Store
	wt         *worktree.Worktree
	logger     *slog.Logger
	logCloser  io.Closer
	metrics    *metrics.Collectors
	transports func(url string) (transport.Transport, error)
}

type options struct {
	logger        *slog.Logger
	metrics       *metrics.Collectors
	registerer    prometheus.Registerer
	transports    func(url string) (transport.Transport, error)
	hash          object.HashAlgorithm
	initialBranch string
}

// Option configures Init, InitBare, Open and Clone.
type Option func(*options)

// WithLogger sets the logger. Without it a logger is built from the [log]
// configuration section.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records into existing collectors.
func WithMetrics(m *metrics.Collectors) Option {
	return func(o *options) { o.metrics = m }
}

// WithRegisterer creates collectors registered on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithTransport replaces how remote URLs are mapped to transports. The
// default serves local paths and file:// URLs.
func WithTransport(open func(url string) (transport.Transport, error)) Option {
	return func(o *options) { o.transports = open }
}

// WithHashAlgorithm selects the object ID algorithm of a new repository.
func WithHashAlgorithm(a object.HashAlgorithm) Option {
	return func(o *options) { o.hash = a }
}

// WithInitialBranch names the branch HEAD points at in a new repository.
func WithInitialBranch(name string) Option {
	return func(o *options) { o.initialBranch = name }
}

func buildOptions(opts []Option) *options {
	o := &options{initialBranch: "main"}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil && o.registerer != nil {
		o.metrics = metrics.New(o.registerer)
	}
	return o
}

// Dir returns the metadata directory.
func (r *Repository) Dir() string { return r.dir }

// Root returns the working tree root, or "" for a bare repository.
func (r *Repository) Root() string { return r.root }

// IsBare reports whether the repository has no working tree.
func (r *Repository) IsBare() bool { return r.bare }

// Store returns the object store.
func (r *Repository) Store() *object.Store { return r.store }

// Refs returns the reference store.
func (r *Repository) Refs() *refs.Store { return r.refs }

// Worktree returns the working tree, or nil for a bare repository.
func (r *Repository) Worktree() *worktree.Worktree { return r.wt }

// Config returns a copy of the loaded configuration.
func (r *Repository) Config() config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.cfg
}

// Close releases the object store and the log file.
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.store.Close(), r.logCloser.Close())
}

// localTransport is the default transport opener.
func (r *Repository) localTransport(url string) (transport.Transport, error) {
	if _, err := transport.Open(url); err != nil {
		return nil, err
	}
	return &transport.Local{MetadataDir: MetadataDir, Logger: r.logger}, nil
}

func (r *Repository) path(name string) string { return filepath.Join(r.dir, name) }

func (r *Repository) requireWorktree(op string) error {
	if r.bare {
		return fmt.Errorf("%s: %w", op, ErrBareRepository)
	}
	return nil
}

func (r *Repository) loadIndex() (*index.Index, error) {
	return index.Load(r.path(indexFile))
}

func (r *Repository) saveIndex(idx *index.Index) error {
	return idx.Save(r.path(indexFile))
}

// walker returns a history walker honoring the shallow boundary.
func (r *Repository) walker() (*revwalk.Walker, error) {
	shallow, err := r.readShallow()
	if err != nil {
		return nil, err
	}
	return revwalk.New(r.store, revwalk.WithShallow(shallow), revwalk.WithLogger(r.logger)), nil
}

func (r *Repository) readShallow() ([]object.ID, error) {
	data, err := os.ReadFile(r.path(shallowFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read shallow: %w", err)
	}
	var ids []object.ID
	for _, line := range strings.Fields(string(data)) {
		id, err := object.ParseID(line)
		if err != nil {
			return nil, fmt.Errorf("read shallow: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *Repository) writeShallow(ids []object.ID) error {
	if len(ids) == 0 {
		if err := os.Remove(r.path(shallowFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("write shallow: %w", err)
		}
		return nil
	}
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id.String())
		b.WriteByte('\n')
	}
	if err := os.WriteFile(r.path(shallowFile), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write shallow: %w", err)
	}
	return nil
}

// mergeOptions returns content merge settings from the [merge] section.
func (r *Repository) mergeOptions(theirsLabel string) merge.Options {
	style := diff3.StyleDiff3
	if strings.EqualFold(r.cfg.Merge.ConflictStyle, "merge") {
		style = diff3.StyleMerge
	}
	return merge.Options{
		Style:  style,
		Labels: diff3.Labels{Ours: "HEAD", Base: "base", Theirs: theirsLabel},
	}
}
