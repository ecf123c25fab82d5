package repo

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/odvcencio/vcscore/pkg/config"
	"github.com/odvcencio/vcscore/pkg/logging"
	"github.com/odvcencio/vcscore/pkg/object"
	"github.com/odvcencio/vcscore/pkg/refs"
	"github.com/odvcencio/vcscore/pkg/worktree"
)

// Init creates a repository with a working tree at path. It creates the
// metadata directory with HEAD, config.toml, objects/ and refs/, and fails
// with ErrRepositoryExists if one is already there.
func Init(path string, opts ...Option) (*Repository, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("init: abs path: %w", err)
	}
	return initAt(abs, filepath.Join(abs, MetadataDir), false, buildOptions(opts))
}

// InitBare creates a repository without a working tree; path itself is
// the metadata directory.
func InitBare(path string, opts ...Option) (*Repository, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("init: abs path: %w", err)
	}
	return initAt(abs, abs, true, buildOptions(opts))
}

func initAt(root, dir string, bare bool, o *options) (*Repository, error) {
	if _, err := os.Stat(filepath.Join(dir, "HEAD")); err == nil {
		return nil, fmt.Errorf("init: %w at %s", ErrRepositoryExists, dir)
	}
	for _, d := range []string{
		filepath.Join(dir, "objects"),
		filepath.Join(dir, "refs", "heads"),
		filepath.Join(dir, "refs", "tags"),
		filepath.Join(dir, "logs", "refs", "heads"),
	} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("init: mkdir %s: %w", d, err)
		}
	}

	algo := o.hash
	if algo == 0 {
		algo = object.SHA1
	}
	cfg := &config.Config{Core: config.Core{Hash: algo.String(), Bare: bare}}
	if err := config.Save(filepath.Join(dir, config.FileName), cfg); err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	if err := refs.NewStore(dir, algo, o.logger).SetSymbolicTarget(refs.HEAD, refs.BranchName(o.initialBranch)); err != nil {
		return nil, fmt.Errorf("init: write HEAD: %w", err)
	}
	if bare {
		root = ""
	}
	return openAt(root, dir, bare, o)
}

// Open searches upward from path for a repository. A directory holding a
// metadata directory opens with a working tree; a directory that is itself
// a metadata directory opens bare.
func Open(path string, opts ...Option) (*Repository, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("open: abs path: %w", err)
	}
	o := buildOptions(opts)
	for cur := abs; ; {
		if isRepositoryDir(filepath.Join(cur, MetadataDir)) {
			return openAt(cur, filepath.Join(cur, MetadataDir), false, o)
		}
		if isRepositoryDir(cur) {
			return openAt("", cur, true, o)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return nil, fmt.Errorf("open %s: %w", abs, ErrNotRepository)
		}
		cur = parent
	}
}

func isRepositoryDir(dir string) bool {
	head, err := os.Stat(filepath.Join(dir, "HEAD"))
	if err != nil || head.IsDir() {
		return false
	}
	objects, err := os.Stat(filepath.Join(dir, "objects"))
	return err == nil && objects.IsDir()
}

func openAt(root, dir string, bare bool, o *options) (*Repository, error) {
	cfg, err := config.Load(config.GlobalPath(), filepath.Join(dir, config.FileName))
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	algo, err := object.ParseHashAlgorithm(cfg.Core.Hash)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	r := &Repository{
		root:       root,
		dir:        dir,
		bare:       bare,
		cfg:        cfg,
		logger:     o.logger,
		logCloser:  nopCloser{},
		metrics:    o.metrics,
		transports: o.transports,
	}
	if r.logger == nil {
		l, closer, err := logging.New(cfg.Log, nil)
		if err != nil {
			return nil, fmt.Errorf("open: %w", err)
		}
		r.logger, r.logCloser = l, closer
	}
	r.logger = r.logger.With("repo", dir)
	if r.transports == nil {
		r.transports = r.localTransport
	}

	backend, err := object.NewLooseBackend(dir, algo)
	if err != nil {
		r.logCloser.Close()
		return nil, fmt.Errorf("open: %w", err)
	}
	r.store, err = object.NewStore(backend, algo,
		object.WithCacheSize(cfg.Core.ObjectCacheSize),
		object.WithLogger(r.logger),
		object.WithMetrics(r.metrics),
	)
	if err != nil {
		r.logCloser.Close()
		return nil, fmt.Errorf("open: %w", err)
	}
	r.refs = refs.NewStore(dir, algo, r.logger)
	if !bare {
		r.wt = worktree.New(osfs.New(root), r.store,
			worktree.WithMetadataDir(MetadataDir),
			worktree.WithConcurrency(cfg.Core.Concurrency),
			worktree.WithLogger(r.logger),
			worktree.WithMetrics(r.metrics),
		)
	}
	r.logger.Debug("repository opened", "bare", bare, "hash", algo)
	return r, nil
}

// saveConfig writes the repository layer of the configuration. Only the
// sections a repository owns are persisted; defaults and the global file
// stay where they came from.
func (r *Repository) saveConfig() error {
	path := r.path(config.FileName)
	local, err := config.Read(path)
	if err != nil {
		return err
	}
	local.Remote = r.cfg.Remote
	local.Branch = r.cfg.Branch
	return config.Save(path, local)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
