package repo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/vcscore/pkg/object"
	"github.com/odvcencio/vcscore/pkg/progress"
	"github.com/odvcencio/vcscore/pkg/refs"
	"github.com/odvcencio/vcscore/pkg/transport"
)

// Remotes returns the configured remote names in order.
func (r *Repository) Remotes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.cfg.Remote))
	for name := range r.cfg.Remote {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetRemote adds or replaces a remote and saves the configuration.
func (r *Repository) SetRemote(name, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setRemote(name, url)
}

func (r *Repository) setRemote(name, url string) error {
	if err := refs.ValidateName(refs.RemoteName(name, "HEAD")); err != nil {
		return fmt.Errorf("set remote: %w", err)
	}
	if err := r.cfg.SetRemote(name, url); err != nil {
		return err
	}
	if err := r.saveConfig(); err != nil {
		return fmt.Errorf("set remote %q: %w", name, err)
	}
	return nil
}

// RemoteURL returns the URL of a configured remote. A remote that does not
// exist yields "" and no error.
func (r *Repository) RemoteURL(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("remote url: remote name is required")
	}
	url, _ := r.cfg.RemoteURL(name)
	return url, nil
}

// RemoveRemote deletes a remote, its remote-tracking references and the
// upstream settings of branches that track it.
func (r *Repository) RemoveRemote(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cfg.RemoteURL(name); !ok {
		return fmt.Errorf("remove remote %q: %w", name, ErrRemoteNotFound)
	}
	delete(r.cfg.Remote, name)
	for branch, b := range r.cfg.Branch {
		if b.Remote == name {
			delete(r.cfg.Branch, branch)
		}
	}
	if err := r.saveConfig(); err != nil {
		return fmt.Errorf("remove remote %q: %w", name, err)
	}
	prefix := refs.RemoteName(name, "")
	for ref, err := range r.refs.Iterate(refs.Remote) {
		if err != nil {
			return fmt.Errorf("remove remote %q: %w", name, err)
		}
		if !strings.HasPrefix(ref.Name, prefix) {
			continue
		}
		if _, err := r.refs.Delete(ref.Name); err != nil && !errors.Is(err, refs.ErrNotFound) {
			return fmt.Errorf("remove remote %q: %w", name, err)
		}
	}
	return nil
}

// endpoint maps a remote name or URL to a URL. named reports whether
// remote-tracking references are kept for it.
func (r *Repository) endpoint(remote string) (url string, named bool, err error) {
	if url, ok := r.cfg.RemoteURL(remote); ok {
		return url, true, nil
	}
	if strings.ContainsAny(remote, `/\:`) || strings.HasPrefix(remote, ".") {
		return remote, false, nil
	}
	return "", false, fmt.Errorf("remote %q: %w", remote, ErrRemoteNotFound)
}

// FetchOptions configures Fetch.
type FetchOptions struct {
	// Prune deletes remote-tracking references the remote no longer
	// advertises. remote.<name>.prune enables it too.
	Prune bool
	// Depth limits history to that many commits per advertised ref.
	Depth       int
	Credentials transport.CredentialsProvider
}

// RefChange is a reference moved by Fetch or Push. A zero Old means it was
// created, a zero New that it was deleted.
type RefChange struct {
	Name string
	Old  object.ID
	New  object.ID
}

// FetchResult describes a completed fetch.
type FetchResult struct {
	// DefaultBranch is the remote's HEAD branch as a full name.
	DefaultBranch string
	Updated       []RefChange
	Pruned        []string
	// Objects counts objects written locally.
	Objects int
}

// Fetch downloads the objects of a configured remote's branches and tags
// and updates refs/remotes/<remote>/*. remote may also be a URL, in which
// case no remote-tracking references are written. The stream reports
// transfer progress and must be drained.
func (r *Repository) Fetch(ctx context.Context, remote string, opts FetchOptions) *progress.Stream[transport.FetchProgress, *FetchResult] {
	return progress.Start(ctx, func(ctx context.Context, report progress.Reporter[transport.FetchProgress]) (*FetchResult, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.fetch(ctx, remote, opts, report)
	})
}

func (r *Repository) fetch(ctx context.Context, remote string, opts FetchOptions, report func(transport.FetchProgress)) (*FetchResult, error) {
	ctx, span := tracer.Start(ctx, "repo.Fetch", trace.WithAttributes(attribute.String("fetch.remote", remote), attribute.Int("fetch.depth", opts.Depth)))
	defer span.End()

	res, err := r.doFetch(ctx, remote, opts, report)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("fetch %s: %w", remote, err)
	}
	span.SetAttributes(attribute.Int("fetch.objects", res.Objects), attribute.Int("fetch.updated", len(res.Updated)))
	return res, nil
}

func (r *Repository) doFetch(ctx context.Context, remote string, opts FetchOptions, report func(transport.FetchProgress)) (*FetchResult, error) {
	url, named, err := r.endpoint(remote)
	if err != nil {
		return nil, err
	}
	t, err := r.transports(url)
	if err != nil {
		return nil, err
	}
	haves, err := r.localTips()
	if err != nil {
		return nil, err
	}
	fetched, err := t.Fetch(ctx, r.store, transport.FetchRequest{
		URL:         url,
		Haves:       haves,
		Depth:       opts.Depth,
		Credentials: opts.Credentials,
	}, report)
	if err != nil {
		return nil, err
	}
	r.metrics.ObjectsTransferred("fetch", fetched.Objects)
	res := &FetchResult{DefaultBranch: fetched.DefaultBranch, Objects: fetched.Objects}

	if len(fetched.Shallow) > 0 {
		shallow, err := r.readShallow()
		if err != nil {
			return nil, err
		}
		shallow = append(shallow, fetched.Shallow...)
		slices.SortFunc(shallow, func(a, b object.ID) int { return strings.Compare(a.String(), b.String()) })
		if err := r.writeShallow(slices.Compact(shallow)); err != nil {
			return nil, err
		}
	}
	if !named {
		r.logger.Debug("fetched url", "url", url, "objects", fetched.Objects)
		return res, nil
	}

	advertised := make(map[string]bool)
	for _, ref := range fetched.Refs {
		var name string
		switch {
		case refs.IsBranch(ref.Name):
			name = refs.RemoteName(remote, refs.ShortName(ref.Name))
		case refs.IsTag(ref.Name):
			name = ref.Name
		default:
			continue
		}
		advertised[name] = true
		change, err := r.updateTracking(name, ref.ID, refs.IsTag(ref.Name), "fetch: "+url)
		if err != nil {
			return nil, err
		}
		if change != nil {
			res.Updated = append(res.Updated, *change)
		}
	}

	headRef := refs.RemoteName(remote, refs.HEAD)
	if defaultRef := refs.RemoteName(remote, refs.ShortName(fetched.DefaultBranch)); fetched.DefaultBranch != "" && advertised[defaultRef] {
		if err := r.refs.SetSymbolicTarget(headRef, defaultRef); err != nil {
			return nil, err
		}
	}

	if opts.Prune || r.cfg.Remote[remote].Prune {
		prefix := refs.RemoteName(remote, "")
		for ref, err := range r.refs.Iterate(refs.Remote) {
			if err != nil {
				return nil, err
			}
			if !strings.HasPrefix(ref.Name, prefix) || ref.Name == headRef || advertised[ref.Name] {
				continue
			}
			if _, err := r.refs.Delete(ref.Name); err != nil {
				return nil, err
			}
			res.Pruned = append(res.Pruned, ref.Name)
		}
	}
	r.logger.Debug("fetched remote", "remote", remote, "objects", res.Objects, "updated", len(res.Updated), "pruned", len(res.Pruned))
	return res, nil
}

// updateTracking points name at id. Existing tags are left alone.
func (r *Repository) updateTracking(name string, id object.ID, tag bool, reason string) (*RefChange, error) {
	old, err := r.refs.ResolveToID(name)
	switch {
	case errors.Is(err, refs.ErrNotFound):
		old = object.ID{}
	case err != nil:
		return nil, err
	case old == id || tag:
		return nil, nil
	}
	if err := r.refs.Update(name, id, reason); err != nil {
		var reflogErr *refs.ReflogError
		if !errors.As(err, &reflogErr) {
			return nil, err
		}
		r.logger.Warn("reflog append failed", "ref", name, "err", err)
	}
	return &RefChange{Name: name, Old: old, New: id}, nil
}

// localTips returns the commits every local reference points at.
func (r *Repository) localTips() ([]object.ID, error) {
	list, err := r.refs.List(refs.All)
	if err != nil {
		return nil, err
	}
	var out []object.ID
	for _, ref := range list {
		id, err := r.refs.ResolveToID(ref.Name)
		if err != nil {
			if errors.Is(err, refs.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if r.store.Exists(id) {
			out = append(out, id)
		}
	}
	return out, nil
}

// PushOptions configures Push.
type PushOptions struct {
	// Force allows updates that are not fast-forwards. The remote is still
	// required to hold the value it advertised.
	Force       bool
	Credentials transport.CredentialsProvider
}

// PushResult lists the remote references changed by Push.
type PushResult struct {
	Updated []RefChange
}

// Push updates references on remote. Each refspec is "src:dst", "src"
// for the same name on both sides, ":dst" to delete, with a leading "+"
// to force that update. No refspecs pushes the current branch to its
// upstream, or to the same name when it has none. Remote-tracking
// references follow successful updates.
func (r *Repository) Push(ctx context.Context, remote string, refspecs []string, opts PushOptions) *progress.Stream[transport.PushProgress, *PushResult] {
	return progress.Start(ctx, func(ctx context.Context, report progress.Reporter[transport.PushProgress]) (*PushResult, error) {
		r.mu.Lock()
		defer r.mu.Unlock()

		ctx, span := tracer.Start(ctx, "repo.Push", trace.WithAttributes(attribute.String("push.remote", remote), attribute.StringSlice("push.refspecs", refspecs)))
		defer span.End()
		res, err := r.push(ctx, remote, refspecs, opts, report)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("push %s: %w", remote, err)
		}
		return res, nil
	})
}

type refspec struct {
	force bool
	src   string
	dst   string
}

func parseRefspec(s string) (refspec, error) {
	var spec refspec
	if strings.HasPrefix(s, "+") {
		spec.force = true
		s = s[1:]
	}
	src, dst, ok := strings.Cut(s, ":")
	if !ok {
		dst = src
	}
	if dst == "" {
		return refspec{}, fmt.Errorf("invalid refspec %q", s)
	}
	spec.src, spec.dst = src, dst
	return spec, nil
}

func (r *Repository) push(ctx context.Context, remote string, specs []string, opts PushOptions, report func(transport.PushProgress)) (*PushResult, error) {
	url, named, err := r.endpoint(remote)
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		spec, err := r.defaultPushSpec(remote)
		if err != nil {
			return nil, err
		}
		specs = []string{spec}
	}
	t, err := r.transports(url)
	if err != nil {
		return nil, err
	}
	advertisedList, _, err := t.ListRefs(ctx, url, opts.Credentials)
	if err != nil {
		return nil, err
	}
	advertised := make(map[string]object.ID, len(advertisedList))
	for _, ref := range advertisedList {
		advertised[ref.Name] = ref.ID
	}
	w, err := r.walker()
	if err != nil {
		return nil, err
	}

	var updates []transport.RefUpdate
	for _, s := range specs {
		spec, err := parseRefspec(s)
		if err != nil {
			return nil, err
		}
		u, err := r.pushUpdate(spec, advertised)
		if err != nil {
			return nil, err
		}
		if u.Old == u.New {
			continue
		}
		if !u.Old.IsZero() && !u.New.IsZero() && !(spec.force || opts.Force) {
			ff := r.store.Exists(u.Old)
			if ff {
				if ff, err = w.IsAncestor(u.Old, u.New); err != nil {
					return nil, err
				}
			}
			if !ff {
				return nil, fmt.Errorf("%w: %s is not a fast-forward", transport.ErrRejected, u.Name)
			}
		}
		updates = append(updates, u)
	}
	res := &PushResult{}
	if len(updates) == 0 {
		return res, nil
	}

	var sent int
	err = t.Push(ctx, r.store, transport.PushRequest{URL: url, Updates: updates, Credentials: opts.Credentials}, func(p transport.PushProgress) {
		if p.SidebandMessage == "" {
			sent = p.Current
		}
		report(p)
	})
	if err != nil {
		return nil, err
	}
	r.metrics.ObjectsTransferred("push", sent)

	for _, u := range updates {
		res.Updated = append(res.Updated, RefChange(u))
		if !named || !refs.IsBranch(u.Name) {
			continue
		}
		tracking := refs.RemoteName(remote, refs.ShortName(u.Name))
		if u.New.IsZero() {
			if _, err := r.refs.Delete(tracking); err != nil && !errors.Is(err, refs.ErrNotFound) {
				return nil, err
			}
			continue
		}
		if _, err := r.updateTracking(tracking, u.New, false, "update by push"); err != nil {
			return nil, err
		}
	}
	r.logger.Debug("pushed", "remote", remote, "updates", len(updates), "objects", sent)
	return res, nil
}

// pushUpdate resolves one refspec against the local repository and the
// remote's advertised references.
func (r *Repository) pushUpdate(spec refspec, advertised map[string]object.ID) (transport.RefUpdate, error) {
	var u transport.RefUpdate
	src := ""
	if spec.src != "" {
		full, err := r.refs.DWIM(spec.src)
		if err != nil {
			return u, err
		}
		src = full
		if u.New, err = r.refs.ResolveToID(full); err != nil {
			return u, err
		}
	}
	switch {
	case strings.HasPrefix(spec.dst, "refs/"):
		u.Name = spec.dst
	case spec.src == spec.dst && src != "" && !refs.IsRemote(src):
		u.Name = src
	default:
		u.Name = refs.BranchName(spec.dst)
	}
	if err := refs.ValidateName(u.Name); err != nil {
		return u, err
	}
	u.Old = advertised[u.Name]
	if u.New.IsZero() && u.Old.IsZero() {
		return u, fmt.Errorf("delete %s: %w", u.Name, refs.ErrNotFound)
	}
	return u, nil
}

func (r *Repository) defaultPushSpec(remote string) (string, error) {
	cur, err := r.currentBranch()
	if err != nil {
		return "", err
	}
	if cur == "" {
		return "", fmt.Errorf("push: HEAD is detached; name what to push")
	}
	short := refs.ShortName(cur)
	if b, ok := r.cfg.Branch[short]; ok && b.Remote == remote && b.Merge != "" {
		return cur + ":" + b.Merge, nil
	}
	return cur + ":" + cur, nil
}

// CloneOptions configures Clone.
type CloneOptions struct {
	// RemoteName defaults to "origin".
	RemoteName string
	// Branch is checked out instead of the remote's default branch.
	Branch      string
	Depth       int
	Bare        bool
	Credentials transport.CredentialsProvider
}

// Clone creates a repository at path, fetches url into it as a remote and
// checks out the remote's default branch, which tracks its remote
// counterpart. A directory created by Clone is removed again when it
// fails.
func Clone(ctx context.Context, url, path string, opts CloneOptions, repoOpts ...Option) *progress.Stream[transport.FetchProgress, *Repository] {
	return progress.Start(ctx, func(ctx context.Context, report progress.Reporter[transport.FetchProgress]) (*Repository, error) {
		_, statErr := os.Stat(path)
		created := errors.Is(statErr, os.ErrNotExist)

		r, err := clone(ctx, url, path, opts, repoOpts, report)
		if err != nil {
			if created {
				_ = os.RemoveAll(path)
			}
			return nil, fmt.Errorf("clone %s: %w", url, err)
		}
		return r, nil
	})
}

func clone(ctx context.Context, url, path string, opts CloneOptions, repoOpts []Option, report func(transport.FetchProgress)) (*Repository, error) {
	ctx, span := tracer.Start(ctx, "repo.Clone", trace.WithAttributes(attribute.String("clone.url", url)))
	defer span.End()

	create := Init
	if opts.Bare {
		create = InitBare
	}
	r, err := create(path, repoOpts...)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := r.cloneInto(ctx, url, opts, report); err != nil {
		r.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return r, nil
}

func (r *Repository) cloneInto(ctx context.Context, url string, opts CloneOptions, report func(transport.FetchProgress)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	remote := opts.RemoteName
	if remote == "" {
		remote = "origin"
	}
	if err := r.setRemote(remote, url); err != nil {
		return err
	}
	fetched, err := r.fetch(ctx, remote, FetchOptions{Depth: opts.Depth, Credentials: opts.Credentials}, report)
	if err != nil {
		return err
	}

	branch := opts.Branch
	if branch == "" {
		branch = refs.ShortName(fetched.DefaultBranch)
	}
	if branch == "" {
		r.logger.Debug("cloned empty repository", "url", url)
		return nil
	}
	local := refs.BranchName(branch)
	id, err := r.refs.ResolveToID(refs.RemoteName(remote, branch))
	if errors.Is(err, refs.ErrNotFound) && opts.Branch == "" {
		r.logger.Debug("cloned empty repository", "url", url)
		return r.refs.SetSymbolicTarget(refs.HEAD, local)
	}
	if err != nil {
		return fmt.Errorf("branch %q: %w", branch, err)
	}
	if err := r.refs.SetSymbolicTarget(refs.HEAD, local); err != nil {
		return err
	}
	if !r.bare {
		c, err := r.store.ReadCommit(id)
		if err != nil {
			return err
		}
		if err := r.syncTree(ctx, c.Tree, 0, nil); err != nil {
			return err
		}
	}
	if err := r.advanceHead(object.ID{}, id, "clone: from "+url); err != nil {
		return err
	}
	r.cfg.SetUpstream(branch, remote, local)
	if err := r.saveConfig(); err != nil {
		return err
	}
	r.logger.Debug("cloned", "url", url, "branch", branch, "commit", id.Short())
	return nil
}
