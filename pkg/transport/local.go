package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/odvcencio/vcscore/pkg/config"
	"github.com/odvcencio/vcscore/pkg/object"
	"github.com/odvcencio/vcscore/pkg/refs"
)

// SidebandManifest announces the object count and shallow commits of a
// transfer before any data frame.
const SidebandManifest byte = 0x04

// Local serves remotes that are repositories on this machine, addressed by
// path or file:// URL. Objects are streamed through sideband frames over
// an in-process pipe.
type Local struct {
	// MetadataDir is the metadata directory name of non-bare remotes.
	MetadataDir string
	Logger      *slog.Logger
}

func NewLocal() *Local {
	return &Local{MetadataDir: ".vcs", Logger: slog.Default()}
}

type localRemote struct {
	bare  bool
	store *object.Store
	refs  *refs.Store
}

func (l *Local) open(rawURL string) (*localRemote, error) {
	ep, err := ParseEndpoint(rawURL)
	if err != nil {
		return nil, err
	}
	if ep.Scheme != "file" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, ep.Scheme)
	}
	root, err := filepath.Abs(ep.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRepositoryNotFound, rawURL, err)
	}

	dir, bare := filepath.Join(root, l.MetadataDir), false
	if !isDir(dir) {
		dir, bare = root, true
	}
	if !isDir(filepath.Join(dir, "objects")) {
		return nil, fmt.Errorf("%w: %s", ErrRepositoryNotFound, rawURL)
	}

	cfg, err := config.Read(filepath.Join(dir, config.FileName))
	if err != nil {
		return nil, fmt.Errorf("open remote %s: %w", rawURL, err)
	}
	algo, err := object.ParseHashAlgorithm(cfg.Core.Hash)
	if err != nil {
		return nil, fmt.Errorf("open remote %s: %w", rawURL, err)
	}
	backend, err := object.NewLooseBackend(dir, algo)
	if err != nil {
		return nil, fmt.Errorf("open remote %s: %w", rawURL, err)
	}
	store, err := object.NewStore(backend, algo, object.WithLogger(l.logger()))
	if err != nil {
		return nil, fmt.Errorf("open remote %s: %w", rawURL, err)
	}
	return &localRemote{bare: bare, store: store, refs: refs.NewStore(dir, algo, l.logger())}, nil
}

func (l *Local) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

// advertise lists branches and tags, and the branch HEAD points at.
func (r *localRemote) advertise() ([]Ref, string, error) {
	var out []Ref
	for _, kind := range []refs.Kind{refs.Local, refs.Tags} {
		list, err := r.refs.List(kind)
		if err != nil {
			return nil, "", err
		}
		for _, ref := range list {
			id, err := r.refs.ResolveToID(ref.Name)
			if err != nil {
				return nil, "", err
			}
			out = append(out, Ref{Name: ref.Name, ID: id})
		}
	}
	head, err := r.refs.SymbolicTarget(refs.HEAD)
	if err != nil || !refs.IsBranch(head) {
		head = ""
	}
	return out, head, nil
}

// ListRefs returns the remote's branches and tags and its default branch.
func (l *Local) ListRefs(_ context.Context, rawURL string, _ CredentialsProvider) ([]Ref, string, error) {
	r, err := l.open(rawURL)
	if err != nil {
		return nil, "", err
	}
	defer r.store.Close()
	return r.advertise()
}

// Fetch copies the objects reachable from req.Wants into dst.
func (l *Local) Fetch(ctx context.Context, dst *object.Store, req FetchRequest, progress func(FetchProgress)) (*FetchResult, error) {
	r, err := l.open(req.URL)
	if err != nil {
		return nil, err
	}
	defer r.store.Close()
	if r.store.Algorithm() != dst.Algorithm() {
		return nil, fmt.Errorf("fetch %s: remote uses %s, local uses %s", req.URL, r.store.Algorithm(), dst.Algorithm())
	}

	advertised, head, err := r.advertise()
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	result := &FetchResult{Refs: advertised, DefaultBranch: head}

	wants := slices.Clone(req.Wants)
	if len(wants) == 0 {
		for _, ref := range advertised {
			wants = append(wants, ref.ID)
		}
	}
	wants = uniqueIDs(wants)
	if len(wants) == 0 {
		return result, nil
	}
	for _, id := range wants {
		if !r.store.Exists(id) {
			return nil, fmt.Errorf("fetch %s: want %s: %w", req.URL, id, object.ErrNotFound)
		}
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(sendObjects(r.store, wants, req.Haves, req.Depth, NewSidebandWriter(pw)))
	}()
	stop := context.AfterFunc(ctx, func() { pr.CloseWithError(ctx.Err()) })
	defer stop()
	defer pr.Close()

	var prog FetchProgress
	err = receiveObjects(dst, pr, func(total int, shallow []object.ID) {
		prog.TotalObjects = total
		result.Shallow = shallow
	}, func(batch, written int, bytes int) {
		prog.ReceivedObjects += batch
		prog.IndexedObjects += batch
		prog.ReceivedBytes += int64(bytes)
		result.Objects += written
		if progress != nil {
			progress(prog)
		}
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	l.logger().Debug("fetch complete", "url", req.URL, "objects", result.Objects, "shallow", len(result.Shallow))
	return result, nil
}

// Push sends the objects the remote lacks and applies req.Updates, each
// guarded by its Old value.
func (l *Local) Push(ctx context.Context, src *object.Store, req PushRequest, progress func(PushProgress)) error {
	r, err := l.open(req.URL)
	if err != nil {
		return err
	}
	defer r.store.Close()
	if r.store.Algorithm() != src.Algorithm() {
		return fmt.Errorf("push %s: remote uses %s, local uses %s", req.URL, r.store.Algorithm(), src.Algorithm())
	}

	checkedOut := ""
	if !r.bare {
		checkedOut, _ = r.refs.SymbolicTarget(refs.HEAD)
	}
	var roots []object.ID
	for _, u := range req.Updates {
		if err := refs.ValidateName(u.Name); err != nil {
			return fmt.Errorf("push %s: %w", req.URL, err)
		}
		if !strings.HasPrefix(u.Name, "refs/") {
			return fmt.Errorf("push %s: %w: %s is not under refs/", req.URL, ErrRejected, u.Name)
		}
		if u.Name == checkedOut {
			return fmt.Errorf("push %s: %w: %s is checked out in the remote working tree", req.URL, ErrRejected, u.Name)
		}
		if !u.New.IsZero() {
			roots = append(roots, u.New)
		}
	}

	// Objects reachable from what the remote already advertises are not
	// sent.
	advertised, _, err := r.advertise()
	if err != nil {
		return fmt.Errorf("push %s: %w", req.URL, err)
	}
	var haves []object.ID
	for _, ref := range advertised {
		if src.Exists(ref.ID) {
			haves = append(haves, ref.ID)
		}
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(sendObjects(src, uniqueIDs(roots), haves, 0, NewSidebandWriter(pw)))
	}()
	stop := context.AfterFunc(ctx, func() { pr.CloseWithError(ctx.Err()) })
	defer stop()
	defer pr.Close()

	var prog PushProgress
	err = receiveObjects(r.store, pr, func(total int, _ []object.ID) {
		prog.Total = total
	}, func(batch, _ int, bytes int) {
		prog.Current += batch
		prog.Bytes += int64(bytes)
		if progress != nil {
			progress(prog)
		}
	}, func(msg string) {
		if progress != nil {
			progress(PushProgress{SidebandMessage: msg})
		}
	})
	if err != nil {
		return fmt.Errorf("push %s: %w", req.URL, err)
	}

	for _, u := range req.Updates {
		if err := r.apply(u); err != nil {
			return fmt.Errorf("push %s: %w", req.URL, err)
		}
		if progress != nil {
			progress(PushProgress{SidebandMessage: "updated " + u.Name})
		}
	}
	l.logger().Debug("push complete", "url", req.URL, "updates", len(req.Updates), "objects", prog.Current)
	return nil
}

func (r *localRemote) apply(u RefUpdate) error {
	if u.New.IsZero() {
		cur, err := r.refs.ResolveToID(u.Name)
		if err != nil {
			if errors.Is(err, refs.ErrNotFound) {
				return fmt.Errorf("%w: %s does not exist", ErrRejected, u.Name)
			}
			return err
		}
		if cur != u.Old {
			return fmt.Errorf("%w: %s moved to %s", ErrRejected, u.Name, cur.Short())
		}
		_, err = r.refs.Delete(u.Name)
		return err
	}
	if !r.store.Exists(u.New) {
		return fmt.Errorf("%w: %s: missing object %s", ErrRejected, u.Name, u.New.Short())
	}
	err := r.refs.Update(u.Name, u.New, "push", u.Old)
	if errors.Is(err, refs.ErrCASMismatch) {
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	return err
}

func uniqueIDs(in []object.ID) []object.ID {
	seen := make(map[object.ID]struct{}, len(in))
	out := make([]object.ID, 0, len(in))
	for _, id := range in {
		if id.IsZero() {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	slices.SortFunc(out, object.ID.Compare)
	return out
}

// collectObjects lists the objects reachable from wants and not from
// haves. With depth > 0 history stops after depth commits along every
// path and the commits whose parents were cut are returned as shallow.
func collectObjects(store *object.Store, wants, haves []object.ID, depth int) ([]object.ID, []object.ID, error) {
	var present []object.ID
	for _, h := range haves {
		if store.Exists(h) {
			present = append(present, h)
		}
	}
	stop, err := store.ReachableSet(present, nil)
	if err != nil {
		return nil, nil, err
	}

	if depth <= 0 {
		set, err := store.ReachableSet(wants, stop)
		if err != nil {
			return nil, nil, err
		}
		return sortedIDs(set), nil, nil
	}

	set := make(map[object.ID]struct{})
	addReachable := func(id object.ID) error {
		sub, err := store.ReachableSet([]object.ID{id}, stop)
		if err != nil {
			return err
		}
		for k := range sub {
			set[k] = struct{}{}
		}
		return nil
	}

	type item struct {
		id    object.ID
		depth int
	}
	var queue []item
	for _, want := range wants {
		id := want
		for {
			obj, err := store.Read(id)
			if err != nil {
				return nil, nil, err
			}
			if obj.Type != object.TypeTag {
				break
			}
			set[id] = struct{}{}
			tag, err := object.UnmarshalTag(obj.Data)
			if err != nil {
				return nil, nil, fmt.Errorf("object %s: %w", id, err)
			}
			id = tag.Target
		}
		obj, err := store.Read(id)
		if err != nil {
			return nil, nil, err
		}
		if obj.Type == object.TypeCommit {
			queue = append(queue, item{id: id, depth: 1})
		} else if err := addReachable(id); err != nil {
			return nil, nil, err
		}
	}

	var shallow []object.ID
	visited := make(map[object.ID]bool)
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		if visited[it.id] {
			continue
		}
		if _, have := stop[it.id]; have {
			continue
		}
		visited[it.id] = true
		c, err := store.ReadCommit(it.id)
		if err != nil {
			return nil, nil, err
		}
		set[it.id] = struct{}{}
		if err := addReachable(c.Tree); err != nil {
			return nil, nil, err
		}
		if it.depth >= depth {
			if len(c.Parents) > 0 {
				shallow = append(shallow, it.id)
			}
			continue
		}
		for _, p := range c.Parents {
			queue = append(queue, item{id: p, depth: it.depth + 1})
		}
	}
	return sortedIDs(set), uniqueIDs(shallow), nil
}

func sortedIDs(set map[object.ID]struct{}) []object.ID {
	out := make([]object.ID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.SortFunc(out, object.ID.Compare)
	return out
}

// sendObjects writes a manifest frame followed by compressed object
// batches.
func sendObjects(store *object.Store, wants, haves []object.ID, depth int, sw *SidebandWriter) error {
	ids, shallow, err := collectObjects(store, wants, haves, depth)
	if err != nil {
		_ = sw.WriteError(err.Error())
		return err
	}
	if err := sw.WriteProgress(fmt.Sprintf("Counting objects: %d, done.", len(ids))); err != nil {
		return err
	}

	manifest := binary.AppendUvarint(nil, uint64(len(ids)))
	manifest = binary.AppendUvarint(manifest, uint64(len(shallow)))
	for _, id := range shallow {
		b := id.Bytes()
		manifest = append(manifest, byte(len(b)))
		manifest = append(manifest, b...)
	}
	if err := sw.writeFrame(SidebandManifest, manifest); err != nil {
		return err
	}

	c, err := newCodec()
	if err != nil {
		return err
	}
	defer c.Close()
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		batch := make([]record, 0, end-start)
		for _, id := range ids[start:end] {
			obj, err := store.Read(id)
			if err != nil {
				_ = sw.WriteError(err.Error())
				return err
			}
			batch = append(batch, record{ID: id, Type: obj.Type, Data: obj.Data})
		}
		if err := sw.WriteData(c.encode(batch)); err != nil {
			return err
		}
	}
	return nil
}

func parseManifest(p []byte) (int, []object.ID, error) {
	total, n := binary.Uvarint(p)
	if n <= 0 {
		return 0, nil, errCorruptBatch
	}
	p = p[n:]
	count, n := binary.Uvarint(p)
	if n <= 0 {
		return 0, nil, errCorruptBatch
	}
	p = p[n:]
	var shallow []object.ID
	for range count {
		if len(p) < 1 || len(p) < 1+int(p[0]) {
			return 0, nil, errCorruptBatch
		}
		id, err := object.NewID(p[1 : 1+int(p[0])])
		if err != nil {
			return 0, nil, err
		}
		shallow = append(shallow, id)
		p = p[1+int(p[0]):]
	}
	return int(total), shallow, nil
}

// receiveObjects reads frames from r until EOF, storing every received
// object in dst.
func receiveObjects(dst *object.Store, r io.Reader, onManifest func(int, []object.ID), onBatch func(batch, written, bytes int), onMessage func(string)) error {
	c, err := newCodec()
	if err != nil {
		return err
	}
	defer c.Close()

	sr := NewSidebandReader(r)
	for {
		channel, payload, err := sr.ReadFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch channel {
		case SidebandManifest:
			total, shallow, err := parseManifest(payload)
			if err != nil {
				return err
			}
			onManifest(total, shallow)
		case SidebandData:
			recs, err := c.decode(payload)
			if err != nil {
				return err
			}
			written := 0
			for _, rec := range recs {
				n, err := writeVerified(dst, rec)
				if err != nil {
					return err
				}
				written += n
			}
			onBatch(len(recs), written, len(payload))
		case SidebandProgress:
			if onMessage != nil {
				onMessage(string(payload))
			}
		case SidebandError:
			return fmt.Errorf("remote error: %s", payload)
		default:
			return fmt.Errorf("unknown sideband channel %d", channel)
		}
	}
}
