package worktree

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/odvcencio/vcscore/pkg/index"
	"github.com/odvcencio/vcscore/pkg/merge"
	"github.com/odvcencio/vcscore/pkg/object"
	"github.com/odvcencio/vcscore/pkg/tree"
)

// Strategy is a set of checkout flags.
type Strategy uint8

const (
	// Safe refuses to overwrite or delete local modifications and
	// untracked files that collide with the target.
	Safe Strategy = 1 << iota
	// Force makes the working tree match the target unconditionally.
	Force
	// AllowConflicts writes conflict-marked files for conflicted index
	// paths instead of failing.
	AllowConflicts
)

func (s Strategy) has(f Strategy) bool { return s&f != 0 }

// State is the lifecycle of a Checkout run.
type State int32

const (
	Idle State = iota
	InProgress
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case InProgress:
		return "in-progress"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// Progress is reported once per file written or removed.
type Progress struct {
	Path      string
	Completed int
	Total     int
}

// Observer receives checkout progress on the calling goroutine.
type Observer func(Progress)

// ErrCheckoutConflict matches every *CheckoutConflictError.
var ErrCheckoutConflict = errors.New("checkout would overwrite local changes")

// CheckoutConflictError lists the paths a safe checkout refused to touch.
type CheckoutConflictError struct {
	Paths []string
}

func (e *CheckoutConflictError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCheckoutConflict, strings.Join(e.Paths, ", "))
}

func (e *CheckoutConflictError) Is(target error) bool { return target == ErrCheckoutConflict }

// Checkout is a single checkout run. A Checkout may be used once.
type Checkout struct {
	Strategy Strategy
	Observer Observer
	// Merge configures the rendering of conflicted index paths when
	// AllowConflicts is set.
	Merge merge.Options

	state atomic.Int32
}

// NewCheckout returns an idle run.
func NewCheckout(strategy Strategy, observer Observer) *Checkout {
	return &Checkout{Strategy: strategy, Observer: observer}
}

// State returns the run's current state.
func (c *Checkout) State() State { return State(c.state.Load()) }

func (c *Checkout) start() error {
	if !c.state.CompareAndSwap(int32(Idle), int32(InProgress)) {
		return fmt.Errorf("checkout: run is %s", c.State())
	}
	return nil
}

func (c *Checkout) finish(err error) error {
	if err != nil {
		c.state.Store(int32(Failed))
		return err
	}
	c.state.Store(int32(Completed))
	return nil
}

// wanted is one target path with the bytes to write when they differ from
// the stored blob.
type wanted struct {
	file     tree.File
	data     []byte // rendered content for conflicted paths
	rendered bool
	dest     string // working path; differs from file.Path for displaced conflicts
}

// CheckoutTree makes the working tree match the tree target. baseline is
// the index describing the current checkout; nil means nothing is tracked.
// It returns the index for target with stat data filled in.
func (w *Worktree) CheckoutTree(ctx context.Context, run *Checkout, target object.ID, baseline *index.Index) (*index.Index, error) {
	if err := run.start(); err != nil {
		return nil, err
	}
	files, err := tree.FlattenMap(w.store, target)
	if err != nil {
		return nil, run.finish(fmt.Errorf("checkout: %w", err))
	}
	want := make(map[string]*wanted, len(files))
	for p, f := range files {
		want[p] = &wanted{file: f, dest: p}
	}
	next, err := w.checkout(ctx, run, want, baseline, nil)
	return next, run.finish(err)
}

// CheckoutIndex makes the working tree match idx. Conflicted paths fail
// with index.ErrConflictPresent unless the strategy allows conflicts, in
// which case their rendered content is written and their stages are kept
// in the returned index.
func (w *Worktree) CheckoutIndex(ctx context.Context, run *Checkout, idx *index.Index, baseline *index.Index) (*index.Index, error) {
	if err := run.start(); err != nil {
		return nil, err
	}
	if idx.HasConflicts() && !run.Strategy.has(AllowConflicts) {
		return nil, run.finish(fmt.Errorf("checkout: %w", index.ErrConflictPresent))
	}

	files := idx.Files()
	want := make(map[string]*wanted, len(files))
	for p, f := range files {
		want[p] = &wanted{file: f, dest: p}
	}
	var conflicts []index.Conflict
	for c := range idx.Conflicts() {
		wf, err := w.renderConflict(c, run.Merge)
		if err != nil {
			return nil, run.finish(err)
		}
		if hasChildIn(files, c.Path) {
			wf.dest = c.Path + "~" + displacedLabel(c, run.Merge)
		}
		want[wf.dest] = wf
		conflicts = append(conflicts, c)
	}
	next, err := w.checkout(ctx, run, want, baseline, conflicts)
	return next, run.finish(err)
}

func hasChildIn(files map[string]tree.File, dir string) bool {
	prefix := dir + "/"
	for p := range files {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func displacedLabel(c index.Conflict, opts merge.Options) string {
	if c.Ours != nil {
		if opts.Labels.Ours != "" {
			return opts.Labels.Ours
		}
		return "ours"
	}
	if opts.Labels.Theirs != "" {
		return opts.Labels.Theirs
	}
	return "theirs"
}

// renderConflict produces the working file for a conflicted path:
// diff3-marked text when both sides are regular files, otherwise the ours
// side, falling back to theirs.
func (w *Worktree) renderConflict(c index.Conflict, opts merge.Options) (*wanted, error) {
	read := func(e *index.Entry) ([]byte, error) {
		if e == nil || e.Mode == object.ModeSubmodule {
			return nil, nil
		}
		b, err := w.store.ReadBlob(e.ID)
		if err != nil {
			return nil, fmt.Errorf("checkout: conflict %q: %w", c.Path, err)
		}
		return b.Data, nil
	}

	side := c.Ours
	if side == nil {
		side = c.Theirs
	}
	if side == nil {
		return nil, fmt.Errorf("checkout: conflict %q has no side to write", c.Path)
	}
	out := &wanted{file: side.File(), dest: c.Path, rendered: true}
	data, err := read(side)
	if err != nil {
		return nil, err
	}
	out.data = data

	if c.Ours != nil && c.Theirs != nil && c.Ours.Mode.IsRegular() && c.Theirs.Mode.IsRegular() {
		base, err := read(c.Ancestor)
		if err != nil {
			return nil, err
		}
		theirs, err := read(c.Theirs)
		if err != nil {
			return nil, err
		}
		out.data = merge.MergeFiles(base, data, theirs, opts).Merged
	}
	out.file.ID = w.store.Hash(object.TypeBlob, out.data)
	return out, nil
}

type action struct {
	path   string
	remove bool
	want   *wanted
}

func (w *Worktree) checkout(ctx context.Context, run *Checkout, want map[string]*wanted, baseline *index.Index, conflicts []index.Conflict) (*index.Index, error) {
	start := time.Now()
	if baseline == nil {
		baseline = index.New()
	}
	ig, err := w.LoadIgnore()
	if err != nil {
		return nil, fmt.Errorf("checkout: %w", err)
	}
	work, err := w.Scan(ctx, ig, baseline)
	if err != nil {
		return nil, fmt.Errorf("checkout: %w", err)
	}
	base := baseline.Files()
	baseConflicted := make(map[string]bool)
	for _, p := range baseline.ConflictPaths() {
		baseConflicted[p] = true
	}
	for p := range want {
		if err := w.ValidatePath(p); err != nil {
			return nil, fmt.Errorf("checkout: %w", err)
		}
	}

	force := run.Strategy.has(Force)
	// dirty reports whether the working file at p holds content that is
	// not recorded in the baseline.
	dirty := func(p string) bool {
		wf, ok := work[p]
		if !ok {
			return false
		}
		if baseConflicted[p] {
			return true
		}
		b, tracked := base[p]
		return !tracked || b.ID != wf.ID || b.Mode != wf.Mode
	}
	matches := func(wf File, t *wanted) bool {
		return wf.ID == t.file.ID && wf.Mode == t.file.Mode
	}

	var actions []action
	var blocked []string
	removed := make(map[string]bool)

	for p := range work {
		if _, keep := want[p]; keep {
			continue
		}
		_, tracked := base[p]
		if !tracked && !baseConflicted[p] {
			continue
		}
		if !force && dirty(p) {
			blocked = append(blocked, p)
			continue
		}
		actions = append(actions, action{path: p, remove: true})
		removed[p] = true
	}

	for p, t := range want {
		wf, onDisk := work[p]
		if onDisk && matches(wf, t) {
			continue
		}
		if !force {
			b, tracked := base[p]
			unchanged := tracked && !baseConflicted[p] && b.ID == t.file.ID && b.Mode == t.file.Mode
			if unchanged {
				// Local edits to a path the target does not change are kept.
				continue
			}
			if onDisk && dirty(p) {
				blocked = append(blocked, p)
				continue
			}
			if blocker := w.blockingPath(p, work, removed, want, dirty); blocker != "" {
				blocked = append(blocked, blocker)
				continue
			}
		}
		actions = append(actions, action{path: p, want: t})
	}

	if len(blocked) > 0 && !force {
		sort.Strings(blocked)
		blocked = compactStrings(blocked)
		return nil, &CheckoutConflictError{Paths: blocked}
	}

	sort.Slice(actions, func(i, j int) bool {
		if actions[i].remove != actions[j].remove {
			return actions[i].remove
		}
		return actions[i].path < actions[j].path
	})

	w.logger.Debug("checkout", "actions", len(actions), "strategy", run.Strategy, "files", len(want))
	written := make(map[string]bool, len(actions))
	for i, a := range actions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if a.remove {
			if err := w.removeFile(a.path); err != nil {
				return nil, fmt.Errorf("checkout: %w", err)
			}
			w.metrics.CheckoutFile("remove")
		} else {
			data := a.want.data
			if !a.want.rendered {
				if data, err = w.blobData(a.want.file); err != nil {
					return nil, fmt.Errorf("checkout: %w", err)
				}
			}
			if err := w.writeFile(a.path, a.want.file.Mode, data); err != nil {
				return nil, fmt.Errorf("checkout: %w", err)
			}
			w.metrics.CheckoutFile("write")
			written[a.path] = true
		}
		if run.Observer != nil {
			run.Observer(Progress{Path: a.path, Completed: i + 1, Total: len(actions)})
		}
	}
	w.metrics.CheckoutFinished(time.Since(start))

	return w.resultIndex(want, work, written, conflicts)
}

// blockingPath finds an untracked or modified file that sits where p needs
// a directory, or a directory of such files where p needs a file.
func (w *Worktree) blockingPath(p string, work map[string]File, removed map[string]bool, want map[string]*wanted, dirty func(string) bool) string {
	for dir := path.Dir(p); dir != "."; dir = path.Dir(dir) {
		if _, ok := work[dir]; ok && !removed[dir] && dirty(dir) {
			return dir
		}
	}
	prefix := p + "/"
	for wp := range work {
		if strings.HasPrefix(wp, prefix) && !removed[wp] && want[wp] == nil && dirty(wp) {
			return wp
		}
	}
	return ""
}

func (w *Worktree) blobData(f tree.File) ([]byte, error) {
	if f.Mode == object.ModeSubmodule {
		return nil, nil
	}
	b, err := w.store.ReadBlob(f.ID)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", f.Path, err)
	}
	return b.Data, nil
}

// resultIndex builds the post-checkout index. Entries whose working file
// matches get its stat data so later scans can skip hashing them.
func (w *Worktree) resultIndex(want map[string]*wanted, before map[string]File, written map[string]bool, conflicts []index.Conflict) (*index.Index, error) {
	idx := index.New()
	for _, t := range want {
		if t.rendered {
			continue
		}
		e := index.Entry{Path: t.file.Path, ID: t.file.ID, Mode: t.file.Mode}
		if info, err := w.fs.Lstat(fsPath(t.dest)); err == nil && t.file.Mode != object.ModeSubmodule {
			if wf, ok := before[t.dest]; written[t.dest] || (ok && wf.ID == t.file.ID && wf.Mode == t.file.Mode) {
				e.Size = info.Size()
				e.ModTime = info.ModTime().UnixNano()
			}
		}
		if err := idx.Add(e); err != nil {
			return nil, fmt.Errorf("checkout: %w", err)
		}
	}
	for _, c := range conflicts {
		if err := idx.AddConflict(c); err != nil {
			return nil, fmt.Errorf("checkout: %w", err)
		}
	}
	return idx, nil
}

func compactStrings(s []string) []string {
	out := s[:0]
	for i, v := range s {
		if i == 0 || v != s[i-1] {
			out = append(out, v)
		}
	}
	return out
}
