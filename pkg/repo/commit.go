package repo

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/odvcencio/vcscore/pkg/index"
	"github.com/odvcencio/vcscore/pkg/object"
	"github.com/odvcencio/vcscore/pkg/refs"
	"github.com/odvcencio/vcscore/pkg/worktree"
)

// CommitSigner signs canonical commit payload bytes and returns an encoded
// signature string to be persisted in Commit.Signature.
type CommitSigner func(payload []byte) (string, error)

const commitSignaturePrefix = "sshsig-v1"

// NewSSHSigner returns a signer for a PEM encoded SSH private key. The
// signature embeds the public key so it can be verified without a key
// ring.
func NewSSHSigner(pemBytes []byte, passphrase string) (CommitSigner, error) {
	var signer ssh.Signer
	var err error
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pemBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	pubB64 := base64.StdEncoding.EncodeToString(signer.PublicKey().Marshal())
	return func(payload []byte) (string, error) {
		sig, err := signer.Sign(rand.Reader, payload)
		if err != nil {
			return "", err
		}
		sigB64 := base64.StdEncoding.EncodeToString(sig.Blob)
		return fmt.Sprintf("%s:%s:%s:%s", commitSignaturePrefix, sig.Format, pubB64, sigB64), nil
	}, nil
}

// loadSigningKey reads the key named by user.signing_key.
func loadSigningKey(path string) (CommitSigner, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key %q: %w", path, err)
	}
	return NewSSHSigner(raw, "")
}

// ErrUnsigned is returned by VerifyCommit for a commit without a signature.
var ErrUnsigned = errors.New("commit is not signed")

// VerifyCommit checks the SSH signature of commit id and returns the key
// that made it.
func (r *Repository) VerifyCommit(id object.ID) (ssh.PublicKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.store.ReadCommit(id)
	if err != nil {
		return nil, fmt.Errorf("verify commit: %w", err)
	}
	if c.Signature == "" {
		return nil, fmt.Errorf("verify commit %s: %w", id.Short(), ErrUnsigned)
	}
	parts := strings.Split(c.Signature, ":")
	if len(parts) != 4 || parts[0] != commitSignaturePrefix {
		return nil, fmt.Errorf("verify commit %s: unsupported signature format", id.Short())
	}
	pubRaw, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("verify commit %s: decode key: %w", id.Short(), err)
	}
	pub, err := ssh.ParsePublicKey(pubRaw)
	if err != nil {
		return nil, fmt.Errorf("verify commit %s: parse key: %w", id.Short(), err)
	}
	blob, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return nil, fmt.Errorf("verify commit %s: decode signature: %w", id.Short(), err)
	}
	if err := pub.Verify(object.CommitSigningPayload(c), &ssh.Signature{Format: parts[1], Blob: blob}); err != nil {
		return nil, fmt.Errorf("verify commit %s: %w", id.Short(), err)
	}
	return pub, nil
}

// CommitOptions configures Commit. Nil signatures use the configured user
// at the current time.
type CommitOptions struct {
	Author    *object.Signature
	Committer *object.Signature
	// Signer signs the commit; nil falls back to user.signing_key when
	// it is configured.
	Signer CommitSigner
	// AllowEmpty permits a commit whose tree equals its parent's.
	AllowEmpty bool
}

// signature returns sig or the configured user at the current time.
func (r *Repository) signature(sig *object.Signature) (object.Signature, error) {
	if sig != nil {
		return *sig, nil
	}
	if r.cfg.User.Name == "" || r.cfg.User.Email == "" {
		return object.Signature{}, fmt.Errorf("user.name and user.email must be configured")
	}
	return object.Signature{Name: r.cfg.User.Name, Email: r.cfg.User.Email, When: time.Now()}, nil
}

// Add stages working tree paths. A directory stages every file under it
// that is not ignored; a tracked path missing from the working tree is
// removed from the index. Staging a conflicted path resolves it.
func (r *Repository) Add(ctx context.Context, paths ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireWorktree("add"); err != nil {
		return err
	}

	idx, err := r.loadIndex()
	if err != nil {
		return fmt.Errorf("add: %w", err)
	}
	ig, err := r.wt.LoadIgnore()
	if err != nil {
		return fmt.Errorf("add: %w", err)
	}
	work, err := r.wt.Scan(ctx, ig, idx)
	if err != nil {
		return fmt.Errorf("add: %w", err)
	}

	tracked := make(map[string]bool)
	for _, e := range idx.Entries() {
		tracked[e.Path] = true
	}
	for _, p := range paths {
		p = cleanPath(p)
		matched := false
		for wp := range work {
			if !underPath(wp, p) {
				continue
			}
			matched = true
			f, err := r.wt.StageFile(wp)
			if err != nil {
				return fmt.Errorf("add: %w", err)
			}
			if err := stage(idx, f); err != nil {
				return fmt.Errorf("add: %w", err)
			}
		}
		for tp := range tracked {
			if _, ok := work[tp]; !ok && underPath(tp, p) {
				matched = true
				idx.Remove(tp)
			}
		}
		if !matched {
			return fmt.Errorf("add %q: %w", p, os.ErrNotExist)
		}
	}
	if err := r.saveIndex(idx); err != nil {
		return fmt.Errorf("add: %w", err)
	}
	return nil
}

func stage(idx *index.Index, f worktree.File) error {
	idx.RemoveConflictEntries(f.Path)
	return idx.Add(f.IndexEntry())
}

func cleanPath(p string) string {
	p = filepath.ToSlash(filepath.Clean(p))
	if p == "." {
		return ""
	}
	return strings.TrimPrefix(p, "./")
}

// underPath reports whether p is dir itself or inside it. An empty dir
// matches everything.
func underPath(p, dir string) bool {
	return dir == "" || p == dir || strings.HasPrefix(p, dir+"/")
}

// Remove deletes paths from the index and, unless cached is set, from the
// working tree.
func (r *Repository) Remove(cached bool, paths ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.loadIndex()
	if err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	for _, p := range paths {
		p = cleanPath(p)
		var hit []string
		for _, e := range idx.Entries() {
			if underPath(e.Path, p) && (len(hit) == 0 || hit[len(hit)-1] != e.Path) {
				hit = append(hit, e.Path)
			}
		}
		if len(hit) == 0 {
			return fmt.Errorf("remove %q: %w", p, index.ErrNotFound)
		}
		for _, h := range hit {
			idx.Remove(h)
			if cached || r.bare {
				continue
			}
			if err := r.wt.Filesystem().Remove(filepath.FromSlash(h)); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("remove %q: %w", h, err)
			}
		}
	}
	if err := r.saveIndex(idx); err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	return nil
}

// Commit records the index as a new commit on HEAD. While a merge is in
// progress the merged commit becomes the second parent and the merge
// state is cleared.
func (r *Repository) Commit(message string, opts CommitOptions) (object.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commit(message, opts)
}

func (r *Repository) commit(message string, opts CommitOptions) (object.ID, error) {
	if strings.TrimSpace(message) == "" {
		return object.ID{}, fmt.Errorf("commit: empty message")
	}
	idx, err := r.loadIndex()
	if err != nil {
		return object.ID{}, fmt.Errorf("commit: %w", err)
	}
	if idx.HasConflicts() {
		return object.ID{}, fmt.Errorf("commit: %w", &ConflictError{Paths: idx.ConflictPaths()})
	}
	treeID, err := idx.WriteTree(r.store)
	if err != nil {
		return object.ID{}, fmt.Errorf("commit: %w", err)
	}

	head, err := r.headID()
	if err != nil {
		return object.ID{}, fmt.Errorf("commit: %w", err)
	}
	var parents []object.ID
	if !head.IsZero() {
		parents = append(parents, head)
	}
	mergeHead, err := r.mergeHead()
	if err != nil {
		return object.ID{}, fmt.Errorf("commit: %w", err)
	}
	if !mergeHead.IsZero() {
		parents = append(parents, mergeHead)
	}

	if !opts.AllowEmpty && mergeHead.IsZero() && !head.IsZero() {
		headTree, err := r.headTree()
		if err != nil {
			return object.ID{}, fmt.Errorf("commit: %w", err)
		}
		if headTree == treeID {
			return object.ID{}, fmt.Errorf("commit: %w", ErrNothingToCommit)
		}
	}

	author, err := r.signature(opts.Author)
	if err != nil {
		return object.ID{}, fmt.Errorf("commit: %w", err)
	}
	committer := author
	if opts.Committer != nil {
		committer = *opts.Committer
	}
	if !strings.HasSuffix(message, "\n") {
		message += "\n"
	}
	c := &object.Commit{Tree: treeID, Parents: parents, Author: author, Committer: committer, Message: message}

	signer := opts.Signer
	if signer == nil && r.cfg.User.SigningKey != "" {
		if signer, err = loadSigningKey(r.cfg.User.SigningKey); err != nil {
			return object.ID{}, fmt.Errorf("commit: %w", err)
		}
	}
	if signer != nil {
		sig, err := signer(object.CommitSigningPayload(c))
		if err != nil {
			return object.ID{}, fmt.Errorf("commit: sign commit: %w", err)
		}
		c.Signature = sig
	}

	id, err := r.store.WriteCommit(c)
	if err != nil {
		return object.ID{}, fmt.Errorf("commit: write commit: %w", err)
	}
	reason := "commit: " + firstLine(message)
	if !mergeHead.IsZero() {
		reason = "commit (merge): " + firstLine(message)
	} else if head.IsZero() {
		reason = "commit (initial): " + firstLine(message)
	}
	if err := r.advanceHead(head, id, reason); err != nil {
		return object.ID{}, fmt.Errorf("commit: update HEAD: %w", err)
	}
	if !mergeHead.IsZero() {
		if err := r.cleanup(); err != nil {
			return object.ID{}, fmt.Errorf("commit: %w", err)
		}
	}
	r.logger.Debug("commit created", "id", id.Short(), "parents", len(parents))
	return id, nil
}

func firstLine(s string) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	return s
}

// mergeHead returns MERGE_HEAD's commit, zero when no merge is pending.
func (r *Repository) mergeHead() (object.ID, error) {
	id, err := r.refs.ResolveToID(refs.MergeHead)
	if errors.Is(err, refs.ErrNotFound) {
		return object.ID{}, nil
	}
	return id, err
}
