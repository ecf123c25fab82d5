package transport

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/odvcencio/vcscore/pkg/object"
	"github.com/odvcencio/vcscore/pkg/refs"
	"github.com/odvcencio/vcscore/pkg/tree"
)

// fakeRemote is an on-disk repository layout readable by Local.
type fakeRemote struct {
	t     *testing.T
	root  string
	store *object.Store
	refs  *refs.Store
	clock time.Time
}

func newFakeRemote(t *testing.T, bare bool) *fakeRemote {
	t.Helper()
	root := t.TempDir()
	dir := root
	if !bare {
		dir = filepath.Join(root, ".vcs")
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "objects"), 0o755))
	backend, err := object.NewLooseBackend(dir, object.SHA1)
	require.NoError(t, err)
	store, err := object.NewStore(backend, object.SHA1)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	rs := refs.NewStore(dir, object.SHA1, nil)
	require.NoError(t, rs.SetSymbolicTarget(refs.HEAD, "refs/heads/main"))
	return &fakeRemote{t: t, root: root, store: store, refs: rs, clock: time.Unix(1_700_000_000, 0).UTC()}
}

func commitOn(t *testing.T, store *object.Store, clock *time.Time, msg string, parents ...object.ID) object.ID {
	t.Helper()
	blob, err := store.WriteBlob([]byte(msg + "\n"))
	require.NoError(t, err)
	root, err := tree.Build(store, []tree.File{{Path: msg + ".txt", Mode: object.ModeFile, ID: blob}})
	require.NoError(t, err)
	*clock = clock.Add(time.Minute)
	sig := object.Signature{Name: "Test", Email: "test@example.com", When: *clock}
	id, err := store.WriteCommit(&object.Commit{Tree: root, Parents: parents, Author: sig, Committer: sig, Message: msg + "\n"})
	require.NoError(t, err)
	return id
}

func (r *fakeRemote) chain(n int) []object.ID {
	var ids []object.ID
	var parent []object.ID
	for i := 0; i < n; i++ {
		id := commitOn(r.t, r.store, &r.clock, fmt.Sprintf("c%d", i), parent...)
		ids = append(ids, id)
		parent = []object.ID{id}
	}
	require.NoError(r.t, r.refs.Update("refs/heads/main", ids[len(ids)-1], "test"))
	return ids
}

func TestSidebandRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	sw := NewSidebandWriter(&buf)
	require.NoError(t, sw.WriteProgress("counting"))
	require.NoError(t, sw.WriteData([]byte("payload")))
	require.NoError(t, sw.WriteError("boom"))

	sr := NewSidebandReader(&buf)
	for _, want := range []struct {
		ch   byte
		body string
	}{{SidebandProgress, "counting"}, {SidebandData, "payload"}, {SidebandError, "boom"}} {
		ch, body, err := sr.ReadFrame()
		require.NoError(t, err)
		require.Equal(t, want.ch, ch)
		require.Equal(t, want.body, string(body))
	}
	_, _, err := sr.ReadFrame()
	require.ErrorIs(t, err, io.EOF)

	_, _, err = NewSidebandReader(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff, 1})).ReadFrame()
	require.ErrorContains(t, err, "out of range")
}

func TestCodecAndVerification(t *testing.T) {
	store := object.NewMemoryStore(object.SHA1)
	c, err := newCodec()
	require.NoError(t, err)
	defer c.Close()

	data := []byte("hello\n")
	id := store.Hash(object.TypeBlob, data)
	recs, err := c.decode(c.encode([]record{{ID: id, Type: object.TypeBlob, Data: data}}))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, id, recs[0].ID)

	n, err := writeVerified(store, recs[0])
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = writeVerified(store, recs[0])
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = writeVerified(store, record{ID: id, Type: object.TypeBlob, Data: []byte("tampered")})
	require.ErrorContains(t, err, "hash mismatch")

	_, err = c.decode(c.enc.EncodeAll([]byte{1, 20, 0}, nil))
	require.ErrorIs(t, err, errCorruptBatch)
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in     string
		scheme string
		host   string
		path   string
		user   string
	}{
		{"/srv/repo", "file", "", "/srv/repo", ""},
		{"../sibling", "file", "", "../sibling", ""},
		{"file:///srv/repo", "file", "", "/srv/repo", ""},
		{"ssh://git@example.com/org/repo", "ssh", "example.com", "/org/repo", "git"},
		{"git@example.com:org/repo", "ssh", "example.com", "org/repo", "git"},
		{"https://example.com/org/repo", "https", "example.com", "/org/repo", ""},
	}
	for _, tc := range tests {
		ep, err := ParseEndpoint(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.scheme, ep.Scheme, tc.in)
		require.Equal(t, tc.host, ep.Host, tc.in)
		require.Equal(t, filepath.FromSlash(tc.path), ep.Path, tc.in)
		require.Equal(t, tc.user, ep.User, tc.in)
	}

	_, err := Open("https://example.com/org/repo")
	require.ErrorIs(t, err, ErrUnsupportedURL)
	_, err = ParseEndpoint("  ")
	require.ErrorIs(t, err, ErrUnsupportedURL)
}

func TestFetchFullHistory(t *testing.T) {
	remote := newFakeRemote(t, false)
	ids := remote.chain(3)
	local := object.NewMemoryStore(object.SHA1)

	var last FetchProgress
	res, err := NewLocal().Fetch(context.Background(), local, FetchRequest{URL: remote.root}, func(p FetchProgress) { last = p })
	require.NoError(t, err)
	require.Equal(t, "refs/heads/main", res.DefaultBranch)
	require.Equal(t, []Ref{{Name: "refs/heads/main", ID: ids[2]}}, res.Refs)
	require.Empty(t, res.Shallow)
	// Three commits, three trees and three blobs.
	require.Equal(t, 9, res.Objects)
	require.Equal(t, 9, last.TotalObjects)
	require.Equal(t, last.TotalObjects, last.ReceivedObjects)
	require.Positive(t, last.ReceivedBytes)
	for _, id := range ids {
		require.True(t, local.Exists(id))
	}

	again, err := NewLocal().Fetch(context.Background(), local, FetchRequest{URL: "file://" + filepath.ToSlash(remote.root), Haves: []object.ID{ids[2]}}, nil)
	require.NoError(t, err)
	require.Zero(t, again.Objects)
}

func TestFetchWithDepth(t *testing.T) {
	remote := newFakeRemote(t, true)
	ids := remote.chain(3)
	local := object.NewMemoryStore(object.SHA1)

	res, err := NewLocal().Fetch(context.Background(), local, FetchRequest{URL: remote.root, Depth: 1}, nil)
	require.NoError(t, err)
	require.Equal(t, []object.ID{ids[2]}, res.Shallow)
	require.True(t, local.Exists(ids[2]))
	require.False(t, local.Exists(ids[1]))
	require.Equal(t, 3, res.Objects)
}

func TestFetchMissingRepositoryAndWant(t *testing.T) {
	local := object.NewMemoryStore(object.SHA1)
	_, err := NewLocal().Fetch(context.Background(), local, FetchRequest{URL: t.TempDir()}, nil)
	require.ErrorIs(t, err, ErrRepositoryNotFound)

	remote := newFakeRemote(t, false)
	remote.chain(1)
	missing := local.Hash(object.TypeCommit, []byte("nope"))
	_, err = NewLocal().Fetch(context.Background(), local, FetchRequest{URL: remote.root, Wants: []object.ID{missing}}, nil)
	require.ErrorIs(t, err, object.ErrNotFound)
}

func TestFetchEmptyRemote(t *testing.T) {
	remote := newFakeRemote(t, false)
	res, err := NewLocal().Fetch(context.Background(), object.NewMemoryStore(object.SHA1), FetchRequest{URL: remote.root}, nil)
	require.NoError(t, err)
	require.Empty(t, res.Refs)
	require.Zero(t, res.Objects)
}

func TestPush(t *testing.T) {
	remote := newFakeRemote(t, true)
	base := remote.chain(1)[0]

	local := object.NewMemoryStore(object.SHA1)
	_, err := NewLocal().Fetch(context.Background(), local, FetchRequest{URL: remote.root}, nil)
	require.NoError(t, err)
	clock := remote.clock
	next := commitOn(t, local, &clock, "local", base)

	var messages []string
	var transferred int
	err = NewLocal().Push(context.Background(), local, PushRequest{
		URL:     remote.root,
		Updates: []RefUpdate{{Name: "refs/heads/main", Old: base, New: next}, {Name: "refs/heads/topic", New: next}},
	}, func(p PushProgress) {
		if p.SidebandMessage != "" {
			messages = append(messages, p.SidebandMessage)
		} else {
			transferred = p.Current
		}
	})
	require.NoError(t, err)
	// Only the new commit, its tree and blob travel.
	require.Equal(t, 3, transferred)
	require.Contains(t, messages, "updated refs/heads/main")

	got, err := remote.refs.ResolveToID("refs/heads/main")
	require.NoError(t, err)
	require.Equal(t, next, got)
	require.True(t, remote.store.Exists(next))

	stale := PushRequest{URL: remote.root, Updates: []RefUpdate{{Name: "refs/heads/main", Old: base, New: base}}}
	require.ErrorIs(t, NewLocal().Push(context.Background(), local, stale, nil), ErrRejected)

	del := PushRequest{URL: remote.root, Updates: []RefUpdate{{Name: "refs/heads/topic", Old: next}}}
	require.NoError(t, NewLocal().Push(context.Background(), local, del, nil))
	_, err = remote.refs.Lookup("refs/heads/topic")
	require.ErrorIs(t, err, refs.ErrNotFound)
}

func TestPushRejectsCheckedOutBranch(t *testing.T) {
	remote := newFakeRemote(t, false)
	tip := remote.chain(1)[0]
	local := object.NewMemoryStore(object.SHA1)
	_, err := NewLocal().Fetch(context.Background(), local, FetchRequest{URL: remote.root}, nil)
	require.NoError(t, err)

	err = NewLocal().Push(context.Background(), local, PushRequest{
		URL:     remote.root,
		Updates: []RefUpdate{{Name: "refs/heads/main", Old: tip, New: tip}},
	}, nil)
	require.ErrorIs(t, err, ErrRejected)
}

func TestSSHAuth(t *testing.T) {
	_, err := SSHAuth(UserPass("git", "secret"))
	require.NoError(t, err)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "test key")
	require.NoError(t, err)
	_, err = SSHAuth(SSHKeyMemory("git", pem.EncodeToMemory(block), ""))
	require.NoError(t, err)

	_, err = SSHAuth(SSHKeyMemory("git", []byte("not a key"), ""))
	require.ErrorContains(t, err, "parse SSH key")

	t.Setenv("SSH_AUTH_SOCK", "")
	_, err = SSHAuth(SSHAgent("git"))
	require.ErrorIs(t, err, ErrNoAgent)

	ep, err := ParseEndpoint("git@example.com:org/repo")
	require.NoError(t, err)
	cfg, err := ClientConfig(ep, func(url, user string) (Credentials, error) {
		require.Equal(t, "git", user)
		return UserPass("", "pw"), nil
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "git", cfg.User)
	require.Error(t, cfg.HostKeyCallback("example.com:22", nil, nil))
}
