// Package transport defines how a repository exchanges objects and
// references with a remote, and provides a transport for remotes that are
// repositories on the local filesystem.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/odvcencio/vcscore/pkg/object"
)

var (
	// ErrUnsupportedURL is returned for remote URLs no transport handles.
	ErrUnsupportedURL = errors.New("transport: unsupported remote URL")
	// ErrRepositoryNotFound is returned when the remote is not a repository.
	ErrRepositoryNotFound = errors.New("transport: repository not found")
	// ErrRejected is returned when the remote refuses a reference update.
	ErrRejected = errors.New("transport: update rejected")
)

// Ref is a reference advertised by a remote.
type Ref struct {
	Name string
	ID   object.ID
}

// FetchRequest asks a remote for the objects reachable from Wants that
// are not reachable from Haves.
type FetchRequest struct {
	URL string
	// Wants are the commits or tags to fetch. Empty means every advertised
	// branch and tag.
	Wants []object.ID
	Haves []object.ID
	// Depth limits history to that many commits from each want. Zero
	// fetches full history.
	Depth       int
	Credentials CredentialsProvider
}

// FetchResult describes what the remote advertised and sent.
type FetchResult struct {
	Refs []Ref
	// DefaultBranch is the branch the remote HEAD points at, as a full ref
	// name, or empty when the remote HEAD is detached.
	DefaultBranch string
	// Shallow lists commits whose parents were cut by Depth.
	Shallow []object.ID
	// Objects is the number of objects newly written locally.
	Objects int
}

// FetchProgress is reported while objects are received.
type FetchProgress struct {
	ReceivedObjects int
	IndexedObjects  int
	TotalObjects    int
	ReceivedBytes   int64
}

// RefUpdate changes one remote reference. Old is the value the remote must
// currently hold (zero means the ref must not exist); a zero New deletes
// the reference.
type RefUpdate struct {
	Name string
	Old  object.ID
	New  object.ID
}

// PushRequest sends the objects needed by Updates and applies them.
type PushRequest struct {
	URL         string
	Updates     []RefUpdate
	Credentials CredentialsProvider
}

// PushProgress carries either a message from the remote or transfer
// counts.
type PushProgress struct {
	SidebandMessage string
	Current         int
	Total           int
	Bytes           int64
}

// Transport is the remote collaborator. Fetch negotiates and writes the
// received objects into dst; Push sends the objects from src that the
// remote lacks and applies the reference updates atomically per ref.
type Transport interface {
	ListRefs(ctx context.Context, url string, creds CredentialsProvider) ([]Ref, string, error)
	Fetch(ctx context.Context, dst *object.Store, req FetchRequest, progress func(FetchProgress)) (*FetchResult, error)
	Push(ctx context.Context, src *object.Store, req PushRequest, progress func(PushProgress)) error
}

// Endpoint is a parsed remote URL.
type Endpoint struct {
	Raw    string
	Scheme string
	Host   string
	Path   string
	User   string
}

// ParseEndpoint accepts plain paths, file:// URLs, scheme URLs and scp-like
// user@host:path addresses.
func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, fmt.Errorf("%w: empty", ErrUnsupportedURL)
	}
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return Endpoint{}, fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
		}
		ep := Endpoint{Raw: raw, Scheme: u.Scheme, Host: u.Host, Path: u.Path}
		if u.User != nil {
			ep.User = u.User.Username()
		}
		if ep.Scheme == "file" {
			ep.Path = filepath.FromSlash(u.Path)
		}
		return ep, nil
	}
	// scp-like syntax: [user@]host:path, where host has no slash.
	if i := strings.Index(raw, ":"); i > 0 && !strings.Contains(raw[:i], "/") && !filepath.IsAbs(raw) && !isWindowsDrive(raw) {
		host := raw[:i]
		ep := Endpoint{Raw: raw, Scheme: "ssh", Path: raw[i+1:]}
		if at := strings.LastIndex(host, "@"); at >= 0 {
			ep.User, host = host[:at], host[at+1:]
		}
		ep.Host = host
		return ep, nil
	}
	return Endpoint{Raw: raw, Scheme: "file", Path: raw}, nil
}

func isWindowsDrive(s string) bool {
	return len(s) >= 2 && s[1] == ':' && ((s[0] >= 'a' && s[0] <= 'z') || (s[0] >= 'A' && s[0] <= 'Z'))
}

// Open returns the transport for url. Only local remotes are built in;
// other schemes report ErrUnsupportedURL.
func Open(rawURL string) (Transport, error) {
	ep, err := ParseEndpoint(rawURL)
	if err != nil {
		return nil, err
	}
	if ep.Scheme != "file" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, ep.Scheme)
	}
	return NewLocal(), nil
}
