package refs

import (
	"fmt"
	"strings"
)

const (
	HEAD      = "HEAD"
	MergeHead = "MERGE_HEAD"
	OrigHead  = "ORIG_HEAD"

	HeadsPrefix   = "refs/heads/"
	TagsPrefix    = "refs/tags/"
	RemotesPrefix = "refs/remotes/"
)

// ValidateName checks name against git's ref naming rules. Top-level names
// other than refs/... must be upper-case pseudo refs such as HEAD.
func ValidateName(name string) error {
	if err := validateName(name); err != nil {
		return fmt.Errorf("%w: %q: %s", ErrInvalidReference, name, err)
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name")
	}
	if name == "@" {
		return fmt.Errorf("reserved name")
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("control character")
		}
		if strings.ContainsRune(" ~^:?*[\\", r) {
			return fmt.Errorf("forbidden character %q", r)
		}
	}
	if strings.Contains(name, "..") || strings.Contains(name, "@{") {
		return fmt.Errorf("forbidden sequence")
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") || strings.HasSuffix(name, ".") {
		return fmt.Errorf("bad leading or trailing character")
	}
	if !strings.Contains(name, "/") {
		for _, r := range name {
			if (r < 'A' || r > 'Z') && r != '_' {
				return fmt.Errorf("top-level name must be an upper-case pseudo ref")
			}
		}
		return nil
	}
	if !strings.HasPrefix(name, "refs/") {
		return fmt.Errorf("must live under refs/")
	}
	for _, c := range strings.Split(name, "/") {
		if c == "" {
			return fmt.Errorf("empty path component")
		}
		if strings.HasPrefix(c, ".") {
			return fmt.Errorf("component starts with '.'")
		}
		if strings.HasSuffix(c, ".lock") {
			return fmt.Errorf("component ends with .lock")
		}
	}
	return nil
}

// BranchName returns the full ref name for a local branch.
func BranchName(short string) string { return HeadsPrefix + short }

// TagName returns the full ref name for a tag.
func TagName(short string) string { return TagsPrefix + short }

// RemoteName returns the remote-tracking ref name for branch on remote.
func RemoteName(remote, branch string) string {
	return RemotesPrefix + remote + "/" + branch
}

// ShortName strips the refs/heads/, refs/tags/ or refs/remotes/ prefix.
func ShortName(name string) string {
	for _, p := range []string{HeadsPrefix, TagsPrefix, RemotesPrefix} {
		if strings.HasPrefix(name, p) {
			return name[len(p):]
		}
	}
	return strings.TrimPrefix(name, "refs/")
}

func IsBranch(name string) bool { return strings.HasPrefix(name, HeadsPrefix) }

func IsRemote(name string) bool { return strings.HasPrefix(name, RemotesPrefix) }

func IsTag(name string) bool { return strings.HasPrefix(name, TagsPrefix) }
