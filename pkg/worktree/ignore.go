package worktree

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// IgnoreFile is the name of the root ignore file read alongside any
// .gitignore files.
const IgnoreFile = ".vcsignore"

// Ignore decides whether untracked paths are reported by scans.
type Ignore struct {
	matcher gitignore.Matcher
}

// LoadIgnore reads .gitignore files throughout the tree plus the root
// IgnoreFile. The metadata directory and .git are always ignored.
func (w *Worktree) LoadIgnore() (*Ignore, error) {
	patterns := []gitignore.Pattern{
		gitignore.ParsePattern(".git", nil),
		gitignore.ParsePattern(w.metadataDir, nil),
	}
	found, err := gitignore.ReadPatterns(w.fs, nil)
	if err != nil {
		return nil, fmt.Errorf("read ignore patterns: %w", err)
	}
	patterns = append(patterns, found...)

	data, err := util.ReadFile(w.fs, IgnoreFile)
	switch {
	case err == nil:
		patterns = append(patterns, ParseIgnore(data)...)
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read %s: %w", IgnoreFile, err)
	}
	return &Ignore{matcher: gitignore.NewMatcher(patterns)}, nil
}

// ParseIgnore parses gitignore-syntax lines rooted at the worktree root.
func ParseIgnore(data []byte) []gitignore.Pattern {
	var out []gitignore.Pattern
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \t\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, gitignore.ParsePattern(line, nil))
	}
	return out
}

// NewIgnore builds an Ignore from explicit patterns.
func NewIgnore(patterns ...string) *Ignore {
	ps := make([]gitignore.Pattern, 0, len(patterns))
	for _, p := range patterns {
		ps = append(ps, gitignore.ParsePattern(p, nil))
	}
	return &Ignore{matcher: gitignore.NewMatcher(ps)}
}

// Match reports whether the slash-separated path is ignored. A nil Ignore
// ignores nothing.
func (ig *Ignore) Match(p string, isDir bool) bool {
	if ig == nil || ig.matcher == nil || p == "" {
		return false
	}
	return ig.matcher.Match(strings.Split(p, "/"), isDir)
}
