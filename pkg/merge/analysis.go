// Package merge decides how one history integrates into another and
// performs the tree-level three-way content merge.
package merge

import (
	"fmt"
	"strings"

	"github.com/odvcencio/vcscore/pkg/object"
)

// Analysis is a set of flags describing how a target commit relates to
// HEAD. The zero value, AnalysisNone, means no analysis was made.
type Analysis uint8

const (
	// AnalysisNormal means the histories diverged and a merge commit is
	// needed.
	AnalysisNormal Analysis = 1 << iota
	// AnalysisUpToDate means the target is already contained in HEAD.
	AnalysisUpToDate
	// AnalysisFastForward means HEAD can simply move to the target.
	AnalysisFastForward
	// AnalysisUnborn means HEAD has no commits yet. It is always reported
	// together with AnalysisFastForward.
	AnalysisUnborn
)

const AnalysisNone Analysis = 0

func (a Analysis) has(f Analysis) bool { return a&f != 0 }

func (a Analysis) IsNormal() bool      { return a.has(AnalysisNormal) }
func (a Analysis) IsUpToDate() bool    { return a.has(AnalysisUpToDate) }
func (a Analysis) IsFastForward() bool { return a.has(AnalysisFastForward) }
func (a Analysis) IsUnborn() bool      { return a.has(AnalysisUnborn) }

func (a Analysis) String() string {
	if a == AnalysisNone {
		return "none"
	}
	var parts []string
	for _, f := range []struct {
		flag Analysis
		name string
	}{
		{AnalysisNormal, "normal"},
		{AnalysisUpToDate, "up-to-date"},
		{AnalysisFastForward, "fast-forward"},
		{AnalysisUnborn, "unborn"},
	} {
		if a.has(f.flag) {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

// Preference is the configured policy for fast-forwards.
type Preference uint8

const (
	// PreferenceNone fast-forwards when possible and merges otherwise.
	PreferenceNone Preference = iota
	// PreferenceFastForwardOnly refuses to create merge commits.
	PreferenceFastForwardOnly
	// PreferenceNoFastForward always creates a merge commit.
	PreferenceNoFastForward
)

func (p Preference) String() string {
	switch p {
	case PreferenceFastForwardOnly:
		return "only"
	case PreferenceNoFastForward:
		return "false"
	default:
		return "true"
	}
}

// ParsePreference reads a merge.ff configuration value: "only", "false"
// or "true". An empty value is PreferenceNone.
func ParsePreference(s string) (Preference, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "true":
		return PreferenceNone, nil
	case "only":
		return PreferenceFastForwardOnly, nil
	case "false":
		return PreferenceNoFastForward, nil
	default:
		return PreferenceNone, fmt.Errorf("merge: invalid fast-forward preference %q", s)
	}
}

// AncestryChecker answers ancestor queries; *revwalk.Walker implements it.
type AncestryChecker interface {
	IsAncestor(ancestor, descendant object.ID) (bool, error)
}

// Analyze classifies merging target into head. A zero head is an unborn
// branch. Rules apply in order: unborn, up to date (target is head or one
// of its ancestors), fast-forward (head is an ancestor of target), normal.
func Analyze(g AncestryChecker, head, target object.ID) (Analysis, error) {
	if target.IsZero() {
		return AnalysisNone, fmt.Errorf("merge analysis: target is not a commit")
	}
	if head.IsZero() {
		return AnalysisUnborn | AnalysisFastForward, nil
	}
	upToDate, err := g.IsAncestor(target, head)
	if err != nil {
		return AnalysisNone, fmt.Errorf("merge analysis: %w", err)
	}
	if upToDate {
		return AnalysisUpToDate, nil
	}
	ff, err := g.IsAncestor(head, target)
	if err != nil {
		return AnalysisNone, fmt.Errorf("merge analysis: %w", err)
	}
	if ff {
		return AnalysisFastForward, nil
	}
	return AnalysisNormal, nil
}
