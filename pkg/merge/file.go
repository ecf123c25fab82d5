package merge

import (
	"bytes"

	"github.com/odvcencio/vcscore/pkg/diff3"
)

// Options configures content merges.
type Options struct {
	// Labels name the sides in conflict markers.
	Labels diff3.Labels
	// Style selects diff3 (with base) or merge-style markers.
	Style diff3.Style
}

func (o Options) diff3() diff3.Options {
	return diff3.Options{Style: o.Style, Labels: o.Labels}
}

// FileResult is the outcome of merging one file's content.
type FileResult struct {
	Merged        []byte
	HasConflicts  bool
	ConflictCount int
	// Binary is set when any side is binary. No textual merge is
	// attempted and Merged holds the ours side.
	Binary bool
}

// MergeFiles performs a three-way merge of file contents. base is nil for
// a file added on both sides.
func MergeFiles(base, ours, theirs []byte, opts Options) *FileResult {
	switch {
	case bytes.Equal(ours, theirs):
		return &FileResult{Merged: ours}
	case bytes.Equal(base, ours):
		return &FileResult{Merged: theirs}
	case bytes.Equal(base, theirs):
		return &FileResult{Merged: ours}
	}
	if diff3.IsBinary(base) || diff3.IsBinary(ours) || diff3.IsBinary(theirs) {
		return &FileResult{Merged: ours, HasConflicts: true, ConflictCount: 1, Binary: true}
	}
	res := diff3.Merge(base, ours, theirs, opts.diff3())
	return &FileResult{
		Merged:        res.Merged,
		HasConflicts:  res.HasConflicts,
		ConflictCount: res.Conflicts,
	}
}
