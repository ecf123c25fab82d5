package tree

import (
	"bytes"
	"fmt"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"

	"github.com/odvcencio/vcscore/pkg/diff3"
	"github.com/odvcencio/vcscore/pkg/object"
)

// DefaultContext is the number of unchanged lines shown around a change.
const DefaultContext = 3

const noNewline = "\\ No newline at end of file\n"

// PatchOptions controls Patch.
type PatchOptions struct {
	// Context lines around each change. Negative means DefaultContext.
	Context int
}

// FilePatches converts deltas into go-diff file diffs with git extended
// headers. Binary content gets a "Binary files ... differ" header and no
// hunks.
func FilePatches(store *object.Store, deltas []Delta, opts PatchOptions) ([]*godiff.FileDiff, error) {
	ctx := opts.Context
	if ctx < 0 {
		ctx = DefaultContext
	}
	var out []*godiff.FileDiff
	for _, d := range deltas {
		if d.Status == Unmodified {
			continue
		}
		fd, err := filePatch(store, d, ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, fd)
	}
	return out, nil
}

// Patch renders deltas as a unified diff in git's format.
func Patch(store *object.Store, deltas []Delta, opts PatchOptions) ([]byte, error) {
	fds, err := FilePatches(store, deltas, opts)
	if err != nil {
		return nil, err
	}
	if len(fds) == 0 {
		return nil, nil
	}
	out, err := godiff.PrintMultiFileDiff(fds)
	if err != nil {
		return nil, fmt.Errorf("patch: print: %w", err)
	}
	return out, nil
}

func readSide(store *object.Store, f File) ([]byte, error) {
	if f.ID.IsZero() || f.Mode == object.ModeSubmodule {
		return nil, nil
	}
	b, err := store.ReadBlob(f.ID)
	if err != nil {
		return nil, fmt.Errorf("patch %s: %w", f.Path, err)
	}
	return b.Data, nil
}

func filePatch(store *object.Store, d Delta, context int) (*godiff.FileDiff, error) {
	oldPath, newPath := d.Old.Path, d.New.Path
	if oldPath == "" {
		oldPath = newPath
	}
	if newPath == "" {
		newPath = oldPath
	}

	fd := &godiff.FileDiff{
		OrigName: "a/" + oldPath,
		NewName:  "b/" + newPath,
	}
	fd.Extended = append(fd.Extended, fmt.Sprintf("diff --git a/%s b/%s", oldPath, newPath))

	indexMode := ""
	switch d.Status {
	case Added:
		fd.OrigName = "/dev/null"
		fd.Extended = append(fd.Extended, "new file mode "+d.New.Mode.String())
	case Deleted:
		fd.NewName = "/dev/null"
		fd.Extended = append(fd.Extended, "deleted file mode "+d.Old.Mode.String())
	case Renamed, Copied:
		verb := "rename"
		if d.Status == Copied {
			verb = "copy"
		}
		fd.Extended = append(fd.Extended,
			fmt.Sprintf("similarity index %d%%", d.Similarity),
			fmt.Sprintf("%s from %s", verb, oldPath),
			fmt.Sprintf("%s to %s", verb, newPath),
		)
	}
	if d.Status != Added && d.Status != Deleted {
		if d.Old.Mode != d.New.Mode {
			fd.Extended = append(fd.Extended, "old mode "+d.Old.Mode.String(), "new mode "+d.New.Mode.String())
		} else {
			indexMode = " " + d.New.Mode.String()
		}
	}
	if d.Old.ID != d.New.ID {
		fd.Extended = append(fd.Extended, fmt.Sprintf("index %s..%s%s", shortOrNull(d.Old.ID), shortOrNull(d.New.ID), indexMode))
	}

	oldData, err := readSide(store, d.Old)
	if err != nil {
		return nil, err
	}
	newData, err := readSide(store, d.New)
	if err != nil {
		return nil, err
	}
	if d.Old.ID == d.New.ID {
		return fd, nil
	}
	if diff3.IsBinary(oldData) || diff3.IsBinary(newData) {
		fd.Extended = append(fd.Extended, fmt.Sprintf("Binary files %s and %s differ", fd.OrigName, fd.NewName))
		return fd, nil
	}
	fd.Hunks = hunks(oldData, newData, context)
	return fd, nil
}

func shortOrNull(id object.ID) string {
	if id.IsZero() {
		return strings.Repeat("0", 7)
	}
	return id.String()[:7]
}

// splitKeepEOL splits data into lines that keep their terminating newline,
// so a missing final newline compares unequal to a present one.
func splitKeepEOL(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	lines := strings.SplitAfter(string(data), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

type numberedOp struct {
	diff3.DiffOp
	oldLine, newLine int // lines consumed on each side before this op
}

// hunks groups a line diff into unified hunks with context lines.
func hunks(oldData, newData []byte, context int) []*godiff.Hunk {
	ops := diff3.MyersDiff(splitKeepEOL(oldData), splitKeepEOL(newData))
	numbered := make([]numberedOp, len(ops))
	o, n := 0, 0
	var changes []int
	for i, op := range ops {
		numbered[i] = numberedOp{DiffOp: op, oldLine: o, newLine: n}
		switch op.Type {
		case diff3.Equal:
			o++
			n++
		case diff3.Delete:
			o++
			changes = append(changes, i)
		case diff3.Insert:
			n++
			changes = append(changes, i)
		}
	}
	if len(changes) == 0 {
		return nil
	}

	var out []*godiff.Hunk
	for start := 0; start < len(changes); {
		end := start
		for end+1 < len(changes) && changes[end+1]-changes[end] <= 2*context+1 {
			end++
		}
		from := max(0, changes[start]-context)
		to := min(len(numbered), changes[end]+context+1)
		out = append(out, makeHunk(numbered[from:to]))
		start = end + 1
	}
	return out
}

func makeHunk(ops []numberedOp) *godiff.Hunk {
	h := &godiff.Hunk{}
	var body bytes.Buffer
	for _, op := range ops {
		prefix := " "
		switch op.Type {
		case diff3.Equal:
			h.OrigLines++
			h.NewLines++
		case diff3.Delete:
			prefix = "-"
			h.OrigLines++
		case diff3.Insert:
			prefix = "+"
			h.NewLines++
		}
		body.WriteString(prefix)
		body.WriteString(op.Line)
		if !strings.HasSuffix(op.Line, "\n") {
			body.WriteString("\n")
			body.WriteString(noNewline)
		}
	}
	h.OrigStartLine = int32(ops[0].oldLine)
	if h.OrigLines > 0 {
		h.OrigStartLine++
	}
	h.NewStartLine = int32(ops[0].newLine)
	if h.NewLines > 0 {
		h.NewStartLine++
	}
	h.Body = body.Bytes()
	return h
}
