package diff3

import (
	"bytes"
	"slices"
	"strings"
)

// HunkType classifies a hunk in a three-way merge result.
type HunkType int

const (
	HunkClean    HunkType = iota // Hunk was merged cleanly.
	HunkConflict                 // Hunk has a conflict that requires manual resolution.
)

// Hunk represents a contiguous section of the merge output.
type Hunk struct {
	Type                       HunkType
	Base, Ours, Theirs, Merged []byte
}

// Result holds the outcome of a three-way merge.
type Result struct {
	Merged       []byte // Full merged content (with conflict markers if conflicts exist).
	HasConflicts bool   // True if any hunk is a conflict.
	Conflicts    int    // Number of conflict hunks.
	Hunks        []Hunk // Individual hunks in document order.
}

// Style selects how conflict hunks are rendered.
type Style uint8

const (
	// StyleDiff3 shows the base version between ours and theirs.
	StyleDiff3 Style = iota
	// StyleMerge shows only ours and theirs.
	StyleMerge
)

// Labels name the three sides in conflict markers.
type Labels struct {
	Ours, Base, Theirs string
}

// Options configures Merge. The zero value renders diff3-style conflicts
// labelled "ours", "base" and "theirs".
type Options struct {
	Style  Style
	Labels Labels
}

func (o Options) labels() Labels {
	l := o.Labels
	if l.Ours == "" {
		l.Ours = "ours"
	}
	if l.Base == "" {
		l.Base = "base"
	}
	if l.Theirs == "" {
		l.Theirs = "theirs"
	}
	return l
}

// DiffLine is a single line in the output of LineDiff.
type DiffLine struct {
	Type    DiffType
	Content string
}

// LineDiff computes a line-level diff between byte slices a and b.
func LineDiff(a, b []byte) []DiffLine {
	ops := MyersDiff(SplitLines(a), SplitLines(b))
	result := make([]DiffLine, len(ops))
	for i, op := range ops {
		result[i] = DiffLine{Type: op.Type, Content: op.Line}
	}
	return result
}

// IsBinary reports whether data looks like binary content: a NUL byte in
// the first 8000 bytes, the same heuristic git uses.
func IsBinary(data []byte) bool {
	if len(data) > 8000 {
		data = data[:8000]
	}
	return bytes.IndexByte(data, 0) >= 0
}

// Merge performs a three-way merge of base, ours and theirs.
//
// Algorithm:
//  1. Split base, ours, theirs into lines.
//  2. Compute diff(base, ours) and diff(base, theirs).
//  3. Convert each diff into a sequence of chunks: contiguous runs of
//     unchanged or changed regions relative to the base.
//  4. Walk both chunk sequences in parallel, grouping overlapping chunks
//     into regions of the base.
//  5. When both sides change the same region differently, emit a conflict.
func Merge(base, ours, theirs []byte, opts ...Options) Result {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	baseLines := SplitLines(base)
	m := merger{
		base:   baseLines,
		style:  o.Style,
		labels: o.labels(),
	}
	m.run(buildChunks(baseLines, SplitLines(ours)), buildChunks(baseLines, SplitLines(theirs)))

	merged := m.out.Bytes()
	if !m.conflicts && len(merged) > 0 && mergedMissingEOL(base, ours, theirs) {
		merged = merged[:len(merged)-1]
	}
	return Result{
		Merged:       merged,
		HasConflicts: m.conflicts,
		Conflicts:    m.conflictCount,
		Hunks:        m.hunks,
	}
}

func missingEOL(b []byte) bool {
	return len(b) > 0 && b[len(b)-1] != '\n'
}

// mergedMissingEOL reports whether a clean merge ends without a newline.
// A side that changed the final newline relative to base wins.
func mergedMissingEOL(base, ours, theirs []byte) bool {
	b, o := missingEOL(base), missingEOL(ours)
	if o != b {
		return o
	}
	return missingEOL(theirs)
}

// SplitLines splits s into lines. A trailing newline does not produce
// an extra empty element.
func SplitLines(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	lines := strings.Split(string(b), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// chunk represents a contiguous region relative to the base.
type chunk struct {
	baseStart, baseEnd int      // range [baseStart, baseEnd) in base
	lines              []string // replacement lines for this region
	changed            bool     // true if this region differs from base
}

// buildChunks converts a two-way diff (base -> side) into a list of
// chunks. Each chunk covers a contiguous range of base lines and carries
// the corresponding lines from the side. Changed chunks may be empty
// ranges (pure insertions).
func buildChunks(base, side []string) []chunk {
	ops := MyersDiff(base, side)

	var chunks []chunk
	baseIdx := 0
	for i := 0; i < len(ops); {
		if ops[i].Type == Equal {
			chunks = append(chunks, chunk{
				baseStart: baseIdx,
				baseEnd:   baseIdx + 1,
				lines:     []string{ops[i].Line},
			})
			baseIdx++
			i++
			continue
		}

		start := baseIdx
		var sideLines []string
		for i < len(ops) && ops[i].Type != Equal {
			if ops[i].Type == Delete {
				baseIdx++
			} else {
				sideLines = append(sideLines, ops[i].Line)
			}
			i++
		}
		chunks = append(chunks, chunk{
			baseStart: start,
			baseEnd:   baseIdx,
			lines:     sideLines,
			changed:   true,
		})
	}
	return chunks
}

type merger struct {
	base   []string
	style  Style
	labels Labels

	out           bytes.Buffer
	hunks         []Hunk
	conflicts     bool
	conflictCount int
}

// run walks two chunk sequences aligned by base position. Each step takes
// the next chunk from both sides and keeps absorbing chunks that start
// inside the region until neither side extends it further.
func (m *merger) run(ours, theirs []chunk) {
	oi, ti := 0, 0
	for oi < len(ours) || ti < len(theirs) {
		regionStart, regionEnd := -1, -1
		if oi < len(ours) {
			regionStart, regionEnd = ours[oi].baseStart, ours[oi].baseEnd
		}
		if ti < len(theirs) {
			if regionStart < 0 || theirs[ti].baseStart < regionStart {
				regionStart = theirs[ti].baseStart
			}
			regionEnd = max(regionEnd, theirs[ti].baseEnd)
		}

		oFrom, tFrom := oi, ti
		for {
			grew := false
			for oi < len(ours) && (oi == oFrom || ours[oi].baseStart < regionEnd) {
				regionEnd = max(regionEnd, ours[oi].baseEnd)
				oi++
				grew = true
			}
			for ti < len(theirs) && (ti == tFrom || theirs[ti].baseStart < regionEnd) {
				regionEnd = max(regionEnd, theirs[ti].baseEnd)
				ti++
				grew = true
			}
			if !grew {
				break
			}
		}
		m.region(m.base[regionStart:regionEnd], ours[oFrom:oi], theirs[tFrom:ti])
	}
}

func (m *merger) region(base []string, ours, theirs []chunk) {
	oursOut, oursChanged := assembleRegion(ours)
	theirsOut, theirsChanged := assembleRegion(theirs)

	h := Hunk{Type: HunkClean, Base: joinLines(base)}
	var take []string
	switch {
	case !oursChanged && !theirsChanged:
		take = base
	case oursChanged && !theirsChanged:
		take = oursOut
		h.Ours = joinLines(oursOut)
	case !oursChanged && theirsChanged:
		take = theirsOut
		h.Theirs = joinLines(theirsOut)
	case slices.Equal(oursOut, theirsOut):
		take = oursOut
		h.Ours = joinLines(oursOut)
	default:
		h.Type = HunkConflict
		h.Ours = joinLines(oursOut)
		h.Theirs = joinLines(theirsOut)
		m.conflicts = true
		m.conflictCount++
		m.writeConflict(base, oursOut, theirsOut)
		m.hunks = append(m.hunks, h)
		return
	}
	h.Merged = joinLines(take)
	m.out.Write(h.Merged)
	m.hunks = append(m.hunks, h)
}

func (m *merger) writeConflict(base, ours, theirs []string) {
	m.out.WriteString("<<<<<<< " + m.labels.Ours + "\n")
	m.out.Write(joinLines(ours))
	if m.style == StyleDiff3 {
		m.out.WriteString("||||||| " + m.labels.Base + "\n")
		m.out.Write(joinLines(base))
	}
	m.out.WriteString("=======\n")
	m.out.Write(joinLines(theirs))
	m.out.WriteString(">>>>>>> " + m.labels.Theirs + "\n")
}

func joinLines(lines []string) []byte {
	if len(lines) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func assembleRegion(chunks []chunk) ([]string, bool) {
	var lines []string
	changed := false
	for _, c := range chunks {
		lines = append(lines, c.lines...)
		changed = changed || c.changed
	}
	return lines, changed
}
