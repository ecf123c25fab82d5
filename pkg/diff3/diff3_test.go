package diff3

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func opsString(ops []DiffOp) string {
	var sb strings.Builder
	for _, op := range ops {
		switch op.Type {
		case Equal:
			sb.WriteByte(' ')
		case Insert:
			sb.WriteByte('+')
		case Delete:
			sb.WriteByte('-')
		}
		sb.WriteString(op.Line)
		sb.WriteByte('|')
	}
	return sb.String()
}

func TestMyersDiff(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want string
	}{
		{"substitution", []string{"a", "b", "c"}, []string{"a", "x", "c"}, " a|-b|+x| c|"},
		{"insert only", nil, []string{"a", "b"}, "+a|+b|"},
		{"delete only", []string{"a", "b"}, nil, "-a|-b|"},
		{"identical", []string{"a", "b"}, []string{"a", "b"}, " a| b|"},
		{"empty", nil, nil, ""},
		{"append", []string{"a"}, []string{"a", "b"}, " a|+b|"},
		{"prepend", []string{"b"}, []string{"a", "b"}, "+a| b|"},
		{"move", []string{"a", "b", "c"}, []string{"c", "a", "b"}, "+c| a| b|-c|"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, opsString(MyersDiff(tt.a, tt.b)))
		})
	}
}

func TestMyersDiffIsMinimal(t *testing.T) {
	a := strings.Split("the quick brown fox jumps over the lazy dog", " ")
	b := strings.Split("the slow brown cat jumps over a lazy dog today", " ")
	var edits, equal int
	for _, op := range MyersDiff(a, b) {
		if op.Type == Equal {
			equal++
		} else {
			edits++
		}
	}
	require.Equal(t, 6, equal)
	require.Equal(t, len(a)+len(b)-2*equal, edits)
}

func TestLineDiff(t *testing.T) {
	diffs := LineDiff([]byte("hello\nworld\n"), []byte("hello\ngo\n"))
	require.Equal(t, []DiffLine{
		{Type: Equal, Content: "hello"},
		{Type: Delete, Content: "world"},
		{Type: Insert, Content: "go"},
	}, diffs)

	for _, d := range LineDiff([]byte("same\n"), []byte("same\n")) {
		require.Equal(t, Equal, d.Type)
	}
}

func TestMergeClean(t *testing.T) {
	tests := []struct {
		name, base, ours, theirs, want string
	}{
		{"top and bottom", "1\n2\n3\n", "top\n1\n2\n3\n", "1\n2\n3\nbottom\n", "top\n1\n2\n3\nbottom\n"},
		{"ours only", "a\nb\nc\n", "a\nB\nc\n", "a\nb\nc\n", "a\nB\nc\n"},
		{"theirs only", "a\nb\nc\n", "a\nb\nc\n", "a\nB\nc\n", "a\nB\nc\n"},
		{"identical change", "a\nb\nc\n", "a\nsame\nc\n", "a\nsame\nc\n", "a\nsame\nc\n"},
		{"separate inserts", "a\nb\nc\nd\ne\n", "a\nmine\nb\nc\nd\ne\n", "a\nb\nc\nd\nyours\ne\n", "a\nmine\nb\nc\nd\nyours\ne\n"},
		{"adjacent to an append", "a\nb\nc\nd\n", "a\nB\nC\nd\n", "a\nb\nc\nd\ne\n", "a\nB\nC\nd\ne\n"},
		{"ours empties", "a\nb\n", "", "a\nb\n", ""},
		{"theirs empties", "a\nb\n", "a\nb\n", "", ""},
		{"all empty", "", "", "", ""},
		{"missing final newline", "a\nb", "x\na\nb", "a\nb", "x\na\nb"},
		{"theirs drops final newline", "a\nb\n", "A\nb\n", "a\nb", "A\nb"},
		{"ours drops final newline", "a\nb\n", "a\nb", "A\nb\n", "A\nb"},
		{"theirs restores final newline", "a\nb", "A\nb", "a\nb\n", "A\nb\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Merge([]byte(tt.base), []byte(tt.ours), []byte(tt.theirs))
			require.False(t, r.HasConflicts, "merged:\n%s", r.Merged)
			require.Equal(t, tt.want, string(r.Merged))
		})
	}
}

func TestMergeConflictDiff3Style(t *testing.T) {
	r := Merge([]byte("a\nb\nc\n"), []byte("a\nmine\nc\n"), []byte("a\nyours\nc\n"))
	require.True(t, r.HasConflicts)
	require.Equal(t, 1, r.Conflicts)
	require.Equal(t, "a\n<<<<<<< ours\nmine\n||||||| base\nb\n=======\nyours\n>>>>>>> theirs\nc\n", string(r.Merged))

	var conflict *Hunk
	for i := range r.Hunks {
		if r.Hunks[i].Type == HunkConflict {
			conflict = &r.Hunks[i]
		}
	}
	require.NotNil(t, conflict)
	require.Equal(t, "b\n", string(conflict.Base))
	require.Equal(t, "mine\n", string(conflict.Ours))
	require.Equal(t, "yours\n", string(conflict.Theirs))
}

func TestMergeConflictMergeStyle(t *testing.T) {
	r := Merge([]byte("x\n"), []byte("o\n"), []byte("t\n"), Options{
		Style:  StyleMerge,
		Labels: Labels{Ours: "HEAD", Theirs: "topic"},
	})
	require.Equal(t, "<<<<<<< HEAD\no\n=======\nt\n>>>>>>> topic\n", string(r.Merged))
}

func TestMergeConflicts(t *testing.T) {
	tests := []struct {
		name, base, ours, theirs string
	}{
		{"delete against modify", "a\nb\nc\n", "a\nc\n", "a\nchanged\nc\n"},
		{"both add to empty", "", "hello\n", "world\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Merge([]byte(tt.base), []byte(tt.ours), []byte(tt.theirs))
			require.True(t, r.HasConflicts)
		})
	}
}

func TestMergeLargeInput(t *testing.T) {
	var lines []string
	for i := range 2000 {
		lines = append(lines, fmt.Sprintf("line-%04d", i))
	}
	edit := func(at int, s string) []byte {
		c := append([]string(nil), lines...)
		c[at] = s
		return []byte(strings.Join(c, "\n") + "\n")
	}
	base := []byte(strings.Join(lines, "\n") + "\n")

	r := Merge(base, edit(100, "mine"), edit(1900, "yours"))
	require.False(t, r.HasConflicts)
	require.True(t, bytes.Contains(r.Merged, []byte("\nmine\n")))
	require.True(t, bytes.Contains(r.Merged, []byte("\nyours\n")))
}

func TestIsBinary(t *testing.T) {
	require.False(t, IsBinary([]byte("plain text\n")))
	require.True(t, IsBinary([]byte{'P', 'N', 'G', 0, 1}))
	require.False(t, IsBinary(append(bytes.Repeat([]byte("a"), 9000), 0)))
}

func BenchmarkMergeConflict(b *testing.B) {
	base := []byte("a\nb\nc\nd\n")
	ours := []byte("a\nb ours\nc\nd\n")
	theirs := []byte("a\nb theirs\nc\nd\n")
	b.SetBytes(int64(len(base)))
	for b.Loop() {
		if !Merge(base, ours, theirs).HasConflicts {
			b.Fatal("expected conflict")
		}
	}
}
