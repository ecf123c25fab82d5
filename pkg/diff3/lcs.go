package diff3

import "slices"

// DiffType classifies a line of an edit script.
type DiffType int

const (
	Equal DiffType = iota
	Insert
	Delete
)

func (t DiffType) String() string {
	switch t {
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	default:
		return "equal"
	}
}

// DiffOp is one line of an edit script.
type DiffOp struct {
	Type DiffType
	Line string
}

// MyersDiff returns a shortest edit script turning a into b. Within a
// changed run deletions come before insertions.
func MyersDiff(a, b []string) []DiffOp {
	pre := 0
	for pre < len(a) && pre < len(b) && a[pre] == b[pre] {
		pre++
	}
	suf := 0
	for suf < len(a)-pre && suf < len(b)-pre && a[len(a)-1-suf] == b[len(b)-1-suf] {
		suf++
	}
	if len(a)+len(b) == 0 {
		return nil
	}

	ops := make([]DiffOp, 0, len(a)+len(b)-pre-suf)
	for _, l := range a[:pre] {
		ops = append(ops, DiffOp{Type: Equal, Line: l})
	}
	ops = append(ops, shortestEdit(a[pre:len(a)-suf], b[pre:len(b)-suf])...)
	for _, l := range a[len(a)-suf:] {
		ops = append(ops, DiffOp{Type: Equal, Line: l})
	}
	return ops
}

// shortestEdit runs the greedy forward search over interned lines, keeping
// the furthest-reaching x per diagonal for every edit distance, then walks
// the recorded frontiers back from the end.
func shortestEdit(a, b []string) []DiffOp {
	n, m := len(a), len(b)
	if n == 0 || m == 0 {
		ops := make([]DiffOp, 0, n+m)
		for _, l := range a {
			ops = append(ops, DiffOp{Type: Delete, Line: l})
		}
		for _, l := range b {
			ops = append(ops, DiffOp{Type: Insert, Line: l})
		}
		return ops
	}

	x, y := intern(a, b)
	off := n + m
	v := make([]int, 2*off+2)
	var frontiers [][]int
	for d := 0; d <= off; d++ {
		frontiers = append(frontiers, slices.Clone(v))
		for k := -d; k <= d; k += 2 {
			var i int
			if k == -d || (k != d && v[off+k-1] < v[off+k+1]) {
				i = v[off+k+1]
			} else {
				i = v[off+k-1] + 1
			}
			j := i - k
			for i < n && j < m && x[i] == y[j] {
				i++
				j++
			}
			v[off+k] = i
			if i >= n && j >= m {
				return unwind(frontiers, a, b, d, off)
			}
		}
	}
	return nil
}

// unwind rebuilds the script for edit distance d. frontiers[d] holds the
// diagonals as they were before step d.
func unwind(frontiers [][]int, a, b []string, d, off int) []DiffOp {
	ops := make([]DiffOp, (len(a)+len(b)+d)/2)
	pos := len(ops)
	emit := func(t DiffType, line string) {
		pos--
		ops[pos] = DiffOp{Type: t, Line: line}
	}

	i, j := len(a), len(b)
	for ; d > 0; d-- {
		v := frontiers[d]
		k := i - j
		down := k == -d || (k != d && v[off+k-1] < v[off+k+1])
		pk := k - 1
		if down {
			pk = k + 1
		}
		pi := v[off+pk]
		pj := pi - pk
		for i > pi && j > pj {
			i--
			j--
			emit(Equal, a[i])
		}
		if down {
			j--
			emit(Insert, b[j])
		} else {
			i--
			emit(Delete, a[i])
		}
	}
	for i > 0 {
		i--
		emit(Equal, a[i])
	}
	return ops[pos:]
}

// intern maps every distinct line to a small integer so the search
// compares ints.
func intern(a, b []string) ([]int, []int) {
	ids := make(map[string]int, len(a))
	conv := func(lines []string) []int {
		out := make([]int, len(lines))
		for i, l := range lines {
			id, ok := ids[l]
			if !ok {
				id = len(ids)
				ids[l] = id
			}
			out[i] = id
		}
		return out
	}
	return conv(a), conv(b)
}
