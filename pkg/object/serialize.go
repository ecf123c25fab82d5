package object

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Tree
// ---------------------------------------------------------------------------

// SortTreeEntries orders entries the way git does: by name, with
// directories compared as if their name ended in "/".
func SortTreeEntries(entries []TreeEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return treeSortKey(entries[i]) < treeSortKey(entries[j])
	})
}

func treeSortKey(e TreeEntry) string {
	if e.Mode.IsDir() {
		return e.Name + "/"
	}
	return e.Name
}

// NewTree validates entries and returns a Tree in canonical order. Names
// must be non-empty, unique and free of '/' and NUL; IDs must be set.
func NewTree(entries []TreeEntry) (*Tree, error) {
	sorted := make([]TreeEntry, len(entries))
	copy(sorted, entries)
	SortTreeEntries(sorted)

	seen := make(map[string]struct{}, len(sorted))
	for _, e := range sorted {
		if e.Name == "" || e.Name == "." || e.Name == ".." {
			return nil, fmt.Errorf("new tree: invalid entry name %q", e.Name)
		}
		if strings.ContainsAny(e.Name, "/\x00") {
			return nil, fmt.Errorf("new tree: entry name %q contains '/' or NUL", e.Name)
		}
		if e.ID.IsZero() {
			return nil, fmt.Errorf("new tree: entry %q has no object id", e.Name)
		}
		if _, dup := seen[e.Name]; dup {
			return nil, fmt.Errorf("new tree: duplicate entry %q", e.Name)
		}
		seen[e.Name] = struct{}{}
	}
	return &Tree{Entries: sorted}, nil
}

// Entry returns the entry with the given name.
func (t *Tree) Entry(name string) (TreeEntry, bool) {
	for _, e := range t.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return TreeEntry{}, false
}

// MarshalTree serializes a Tree in git's binary format:
//
//	<mode> <name>\0<raw id>
//
// Entries are re-sorted so the output is deterministic.
func MarshalTree(t *Tree) []byte {
	sorted := make([]TreeEntry, len(t.Entries))
	copy(sorted, t.Entries)
	SortTreeEntries(sorted)

	var buf bytes.Buffer
	for _, e := range sorted {
		buf.WriteString(e.Mode.String())
		buf.WriteByte(' ')
		buf.WriteString(e.Name)
		buf.WriteByte(0)
		buf.Write(e.ID.sum[:e.ID.size])
	}
	return buf.Bytes()
}

// UnmarshalTree parses a tree whose entry IDs are idSize bytes long.
func UnmarshalTree(data []byte, idSize int) (*Tree, error) {
	t := &Tree{}
	for len(data) > 0 {
		sp := bytes.IndexByte(data, ' ')
		if sp < 0 {
			return nil, fmt.Errorf("unmarshal tree: missing mode separator")
		}
		mode, err := ParseFileMode(string(data[:sp]))
		if err != nil {
			return nil, fmt.Errorf("unmarshal tree: %w", err)
		}
		data = data[sp+1:]

		nul := bytes.IndexByte(data, 0)
		if nul < 0 {
			return nil, fmt.Errorf("unmarshal tree: missing name terminator")
		}
		name := string(data[:nul])
		data = data[nul+1:]

		if len(data) < idSize {
			return nil, fmt.Errorf("unmarshal tree: truncated id for %q", name)
		}
		id, err := NewID(data[:idSize])
		if err != nil {
			return nil, fmt.Errorf("unmarshal tree: %w", err)
		}
		data = data[idSize:]

		t.Entries = append(t.Entries, TreeEntry{Name: name, Mode: mode, ID: id})
	}
	return t, nil
}

// ---------------------------------------------------------------------------
// Signature
// ---------------------------------------------------------------------------

// String renders "Name <email> <unix> <+hhmm>".
func (s Signature) String() string {
	_, offset := s.When.Zone()
	sign := '+'
	if offset < 0 {
		sign = '-'
		offset = -offset
	}
	return fmt.Sprintf("%s <%s> %d %c%02d%02d",
		s.Name, s.Email, s.When.Unix(), sign, offset/3600, (offset%3600)/60)
}

// ParseSignature parses the "Name <email> <unix> <+hhmm>" form.
func ParseSignature(s string) (Signature, error) {
	lt := strings.IndexByte(s, '<')
	gt := strings.LastIndexByte(s, '>')
	if lt < 0 || gt < lt {
		return Signature{}, fmt.Errorf("parse signature %q: missing email", s)
	}
	sig := Signature{
		Name:  strings.TrimSpace(s[:lt]),
		Email: s[lt+1 : gt],
	}

	fields := strings.Fields(s[gt+1:])
	if len(fields) == 0 {
		return sig, nil
	}
	unix, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Signature{}, fmt.Errorf("parse signature %q: bad timestamp: %w", s, err)
	}
	loc := time.UTC
	if len(fields) > 1 {
		loc, err = parseTimezone(fields[1])
		if err != nil {
			return Signature{}, fmt.Errorf("parse signature %q: %w", s, err)
		}
	}
	sig.When = time.Unix(unix, 0).In(loc)
	return sig, nil
}

func parseTimezone(tz string) (*time.Location, error) {
	if len(tz) != 5 || (tz[0] != '+' && tz[0] != '-') {
		return nil, fmt.Errorf("bad timezone %q", tz)
	}
	hours, err := strconv.Atoi(tz[1:3])
	if err != nil {
		return nil, fmt.Errorf("bad timezone %q", tz)
	}
	mins, err := strconv.Atoi(tz[3:5])
	if err != nil {
		return nil, fmt.Errorf("bad timezone %q", tz)
	}
	offset := hours*3600 + mins*60
	if tz[0] == '-' {
		offset = -offset
	}
	if offset == 0 {
		return time.UTC, nil
	}
	return time.FixedZone(tz, offset), nil
}

// ---------------------------------------------------------------------------
// Commit
// ---------------------------------------------------------------------------

// MarshalCommit serializes a Commit:
//
//	tree H
//	parent H     (zero or more)
//	author SIG
//	committer SIG
//	gpgsig S     (optional, continuation lines indented by one space)
//
//	message
func MarshalCommit(c *Commit) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", c.Tree)
	for _, p := range c.Parents {
		fmt.Fprintf(&buf, "parent %s\n", p)
	}
	fmt.Fprintf(&buf, "author %s\n", c.Author)
	fmt.Fprintf(&buf, "committer %s\n", c.Committer)
	if strings.TrimSpace(c.Signature) != "" {
		writeMultilineHeader(&buf, "gpgsig", c.Signature)
	}
	buf.WriteByte('\n')
	buf.WriteString(c.Message)
	return buf.Bytes()
}

func writeMultilineHeader(buf *bytes.Buffer, key, value string) {
	lines := strings.Split(strings.TrimRight(value, "\n"), "\n")
	fmt.Fprintf(buf, "%s %s\n", key, lines[0])
	for _, l := range lines[1:] {
		fmt.Fprintf(buf, " %s\n", l)
	}
}

// UnmarshalCommit parses a commit. Unknown headers (encoding, mergetag)
// are skipped.
func UnmarshalCommit(data []byte) (*Commit, error) {
	headers, message, err := splitHeaders(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal commit: %w", err)
	}
	c := &Commit{Message: message}
	for _, h := range headers {
		switch h.key {
		case "tree":
			if c.Tree, err = ParseID(h.value); err != nil {
				return nil, fmt.Errorf("unmarshal commit: tree: %w", err)
			}
		case "parent":
			p, err := ParseID(h.value)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: parent: %w", err)
			}
			c.Parents = append(c.Parents, p)
		case "author":
			if c.Author, err = ParseSignature(h.value); err != nil {
				return nil, fmt.Errorf("unmarshal commit: %w", err)
			}
		case "committer":
			if c.Committer, err = ParseSignature(h.value); err != nil {
				return nil, fmt.Errorf("unmarshal commit: %w", err)
			}
		case "gpgsig", "gpgsig-sha256":
			c.Signature = h.value
		}
	}
	if c.Tree.IsZero() {
		return nil, fmt.Errorf("unmarshal commit: missing tree header")
	}
	return c, nil
}

// CommitSigningPayload returns the canonical bytes that are signed for a
// commit. The payload excludes the signature field itself.
func CommitSigningPayload(c *Commit) []byte {
	if c == nil {
		return nil
	}
	unsigned := *c
	unsigned.Signature = ""
	return MarshalCommit(&unsigned)
}

// ---------------------------------------------------------------------------
// Tag
// ---------------------------------------------------------------------------

// MarshalTag serializes an annotated tag:
//
//	object H
//	type T
//	tag NAME
//	tagger SIG
//
//	message
func MarshalTag(t *Tag) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "object %s\n", t.Target)
	fmt.Fprintf(&buf, "type %s\n", t.TargetType)
	fmt.Fprintf(&buf, "tag %s\n", t.Name)
	if t.Tagger.Name != "" || t.Tagger.Email != "" {
		fmt.Fprintf(&buf, "tagger %s\n", t.Tagger)
	}
	buf.WriteByte('\n')
	buf.WriteString(t.Message)
	return buf.Bytes()
}

// UnmarshalTag parses an annotated tag.
func UnmarshalTag(data []byte) (*Tag, error) {
	headers, message, err := splitHeaders(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal tag: %w", err)
	}
	t := &Tag{Message: message}
	for _, h := range headers {
		switch h.key {
		case "object":
			if t.Target, err = ParseID(h.value); err != nil {
				return nil, fmt.Errorf("unmarshal tag: object: %w", err)
			}
		case "type":
			if t.TargetType, err = ParseType(h.value); err != nil {
				return nil, fmt.Errorf("unmarshal tag: %w", err)
			}
		case "tag":
			t.Name = h.value
		case "tagger":
			if t.Tagger, err = ParseSignature(h.value); err != nil {
				return nil, fmt.Errorf("unmarshal tag: %w", err)
			}
		}
	}
	if t.Target.IsZero() {
		return nil, fmt.Errorf("unmarshal tag: missing object header")
	}
	return t, nil
}

// ---------------------------------------------------------------------------
// Header parsing shared by commits and tags
// ---------------------------------------------------------------------------

type header struct {
	key   string
	value string
}

func splitHeaders(data []byte) ([]header, string, error) {
	var headers []header
	rest := data
	for {
		nl := bytes.IndexByte(rest, '\n')
		if nl < 0 {
			if len(bytes.TrimSpace(rest)) == 0 {
				return headers, "", nil
			}
			return nil, "", fmt.Errorf("missing header/message separator")
		}
		line := string(rest[:nl])
		rest = rest[nl+1:]
		if line == "" {
			return headers, string(rest), nil
		}
		if line[0] == ' ' {
			if len(headers) == 0 {
				return nil, "", fmt.Errorf("continuation line without header")
			}
			last := &headers[len(headers)-1]
			last.value += "\n" + line[1:]
			continue
		}
		key, value, ok := strings.Cut(line, " ")
		if !ok {
			return nil, "", fmt.Errorf("malformed header line %q", line)
		}
		headers = append(headers, header{key: key, value: value})
	}
}
