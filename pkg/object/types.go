package object

import (
	"fmt"
	"strconv"
	"time"
)

// Type identifies the kind of object stored.
type Type uint8

const (
	TypeInvalid Type = iota
	TypeBlob
	TypeTree
	TypeCommit
	TypeTag
)

func (t Type) String() string {
	switch t {
	case TypeBlob:
		return "blob"
	case TypeTree:
		return "tree"
	case TypeCommit:
		return "commit"
	case TypeTag:
		return "tag"
	default:
		return "invalid"
	}
}

// ParseType parses the canonical type name used in object envelopes.
func ParseType(s string) (Type, error) {
	switch s {
	case "blob":
		return TypeBlob, nil
	case "tree":
		return TypeTree, nil
	case "commit":
		return TypeCommit, nil
	case "tag":
		return TypeTag, nil
	default:
		return TypeInvalid, fmt.Errorf("unknown object type %q", s)
	}
}

// FileMode holds git-compatible tree entry mode bits.
type FileMode uint32

const (
	ModeDir        FileMode = 0o040000
	ModeFile       FileMode = 0o100644
	ModeExecutable FileMode = 0o100755
	ModeSymlink    FileMode = 0o120000
	ModeSubmodule  FileMode = 0o160000
)

// IsDir reports whether the entry points at a subtree.
func (m FileMode) IsDir() bool { return m == ModeDir }

// IsRegular reports whether the entry is a plain or executable file.
func (m FileMode) IsRegular() bool { return m == ModeFile || m == ModeExecutable }

// ObjectType returns the type of object an entry with this mode refers to.
func (m FileMode) ObjectType() Type {
	switch m {
	case ModeDir:
		return TypeTree
	case ModeSubmodule:
		return TypeCommit
	default:
		return TypeBlob
	}
}

// String renders the mode the way tree objects store it (no leading zero).
func (m FileMode) String() string {
	return strconv.FormatUint(uint64(m), 8)
}

// ParseFileMode parses an octal mode string from a tree entry.
func ParseFileMode(s string) (FileMode, error) {
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("parse file mode %q: %w", s, err)
	}
	switch m := FileMode(v); m {
	case ModeDir, ModeFile, ModeExecutable, ModeSymlink, ModeSubmodule:
		return m, nil
	case 0o100664:
		// Written by very old git versions.
		return ModeFile, nil
	default:
		return 0, fmt.Errorf("unsupported file mode %q", s)
	}
}

// Blob holds raw file data.
type Blob struct {
	Data []byte
}

// TreeEntry is one entry in a tree object.
type TreeEntry struct {
	Name string
	Mode FileMode
	ID   ID
}

// Type returns the type of the object the entry refers to.
func (e TreeEntry) Type() Type { return e.Mode.ObjectType() }

// Tree holds entries sorted in canonical order (see SortTreeEntries).
type Tree struct {
	Entries []TreeEntry
}

// Signature identifies the author or committer of a commit, or the tagger
// of an annotated tag. When carries the UTC offset recorded at creation.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// Commit points at a tree and zero or more parent commits.
type Commit struct {
	Tree      ID
	Parents   []ID
	Author    Signature
	Committer Signature
	// Signature is an optional detached signature over the commit payload
	// without this field (see CommitSigningPayload).
	Signature string
	Message   string
}

// Tag is an annotated tag object.
type Tag struct {
	Target     ID
	TargetType Type
	Name       string
	Tagger     Signature
	Message    string
}

// RawObject is an undecoded object as held by a backend.
type RawObject struct {
	ID   ID
	Type Type
	Data []byte
}
