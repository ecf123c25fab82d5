package object

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// MaxIDSize is the largest supported ID length in bytes.
const MaxIDSize = 32

// ID is the content hash of a serialized object. It holds either 20 (SHA-1)
// or 32 (SHA-256) bytes. The zero value is the absent ID.
//
// ID is a comparable value and may be used as a map key.
type ID struct {
	sum  [MaxIDSize]byte
	size uint8
}

// NewID copies b into an ID. b must be 20 or 32 bytes long.
func NewID(b []byte) (ID, error) {
	if len(b) != 20 && len(b) != 32 {
		return ID{}, fmt.Errorf("invalid object id length %d", len(b))
	}
	var id ID
	copy(id.sum[:], b)
	id.size = uint8(len(b))
	return id, nil
}

// ParseID parses a full-length lowercase or uppercase hex object ID.
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if len(s) != 40 && len(s) != 64 {
		return ID{}, fmt.Errorf("parse object id %q: length %d, expected 40 or 64", s, len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("parse object id %q: %w", s, err)
	}
	return NewID(raw)
}

// MustParseID is ParseID for constants in tests; it panics on bad input.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// NullID returns the all-zero ID of the given size. It is distinct from the
// zero value and is used where an on-disk format needs a placeholder.
func NullID(algo HashAlgorithm) ID {
	return ID{size: uint8(algo.Size())}
}

// IsZero reports whether id is the absent ID.
func (id ID) IsZero() bool { return id.size == 0 }

// IsNull reports whether id is absent or consists only of zero bytes.
func (id ID) IsNull() bool {
	for _, b := range id.sum[:id.size] {
		if b != 0 {
			return false
		}
	}
	return true
}

// Size returns the length of the ID in bytes (0 for the absent ID).
func (id ID) Size() int { return int(id.size) }

// Bytes returns a copy of the raw ID bytes.
func (id ID) Bytes() []byte {
	out := make([]byte, id.size)
	copy(out, id.sum[:id.size])
	return out
}

func (id ID) String() string {
	return hex.EncodeToString(id.sum[:id.size])
}

// Short returns the first 8 hex characters.
func (id ID) Short() string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Compare orders IDs byte-wise. Shorter IDs sort before longer ones when
// their common prefix is equal.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id.sum[:id.size], other.sum[:other.size])
}

// HasPrefix reports whether the hex form of id starts with prefix.
func (id ID) HasPrefix(prefix string) bool {
	return strings.HasPrefix(id.String(), strings.ToLower(prefix))
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	if len(bytes.TrimSpace(text)) == 0 {
		*id = ID{}
		return nil
	}
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
