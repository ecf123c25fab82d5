package object

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"github.com/pjbgf/sha1cd"
)

// HashAlgorithm selects the digest used to compute object IDs.
type HashAlgorithm uint8

const (
	// SHA1 produces 20-byte IDs compatible with classic git repositories.
	// Digests are computed with collision detection.
	SHA1 HashAlgorithm = iota + 1
	// SHA256 produces 32-byte IDs.
	SHA256
)

// Size returns the byte length of IDs produced by the algorithm.
func (a HashAlgorithm) Size() int {
	switch a {
	case SHA1:
		return 20
	case SHA256:
		return 32
	default:
		return 0
	}
}

func (a HashAlgorithm) String() string {
	switch a {
	case SHA1:
		return "sha1"
	case SHA256:
		return "sha256"
	default:
		return "unknown(" + strconv.Itoa(int(a)) + ")"
	}
}

// New returns a fresh hash.Hash for the algorithm.
func (a HashAlgorithm) New() hash.Hash {
	switch a {
	case SHA256:
		return sha256.New()
	default:
		return sha1cd.New()
	}
}

// ParseHashAlgorithm parses a config value such as "sha1" or "sha256".
// An empty string selects SHA1.
func ParseHashAlgorithm(s string) (HashAlgorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sha1", "sha-1":
		return SHA1, nil
	case "sha256", "sha-256":
		return SHA256, nil
	default:
		return 0, fmt.Errorf("unknown hash algorithm %q", s)
	}
}

// HashObject computes the ID of data under the envelope "type len\0content",
// the same framing git uses.
func HashObject(algo HashAlgorithm, objType Type, data []byte) ID {
	h := algo.New()
	h.Write(envelopeHeader(objType, len(data)))
	h.Write(data)
	id, _ := NewID(h.Sum(nil))
	return id
}

func envelopeHeader(objType Type, n int) []byte {
	buf := make([]byte, 0, 16)
	buf = append(buf, objType.String()...)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, int64(n), 10)
	buf = append(buf, 0)
	return buf
}
