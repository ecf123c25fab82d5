package object

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// LooseBackend stores one file per object with a 2-character fan-out
// directory layout: objects/ab/cdef0123... Each file holds the zstd
// compressed envelope "type len\0content".
type LooseBackend struct {
	root string
	algo HashAlgorithm
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

// NewLooseBackend creates a backend rooted at dir. The objects/
// subdirectory is created lazily on first write.
func NewLooseBackend(dir string, algo HashAlgorithm) (*LooseBackend, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("loose backend: zstd writer: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("loose backend: zstd reader: %w", err)
	}
	return &LooseBackend{root: dir, algo: algo, enc: enc, dec: dec}, nil
}

func (b *LooseBackend) objectPath(id ID) string {
	h := id.String()
	return filepath.Join(b.root, "objects", h[:2], h[2:])
}

func (b *LooseBackend) Has(id ID) (bool, error) {
	if id.IsZero() {
		return false, nil
	}
	_, err := os.Stat(b.objectPath(id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Put writes atomically: data goes to a temp file which is then renamed
// into place.
func (b *LooseBackend) Put(id ID, objType Type, data []byte) error {
	if ok, err := b.Has(id); err != nil {
		return err
	} else if ok {
		return nil
	}

	raw := append(envelopeHeader(objType, len(data)), data...)
	compressed := b.enc.EncodeAll(raw, nil)

	h := id.String()
	dir := filepath.Join(b.root, "objects", h[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpName, b.objectPath(id)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (b *LooseBackend) Get(id ID) (Type, []byte, error) {
	if id.IsZero() {
		return TypeInvalid, nil, ErrNotFound
	}
	compressed, err := os.ReadFile(b.objectPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return TypeInvalid, nil, ErrNotFound
		}
		return TypeInvalid, nil, err
	}
	raw, err := b.dec.DecodeAll(compressed, nil)
	if err != nil {
		return TypeInvalid, nil, fmt.Errorf("decompress: %w", err)
	}
	return parseEnvelope(raw)
}

// parseEnvelope splits "type len\0content" and checks the length.
func parseEnvelope(raw []byte) (Type, []byte, error) {
	nul := bytes.IndexByte(raw, 0)
	if nul < 0 {
		return TypeInvalid, nil, fmt.Errorf("invalid format (no NUL)")
	}
	header := string(raw[:nul])
	content := raw[nul+1:]

	typeName, lengthStr, ok := strings.Cut(header, " ")
	if !ok {
		return TypeInvalid, nil, fmt.Errorf("invalid header %q", header)
	}
	objType, err := ParseType(typeName)
	if err != nil {
		return TypeInvalid, nil, err
	}
	length, err := strconv.Atoi(lengthStr)
	if err != nil {
		return TypeInvalid, nil, fmt.Errorf("invalid length %q: %w", lengthStr, err)
	}
	if len(content) != length {
		return TypeInvalid, nil, fmt.Errorf("length mismatch (header=%d, actual=%d)", length, len(content))
	}
	return objType, content, nil
}

func (b *LooseBackend) FindPrefix(prefix string) ([]ID, error) {
	prefix = strings.ToLower(prefix)
	if len(prefix) < 2 {
		return nil, fmt.Errorf("prefix %q too short", prefix)
	}
	dir := filepath.Join(b.root, "objects", prefix[:2])
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []ID
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		full := prefix[:2] + e.Name()
		if !strings.HasPrefix(full, prefix) {
			continue
		}
		raw, err := hex.DecodeString(full)
		if err != nil || len(raw) != b.algo.Size() {
			continue
		}
		id, err := NewID(raw)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out, nil
}

func (b *LooseBackend) Close() error {
	b.dec.Close()
	return b.enc.Close()
}
