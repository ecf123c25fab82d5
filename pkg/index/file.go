package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const formatVersion = 1

type fileFormat struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// Load reads an index file. A missing file yields an empty index.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(), nil
		}
		return nil, fmt.Errorf("read index: %w", err)
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("read index: unmarshal: %w", err)
	}
	if f.Version != formatVersion {
		return nil, fmt.Errorf("read index: unsupported version %d", f.Version)
	}
	slices.SortStableFunc(f.Entries, func(a, b Entry) int { return compareEntry(a, b.Path, b.Stage) })
	for i := 1; i < len(f.Entries); i++ {
		if compareEntry(f.Entries[i-1], f.Entries[i].Path, f.Entries[i].Stage) == 0 {
			return nil, fmt.Errorf("read index: duplicate entry %q (%s)", f.Entries[i].Path, f.Entries[i].Stage)
		}
	}
	return &Index{entries: f.Entries}, nil
}

// Save atomically writes the index to path.
func (idx *Index) Save(path string) error {
	entries := idx.entries
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(fileFormat{Version: formatVersion, Entries: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("write index: marshal: %w", err)
	}

	// Atomic write via temp file + rename.
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+strings.TrimPrefix(filepath.Base(path), ".")+"-tmp-*")
	if err != nil {
		return fmt.Errorf("write index: tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write index: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write index: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write index: rename: %w", err)
	}
	return nil
}
