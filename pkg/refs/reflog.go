package refs

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/odvcencio/vcscore/pkg/object"
)

// ReflogEntry is one line of a ref's history: "old new unix reason".
type ReflogEntry struct {
	Ref       string
	OldID     object.ID
	NewID     object.ID
	Timestamp time.Time
	Reason    string
}

// AppendReflog records a transition of ref from oldID to newID. Zero IDs
// are written as the all-zero ID of the store's algorithm.
func (s *Store) AppendReflog(ref string, oldID, newID object.ID, reason string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	if strings.TrimSpace(reason) == "" {
		reason = "update"
	}
	reason = strings.ReplaceAll(reason, "\n", " ")

	logPath := filepath.Join(s.dir, "logs", filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("reflog mkdir: %w", err)
	}

	null := object.NullID(s.algo)
	if oldID.IsZero() {
		oldID = null
	}
	if newID.IsZero() {
		newID = null
	}
	line := fmt.Sprintf("%s %s %d %s\n", oldID, newID, time.Now().Unix(), reason)

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reflog open: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("reflog write: %w", err)
	}
	return nil
}

// ReadReflog returns ref's reflog newest first. A limit of zero or less
// returns every entry. A ref without a reflog yields no entries.
func (s *Store) ReadReflog(ref string, limit int) ([]ReflogEntry, error) {
	logPath := filepath.Join(s.dir, "logs", filepath.FromSlash(ref))
	f, err := os.Open(logPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read reflog: %w", err)
	}
	defer f.Close()

	var entries []ReflogEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 4)
		if len(parts) < 4 {
			continue
		}
		ts, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			continue
		}
		oldID, err1 := object.ParseID(parts[0])
		newID, err2 := object.ParseID(parts[1])
		if err1 != nil || err2 != nil {
			continue
		}
		if oldID.IsNull() {
			oldID = object.ID{}
		}
		if newID.IsNull() {
			newID = object.ID{}
		}
		entries = append(entries, ReflogEntry{
			Ref:       ref,
			OldID:     oldID,
			NewID:     newID,
			Timestamp: time.Unix(ts, 0),
			Reason:    parts[3],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read reflog: %w", err)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
