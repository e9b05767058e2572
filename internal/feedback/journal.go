// Package feedback keeps an append-only JSON-lines journal of conversation
// feedback, independent of the conversation database.
package feedback

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record is one journal line.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Rating    string    `json:"rating"`
	Text      string    `json:"text,omitempty"`
	Speaker   string    `json:"speaker,omitempty"`
}

// Journal appends records to a file. Safe for concurrent use.
type Journal struct {
	mu   sync.Mutex
	path string
}

// NewJournal returns a Journal writing to path. Parent directories are
// created on the first append.
func NewJournal(path string) *Journal {
	return &Journal{path: path}
}

// Path returns the journal file path.
func (j *Journal) Path() string { return j.path }

// Append writes rec as one JSON line. A zero Timestamp is set to now (UTC).
func (j *Journal) Append(rec Record) error {
	if rec.SessionID == "" {
		return errors.New("feedback: append: session id is required")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("feedback: marshal: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if dir := filepath.Dir(j.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("feedback: create dir: %w", err)
		}
	}
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("feedback: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("feedback: write: %w", err)
	}
	return nil
}

// ReadAll returns every record in file order. A missing file yields no
// records and no error.
func (j *Journal) ReadAll() ([]Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("feedback: open file: %w", err)
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return out, fmt.Errorf("feedback: line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("feedback: read: %w", err)
	}
	return out, nil
}
