package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Journal is the append-only error journal. Task records only carry a short
// summary; the full error value and stack trace live here.
type Journal struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewJournal creates a journal writing to path.
func NewJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	return &Journal{path: path, now: time.Now}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	if j == nil {
		return ""
	}
	return j.path
}

// Record appends one failure block and returns the journal path so callers
// can reference it from a redacted summary.
func (j *Journal) Record(taskID string, failure error, stack []byte) (string, error) {
	if j == nil {
		return "", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "=== %s task=%s\n", j.now().UTC().Format(time.RFC3339), taskID)
	if failure != nil {
		fmt.Fprintf(&b, "error: %s\n", failure.Error())
	}
	if len(stack) > 0 {
		b.WriteString("stack:\n")
		b.Write(stack)
		if stack[len(stack)-1] != '\n' {
			b.WriteByte('\n')
		}
	}
	b.WriteByte('\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(b.String()); err != nil {
		return "", fmt.Errorf("write journal: %w", err)
	}
	return j.path, nil
}

// Summary truncates an error message to its first line, at most 200 runes,
// and points at the journal.
func (j *Journal) Summary(failure error) string {
	msg := "unknown error"
	if failure != nil {
		msg = failure.Error()
	}
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	if r := []rune(msg); len(r) > 200 {
		msg = string(r[:200]) + "..."
	}
	if j == nil || j.path == "" {
		return msg
	}
	return fmt.Sprintf("%s (see %s)", msg, j.path)
}
