// Package storage holds the append-only text records shared by all
// personas: the company activity log and the error journal.
package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Activity kinds written by the engine and the coordinator.
const (
	KindFileCreated   = "FILE_CREATED"
	KindTaskStarted   = "TASK_STARTED"
	KindTaskCompleted = "TASK_COMPLETED"
	KindTaskFailed    = "TASK_FAILED"
	KindDelegated     = "DELEGATED"
	KindProject       = "PROJECT_CREATED"
	KindProjectDone   = "PROJECT_COMPLETED"
	KindMeetingLog    = "MEETING_LOG"
)

const (
	activityTimeFormat = "2006-01-02 15:04"

	// maxActivityText caps the text of one entry, in runes.
	maxActivityText = 2000
	// tailChunk is how much Tail reads per step from the end of the file.
	tailChunk = 32 * 1024
)

// ActivityLog is the shared company log every persona sees on its first turn.
// Entries are single markdown list items.
type ActivityLog struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewActivityLog creates an activity log backed by the file at path.
func NewActivityLog(path string) (*ActivityLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create activity dir: %w", err)
	}
	return &ActivityLog{path: path, now: time.Now}, nil
}

// Path returns the file backing the log.
func (l *ActivityLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes one entry. Newlines in text are folded so an entry stays on
// one line, and long text is cut short. A nil log is a no-op.
func (l *ActivityLog) Append(kind, persona, text string) error {
	if l == nil {
		return nil
	}
	line := FormatActivity(l.now(), kind, persona, text)

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open activity log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write activity log: %w", err)
	}
	return nil
}

// Tail returns up to n of the most recent entries, oldest first. The file
// is read backwards from its end, so the cost does not grow with the log.
func (l *ActivityLog) Tail(n int) ([]string, error) {
	if l == nil || n <= 0 {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open activity log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat activity log: %w", err)
	}

	var (
		lines []string // newest first
		rest  []byte   // start of the earliest line seen, possibly partial
		off   = info.Size()
		buf   = make([]byte, tailChunk)
	)
	keep := func(b []byte) {
		if len(bytes.TrimSpace(b)) > 0 {
			lines = append(lines, string(bytes.TrimRight(b, "\r")))
		}
	}
	for off > 0 && len(lines) < n {
		step := min(int64(tailChunk), off)
		off -= step
		if _, err := f.ReadAt(buf[:step], off); err != nil {
			return nil, fmt.Errorf("read activity log: %w", err)
		}
		chunk := append(append([]byte(nil), buf[:step]...), rest...)
		parts := bytes.Split(chunk, []byte("\n"))
		rest = parts[0]
		for i := len(parts) - 1; i >= 1 && len(lines) < n; i-- {
			keep(parts[i])
		}
	}
	if off == 0 && len(lines) < n {
		keep(rest)
	}

	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, nil
}

// FormatActivity renders a single activity entry.
func FormatActivity(at time.Time, kind, persona, text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > maxActivityText {
		text = string(r[:maxActivityText]) + " [...]"
	}
	if persona == "" {
		persona = "system"
	}
	return fmt.Sprintf("- [%s] %s %s: %s", at.Format(activityTimeFormat), kind, persona, text)
}
