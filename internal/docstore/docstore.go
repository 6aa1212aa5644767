// Package docstore is the shared document tree personas read from and write
// to: per-persona artifact folders, generated assets and project plans.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
	"unicode"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrOutsideSandbox is returned when a path escapes the document root.
	ErrOutsideSandbox = errors.New("path is outside the document root")
)

// RootLabel is the name personas use for the document root in prompts.
const RootLabel = "Company Doc"

// Entry describes one document or folder.
type Entry struct {
	Path    string    `json:"path"`
	Dir     bool      `json:"dir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Name returns the last path element.
func (e Entry) Name() string {
	return path.Base(e.Path)
}

// Backend stores documents under slash-separated relative paths.
type Backend interface {
	Read(ctx context.Context, p string) ([]byte, error)
	Write(ctx context.Context, p string, data []byte) error
	// List returns the entries under prefix. A non-recursive listing returns
	// direct children including folders; a recursive one returns files only.
	List(ctx context.Context, prefix string, recursive bool) ([]Entry, error)
	Exists(ctx context.Context, p string) (bool, error)
}

// Clean normalizes a document path to a slash-separated path relative to the
// root. Absolute paths and paths that climb above the root yield
// ErrOutsideSandbox.
func Clean(p string) (string, error) {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == RootLabel {
		return "", nil
	}
	p = strings.TrimPrefix(p, RootLabel+"/")
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%q: %w", p, ErrOutsideSandbox)
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return "", nil
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%q: %w", p, ErrOutsideSandbox)
	}
	return cleaned, nil
}

// SanitizeName keeps the characters allowed in a persona folder name.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r > 127 && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '(', r == ')':
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// SanitizeTitle turns a task title into a file-name stem.
func SanitizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		case r > 127 && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), "_")
	if r := []rune(out); len(r) > 50 {
		out = string(r[:50])
	}
	if out == "" {
		out = "Untitled"
	}
	return out
}

// sortNewestFirst orders entries by modification time, newest first, with
// the path as tie breaker.
func sortNewestFirst(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].ModTime.Equal(entries[j].ModTime) {
			return entries[i].ModTime.After(entries[j].ModTime)
		}
		return entries[i].Path > entries[j].Path
	})
}
