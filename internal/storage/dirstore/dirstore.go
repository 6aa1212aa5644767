// Package dirstore keeps typed records on disk, one directory per record:
// <root>/<id>/meta.json plus any JSONL side files the caller appends to.
package dirstore

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

var (
	// ErrNotFound is returned when a record has no meta.json.
	ErrNotFound = errors.New("record not found")
	// ErrExists is returned when inserting over an existing record.
	ErrExists = errors.New("record already exists")
)

const metaFile = "meta.json"

// Store holds records of type T under root. All methods are safe for
// concurrent use within one process.
type Store[T any] struct {
	mu   sync.RWMutex
	root string
	kind string
}

// New returns a store rooted at root. kind names the record in errors.
func New[T any](root, kind string) *Store[T] {
	return &Store[T]{root: root, kind: kind}
}

func (s *Store[T]) path(id string, name ...string) string {
	return filepath.Join(append([]string{s.root, id}, name...)...)
}

// Insert writes a new record. It fails with ErrExists if id is taken.
func (s *Store[T]) Insert(id string, v *T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exists(id) {
		return fmt.Errorf("%s %s: %w", s.kind, id, ErrExists)
	}
	if err := os.MkdirAll(s.path(id), 0o755); err != nil {
		return fmt.Errorf("create %s dir: %w", s.kind, err)
	}
	return s.write(id, v)
}

// Get reads one record.
func (s *Store[T]) Get(id string) (*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(id)
}

// Modify reads a record, hands it to fn and writes it back, all under the
// write lock. An error from fn aborts the write.
func (s *Store[T]) Modify(id string, fn func(*T) error) (*T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.read(id)
	if err != nil {
		return nil, err
	}
	if err := fn(v); err != nil {
		return nil, err
	}
	if err := s.write(id, v); err != nil {
		return nil, err
	}
	return v, nil
}

// Select returns every readable record accepted by keep, in directory order.
// Records whose meta.json fails to decode are skipped.
func (s *Store[T]) Select(keep func(*T) bool) ([]*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s records: %w", s.kind, err)
	}

	var out []*T
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, err := s.read(e.Name())
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				slog.Debug("skip unreadable record", "kind", s.kind, "id", e.Name(), "error", err)
			}
			continue
		}
		if keep == nil || keep(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Remove deletes a record and its side files. Removing a missing record
// is not an error.
func (s *Store[T]) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.RemoveAll(s.path(id))
}

// Append adds one JSON line to a side file of an existing record.
func (s *Store[T]) Append(id, file string, line any) error {
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("encode %s: %w", file, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.exists(id) {
		return fmt.Errorf("%s %s: %w", s.kind, id, ErrNotFound)
	}
	f, err := os.OpenFile(s.path(id, file), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", file, err)
	}
	return f.Close()
}

// Lines decodes every line of a record's side file as L. A missing file
// yields nothing; undecodable lines are dropped.
func Lines[L any, T any](s *Store[T], id, file string) ([]L, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.path(id, file))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []L
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var l L
		if len(sc.Bytes()) == 0 || json.Unmarshal(sc.Bytes(), &l) != nil {
			continue
		}
		out = append(out, l)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("scan %s: %w", file, err)
	}
	return out, nil
}

func (s *Store[T]) exists(id string) bool {
	_, err := os.Stat(s.path(id, metaFile))
	return err == nil
}

func (s *Store[T]) read(id string) (*T, error) {
	data, err := os.ReadFile(s.path(id, metaFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s %s: %w", s.kind, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", s.kind, id, err)
	}
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", s.kind, id, err)
	}
	return v, nil
}

// write replaces meta.json through a temp file so readers never see a
// partial record.
func (s *Store[T]) write(id string, v *T) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", s.kind, id, err)
	}
	dst := s.path(id, metaFile)
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".meta-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s %s: %w", s.kind, id, err)
	}
	return nil
}
