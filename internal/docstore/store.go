package docstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// Store adds the document conventions personas rely on to a Backend.
type Store struct {
	backend Backend
	now     func() time.Time
}

// New wraps a backend.
func New(backend Backend) *Store {
	return &Store{backend: backend, now: time.Now}
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend { return s.backend }

// Read returns a document. Absolute host paths are accepted when the backend
// can map them back into the tree.
func (s *Store) Read(ctx context.Context, p string) ([]byte, error) {
	return s.backend.Read(ctx, s.normalize(p))
}

// Write stores a document.
func (s *Store) Write(ctx context.Context, p string, data []byte) error {
	return s.backend.Write(ctx, s.normalize(p), data)
}

// List returns the entries under prefix.
func (s *Store) List(ctx context.Context, prefix string, recursive bool) ([]Entry, error) {
	return s.backend.List(ctx, s.normalize(prefix), recursive)
}

// Exists reports whether a document exists.
func (s *Store) Exists(ctx context.Context, p string) (bool, error) {
	return s.backend.Exists(ctx, s.normalize(p))
}

func (s *Store) normalize(p string) string {
	p = strings.TrimSpace(p)
	if rel, ok := s.backend.(interface{ Rel(string) (string, error) }); ok && strings.HasPrefix(p, "/") {
		if r, err := rel.Rel(p); err == nil {
			return r
		}
	}
	return p
}

// PersonaDir returns the folder holding a persona's documents.
func PersonaDir(persona string) string {
	if name := SanitizeName(persona); name != "" {
		return name
	}
	return "Unassigned"
}

// ArtifactPath returns `<persona>/<Title>_<id8>.md`.
func ArtifactPath(persona, title, shortID string) string {
	return path.Join(PersonaDir(persona), fmt.Sprintf("%s_%s.md", SanitizeTitle(title), shortID))
}

// SaveArtifact writes a task's final content into the persona folder.
func (s *Store) SaveArtifact(ctx context.Context, persona, title, shortID, content string) (string, error) {
	p := ArtifactPath(persona, title, shortID)
	if err := s.backend.Write(ctx, p, []byte(content)); err != nil {
		return "", fmt.Errorf("save artifact: %w", err)
	}
	return p, nil
}

// SaveAsset writes binary data to `<persona>/assets/<prefix>_<unix>.<ext>` and
// returns the path relative to the persona folder, which is what markdown
// inside that folder links to.
func (s *Store) SaveAsset(ctx context.Context, persona, prefix, ext string, data []byte) (string, error) {
	name := fmt.Sprintf("%s_%d.%s", prefix, s.now().Unix(), strings.TrimPrefix(ext, "."))
	rel := path.Join("assets", name)
	if err := s.backend.Write(ctx, path.Join(PersonaDir(persona), rel), data); err != nil {
		return "", fmt.Errorf("save asset: %w", err)
	}
	return rel, nil
}

// Resolve finds the document a persona most likely means. An existing path
// wins; otherwise the newest file whose name equals the requested base name,
// or starts with its stem and ends in .md, is returned.
func (s *Store) Resolve(ctx context.Context, requested string) (string, error) {
	p, err := Clean(s.normalize(requested))
	if err != nil {
		return "", err
	}
	if p != "" {
		ok, err := s.backend.Exists(ctx, p)
		if err != nil {
			return "", err
		}
		if ok {
			return p, nil
		}
	}

	base := path.Base(p)
	stem := strings.TrimSuffix(base, path.Ext(base))
	if stem == "" || stem == "." {
		return "", fmt.Errorf("%s: %w", requested, ErrNotFound)
	}

	all, err := s.backend.List(ctx, "", true)
	if err != nil {
		return "", err
	}
	var candidates []Entry
	for _, e := range all {
		name := e.Name()
		if name == base || (strings.HasPrefix(name, stem) && strings.HasSuffix(name, ".md")) {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%s: %w", requested, ErrNotFound)
	}
	sortNewestFirst(candidates)
	return candidates[0].Path, nil
}

// FindByAuthor returns markdown documents written by the personas whose name
// appears in text, newest first, excluding exclude's own folder. At most
// perAuthor documents are returned for each author.
func (s *Store) FindByAuthor(ctx context.Context, text, exclude string, personas []string, perAuthor int) ([]string, error) {
	lower := strings.ToLower(text)
	var out []string
	for _, name := range personas {
		if name == "" || strings.EqualFold(name, exclude) {
			continue
		}
		if !strings.Contains(lower, strings.ToLower(name)) {
			continue
		}
		entries, err := s.backend.List(ctx, PersonaDir(name), true)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		var docs []Entry
		for _, e := range entries {
			if strings.HasSuffix(e.Path, ".md") {
				docs = append(docs, e)
			}
		}
		sortNewestFirst(docs)
		for i, e := range docs {
			if perAuthor > 0 && i >= perAuthor {
				break
			}
			out = append(out, e.Path)
		}
	}
	return out, nil
}
