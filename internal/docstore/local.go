package docstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalBackend stores documents on the local filesystem under a root
// directory. Every path is resolved, symlinks included, before access.
type LocalBackend struct {
	root string
}

// NewLocalBackend creates the root directory if needed.
func NewLocalBackend(root string) (*LocalBackend, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve doc root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create doc root: %w", err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	return &LocalBackend{root: abs}, nil
}

// Root returns the absolute root directory.
func (b *LocalBackend) Root() string { return b.root }

// Rel converts an absolute host path into a document path, refusing paths
// outside the root.
func (b *LocalBackend) Rel(abs string) (string, error) {
	resolved := filepath.Clean(abs)
	if real, err := evalSymlinksExisting(resolved); err == nil {
		resolved = real
	}
	if !isUnder(resolved, b.root) {
		return "", fmt.Errorf("%q: %w", abs, ErrOutsideSandbox)
	}
	rel, err := filepath.Rel(b.root, resolved)
	if err != nil {
		return "", fmt.Errorf("%q: %w", abs, ErrOutsideSandbox)
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}

// resolve maps a document path to a host path inside the root.
func (b *LocalBackend) resolve(p string) (string, error) {
	if filepath.IsAbs(p) {
		rel, err := b.Rel(p)
		if err != nil {
			return "", err
		}
		p = rel
	}
	clean, err := Clean(p)
	if err != nil {
		return "", err
	}
	full := filepath.Join(b.root, filepath.FromSlash(clean))

	// A symlink inside the tree must not lead outside of it.
	if real, err := evalSymlinksExisting(full); err == nil && !isUnder(real, b.root) {
		return "", fmt.Errorf("%q: %w", p, ErrOutsideSandbox)
	}
	return full, nil
}

func (b *LocalBackend) Read(_ context.Context, p string) ([]byte, error) {
	full, err := b.resolve(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return data, nil
}

func (b *LocalBackend) Write(_ context.Context, p string, data []byte) error {
	full, err := b.resolve(p)
	if err != nil {
		return err
	}
	if full == b.root {
		return fmt.Errorf("write: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", p, err)
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", p, err)
	}
	return nil
}

func (b *LocalBackend) List(_ context.Context, prefix string, recursive bool) ([]Entry, error) {
	dir, err := b.resolve(prefix)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", prefix, ErrNotFound)
		}
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("list %s: not a directory", prefix)
	}

	if !recursive {
		items, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		out := make([]Entry, 0, len(items))
		for _, item := range items {
			if skipName(item.Name()) {
				continue
			}
			fi, err := item.Info()
			if err != nil {
				continue
			}
			out = append(out, b.entry(filepath.Join(dir, item.Name()), fi))
		}
		return out, nil
	}

	var out []Entry
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if skipName(d.Name()) && p != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		out = append(out, b.entry(p, fi))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", prefix, err)
	}
	return out, nil
}

func (b *LocalBackend) Exists(_ context.Context, p string) (bool, error) {
	full, err := b.resolve(p)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *LocalBackend) entry(full string, fi fs.FileInfo) Entry {
	rel, _ := filepath.Rel(b.root, full)
	return Entry{
		Path:    filepath.ToSlash(rel),
		Dir:     fi.IsDir(),
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
	}
}

// skipName hides dotfiles and in-flight temp files.
func skipName(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp")
}

// isUnder returns true if child is equal to or a descendant of parent.
func isUnder(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

// evalSymlinksExisting resolves symlinks for the longest existing prefix of
// a path and appends the components that do not exist yet.
func evalSymlinksExisting(p string) (string, error) {
	real, err := filepath.EvalSymlinks(p)
	if err == nil {
		return real, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}
	dir := filepath.Dir(p)
	if dir == p {
		return "", err
	}
	resolvedDir, err := evalSymlinksExisting(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedDir, filepath.Base(p)), nil
}
