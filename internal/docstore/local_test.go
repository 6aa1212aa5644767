package docstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"
)

func newLocal(t *testing.T) (*LocalBackend, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "docs")
	b, err := NewLocalBackend(root)
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	return b, b.Root()
}

func TestLocalBackend_WriteRead(t *testing.T) {
	b, _ := newLocal(t)
	ctx := context.Background()

	if err := b.Write(ctx, "Alice/report.md", []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := b.Read(ctx, "Company Doc/Alice/report.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}

	if _, err := b.Read(ctx, "Alice/missing.md"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLocalBackend_Sandbox(t *testing.T) {
	b, root := newLocal(t)
	ctx := context.Background()

	outside := filepath.Join(filepath.Dir(root), "secret.txt")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{"../secret.txt", outside, "Alice/../../secret.txt"} {
		if _, err := b.Read(ctx, p); !errors.Is(err, ErrOutsideSandbox) {
			t.Errorf("Read(%q): expected ErrOutsideSandbox, got %v", p, err)
		}
	}
	if err := b.Write(ctx, "../escape.md", []byte("x")); !errors.Is(err, ErrOutsideSandbox) {
		t.Errorf("Write escape: expected ErrOutsideSandbox, got %v", err)
	}
}

func TestLocalBackend_SymlinkEscape(t *testing.T) {
	b, root := newLocal(t)
	outsideDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(outsideDir, "x.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outsideDir, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if _, err := b.Read(context.Background(), "link/x.md"); !errors.Is(err, ErrOutsideSandbox) {
		t.Fatalf("expected ErrOutsideSandbox, got %v", err)
	}
}

func TestLocalBackend_AbsoluteInsideRoot(t *testing.T) {
	b, root := newLocal(t)
	ctx := context.Background()
	if err := b.Write(ctx, "Bob/a.md", []byte("a")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := b.Read(ctx, filepath.Join(root, "Bob", "a.md"))
	if err != nil {
		t.Fatalf("Read absolute: %v", err)
	}
	if string(got) != "a" {
		t.Errorf("got %q", got)
	}
}

func TestLocalBackend_List(t *testing.T) {
	b, _ := newLocal(t)
	ctx := context.Background()
	for _, p := range []string{"Alice/a.md", "Alice/assets/img_1.png", "Bob/b.md", "readme.md", ".hidden"} {
		if err := b.Write(ctx, p, []byte(p)); err != nil {
			t.Fatalf("Write %s: %v", p, err)
		}
	}

	top, err := b.List(ctx, "", false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var dirs, files []string
	for _, e := range top {
		if e.Dir {
			dirs = append(dirs, e.Path)
		} else {
			files = append(files, e.Path)
		}
	}
	sort.Strings(dirs)
	if len(dirs) != 2 || dirs[0] != "Alice" || dirs[1] != "Bob" {
		t.Errorf("dirs: got %v", dirs)
	}
	if len(files) != 1 || files[0] != "readme.md" {
		t.Errorf("files: got %v", files)
	}

	all, err := b.List(ctx, "Alice", true)
	if err != nil {
		t.Fatalf("List recursive: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("recursive: got %v", all)
	}

	if _, err := b.List(ctx, "Nobody", false); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Resolve(t *testing.T) {
	b, root := newLocal(t)
	s := New(b)
	ctx := context.Background()

	write := func(p string, age time.Duration) {
		t.Helper()
		if err := b.Write(ctx, p, []byte(p)); err != nil {
			t.Fatalf("Write: %v", err)
		}
		mt := time.Now().Add(-age)
		if err := os.Chtimes(filepath.Join(root, filepath.FromSlash(p)), mt, mt); err != nil {
			t.Fatal(err)
		}
	}
	write("Alice/Report_aaaa1111.md", 2*time.Hour)
	write("Alice/Report_bbbb2222.md", time.Hour)
	write("Bob/Notes.md", time.Hour)

	tests := []struct {
		in, want string
	}{
		{"Bob/Notes.md", "Bob/Notes.md"},
		{"Company Doc/Bob/Notes.md", "Bob/Notes.md"},
		{"Notes.md", "Bob/Notes.md"},
		{"Report.md", "Alice/Report_bbbb2222.md"},
		{"Report", "Alice/Report_bbbb2222.md"},
	}
	for _, tt := range tests {
		got, err := s.Resolve(ctx, tt.in)
		if err != nil {
			t.Errorf("Resolve(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := s.Resolve(ctx, "Missing.md"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Resolve(ctx, "../../etc/passwd"); !errors.Is(err, ErrOutsideSandbox) {
		t.Errorf("expected ErrOutsideSandbox, got %v", err)
	}
}

func TestStore_SaveArtifactAndAsset(t *testing.T) {
	b, _ := newLocal(t)
	s := New(b)
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	ctx := context.Background()

	p, err := s.SaveArtifact(ctx, "Alice", "Launch copy", "1a2b3c4d", "# Copy")
	if err != nil {
		t.Fatalf("SaveArtifact: %v", err)
	}
	if p != "Alice/Launch_copy_1a2b3c4d.md" {
		t.Errorf("got %q", p)
	}

	rel, err := s.SaveAsset(ctx, "Alice", "img", "png", []byte{0x89})
	if err != nil {
		t.Fatalf("SaveAsset: %v", err)
	}
	if rel != "assets/img_1700000000.png" {
		t.Errorf("got %q", rel)
	}
	if ok, _ := s.Exists(ctx, "Alice/assets/img_1700000000.png"); !ok {
		t.Error("asset not written under persona folder")
	}
}

func TestStore_FindByAuthor(t *testing.T) {
	b, root := newLocal(t)
	s := New(b)
	ctx := context.Background()

	for i, p := range []string{"Alice/Copy_1.md", "Alice/Copy_2.md", "Bob/Design_1.md", "Carol/Plan_1.md", "Alice/assets/img.png"} {
		if err := b.Write(ctx, p, []byte("x")); err != nil {
			t.Fatalf("Write: %v", err)
		}
		mt := time.Now().Add(time.Duration(i) * time.Minute)
		_ = os.Chtimes(filepath.Join(root, filepath.FromSlash(p)), mt, mt)
	}

	got, err := s.FindByAuthor(ctx, "Use alice's copy and Bob's design", "Bob", []string{"Alice", "Bob", "Carol", "Dave"}, 0)
	if err != nil {
		t.Fatalf("FindByAuthor: %v", err)
	}
	want := []string{"Alice/Copy_2.md", "Alice/Copy_1.md"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	limited, _ := s.FindByAuthor(ctx, "Alice", "", []string{"Alice"}, 1)
	if len(limited) != 1 {
		t.Errorf("perAuthor limit: got %v", limited)
	}
}
