package secrets

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"
)

func TestOpenVault_CreatesKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ".age-key")

	v, err := OpenVault(path)
	if err != nil {
		t.Fatalf("OpenVault: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("permissions = %o, want 0600", info.Mode().Perm())
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), v.Recipient()) {
		t.Error("key file should record the public key")
	}
}

func TestOpenVault_ReusesKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".age-key")

	first, err := OpenVault(path)
	if err != nil {
		t.Fatalf("first OpenVault: %v", err)
	}
	sealed, err := first.Seal("sk-secret")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	second, err := OpenVault(path)
	if err != nil {
		t.Fatalf("second OpenVault: %v", err)
	}
	if first.Recipient() != second.Recipient() {
		t.Fatal("key changed between opens")
	}
	got, err := second.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got != "sk-secret" {
		t.Errorf("got %q, want %q", got, "sk-secret")
	}
}

func TestVault_SealOpen(t *testing.T) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	v := NewVault(id)

	for _, plain := range []string{"sk-ant-REDACTED", ""} {
		sealed, err := v.Seal(plain)
		if err != nil {
			t.Fatalf("Seal: %v", err)
		}
		if !IsSealed(sealed) {
			t.Errorf("IsSealed(%q) = false", sealed)
		}
		if plain != "" && strings.Contains(sealed, plain) {
			t.Error("sealed value leaks plaintext")
		}
		got, err := v.Open(sealed)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if got != plain {
			t.Errorf("got %q, want %q", got, plain)
		}
	}
}

func TestVault_OpenWrongKey(t *testing.T) {
	a, _ := age.GenerateX25519Identity()
	b, _ := age.GenerateX25519Identity()

	sealed, err := NewVault(a).Seal("x")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := NewVault(b).Open(sealed); err == nil {
		t.Fatal("expected error opening with another key")
	}
}

func TestVault_OpenRejectsPlaintext(t *testing.T) {
	id, _ := age.GenerateX25519Identity()
	if _, err := NewVault(id).Open("not-sealed"); !errors.Is(err, ErrNotSealed) {
		t.Fatalf("expected ErrNotSealed, got %v", err)
	}
}

func TestIsSealed(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"ENC[age:abc123]", true},
		{"ENC[age:]", true},
		{"plaintext", false},
		{"ENC[age:abc123", false},
		{"age:abc123]", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsSealed(tt.input); got != tt.want {
			t.Errorf("IsSealed(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
