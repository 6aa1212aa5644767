// Package secrets seals credential values (API keys stored as settings) with
// an age X25519 key kept next to the configuration.
package secrets

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

const (
	sealPrefix = "ENC[age:"
	sealSuffix = "]"
)

// ErrNotSealed is returned when opening a value that was never sealed.
var ErrNotSealed = errors.New("value is not sealed")

// Vault seals and opens values with a single age identity.
type Vault struct {
	identity *age.X25519Identity
}

// OpenVault loads the identity at keyPath, creating it on first use.
func OpenVault(keyPath string) (*Vault, error) {
	if err := ensureIdentity(keyPath); err != nil {
		return nil, err
	}
	id, err := loadIdentity(keyPath)
	if err != nil {
		return nil, err
	}
	return &Vault{identity: id}, nil
}

// NewVault wraps an existing identity.
func NewVault(id *age.X25519Identity) *Vault {
	return &Vault{identity: id}
}

// Recipient returns the public half of the vault key.
func (v *Vault) Recipient() string {
	return v.identity.Recipient().String()
}

// Seal encrypts plaintext into an ENC[age:...] blob.
func (v *Vault) Seal(plaintext string) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, v.identity.Recipient())
	if err != nil {
		return "", fmt.Errorf("seal: init: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("seal: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("seal: close: %w", err)
	}
	return sealPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()) + sealSuffix, nil
}

// Open decrypts a sealed blob back to plaintext.
func (v *Vault) Open(blob string) (string, error) {
	if !IsSealed(blob) {
		return "", ErrNotSealed
	}
	encoded := blob[len(sealPrefix) : len(blob)-len(sealSuffix)]
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("open: base64: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), v.identity)
	if err != nil {
		return "", fmt.Errorf("open: decrypt: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("open: read: %w", err)
	}
	return string(plain), nil
}

// IsSealed reports whether s is an ENC[age:...] blob.
func IsSealed(s string) bool {
	return strings.HasPrefix(s, sealPrefix) && strings.HasSuffix(s, sealSuffix)
}

// ensureIdentity writes a fresh key to path with 0o600 unless one exists.
func ensureIdentity(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generate age identity: %w", err)
	}
	content := fmt.Sprintf("# created by cadre\n# public key: %s\n%s\n",
		identity.Recipient().String(), identity.String())

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("write age key: %w", err)
	}
	return nil
}

func loadIdentity(path string) (*age.X25519Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open age key: %w", err)
	}
	defer f.Close()

	identities, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parse age identities: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities found in %s", path)
	}
	id, ok := identities[0].(*age.X25519Identity)
	if !ok {
		return nil, fmt.Errorf("unexpected identity type in %s", path)
	}
	return id, nil
}
