package auth

import (
	"fmt"
	"os"
	"time"

	"github.com/nuvola-ai/converse-go/internal/crypto"
)

// Credentials is the token pair cached between runs.
type Credentials struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
	UpdatedAtMs  int64  `json:"updatedAtMs,omitempty"`
}

// CredentialStore persists Credentials encrypted with the master secret, so
// the token never sits on disk in plaintext.
type CredentialStore struct {
	path   string
	secret *[32]byte
}

// NewCredentialStore builds a store writing to path, sealed with master.
func NewCredentialStore(path string, master []byte) (*CredentialStore, error) {
	if len(master) != 32 {
		return nil, fmt.Errorf("master secret must be 32 bytes")
	}
	var secret [32]byte
	copy(secret[:], master)
	return &CredentialStore{path: path, secret: &secret}, nil
}

// Load reads cached credentials. ok is false when none exist.
func (s *CredentialStore) Load() (creds Credentials, ok bool, err error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, false, nil
		}
		return Credentials{}, false, fmt.Errorf("read credentials: %w", err)
	}
	if err := crypto.Decrypt(data, s.secret, &creds); err != nil {
		return Credentials{}, false, fmt.Errorf("unseal credentials: %w", err)
	}
	return creds, true, nil
}

// Save seals and writes credentials with restrictive permissions.
func (s *CredentialStore) Save(creds Credentials) error {
	creds.UpdatedAtMs = time.Now().UnixMilli()
	sealed, err := crypto.Encrypt(creds, s.secret)
	if err != nil {
		return fmt.Errorf("seal credentials: %w", err)
	}
	if err := os.WriteFile(s.path, sealed, 0600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// Clear removes the cached credentials.
func (s *CredentialStore) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
