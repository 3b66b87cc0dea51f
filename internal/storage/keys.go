// Package storage persists machine-local state under ConverseHome: the
// master secret, cached credentials, per-session metadata, and the encrypted
// message history.
package storage

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// GenerateSecretKey generates a new 32-byte master secret
func GenerateSecretKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// SaveSecretKey saves the master secret to a file
func SaveSecretKey(path string, key []byte) error {
	// Encode as base64 for readability
	encoded := base64.StdEncoding.EncodeToString(key)

	// Write with restrictive permissions
	if err := os.WriteFile(path, []byte(encoded), 0600); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}

	return nil
}

// LoadSecretKey loads the master secret from a file
func LoadSecretKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}

	// Decode from base64
	key, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}

	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length: %d (expected 32)", len(key))
	}

	return key, nil
}

// GetOrCreateSecretKey loads or generates the master secret
func GetOrCreateSecretKey(path string) ([]byte, error) {
	// Try to load existing key
	key, err := LoadSecretKey(path)
	if err == nil {
		return key, nil
	}

	// Generate new key
	key, err = GenerateSecretKey()
	if err != nil {
		return nil, err
	}

	// Save it
	if err := SaveSecretKey(path, key); err != nil {
		return nil, err
	}

	return key, nil
}

// GetOrCreateDeviceID loads or generates a stable per-machine device ID
func GetOrCreateDeviceID(path string) (string, error) {
	// Try to load existing ID
	data, err := os.ReadFile(path)
	if err == nil && len(data) > 0 {
		return string(data), nil
	}

	id := uuid.NewString()

	// Save it with restrictive permissions
	if err := os.WriteFile(path, []byte(id), 0600); err != nil {
		return "", fmt.Errorf("failed to save device ID: %w", err)
	}

	return id, nil
}
