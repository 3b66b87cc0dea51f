package crypto

import (
	"crypto/hmac"
	"crypto/sha512"
	"fmt"
)

// DeriveKey derives a 32-byte key from the master secret using an
// HMAC-SHA512 tree keyed by a usage string and a path of child indexes.
// The same (usage, path) always yields the same key.
func DeriveKey(master []byte, usage string, path []string) ([]byte, error) {
	key, chain, err := deriveSecretKeyTreeRoot(master, usage)
	if err != nil {
		return nil, err
	}
	for _, index := range path {
		key, chain, err = deriveSecretKeyTreeChild(chain, index)
		if err != nil {
			return nil, err
		}
	}
	return key, nil
}

// DeriveSessionKey derives the AES-256 data key for one session's history.
func DeriveSessionKey(master []byte, sessionID string) ([]byte, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("empty session id")
	}
	return DeriveKey(master, "Converse History", []string{"session", sessionID})
}

func deriveSecretKeyTreeRoot(seed []byte, usage string) ([]byte, []byte, error) {
	h := hmac.New(sha512.New, []byte(usage+" Master Seed"))
	if _, err := h.Write(seed); err != nil {
		return nil, nil, err
	}
	sum := h.Sum(nil)
	return sum[:32], sum[32:], nil
}

func deriveSecretKeyTreeChild(chainCode []byte, index string) ([]byte, []byte, error) {
	data := append([]byte{0x00}, []byte(index)...)
	h := hmac.New(sha512.New, chainCode)
	if _, err := h.Write(data); err != nil {
		return nil, nil, err
	}
	sum := h.Sum(nil)
	return sum[:32], sum[32:], nil
}
