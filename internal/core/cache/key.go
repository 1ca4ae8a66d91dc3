package cache

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// KeySecret derives the 32-byte hashing key for credential cache keys.
// An empty secret yields a random per-process key.
func KeySecret(secret string) ([]byte, error) {
	if strings.TrimSpace(secret) == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		return key, nil
	}
	sum := blake3.Sum256([]byte(secret))
	return sum[:], nil
}

// CredentialKey returns a stable, non-reversible cache key for a credential.
func CredentialKey(secret []byte, credential string) (string, error) {
	hasher, err := blake3.NewKeyed(secret)
	if err != nil {
		return "", err
	}
	if _, err := hasher.Write([]byte(credential)); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
