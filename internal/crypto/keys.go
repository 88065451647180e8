// Package crypto issues agent identities and API keys.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	// KeyPrefix marks relay API keys so they are recognisable in config files.
	KeyPrefix = "rk_"

	keyEntropyBytes = 32
)

// NewAgentID generates a time-ordered UUID v7.
func NewAgentID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewAPIKey returns a fresh key carrying 256 bits of randomness.
func NewAPIKey() (string, error) {
	buf := make([]byte, keyEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return KeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashAPIKey returns the digest stored in place of the key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// LooksLikeAPIKey reports whether key has the shape NewAPIKey produces.
// It lets malformed keys be rejected without a store lookup.
func LooksLikeAPIKey(key string) bool {
	if !strings.HasPrefix(key, KeyPrefix) {
		return false
	}
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(key, KeyPrefix))
	return err == nil && len(decoded) == keyEntropyBytes
}
