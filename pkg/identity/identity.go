// Package identity provides the stable identifiers used across the engine:
// 32-hex entity IDs, content hashes, and content-addressed resource IDs.
package identity

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// NewID returns a fresh 32-hex-character identifier.
func NewID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// IsValidID reports whether s is a 32-hex-character identifier.
func IsValidID(s string) bool {
	if len(s) != 32 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// ContentHash returns the MD5 hex digest of content. Message bodies and
// document contents are keyed by this hash in the store.
func ContentHash(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

// FileHash returns the SHA-256 hex digest of raw file bytes.
func FileHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ResourceID derives the 8-hex content-addressed resource identifier from a
// source string (path or URL). Identical sources always map to the same ID.
func ResourceID(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])[:8]
}
