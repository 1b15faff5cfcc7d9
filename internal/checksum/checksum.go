// Package checksum fingerprints captured content for de-duplication.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// String returns the digest of s.
func String(s string) string {
	return Sum([]byte(s))
}

// Equal reports whether a and b have the same content fingerprint.
func Equal(a, b string) bool {
	return String(a) == String(b)
}
