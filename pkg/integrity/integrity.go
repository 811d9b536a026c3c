// Package integrity computes and checks piece digests.
package integrity

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// Size is the digest length in bytes.
const Size = sha1.Size

// Digest returns the hex SHA-1 of payload.
func Digest(payload []byte) string {
	sum := sha1.Sum(payload)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether payload hashes to expected. Hex case is ignored.
func Verify(payload []byte, expected string) bool {
	if len(expected) != 2*Size {
		return false
	}
	return Digest(payload) == strings.ToLower(expected)
}
