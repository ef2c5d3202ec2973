package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// ShortHashLen is the number of hex characters used in session directory
// names (NNN_<hash>).
const ShortHashLen = 12

// ContentHash returns the full SHA-256 hex digest of the given text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ShortHash returns the first ShortHashLen hex characters of the content
// hash, the form embedded in session directory names.
func ShortHash(text string) string {
	return ContentHash(text)[:ShortHashLen]
}
