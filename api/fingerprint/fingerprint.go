package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// FromString derives the identity key for a source URL. The same URL always
// maps to the same fingerprint, which is used as the cache key, lock key and
// queue message key.
func FromString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// FromBytes derives the identity key for raw image content.
func FromBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
