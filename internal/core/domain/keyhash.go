package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashKey returns a collision-resistant digest of a key secret, used
// solely as the storage key under keys/<upstream_id>/<key_hash> — never logged or returned to API clients.
func HashKey(secret []byte) string {
	sum := sha256.Sum256(secret)
	return hex.EncodeToString(sum[:])
}
