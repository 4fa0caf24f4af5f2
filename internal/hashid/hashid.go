// Package hashid computes the content hash used to address and deduplicate
// stored documents.
package hashid

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the lowercase hex-encoded SHA-256 digest of payload. The
// operation is deterministic and holds no state between calls.
func Hash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
