package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashID returns the content-addressed identifier for a piece of text.
// Node identity across the graph store, the embedding stores and the state
// store relies on this being deterministic for identical content.
func HashID(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
