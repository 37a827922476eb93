// Package sha256 derives archive folder names from segment URLs.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements crawler.Hasher as a hex SHA-256 digest, cut to Size
// characters when Size is positive.
type Hasher struct {
	Size int
}

// New returns a Hasher producing digests of size hex characters. Zero keeps
// the full 64.
func New(size int) *Hasher {
	return &Hasher{Size: size}
}

// Hash returns the digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h.Size > 0 && h.Size < len(digest) {
		digest = digest[:h.Size]
	}
	return digest, nil
}
