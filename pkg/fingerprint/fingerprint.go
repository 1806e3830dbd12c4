// Package fingerprint derives one-way, salted entity references that are
// safe to share across organizational boundaries. The salt is node-private
// and never transmitted, so fingerprints are scoped to a single issuing
// node's attestation stream rather than forming a global identifier space.
package fingerprint

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// SaltSize is the size of a node-private fingerprint salt in bytes.
const SaltSize = 32

// NewSalt generates a node-private salt. Generated once at node
// registration and kept alongside the private key.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("fingerprint: salt generation failed: %w", err)
	}
	return salt, nil
}

// Fingerprint maps an internal entity to its cross-node reference.
//
// The construction is keyed BLAKE2b-256 with the salt as key, so recovering
// entityID from a digest requires the salt, and the salt cannot be peeled
// off by length extension. Field values are length-prefixed before hashing
// so ("ab","c") and ("a","bc") cannot collide.
func Fingerprint(entityType, entityID, jurisdiction string, salt []byte) (string, error) {
	if len(salt) == 0 {
		return "", fmt.Errorf("fingerprint: empty salt")
	}
	h, err := blake2b.New256(salt)
	if err != nil {
		return "", fmt.Errorf("fingerprint: keyed hash init failed: %w", err)
	}
	for _, field := range []string{entityType, entityID, jurisdiction} {
		// Writes to a hash.Hash never fail.
		fmt.Fprintf(h, "%d:", len(field))
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
