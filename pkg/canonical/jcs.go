// Package canonical provides RFC 8785 (JSON Canonicalization Scheme)
// serialization for deterministic hashing and signing of federation payloads.
// Every signature and fingerprint in the system is computed over this output,
// so two logically-equal values must always canonicalize to identical bytes.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// Marshal returns the RFC 8785 canonical JSON representation of v.
//
// Map keys are sorted lexicographically by UTF-8 bytes at every nesting
// level, array order is preserved, and HTML escaping is disabled. Struct
// values are marshaled through encoding/json first so json tags are
// respected, then transformed into canonical form.
func Marshal(v interface{}) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: pre-marshal failed: %w", err)
	}

	out, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform failed: %w", err)
	}
	return out, nil
}

// String returns the canonical form as a string.
func String(v interface{}) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Hash returns the SHA-256 hex digest of the canonical form of v.
func Hash(v interface{}) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes the SHA-256 hash of raw bytes and returns a hex string.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NormalizeTime renders t in the single textual form used everywhere a
// timestamp enters canonical content: RFC 3339 UTC with nanosecond
// truncation to whole seconds. Mixed precision between two encoders would
// silently break cross-node verification.
func NormalizeTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}
