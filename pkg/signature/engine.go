// Package signature implements the asymmetric signing primitives used by the
// attestation protocol. Values are canonicalized before signing so that two
// nodes serializing the same logical value always verify each other's
// signatures.
package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/escrowgrid/core/pkg/canonical"
)

// Keypair holds an Ed25519 keypair. Private keys never leave the issuing
// node; public keys are published through the node registry.
type Keypair struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
}

// GenerateKeypair creates a fresh Ed25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("signature: keypair generation failed: %w", err)
	}
	return &Keypair{PrivateKey: priv, PublicKey: pub}, nil
}

// Sign canonicalizes v and signs the canonical bytes, returning a base64
// encoded signature.
func Sign(v interface{}, priv ed25519.PrivateKey) (string, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("signature: invalid private key length %d", len(priv))
	}
	data, err := canonical.Marshal(v)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(priv, data)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify canonicalizes v and checks sig against pub.
//
// Verification failure is data, not an exception: any error along the way
// (malformed key, malformed signature, encoding failure) yields false.
func Verify(v interface{}, sig string, pub ed25519.PublicKey) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	data, err := canonical.Marshal(v)
	if err != nil {
		return false
	}
	sigBytes, err := decodeSignature(sig)
	if err != nil {
		return false
	}
	if len(sigBytes) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, sigBytes)
}

// Hash returns the canonical SHA-256 digest of v. Used for policy manifest
// fingerprints and entity fingerprint derivation.
func Hash(v interface{}) (string, error) {
	return canonical.Hash(v)
}

// EncodePublicKey renders a public key in the base64 form stored in the node
// registry.
func EncodePublicKey(pub ed25519.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub)
}

// DecodePublicKey parses a registry-encoded public key.
func DecodePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("signature: invalid public key encoding: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("signature: invalid public key length %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// decodeSignature accepts base64 signatures only. A signature has exactly one
// wire form; alternate encodings of the same bytes do not verify.
func decodeSignature(sig string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("signature: undecodable signature: %w", err)
	}
	return data, nil
}
