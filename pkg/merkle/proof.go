package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// InclusionProof demonstrates one record's membership in a tree.
type InclusionProof struct {
	LeafKey    string      `json:"leaf_key"`
	LeafHash   string      `json:"leaf_hash"`
	MerkleRoot string      `json:"merkle_root"`
	ProofPath  []ProofStep `json:"proof_path"`
}

// ProofStep names a sibling hash and which side it sits on.
type ProofStep struct {
	Side        string `json:"side"` // "L" or "R"
	SiblingHash string `json:"sibling_hash"`
}

// Prove generates the inclusion proof for the leaf with the given key.
func (t *Tree) Prove(key string) (InclusionProof, error) {
	index := -1
	for i, l := range t.Leaves {
		if l.Key == key {
			index = i
			break
		}
	}
	if index == -1 {
		return InclusionProof{}, fmt.Errorf("merkle: no leaf with key %q", key)
	}

	proof := InclusionProof{
		LeafKey:    key,
		LeafHash:   t.Leaves[index].LeafHash,
		MerkleRoot: t.Root,
	}

	for _, level := range t.levels[:len(t.levels)-1] {
		siblingIndex := index ^ 1
		if siblingIndex >= len(level) {
			siblingIndex = index // odd level end: last hash was duplicated
		}
		side := "R"
		if siblingIndex < index {
			side = "L"
		}
		proof.ProofPath = append(proof.ProofPath, ProofStep{
			Side:        side,
			SiblingHash: level[siblingIndex],
		})
		index /= 2
	}

	return proof, nil
}

// VerifyInclusionProof recomputes the path from the leaf hash up and checks
// the result against expectedRoot.
func VerifyInclusionProof(proof InclusionProof, expectedRoot string) bool {
	if expectedRoot != "" && proof.MerkleRoot != expectedRoot {
		return false
	}

	currentHash := proof.LeafHash
	for _, step := range proof.ProofPath {
		var combined []byte
		combined = append(combined, []byte(nodePrefix+"\x00")...)
		if step.Side == "L" {
			combined = append(combined, hexToBytes(step.SiblingHash)...)
			combined = append(combined, hexToBytes(currentHash)...)
		} else {
			combined = append(combined, hexToBytes(currentHash)...)
			combined = append(combined, hexToBytes(step.SiblingHash)...)
		}
		hash := sha256.Sum256(combined)
		currentHash = hex.EncodeToString(hash[:])
	}

	return strings.EqualFold(currentHash, proof.MerkleRoot)
}
