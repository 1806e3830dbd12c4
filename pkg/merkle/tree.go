// Package merkle builds tamper-evidence trees over exported evidence. An
// evidence pack carries the root; any single altered record changes it, and
// an inclusion proof lets an examiner check one record without the rest.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/escrowgrid/core/pkg/canonical"
)

const (
	leafPrefix = "escrowgrid:evidence:leaf:v1"
	nodePrefix = "escrowgrid:evidence:node:v1"
)

// Leaf is one evidence record in the tree.
type Leaf struct {
	Key      string
	LeafHash string
}

// Tree is a Merkle tree over canonicalized evidence records.
type Tree struct {
	Leaves []Leaf
	Root   string
	levels [][]string
}

// Build constructs a tree from a map of key to record. Records are
// canonicalized before hashing so the root is independent of map iteration
// and field order. Keys are sorted; the same records always yield the same
// root.
func Build(records map[string]any) (*Tree, error) {
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	leaves := make([]Leaf, len(keys))
	for i, key := range keys {
		canBytes, err := canonical.Marshal(records[key])
		if err != nil {
			return nil, fmt.Errorf("merkle: canonicalize %q: %w", key, err)
		}
		leaves[i] = Leaf{Key: key, LeafHash: sha256Hex(leafBytes(key, canBytes))}
	}

	if len(leaves) == 0 {
		return &Tree{Root: ""}, nil
	}

	tree := &Tree{Leaves: leaves}
	level := make([]string, len(leaves))
	for i, l := range leaves {
		level[i] = l.LeafHash
	}

	tree.levels = append(tree.levels, level)
	for len(level) > 1 {
		level = nextLevel(level)
		tree.levels = append(tree.levels, level)
	}

	tree.Root = level[0]
	return tree, nil
}

func leafBytes(key string, canonicalRecord []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(leafPrefix)
	buf.WriteByte(0)
	buf.WriteString(key)
	buf.WriteByte(0)
	buf.Write(canonicalRecord)
	return buf.Bytes()
}

func nextLevel(hashes []string) []string {
	count := len(hashes)
	if count%2 != 0 {
		hashes = append(hashes, hashes[count-1]) // duplicate last
		count++
	}

	level := make([]string, count/2)
	for i := 0; i < count; i += 2 {
		level[i/2] = nodeHash(hashes[i], hashes[i+1])
	}
	return level
}

func nodeHash(left, right string) string {
	var buf bytes.Buffer
	buf.WriteString(nodePrefix)
	buf.WriteByte(0)
	buf.Write(hexToBytes(left))
	buf.Write(hexToBytes(right))
	return sha256Hex(buf.Bytes())
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func hexToBytes(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}
