// Package merkle builds the domain-separated Merkle trees anchored on-chain
// for audit batches. Leaf and interior hashes carry distinct prefixes
// (0x00 / 0x01, RFC 6962 style) so a leaf can never be confused with an
// interior node.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/VibeTensor/attestix/pkg/canonical"
)

const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// ErrEmpty is returned when a tree is requested over zero entries; an empty
// batch has no meaningful root.
var ErrEmpty = errors.New("merkle: no entries")

// Tree holds every level of node hashes, leaves first, root level last.
type Tree struct {
	levels [][][32]byte
}

// Build canonicalizes each entry and assembles the tree. An odd trailing
// node is promoted unchanged to the next level.
func Build(entries []interface{}) (*Tree, error) {
	if len(entries) == 0 {
		return nil, ErrEmpty
	}

	leaves := make([][32]byte, len(entries))
	for i, e := range entries {
		b, err := canonical.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("merkle: entry %d: %w", i, err)
		}
		leaves[i] = LeafHash(b)
	}
	return FromLeaves(leaves), nil
}

// FromLeaves assembles a tree over precomputed leaf hashes.
func FromLeaves(leaves [][32]byte) *Tree {
	t := &Tree{levels: [][][32]byte{leaves}}
	level := leaves
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, nodeHash(level[i], level[i+1]))
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t
}

// LeafHash is SHA-256 over the 0x00 prefix and the canonical entry bytes.
func LeafHash(canonicalEntry []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte{leafPrefix})
	h.Write(canonicalEntry)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func nodeHash(left, right [32]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte{nodePrefix})
	h.Write(left[:])
	h.Write(right[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Root returns the 32-byte tree root.
func (t *Tree) Root() [32]byte {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// RootHex returns the root as lowercase hex.
func (t *Tree) RootHex() string {
	r := t.Root()
	return hex.EncodeToString(r[:])
}

// LeafCount returns the number of leaves.
func (t *Tree) LeafCount() int { return len(t.levels[0]) }
