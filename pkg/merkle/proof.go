package merkle

import "fmt"

// ProofStep is one sibling hash on the audit path. Left reports whether the
// sibling sits to the left of the running hash.
type ProofStep struct {
	Hash [32]byte
	Left bool
}

// Proof returns the inclusion proof for the leaf at index. Levels where the
// node was promoted without a sibling contribute no step.
func (t *Tree) Proof(index int) ([]ProofStep, error) {
	if index < 0 || index >= t.LeafCount() {
		return nil, fmt.Errorf("merkle: leaf index %d out of range [0,%d)", index, t.LeafCount())
	}

	var steps []ProofStep
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := index ^ 1
		if sibling < len(level) {
			steps = append(steps, ProofStep{Hash: level[sibling], Left: sibling < index})
		}
		index /= 2
	}
	return steps, nil
}

// VerifyProof recomputes the root from a leaf hash and its audit path.
func VerifyProof(leaf [32]byte, steps []ProofStep, root [32]byte) bool {
	h := leaf
	for _, s := range steps {
		if s.Left {
			h = nodeHash(s.Hash, h)
		} else {
			h = nodeHash(h, s.Hash)
		}
	}
	return h == root
}
