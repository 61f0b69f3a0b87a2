package merkle

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VibeTensor/attestix/pkg/canonical"
)

func entry(i int) interface{} {
	return map[string]interface{}{"log_id": i, "action": "inference"}
}

func TestEmptyInputIsError(t *testing.T) {
	_, err := Build(nil)
	require.ErrorIs(t, err, ErrEmpty)
}

func TestSingleLeafRootIsLeafHash(t *testing.T) {
	e := entry(1)
	tree, err := Build([]interface{}{e})
	require.NoError(t, err)

	b, err := canonical.Marshal(e)
	require.NoError(t, err)
	assert.Equal(t, LeafHash(b), tree.Root())
}

// Leaf and node hashing carry distinct prefixes so an interior node value
// can never collide with a leaf over the same bytes.
func TestDomainSeparation(t *testing.T) {
	data := []byte(`{"a":1}`)
	leaf := LeafHash(data)
	plain := sha256.Sum256(data)
	assert.NotEqual(t, plain, leaf)

	pair := FromLeaves([][32]byte{leaf, leaf})
	concat := sha256.Sum256(append(leaf[:], leaf[:]...))
	assert.NotEqual(t, concat, pair.Root())
}

// An odd trailing leaf is promoted unchanged, not duplicated.
func TestOddLeafPromotion(t *testing.T) {
	var a, b, c [32]byte
	a[0], b[0], c[0] = 1, 2, 3

	tree := FromLeaves([][32]byte{a, b, c})
	want := nodeHash(nodeHash(a, b), c)
	assert.Equal(t, want, tree.Root())
}

func TestRootChangesWithAnyLeaf(t *testing.T) {
	entries := []interface{}{entry(1), entry(2), entry(3), entry(4)}
	tree1, err := Build(entries)
	require.NoError(t, err)

	entries[2] = map[string]interface{}{"log_id": 3, "action": "tampered"}
	tree2, err := Build(entries)
	require.NoError(t, err)

	assert.NotEqual(t, tree1.Root(), tree2.Root())
}

func TestInclusionProofs(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 8, 13} {
		entries := make([]interface{}, n)
		for i := range entries {
			entries[i] = entry(i)
		}
		tree, err := Build(entries)
		require.NoError(t, err)

		for i := 0; i < n; i++ {
			b, err := canonical.Marshal(entries[i])
			require.NoError(t, err)
			steps, err := tree.Proof(i)
			require.NoError(t, err)
			assert.True(t, VerifyProof(LeafHash(b), steps, tree.Root()), "n=%d i=%d", n, i)
		}

		var wrong [32]byte
		wrong[0] = 0xff
		steps, err := tree.Proof(0)
		require.NoError(t, err)
		assert.False(t, VerifyProof(wrong, steps, tree.Root()))
	}

	tree, err := Build([]interface{}{entry(0)})
	require.NoError(t, err)
	_, err = tree.Proof(1)
	require.Error(t, err)
}
