// Package merkle implements C6: a provable Merkle tree over a block's
// transactions, independent of the flat tx_root the header carries.
// Where chain.ComputeTxRoot gives header-integrity-only digest, this
// package builds the full tree so any single transaction's membership
// can be proven without shipping the whole block.
package merkle

import (
	"github.com/choreocore/node/crypto"
)

// emptyLeafHash is the fixed digest used for padding leaves, chosen so
// a padding leaf can never collide with a hash of real transaction
// bytes (spec §4.6): it is the hash of a fixed domain string, not of
// an empty input.
var emptyLeafHash = crypto.Hash([]byte("choreocore/merkle/empty-leaf"))

// Tree is a complete binary Merkle tree padded to a power of two. levels
// is ordered leaves-first; levels[len(levels)-1] holds the single root.
type Tree struct {
	levels    [][]string
	leafCount int // the number of real (non-padding) leaves
}

// Build constructs a Tree whose leaves are txHashes themselves, in the
// given order. An empty input still yields a single-node tree over the
// fixed empty-leaf hash, so Root never needs a special case for no
// transactions.
func Build(txHashes []string) *Tree {
	if len(txHashes) == 0 {
		return &Tree{levels: [][]string{{emptyLeafHash}}, leafCount: 0}
	}

	size := nextPowerOfTwo(len(txHashes))
	leaves := make([]string, size)
	copy(leaves, txHashes)
	for i := len(txHashes); i < size; i++ {
		leaves[i] = emptyLeafHash
	}

	levels := [][]string{leaves}
	for len(levels[len(levels)-1]) > 1 {
		cur := levels[len(levels)-1]
		next := make([]string, len(cur)/2)
		for i := range next {
			next[i] = hashPair(cur[2*i], cur[2*i+1])
		}
		levels = append(levels, next)
	}

	return &Tree{levels: levels, leafCount: len(txHashes)}
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p *= 2
	}
	return p
}

func hashPair(left, right string) string {
	return crypto.Hash([]byte(left + right))
}

// Root returns the tree's root hash.
func (t *Tree) Root() string {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// LeafCount returns the number of real (non-padding) leaves the tree
// was built over.
func (t *Tree) LeafCount() int { return t.leafCount }

// Proof is an inclusion proof: the sibling hash at each level from the
// leaf up to (but not including) the root, plus which side the sibling
// sits on.
type Proof struct {
	LeafIndex int      `json:"leaf_index"`
	Siblings  []string `json:"siblings"`
	// SiblingOnRight[i] is true when Siblings[i] is the right-hand
	// sibling of the node being hashed at that level.
	SiblingOnRight []bool `json:"sibling_on_right"`
}

// Prove builds an inclusion proof for the leaf at index. It returns an
// error-free proof for any index within the padded width, including
// padding leaves, since they are a well-defined part of the tree.
func (t *Tree) Prove(index int) (*Proof, bool) {
	leaves := t.levels[0]
	if index < 0 || index >= len(leaves) {
		return nil, false
	}

	proof := &Proof{LeafIndex: index}
	idx := index
	for level := 0; level < len(t.levels)-1; level++ {
		nodes := t.levels[level]
		var siblingIdx int
		var onRight bool
		if idx%2 == 0 {
			siblingIdx = idx + 1
			onRight = true
		} else {
			siblingIdx = idx - 1
			onRight = false
		}
		proof.Siblings = append(proof.Siblings, nodes[siblingIdx])
		proof.SiblingOnRight = append(proof.SiblingOnRight, onRight)
		idx /= 2
	}
	return proof, true
}

// VerifyProof recomputes the root from leafHash and proof, reporting
// whether it equals root. This never touches the Tree itself, so a
// verifier only needs the leaf, the proof, and the claimed root — the
// inclusion-proof contract spec §4.6 describes.
func VerifyProof(root, leafHash string, proof *Proof) bool {
	h := leafHash
	for i, sibling := range proof.Siblings {
		if proof.SiblingOnRight[i] {
			h = hashPair(h, sibling)
		} else {
			h = hashPair(sibling, h)
		}
	}
	return h == root
}
