// Package merkle implements a binary SHA-256 Merkle tree:
// root computation over an ordered list of leaf hashes, and inclusion
// proof verification. Grounded on the hashMerkleBranches helper in
// domain/consensus/utils/merkle/merkle.go, generalized to this module's
// odd-node-duplication rule rather than daglabs-btcd's next-power-of-two
// padding scheme.
package merkle

import "github.com/Quigles1337/COINjecture1337/crypto"

// hashBranches returns SHA-256(left ‖ right), the node-combining rule used
// at every level of the tree.
func hashBranches(left, right crypto.Hash) crypto.Hash {
	w := crypto.NewHashWriter()
	_, _ = w.Write(left[:])
	_, _ = w.Write(right[:])
	return w.Finalize()
}

// Root computes the Merkle root over hashes: empty input yields the
// all-zero hash, a single leaf is its own root, and otherwise the tree is
// built bottom-up, duplicating the last element of any level with an odd
// count.
func Root(hashes []crypto.Hash) crypto.Hash {
	switch len(hashes) {
	case 0:
		return crypto.Hash{}
	case 1:
		return hashes[0]
	}

	level := make([]crypto.Hash, len(hashes))
	copy(level, hashes)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]crypto.Hash, len(level)/2)
		for i := range next {
			next[i] = hashBranches(level[2*i], level[2*i+1])
		}
		level = next
	}
	return level[0]
}

// Proof is an inclusion proof: the sibling hash encountered at each level
// of the tree, from leaf to root.
type Proof []crypto.Hash

// BuildProof returns the inclusion proof for the leaf at index within
// hashes, alongside the computed root (equal to Root(hashes)). It is the
// counterpart VerifyProof checks against.
func BuildProof(hashes []crypto.Hash, index int) (Proof, crypto.Hash) {
	if index < 0 || index >= len(hashes) {
		return nil, crypto.Hash{}
	}
	if len(hashes) == 1 {
		return Proof{}, hashes[0]
	}

	level := make([]crypto.Hash, len(hashes))
	copy(level, hashes)
	var proof Proof
	idx := index

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		siblingIdx := idx ^ 1
		proof = append(proof, level[siblingIdx])

		next := make([]crypto.Hash, len(level)/2)
		for i := range next {
			next[i] = hashBranches(level[2*i], level[2*i+1])
		}
		level = next
		idx /= 2
	}
	return proof, level[0]
}

// VerifyProof reports whether leaf, combined with proof in order using the
// bit pattern of index, reproduces root. At step i: if bit i of index is 0,
// the current hash is the left sibling (hash(cur ‖ sib)); if 1, it is the
// right sibling (hash(sib ‖ cur)).
func VerifyProof(leaf crypto.Hash, proof Proof, root crypto.Hash, index int) bool {
	cur := leaf
	for i, sib := range proof {
		if (index>>uint(i))&1 == 0 {
			cur = hashBranches(cur, sib)
		} else {
			cur = hashBranches(sib, cur)
		}
	}
	return cur == root
}
