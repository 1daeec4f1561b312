package merkle

import (
	"fmt"
	"strings"
)

// Sibling positions in a proof step.
const (
	SideLeft  = "L"
	SideRight = "R"
)

// InclusionProof shows that one leaf digest is committed to by a root.
type InclusionProof struct {
	LeafIndex  int         `json:"leaf_index"`
	LeafHash   string      `json:"leaf_hash"`
	MerkleRoot string      `json:"merkle_root"`
	ProofPath  []ProofStep `json:"proof_path"`
}

type ProofStep struct {
	Side        string `json:"side"` // "L" or "R"
	SiblingHash string `json:"sibling_hash"`
}

// Proof builds the inclusion proof for the leaf at index.
// A single-leaf tree yields an empty path since the leaf is the root.
func (t *Tree) Proof(index int) (*InclusionProof, error) {
	if index < 0 || index >= len(t.Leaves) {
		return nil, fmt.Errorf("merkle: leaf index %d out of range [0,%d)", index, len(t.Leaves))
	}

	proof := &InclusionProof{
		LeafIndex:  index,
		LeafHash:   t.Leaves[index],
		MerkleRoot: t.Root,
		ProofPath:  []ProofStep{},
	}

	pos := index
	for _, level := range t.Levels[:len(t.Levels)-1] {
		var step ProofStep
		if pos%2 == 0 {
			sibling := pos + 1
			if sibling >= len(level) {
				sibling = pos // odd level: paired with its own duplicate
			}
			step = ProofStep{Side: SideRight, SiblingHash: level[sibling]}
		} else {
			step = ProofStep{Side: SideLeft, SiblingHash: level[pos-1]}
		}
		proof.ProofPath = append(proof.ProofPath, step)
		pos /= 2
	}

	return proof, nil
}

// VerifyInclusionProof verifies that a leaf is part of the Merkle tree.
// When expectedRoot is non-empty it must also match the root carried in the proof.
func VerifyInclusionProof(proof InclusionProof, expectedRoot string) bool {
	if expectedRoot != "" && !strings.EqualFold(proof.MerkleRoot, expectedRoot) {
		return false
	}

	currentHash := proof.LeafHash
	for _, step := range proof.ProofPath {
		var (
			next string
			err  error
		)
		switch step.Side {
		case SideLeft:
			next, err = Combine(step.SiblingHash, currentHash)
		case SideRight:
			next, err = Combine(currentHash, step.SiblingHash)
		default:
			return false
		}
		if err != nil {
			return false
		}
		currentHash = next
	}

	return strings.EqualFold(currentHash, proof.MerkleRoot)
}
