// Package merkle aggregates an ordered list of SHA-256 artifact digests into a
// single root.
//
// Algorithm (interoperability contract, do not change):
//   - zero digests: the root is EmptyRoot, the SHA-256 of the empty byte string;
//   - one digest: the root is that digest, not re-hashed;
//   - otherwise digests are paired left to right, an odd level duplicates its
//     last digest, and each pair becomes SHA-256(raw(left) || raw(right));
//   - levels are reduced until one digest remains.
//
// Digests are exchanged as lowercase hex but combined as raw 32-byte values.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// EmptyRoot is the root of a tree with no leaves: hex(SHA-256("")).
const EmptyRoot = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// Tree keeps every level of a Merkle aggregation so inclusion proofs can be
// produced. Levels[0] holds the leaves; the last level holds only the root.
type Tree struct {
	Leaves []string
	Levels [][]string
	Root   string
}

// ComputeRoot returns the Merkle root of the ordered digests.
func ComputeRoot(hashes []string) (string, error) {
	tree, err := Build(hashes)
	if err != nil {
		return "", err
	}
	return tree.Root, nil
}

// Build constructs the full tree over the ordered digests.
func Build(hashes []string) (*Tree, error) {
	for i, h := range hashes {
		if err := validateDigest(h); err != nil {
			return nil, fmt.Errorf("merkle: leaf %d: %w", i, err)
		}
	}

	if len(hashes) == 0 {
		return &Tree{Root: EmptyRoot}, nil
	}

	leaves := make([]string, len(hashes))
	copy(leaves, hashes)

	tree := &Tree{Leaves: leaves}
	currentLevel := leaves
	for len(currentLevel) > 1 {
		tree.Levels = append(tree.Levels, currentLevel)
		currentLevel = buildNextLevel(currentLevel)
	}
	tree.Levels = append(tree.Levels, currentLevel)
	tree.Root = currentLevel[0]

	return tree, nil
}

// Combine returns the parent digest of an adjacent pair.
func Combine(left, right string) (string, error) {
	if err := validateDigest(left); err != nil {
		return "", fmt.Errorf("merkle: left: %w", err)
	}
	if err := validateDigest(right); err != nil {
		return "", fmt.Errorf("merkle: right: %w", err)
	}
	return buildNodeHash(left, right), nil
}

func buildNextLevel(hashes []string) []string {
	count := len(hashes)
	nextLevel := make([]string, 0, (count+1)/2)
	for i := 0; i < count; i += 2 {
		right := hashes[i]
		if i+1 < count {
			right = hashes[i+1]
		}
		// Duplicate last when the level is odd.
		nextLevel = append(nextLevel, buildNodeHash(hashes[i], right))
	}
	return nextLevel
}

func buildNodeHash(left, right string) string {
	buf := make([]byte, 0, 2*sha256.Size)
	buf = append(buf, hexToBytes(left)...)
	buf = append(buf, hexToBytes(right)...)
	return sha256Hex(buf)
}

func validateDigest(h string) error {
	b, err := hex.DecodeString(h)
	if err != nil {
		return fmt.Errorf("invalid hex digest %q: %w", h, err)
	}
	if len(b) != sha256.Size {
		return fmt.Errorf("digest %q is %d bytes, want %d", h, len(b), sha256.Size)
	}
	return nil
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// hexToBytes decodes a digest that validateDigest already accepted.
func hexToBytes(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}
