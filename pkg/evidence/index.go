package evidence

import (
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/sealpack/pkg/merkle"
)

// BuildPackIndex assembles an unsealed index. The Merkle root is computed
// over the artifact hashes in the order given, and createdAt is stamped
// from clock. The pack type comes from the metadata variant.
func BuildPackIndex(orgID string, artifacts []Artifact, meta Metadata, clock Clock) (*PackIndex, error) {
	if meta == nil {
		return nil, errors.New("evidence: pack metadata is required")
	}
	if !meta.PackType().Known() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPackType, meta.PackType())
	}

	root, err := merkle.ComputeRoot(artifactHashes(artifacts))
	if err != nil {
		return nil, fmt.Errorf("evidence: merkle root: %w", err)
	}

	owned := make([]Artifact, len(artifacts))
	copy(owned, artifacts)

	return &PackIndex{
		SchemaVersion: SchemaVersion,
		PackType:      meta.PackType(),
		OrgID:         orgID,
		CreatedAt:     FormatTimestamp(clock.now()),
		ArtifactCount: len(owned),
		MerkleRoot:    root,
		Artifacts:     owned,
		Metadata:      meta,
	}, nil
}

// CheckIntegrity confirms the index still satisfies its invariants: the
// declared count matches the artifact list, the metadata matches the pack
// type, and the Merkle root recomputes.
func (ix *PackIndex) CheckIntegrity() error {
	if ix.ArtifactCount != len(ix.Artifacts) {
		return fmt.Errorf("%w: artifactCount %d but %d artifacts", ErrCorruptIndex, ix.ArtifactCount, len(ix.Artifacts))
	}
	if ix.Metadata == nil || ix.Metadata.PackType() != ix.PackType {
		return fmt.Errorf("%w: metadata does not match pack type %q", ErrCorruptIndex, ix.PackType)
	}
	root, err := merkle.ComputeRoot(artifactHashes(ix.Artifacts))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	if root != ix.MerkleRoot {
		return fmt.Errorf("%w: merkle root %s, recomputed %s", ErrCorruptIndex, ix.MerkleRoot, root)
	}
	return nil
}

// ArtifactHashes returns the content hashes in index order.
func (ix *PackIndex) ArtifactHashes() []string {
	return artifactHashes(ix.Artifacts)
}

// Artifact returns the artifact with the given label.
func (ix *PackIndex) Artifact(label string) (Artifact, bool) {
	for _, a := range ix.Artifacts {
		if a.Label == label {
			return a, true
		}
	}
	return Artifact{}, false
}

// Proof returns a Merkle inclusion proof for the artifact with label.
func (ix *PackIndex) Proof(label string) (*merkle.InclusionProof, error) {
	for i, a := range ix.Artifacts {
		if a.Label != label {
			continue
		}
		tree, err := merkle.Build(ix.ArtifactHashes())
		if err != nil {
			return nil, fmt.Errorf("evidence: %w", err)
		}
		return tree.Proof(i)
	}
	return nil, fmt.Errorf("evidence: no artifact labelled %q", label)
}

// wireObject is the flat JSON form of the index with metadata merged in.
func (ix *PackIndex) wireObject() map[string]interface{} {
	artifacts := ix.Artifacts
	if artifacts == nil {
		artifacts = []Artifact{}
	}
	obj := map[string]interface{}{
		"schemaVersion": ix.SchemaVersion,
		"packType":      string(ix.PackType),
		"orgId":         ix.OrgID,
		"createdAt":     ix.CreatedAt,
		"artifactCount": ix.ArtifactCount,
		"merkleRoot":    ix.MerkleRoot,
		"artifacts":     artifacts,
	}
	if ix.Metadata != nil {
		for k, v := range ix.Metadata.Fields() {
			obj[k] = v
		}
	}
	return obj
}

func artifactHashes(artifacts []Artifact) []string {
	hashes := make([]string, len(artifacts))
	for i, a := range artifacts {
		hashes[i] = a.ContentHash
	}
	return hashes
}
