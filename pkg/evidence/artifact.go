package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/Mindburn-Labs/sealpack/pkg/canonicalize"
)

// Payload is one labelled business value awaiting hashing.
type Payload struct {
	Label string
	Value interface{}
}

// NewArtifact canonicalizes payload and describes it as an Artifact.
// Identical (label, payload) pairs always produce identical artifacts.
func NewArtifact(label string, payload interface{}) (Artifact, error) {
	data, err := canonicalize.JCS(payload)
	if err != nil {
		return Artifact{}, fmt.Errorf("evidence: artifact %q: %w", label, err)
	}
	return Artifact{
		Label:       label,
		ContentHash: canonicalize.HashBytes(data),
		MimeType:    MimeTypeJSON,
		SizeBytes:   int64(len(data)),
	}, nil
}

// NewBinaryArtifact describes raw bytes that are hashed as-is.
func NewBinaryArtifact(label, mimeType string, data []byte) Artifact {
	if mimeType == "" {
		mimeType = MimeTypeOctetStream
	}
	sum := sha256.Sum256(data)
	return Artifact{
		Label:       label,
		ContentHash: hex.EncodeToString(sum[:]),
		MimeType:    mimeType,
		SizeBytes:   int64(len(data)),
	}
}

// HashPayloads hashes payloads in order. Labels are not de-duplicated.
func HashPayloads(payloads []Payload) ([]Artifact, error) {
	artifacts := make([]Artifact, 0, len(payloads))
	for _, p := range payloads {
		a, err := NewArtifact(p.Label, p.Value)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}
