package evidence

import (
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/sealpack/pkg/canonicalize"
	"github.com/Mindburn-Labs/sealpack/pkg/seal"
)

// SealOptions configures GenerateSeal. Key is required.
type SealOptions struct {
	Key       seal.Key
	Algorithm seal.Algorithm
	Clock     Clock
}

// GenerateSeal computes the seal envelope for index.
//
// The MAC covers the canonical bytes of the whole index wire object plus a
// protected "seal" member holding algorithm, keyId and sealedAt, so every
// index field and every seal field except the signature is authenticated.
// There is no fallback key: an empty key fails with seal.ErrMissingKey.
func GenerateSeal(index *PackIndex, opts SealOptions) (*SealEnvelope, error) {
	if index == nil {
		return nil, errors.New("evidence: nil pack index")
	}
	if opts.Key.Empty() {
		return nil, fmt.Errorf("evidence: seal: %w", seal.ErrMissingKey)
	}
	alg := opts.Algorithm
	if alg == "" {
		alg = seal.DefaultAlgorithm
	}
	if !alg.Supported() {
		return nil, fmt.Errorf("evidence: seal: %w: %q", seal.ErrUnsupportedAlgorithm, alg)
	}

	env := &SealEnvelope{
		Algorithm: alg,
		KeyID:     opts.Key.KeyID(),
		SealedAt:  FormatTimestamp(opts.Clock.now()),
	}

	msg, err := SigningPayload(index, env)
	if err != nil {
		return nil, err
	}
	sig, err := seal.Sign(alg, opts.Key, msg)
	if err != nil {
		return nil, fmt.Errorf("evidence: seal: %w", err)
	}
	env.Signature = sig
	return env, nil
}

// SealPack checks the index invariants and seals it. A corrupted index is
// rejected with ErrCorruptIndex instead of being sealed.
func SealPack(index *PackIndex, opts SealOptions) (*EvidencePack, error) {
	if index == nil {
		return nil, errors.New("evidence: nil pack index")
	}
	if err := index.CheckIntegrity(); err != nil {
		return nil, err
	}
	env, err := GenerateSeal(index, opts)
	if err != nil {
		return nil, err
	}

	ix := *index
	ix.Artifacts = append([]Artifact(nil), index.Artifacts...)
	return &EvidencePack{Index: ix, Seal: *env}, nil
}

// SigningPayload returns the exact bytes a seal's MAC is computed over.
// The signature field of env is ignored.
func SigningPayload(index *PackIndex, env *SealEnvelope) ([]byte, error) {
	obj := index.wireObject()
	obj["seal"] = map[string]interface{}{
		"algorithm": string(env.Algorithm),
		"keyId":     env.KeyID,
		"sealedAt":  env.SealedAt,
	}
	msg, err := canonicalize.JCS(obj)
	if err != nil {
		return nil, fmt.Errorf("evidence: signing payload: %w", err)
	}
	return msg, nil
}

// VerifySeal recomputes the pack's MAC with key and compares it with the
// stored signature in constant time.
func (p *EvidencePack) VerifySeal(key seal.Key) (bool, error) {
	if !p.Seal.Algorithm.Supported() {
		return false, fmt.Errorf("evidence: seal: %w: %q", seal.ErrUnsupportedAlgorithm, p.Seal.Algorithm)
	}
	msg, err := SigningPayload(&p.Index, &p.Seal)
	if err != nil {
		return false, err
	}
	return seal.Verify(p.Seal.Algorithm, key, msg, p.Seal.Signature)
}
