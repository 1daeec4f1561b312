// Package packs maps domain inputs onto sealed evidence packs.
//
// Every builder follows one pattern: the input selects an ordered list of
// labelled payloads, summary payloads are derived from the detail rather than
// restated from caller totals, and the result goes through
// evidence.HashPayloads, evidence.BuildPackIndex and evidence.SealPack.
package packs

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Mindburn-Labs/sealpack/pkg/evidence"
	"github.com/Mindburn-Labs/sealpack/pkg/seal"
)

// Input is a domain record that knows which artifacts it produces.
type Input interface {
	Organization() string
	Metadata() evidence.Metadata
	Payloads() []evidence.Payload
}

// Build hashes the input's payloads, indexes them and seals the index.
func Build(in Input, opts evidence.SealOptions) (*evidence.EvidencePack, error) {
	artifacts, err := evidence.HashPayloads(in.Payloads())
	if err != nil {
		return nil, err
	}
	ix, err := evidence.BuildPackIndex(in.Organization(), artifacts, in.Metadata(), opts.Clock)
	if err != nil {
		return nil, err
	}
	return evidence.SealPack(ix, opts)
}

func BuildLotCertification(in LotCertificationInput, opts evidence.SealOptions) (*evidence.EvidencePack, error) {
	return Build(in, opts)
}

func BuildShipmentManifest(in ShipmentManifestInput, opts evidence.SealOptions) (*evidence.EvidencePack, error) {
	return Build(in, opts)
}

func BuildPaymentDistribution(in PaymentDistributionInput, opts evidence.SealOptions) (*evidence.EvidencePack, error) {
	return Build(in, opts)
}

func BuildTraceabilityChain(in TraceabilityChainInput, opts evidence.SealOptions) (*evidence.EvidencePack, error) {
	return Build(in, opts)
}

// Builder seals packs with a fixed configuration.
type Builder struct {
	opts       evidence.SealOptions
	deriveKeys bool
}

// NewBuilder creates a builder that signs with key.
func NewBuilder(key seal.Key) *Builder {
	return &Builder{opts: evidence.SealOptions{Key: key}}
}

// WithAlgorithm sets the seal algorithm.
func (b *Builder) WithAlgorithm(alg seal.Algorithm) *Builder {
	b.opts.Algorithm = alg
	return b
}

// WithClock sets the timestamp source for createdAt and sealedAt.
func (b *Builder) WithClock(clock evidence.Clock) *Builder {
	b.opts.Clock = clock
	return b
}

// WithOrgKeys makes the builder treat its key as a master key and seal each
// pack with the key derived for the input's organisation.
func (b *Builder) WithOrgKeys() *Builder {
	b.deriveKeys = true
	return b
}

// Build seals in.
func (b *Builder) Build(in Input) (*evidence.EvidencePack, error) {
	opts := b.opts
	if b.deriveKeys {
		k, err := seal.DeriveOrgKey(opts.Key, in.Organization())
		if err != nil {
			return nil, fmt.Errorf("packs: %w", err)
		}
		opts.Key = k
	}
	return Build(in, opts)
}

// DecodeInput parses a JSON input record for packType. Unknown members are rejected.
func DecodeInput(packType evidence.PackType, data []byte) (Input, error) {
	var in Input
	switch packType {
	case evidence.PackTypeLotCertification:
		var v LotCertificationInput
		if err := decodeStrict(data, &v); err != nil {
			return nil, err
		}
		in = v
	case evidence.PackTypeShipmentManifest:
		var v ShipmentManifestInput
		if err := decodeStrict(data, &v); err != nil {
			return nil, err
		}
		in = v
	case evidence.PackTypePaymentDistribution:
		var v PaymentDistributionInput
		if err := decodeStrict(data, &v); err != nil {
			return nil, err
		}
		in = v
	case evidence.PackTypeTraceabilityChain:
		var v TraceabilityChainInput
		if err := decodeStrict(data, &v); err != nil {
			return nil, err
		}
		in = v
	default:
		return nil, fmt.Errorf("packs: %w: %q", evidence.ErrUnknownPackType, packType)
	}
	return in, nil
}

func decodeStrict(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("packs: decode input: %w", err)
	}
	return nil
}

// PayloadMap returns the input's payloads keyed by artifact label, in the
// form a verifier accepts for artifact re-hashing.
func PayloadMap(in Input) map[string]interface{} {
	out := make(map[string]interface{})
	for _, p := range in.Payloads() {
		out[p.Label] = p.Value
	}
	return out
}
