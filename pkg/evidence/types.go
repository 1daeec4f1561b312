package evidence

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Mindburn-Labs/sealpack/pkg/seal"
)

// SchemaVersion is the structural version of the index format written by this package.
const SchemaVersion = "1.0.0"

// TimestampLayout is the ISO-8601 form used for createdAt and sealedAt.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

const (
	MimeTypeJSON        = "application/json"
	MimeTypeOctetStream = "application/octet-stream"
)

var (
	// ErrCorruptIndex means an index no longer satisfies its own invariants
	// (count or Merkle root) and must not be sealed.
	ErrCorruptIndex = errors.New("evidence: corrupt pack index")
	// ErrUnknownPackType is returned for pack types outside the known set.
	ErrUnknownPackType = errors.New("evidence: unknown pack type")
	// ErrMalformedPack is returned when an encoded pack cannot be decoded.
	ErrMalformedPack = errors.New("evidence: malformed pack")
)

// PackType identifies which domain builder produced a pack.
type PackType string

const (
	PackTypeLotCertification    PackType = "lot_certification"
	PackTypeShipmentManifest    PackType = "shipment_manifest"
	PackTypePaymentDistribution PackType = "payment_distribution"
	PackTypeTraceabilityChain   PackType = "traceability_chain"
)

// Known reports whether t has a metadata variant registered.
func (t PackType) Known() bool {
	_, ok := metadataKeys[t]
	return ok
}

// ReservedFields are the index member names metadata may never use.
var ReservedFields = []string{
	"schemaVersion",
	"packType",
	"orgId",
	"createdAt",
	"artifactCount",
	"merkleRoot",
	"artifacts",
	"seal",
}

// Artifact is one named, hashed unit of evidence.
type Artifact struct {
	Label       string `json:"label"`
	ContentHash string `json:"sha256"`
	MimeType    string `json:"mimeType"`
	SizeBytes   int64  `json:"sizeBytes"`
}

// Metadata is the pack-type specific part of an index. The set of
// implementations is closed; each variant carries its own typed fields.
type Metadata interface {
	PackType() PackType
	// Fields returns the wire members the variant contributes to the index.
	Fields() map[string]string
	isMetadata()
}

type LotCertificationMetadata struct {
	LotID string
}

func (LotCertificationMetadata) PackType() PackType { return PackTypeLotCertification }
func (m LotCertificationMetadata) Fields() map[string]string {
	return map[string]string{"lotId": m.LotID}
}
func (LotCertificationMetadata) isMetadata() {}

type ShipmentManifestMetadata struct {
	ShipmentID string
}

func (ShipmentManifestMetadata) PackType() PackType { return PackTypeShipmentManifest }
func (m ShipmentManifestMetadata) Fields() map[string]string {
	return map[string]string{"shipmentId": m.ShipmentID}
}
func (ShipmentManifestMetadata) isMetadata() {}

type PaymentDistributionMetadata struct {
	PlanID string
	LotID  string
}

func (PaymentDistributionMetadata) PackType() PackType { return PackTypePaymentDistribution }
func (m PaymentDistributionMetadata) Fields() map[string]string {
	return map[string]string{"planId": m.PlanID, "lotId": m.LotID}
}
func (PaymentDistributionMetadata) isMetadata() {}

type TraceabilityChainMetadata struct {
	ChainID string
}

func (TraceabilityChainMetadata) PackType() PackType { return PackTypeTraceabilityChain }
func (m TraceabilityChainMetadata) Fields() map[string]string {
	return map[string]string{"chainId": m.ChainID}
}
func (TraceabilityChainMetadata) isMetadata() {}

// metadataKeys lists the wire members each pack type carries.
var metadataKeys = map[PackType][]string{
	PackTypeLotCertification:    {"lotId"},
	PackTypeShipmentManifest:    {"shipmentId"},
	PackTypePaymentDistribution: {"lotId", "planId"},
	PackTypeTraceabilityChain:   {"chainId"},
}

// MetadataKeys returns the sorted wire members for pack type t.
func MetadataKeys(t PackType) []string {
	keys := append([]string(nil), metadataKeys[t]...)
	sort.Strings(keys)
	return keys
}

// MetadataFromFields rebuilds the typed variant for t from its wire members.
// Missing or foreign members are errors.
func MetadataFromFields(t PackType, fields map[string]string) (Metadata, error) {
	want, ok := metadataKeys[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPackType, t)
	}
	for _, k := range want {
		if _, ok := fields[k]; !ok {
			return nil, fmt.Errorf("evidence: %s metadata missing %q", t, k)
		}
	}
	if len(fields) != len(want) {
		var extra []string
		for k := range fields {
			if !contains(want, k) {
				extra = append(extra, strconv.Quote(k))
			}
		}
		sort.Strings(extra)
		return nil, fmt.Errorf("evidence: %s metadata has unexpected members %s", t, strings.Join(extra, ", "))
	}

	switch t {
	case PackTypeLotCertification:
		return LotCertificationMetadata{LotID: fields["lotId"]}, nil
	case PackTypeShipmentManifest:
		return ShipmentManifestMetadata{ShipmentID: fields["shipmentId"]}, nil
	case PackTypePaymentDistribution:
		return PaymentDistributionMetadata{PlanID: fields["planId"], LotID: fields["lotId"]}, nil
	default:
		return TraceabilityChainMetadata{ChainID: fields["chainId"]}, nil
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// PackIndex is the unsealed, verifiable envelope.
type PackIndex struct {
	SchemaVersion string
	PackType      PackType
	OrgID         string
	CreatedAt     string
	ArtifactCount int
	MerkleRoot    string
	Artifacts     []Artifact
	Metadata      Metadata
}

// SealEnvelope is the authentication layer around a PackIndex.
type SealEnvelope struct {
	Algorithm seal.Algorithm `json:"algorithm"`
	KeyID     string         `json:"keyId"`
	Signature string         `json:"signature"`
	SealedAt  string         `json:"sealedAt"`
}

// EvidencePack is the externally exchanged artifact: an index plus its seal.
type EvidencePack struct {
	Index PackIndex
	Seal  SealEnvelope
}

// Clock supplies timestamps. A nil Clock means time.Now.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

// FormatTimestamp renders t in TimestampLayout (UTC, millisecond precision).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a value written by FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}
