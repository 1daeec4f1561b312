package packs

import (
	"github.com/Mindburn-Labs/sealpack/pkg/evidence"
)

// Artifact labels, in the order each builder emits them.
const (
	LabelLotSummary           = "lot-summary"
	LabelQualityInspection    = "quality-inspection"
	LabelCertifications       = "certifications"
	LabelProducerContribution = "producer-contributions"

	LabelShipmentSummary = "shipment-summary"
	LabelLotAllocations  = "lot-allocations"
	LabelMilestones      = "milestones"
	LabelCarrier         = "carrier"

	LabelDistributionSummary = "distribution-summary"
	LabelPaymentDetails      = "payment-details"

	LabelChainSummary = "chain-summary"
	LabelChainEntries = "chain-entries"
)

// --- lot_certification ---

type ProducerContribution struct {
	ProducerID string  `json:"producerId"`
	Name       string  `json:"name,omitempty"`
	WeightKg   float64 `json:"weightKg"`
}

type QualityInspection struct {
	Grade       string                 `json:"grade"`
	InspectorID string                 `json:"inspectorId,omitempty"`
	InspectedAt string                 `json:"inspectedAt,omitempty"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
}

type Certification struct {
	Type          string `json:"type"`
	Issuer        string `json:"issuer,omitempty"`
	CertificateID string `json:"certificateId,omitempty"`
	ValidUntil    string `json:"validUntil,omitempty"`
}

type LotCertificationInput struct {
	OrgID             string                 `json:"orgId"`
	LotID             string                 `json:"lotId"`
	Producers         []ProducerContribution `json:"producers"`
	QualityInspection QualityInspection      `json:"qualityInspection"`
	Certifications    []Certification        `json:"certifications"`
}

type LotSummary struct {
	LotID         string  `json:"lotId"`
	ProducerCount int     `json:"producerCount"`
	TotalWeightKg float64 `json:"totalWeightKg"`
}

func (in LotCertificationInput) Organization() string { return in.OrgID }

func (in LotCertificationInput) Metadata() evidence.Metadata {
	return evidence.LotCertificationMetadata{LotID: in.LotID}
}

// Summary derives the lot totals from the producer contributions.
func (in LotCertificationInput) Summary() LotSummary {
	var total float64
	for _, p := range in.Producers {
		total += p.WeightKg
	}
	return LotSummary{LotID: in.LotID, ProducerCount: len(in.Producers), TotalWeightKg: total}
}

func (in LotCertificationInput) Payloads() []evidence.Payload {
	return []evidence.Payload{
		{Label: LabelLotSummary, Value: in.Summary()},
		{Label: LabelQualityInspection, Value: in.QualityInspection},
		{Label: LabelCertifications, Value: nonNil(in.Certifications)},
		{Label: LabelProducerContribution, Value: nonNil(in.Producers)},
	}
}

// --- shipment_manifest ---

type LotAllocation struct {
	LotID    string  `json:"lotId"`
	WeightKg float64 `json:"weightKg"`
}

type Milestone struct {
	Event      string `json:"event"`
	Location   string `json:"location,omitempty"`
	OccurredAt string `json:"occurredAt"`
}

type Carrier struct {
	Name           string `json:"name"`
	Mode           string `json:"mode,omitempty"`
	TrackingNumber string `json:"trackingNumber,omitempty"`
	VehicleID      string `json:"vehicleId,omitempty"`
}

type ShipmentManifestInput struct {
	OrgID      string          `json:"orgId"`
	ShipmentID string          `json:"shipmentId"`
	Lots       []LotAllocation `json:"lots"`
	Milestones []Milestone     `json:"milestones"`
	Carrier    Carrier         `json:"carrier"`
}

type ShipmentSummary struct {
	ShipmentID string  `json:"shipmentId"`
	LotCount   int     `json:"lotCount"`
	TotalKg    float64 `json:"totalKg"`
}

func (in ShipmentManifestInput) Organization() string { return in.OrgID }

func (in ShipmentManifestInput) Metadata() evidence.Metadata {
	return evidence.ShipmentManifestMetadata{ShipmentID: in.ShipmentID}
}

// Summary derives the shipment weight from the lot allocations.
func (in ShipmentManifestInput) Summary() ShipmentSummary {
	var total float64
	for _, l := range in.Lots {
		total += l.WeightKg
	}
	return ShipmentSummary{ShipmentID: in.ShipmentID, LotCount: len(in.Lots), TotalKg: total}
}

func (in ShipmentManifestInput) Payloads() []evidence.Payload {
	return []evidence.Payload{
		{Label: LabelShipmentSummary, Value: in.Summary()},
		{Label: LabelLotAllocations, Value: nonNil(in.Lots)},
		{Label: LabelMilestones, Value: nonNil(in.Milestones)},
		{Label: LabelCarrier, Value: in.Carrier},
	}
}

// --- payment_distribution ---

type Payment struct {
	PayeeID     string `json:"payeeId"`
	AmountCents int64  `json:"amountCents"`
	Method      string `json:"method,omitempty"`
	Reference   string `json:"reference,omitempty"`
}

type PaymentDistributionInput struct {
	OrgID    string `json:"orgId"`
	PlanID   string `json:"planId"`
	LotID    string `json:"lotId"`
	Currency string `json:"currency"`
	// TotalCents is the caller's declared total. It is recorded as given and
	// never reconciled at build time.
	TotalCents int64     `json:"totalCents"`
	Payments   []Payment `json:"payments"`
}

type DistributionSummary struct {
	PlanID       string `json:"planId"`
	LotID        string `json:"lotId"`
	Currency     string `json:"currency"`
	PaymentCount int    `json:"paymentCount"`
	TotalCents   int64  `json:"totalCents"`
}

func (in PaymentDistributionInput) Organization() string { return in.OrgID }

func (in PaymentDistributionInput) Metadata() evidence.Metadata {
	return evidence.PaymentDistributionMetadata{PlanID: in.PlanID, LotID: in.LotID}
}

func (in PaymentDistributionInput) Summary() DistributionSummary {
	return DistributionSummary{
		PlanID:       in.PlanID,
		LotID:        in.LotID,
		Currency:     in.Currency,
		PaymentCount: len(in.Payments),
		TotalCents:   in.TotalCents,
	}
}

func (in PaymentDistributionInput) Payloads() []evidence.Payload {
	return []evidence.Payload{
		{Label: LabelDistributionSummary, Value: in.Summary()},
		{Label: LabelPaymentDetails, Value: nonNil(in.Payments)},
	}
}

// --- traceability_chain ---

type ChainEntry struct {
	Sequence   int                    `json:"sequence"`
	Event      string                 `json:"event"`
	Actor      string                 `json:"actor,omitempty"`
	Location   string                 `json:"location,omitempty"`
	OccurredAt string                 `json:"occurredAt"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

type TraceabilityChainInput struct {
	OrgID   string       `json:"orgId"`
	ChainID string       `json:"chainId"`
	Entries []ChainEntry `json:"entries"`
}

type ChainSummary struct {
	ChainID    string `json:"chainId"`
	EntryCount int    `json:"entryCount"`
}

func (in TraceabilityChainInput) Organization() string { return in.OrgID }

func (in TraceabilityChainInput) Metadata() evidence.Metadata {
	return evidence.TraceabilityChainMetadata{ChainID: in.ChainID}
}

func (in TraceabilityChainInput) Summary() ChainSummary {
	return ChainSummary{ChainID: in.ChainID, EntryCount: len(in.Entries)}
}

func (in TraceabilityChainInput) Payloads() []evidence.Payload {
	return []evidence.Payload{
		{Label: LabelChainSummary, Value: in.Summary()},
		{Label: LabelChainEntries, Value: nonNil(in.Entries)},
	}
}

// nonNil makes "no items" hash as [] whether or not the caller allocated.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
