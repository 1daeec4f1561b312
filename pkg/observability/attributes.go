package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Sealpack semantic convention attributes.
var (
	AttrOperation = attribute.Key("sealpack.operation")

	AttrPackType     = attribute.Key("sealpack.pack.type")
	AttrOrgID        = attribute.Key("sealpack.org.id")
	AttrMerkleRoot   = attribute.Key("sealpack.pack.merkle_root")
	AttrArtifactCnt  = attribute.Key("sealpack.pack.artifact_count")
	AttrSealAlg      = attribute.Key("sealpack.seal.algorithm")
	AttrSealKeyID    = attribute.Key("sealpack.seal.key_id")
	AttrVerifyResult = attribute.Key("sealpack.verify.result")

	AttrFailureReason = attribute.Key("sealpack.verify.reason")
	AttrDiscrepancy   = attribute.Key("sealpack.payment.discrepancy_cents")
	AttrBatchSize     = attribute.Key("sealpack.batch.size")
)

// PackOperation creates attributes describing the pack being built or verified.
func PackOperation(packType, orgID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPackType.String(packType),
		AttrOrgID.String(orgID),
	}
}

// SealOperation creates attributes describing a produced seal.
func SealOperation(algorithm, keyID, merkleRoot string, artifactCount int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSealAlg.String(algorithm),
		AttrSealKeyID.String(keyID),
		AttrMerkleRoot.String(merkleRoot),
		AttrArtifactCnt.Int(artifactCount),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err on the current span and marks it failed.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
