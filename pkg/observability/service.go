package observability

import (
	"context"
	"log/slog"

	"github.com/Mindburn-Labs/sealpack/pkg/evidence"
	"github.com/Mindburn-Labs/sealpack/pkg/packs"
	"github.com/Mindburn-Labs/sealpack/pkg/verifier"
)

// Service wraps pack building and verification with spans, metrics and
// structured logs. The wrapped operations stay pure; all side effects live here.
type Service struct {
	provider *Provider
	logger   *slog.Logger
}

// NewService returns an instrumented service. A nil logger uses slog.Default.
func NewService(p *Provider, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{provider: p, logger: logger.With("component", "sealpack")}
}

// Build seals in with b.
func (s *Service) Build(ctx context.Context, b *packs.Builder, in packs.Input) (*evidence.EvidencePack, error) {
	meta := in.Metadata()
	packType := ""
	if meta != nil {
		packType = string(meta.PackType())
	}
	ctx, finish := s.provider.TrackOperation(ctx, "sealpack.build", PackOperation(packType, in.Organization())...)

	pack, err := b.Build(in)
	if err != nil {
		finish(err)
		s.logger.ErrorContext(ctx, "evidence pack build failed",
			"pack_type", packType,
			"org_id", in.Organization(),
			"error", err,
		)
		return nil, err
	}

	switch pd := in.(type) {
	case packs.PaymentDistributionInput:
		s.reportDiscrepancy(ctx, pd)
	case *packs.PaymentDistributionInput:
		s.reportDiscrepancy(ctx, *pd)
	}

	s.provider.RecordPackSealed(ctx, packType)
	AddSpanEvent(ctx, "pack.sealed", SealOperation(string(pack.Seal.Algorithm), pack.Seal.KeyID, pack.Index.MerkleRoot, pack.Index.ArtifactCount)...)
	finish(nil)
	s.logger.InfoContext(ctx, "evidence pack sealed",
		"pack_type", packType,
		"org_id", pack.Index.OrgID,
		"artifacts", pack.Index.ArtifactCount,
		"merkle_root", pack.Index.MerkleRoot,
		"key_id", pack.Seal.KeyID,
	)
	return pack, nil
}

// reportDiscrepancy logs a declared payment total that disagrees with the
// line items. The pack is sealed regardless.
func (s *Service) reportDiscrepancy(ctx context.Context, in packs.PaymentDistributionInput) {
	r := packs.ReconcileDistribution(in)
	if r.Consistent {
		return
	}
	AddSpanEvent(ctx, "payment.discrepancy", AttrDiscrepancy.Int64(r.DiscrepancyCents))
	s.logger.WarnContext(ctx, "payment distribution total disagrees with line items",
		"plan_id", in.PlanID,
		"lot_id", in.LotID,
		"declared_cents", r.DeclaredCents,
		"computed_cents", r.ComputedCents,
		"discrepancy_cents", r.DiscrepancyCents,
	)
}

// Verify verifies pack and records the outcome.
func (s *Service) Verify(ctx context.Context, pack *evidence.EvidencePack, opts verifier.Options) *verifier.Result {
	packType, orgID := "", ""
	if pack != nil {
		packType, orgID = string(pack.Index.PackType), pack.Index.OrgID
	}
	ctx, finish := s.provider.TrackOperation(ctx, "sealpack.verify", PackOperation(packType, orgID)...)
	r := verifier.VerifyWith(pack, opts)
	finish(nil)
	s.record(ctx, r)
	return r
}

// VerifyBytes decodes and verifies an encoded pack and records the outcome.
func (s *Service) VerifyBytes(ctx context.Context, data []byte, opts verifier.Options) *verifier.Result {
	ctx, finish := s.provider.TrackOperation(ctx, "sealpack.verify")
	r := verifier.VerifyBytes(data, opts)
	finish(nil)
	s.record(ctx, r)
	return r
}

// VerifyBatch verifies packs concurrently and records each outcome.
func (s *Service) VerifyBatch(ctx context.Context, batch []*evidence.EvidencePack, opts verifier.Options, workers int) ([]*verifier.Result, error) {
	ctx, finish := s.provider.TrackOperation(ctx, "sealpack.verify_batch", AttrBatchSize.Int(len(batch)))
	results, err := verifier.VerifyBatch(ctx, batch, opts, workers)
	finish(err)
	if err != nil {
		s.logger.ErrorContext(ctx, "batch verification aborted", "packs", len(batch), "error", err)
		return nil, err
	}
	for _, r := range results {
		s.record(ctx, r)
	}
	return results, nil
}

func (s *Service) record(ctx context.Context, r *verifier.Result) {
	reasons := make([]string, len(r.Reasons))
	for i, reason := range r.Reasons {
		reasons[i] = string(reason)
	}
	s.provider.RecordVerification(ctx, r.PackType, r.Valid, reasons)

	if r.Valid {
		s.logger.InfoContext(ctx, "evidence pack verified",
			"report_id", r.ReportID,
			"pack_type", r.PackType,
			"org_id", r.OrgID,
		)
		return
	}
	s.logger.WarnContext(ctx, "evidence pack failed verification",
		"report_id", r.ReportID,
		"pack_type", r.PackType,
		"org_id", r.OrgID,
		"reasons", reasons,
		"summary", r.Summary,
	)
}
