package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Mindburn-Labs/sealpack/pkg/evidence"
	"github.com/Mindburn-Labs/sealpack/pkg/packs"
	"github.com/Mindburn-Labs/sealpack/pkg/seal"
	"github.com/Mindburn-Labs/sealpack/pkg/verifier"
)

type harness struct {
	provider *Provider
	reader   *sdkmetric.ManualReader
	spans    *tracetest.SpanRecorder
	logs     *bytes.Buffer
	service  *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})

	p, err := NewWithProviders(tp, mp)
	require.NoError(t, err)

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return &harness{provider: p, reader: reader, spans: spans, logs: logs, service: NewService(p, logger)}
}

// sum returns the total of the int64 counter name over data points whose
// attributes include every attr.
func (h *harness) sum(t *testing.T, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, h.reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			data, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range data.DataPoints {
				if hasAll(dp.Attributes, attrs) {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func hasAll(set attribute.Set, attrs []attribute.KeyValue) bool {
	for _, kv := range attrs {
		v, ok := set.Value(kv.Key)
		if !ok || v.Emit() != kv.Value.Emit() {
			return false
		}
	}
	return true
}

func testBuilder(t *testing.T) *packs.Builder {
	t.Helper()
	k, err := seal.NewKey("obs-test", []byte("observability-test-secret"))
	require.NoError(t, err)
	return packs.NewBuilder(k).WithClock(func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	})
}

func paymentInput(total int64) packs.PaymentDistributionInput {
	return packs.PaymentDistributionInput{
		OrgID:      "org-1",
		PlanID:     "PLAN-9",
		LotID:      "LOT-42",
		Currency:   "USD",
		TotalCents: total,
		Payments: []packs.Payment{
			{PayeeID: "P-1", AmountCents: 6000},
			{PayeeID: "P-2", AmountCents: 3000},
		},
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "sealpack", config.ServiceName)
	require.Equal(t, "1.0.0", config.ServiceVersion)
	require.Equal(t, "development", config.Environment)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.False(t, config.Enabled)
	require.False(t, config.Insecure)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())

	ctx, finish := p.TrackOperation(context.Background(), "noop")
	finish(nil)
	require.NotNil(t, ctx)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviderNilConfig(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "sealpack", p.config.ServiceName)
}

func TestNewProviderEnabled(t *testing.T) {
	// Exporters dial lazily, so construction succeeds without a collector.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	config := DefaultConfig()
	config.Enabled = true
	config.Insecure = true
	config.SampleRate = 0.5

	p, err := New(ctx, config)
	if err != nil {
		t.Logf("provider creation failed (expected in some test envs): %v", err)
		return
	}
	require.NotNil(t, p.tracerProvider)
	require.NotNil(t, p.meterProvider)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelShutdown()
	require.NoError(t, p.Shutdown(shutdownCtx))
}

func TestTrackOperation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, finish := h.provider.TrackOperation(ctx, "op.ok", AttrPackType.String("lot_certification"))
	finish(nil)
	_, finish = h.provider.TrackOperation(ctx, "op.fail")
	finish(errors.New("boom"))

	assert.Equal(t, int64(1), h.sum(t, "sealpack.operations.total", AttrOperation.String("op.ok")))
	assert.Equal(t, int64(0), h.sum(t, "sealpack.errors.total", AttrOperation.String("op.ok")))
	assert.Equal(t, int64(1), h.sum(t, "sealpack.errors.total", AttrOperation.String("op.fail")))
	assert.Equal(t, int64(0), h.sum(t, "sealpack.operations.active"))

	ended := h.spans.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "op.ok", ended[0].Name())
	assert.Equal(t, codes.Unset, ended[0].Status().Code)
	assert.Equal(t, "op.fail", ended[1].Name())
	assert.Equal(t, codes.Error, ended[1].Status().Code)
	assert.Equal(t, "boom", ended[1].Status().Description)
}

func TestService_BuildAndVerify(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := testBuilder(t)

	in := paymentInput(9000)
	pack, err := h.service.Build(ctx, b, in)
	require.NoError(t, err)
	require.NotNil(t, pack)

	k, err := seal.NewKey("obs-test", []byte("observability-test-secret"))
	require.NoError(t, err)
	r := h.service.Verify(ctx, pack, verifier.Options{Key: k, Payloads: packs.PayloadMap(in)})
	require.True(t, r.Valid)

	assert.Equal(t, int64(1), h.sum(t, "sealpack.packs.sealed", AttrPackType.String("payment_distribution")))
	assert.Equal(t, int64(1), h.sum(t, "sealpack.verifications", AttrVerifyResult.String("pass")))
	assert.Equal(t, int64(0), h.sum(t, "sealpack.verification.failures"))

	ended := h.spans.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "sealpack.build", ended[0].Name())
	assert.Equal(t, "sealpack.verify", ended[1].Name())

	assert.Contains(t, h.logs.String(), `"msg":"evidence pack sealed"`)
	assert.Contains(t, h.logs.String(), `"msg":"evidence pack verified"`)
	assert.NotContains(t, h.logs.String(), "disagrees")
}

func TestService_PaymentDiscrepancyIsLoggedNotBlocked(t *testing.T) {
	h := newHarness(t)

	pack, err := h.service.Build(context.Background(), testBuilder(t), paymentInput(10000))
	require.NoError(t, err)
	require.NotNil(t, pack)

	assert.Contains(t, h.logs.String(), `"level":"WARN"`)
	assert.Contains(t, h.logs.String(), `"discrepancy_cents":1000`)

	ended := h.spans.Ended()
	require.Len(t, ended, 1)
	var events []string
	for _, e := range ended[0].Events() {
		events = append(events, e.Name)
	}
	assert.Equal(t, []string{"payment.discrepancy", "pack.sealed"}, events)
}

func TestService_PaymentDiscrepancyFromPointerInput(t *testing.T) {
	h := newHarness(t)

	in := paymentInput(8500)
	_, err := h.service.Build(context.Background(), testBuilder(t), &in)
	require.NoError(t, err)

	assert.Contains(t, h.logs.String(), `"discrepancy_cents":-500`)
	assert.Contains(t, h.logs.String(), `"plan_id":"PLAN-9"`)
}

func TestService_VerifyFailureCountsReasons(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pack, err := h.service.Build(ctx, testBuilder(t), paymentInput(9000))
	require.NoError(t, err)
	pack.Index.Artifacts[0].ContentHash = pack.Index.Artifacts[1].ContentHash

	k, err := seal.NewKey("obs-test", []byte("observability-test-secret"))
	require.NoError(t, err)
	r := h.service.Verify(ctx, pack, verifier.Options{Key: k})
	require.False(t, r.Valid)

	assert.Equal(t, int64(1), h.sum(t, "sealpack.verifications", AttrVerifyResult.String("fail")))
	assert.Equal(t, int64(1), h.sum(t, "sealpack.verification.failures",
		AttrFailureReason.String(string(verifier.MerkleMismatch))))
	assert.Equal(t, int64(1), h.sum(t, "sealpack.verification.failures",
		AttrFailureReason.String(string(verifier.SealMismatch))))
	assert.Contains(t, h.logs.String(), `"msg":"evidence pack failed verification"`)
}

func TestService_VerifyBytesMalformed(t *testing.T) {
	h := newHarness(t)

	r := h.service.VerifyBytes(context.Background(), []byte(`{"not":"a pack"`), verifier.Options{})
	require.False(t, r.Valid)
	assert.Equal(t, int64(1), h.sum(t, "sealpack.verifications", AttrVerifyResult.String("fail")))
	assert.Equal(t, int64(1), h.sum(t, "sealpack.verification.failures",
		AttrFailureReason.String(string(verifier.MalformedPack))))
}

func TestService_BuildError(t *testing.T) {
	h := newHarness(t)

	_, err := h.service.Build(context.Background(), packs.NewBuilder(seal.Key{}), paymentInput(9000))
	require.ErrorIs(t, err, seal.ErrMissingKey)

	assert.Equal(t, int64(1), h.sum(t, "sealpack.errors.total", AttrOperation.String("sealpack.build")))
	assert.Equal(t, int64(0), h.sum(t, "sealpack.packs.sealed"))
	assert.Contains(t, h.logs.String(), `"msg":"evidence pack build failed"`)
}

func TestSpanHelpers(t *testing.T) {
	h := newHarness(t)
	ctx, span := h.provider.StartSpan(context.Background(), "helpers")
	require.Equal(t, span, SpanFromContext(ctx))

	AddSpanEvent(ctx, "checkpoint", AttrOrgID.String("org-1"))
	SetSpanStatus(ctx, nil)
	span.End()

	ended := h.spans.Ended()
	require.Len(t, ended, 1)
	require.Len(t, ended[0].Events(), 1)
	assert.Equal(t, "checkpoint", ended[0].Events()[0].Name)
	assert.Equal(t, codes.Unset, ended[0].Status().Code)
}

func TestService_VerifyBatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := testBuilder(t)

	good, err := h.service.Build(ctx, b, paymentInput(9000))
	require.NoError(t, err)
	bad, err := h.service.Build(ctx, b, paymentInput(9000))
	require.NoError(t, err)
	sig := []byte(bad.Seal.Signature)
	if sig[len(sig)-1] == '0' {
		sig[len(sig)-1] = '1'
	} else {
		sig[len(sig)-1] = '0'
	}
	bad.Seal.Signature = string(sig)

	k, err := seal.NewKey("obs-test", []byte("observability-test-secret"))
	require.NoError(t, err)
	results, err := h.service.VerifyBatch(ctx, []*evidence.EvidencePack{good, bad}, verifier.Options{Key: k}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Valid)
	assert.False(t, results[1].Valid)

	assert.Equal(t, int64(1), h.sum(t, "sealpack.verifications", AttrVerifyResult.String("pass")))
	assert.Equal(t, int64(1), h.sum(t, "sealpack.verifications", AttrVerifyResult.String("fail")))
	assert.Equal(t, int64(1), h.sum(t, "sealpack.operations.total", AttrOperation.String("sealpack.verify_batch")))
}

func TestService_VerifyBatchCancelled(t *testing.T) {
	h := newHarness(t)
	pack, err := h.service.Build(context.Background(), testBuilder(t), paymentInput(9000))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.service.VerifyBatch(ctx, []*evidence.EvidencePack{pack}, verifier.Options{}, 1)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), h.sum(t, "sealpack.errors.total", AttrOperation.String("sealpack.verify_batch")))
}
