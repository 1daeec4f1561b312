package evidence

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/sealpack/pkg/canonicalize"
	"github.com/Mindburn-Labs/sealpack/pkg/merkle"
	"github.com/Mindburn-Labs/sealpack/pkg/seal"
)

var fixedTime = time.Date(2025, 3, 14, 9, 26, 53, 589000000, time.UTC)

func fixedClock() time.Time { return fixedTime }

func testKey(t *testing.T) seal.Key {
	t.Helper()
	k, err := seal.NewKey("test-key", []byte("evidence-test-secret"))
	require.NoError(t, err)
	return k
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func samplePack(t *testing.T) *EvidencePack {
	t.Helper()
	artifacts, err := HashPayloads([]Payload{
		{Label: "lot-summary", Value: map[string]interface{}{"lotId": "LOT-1", "producerCount": 2}},
		{Label: "quality-inspection", Value: map[string]interface{}{"grade": "A", "moisturePct": 11.5}},
		{Label: "certifications", Value: []string{"organic", "fair-trade"}},
	})
	require.NoError(t, err)
	ix, err := BuildPackIndex("org-1", artifacts, LotCertificationMetadata{LotID: "LOT-1"}, fixedClock)
	require.NoError(t, err)
	p, err := SealPack(ix, SealOptions{Key: testKey(t), Clock: fixedClock})
	require.NoError(t, err)
	return p
}

func TestNewArtifact(t *testing.T) {
	a, err := NewArtifact("quality-inspection", map[string]interface{}{"grade": "A", "score": 1.50})
	require.NoError(t, err)

	canonical := `{"grade":"A","score":1.5}`
	assert.Equal(t, "quality-inspection", a.Label)
	assert.Equal(t, sha256Hex(canonical), a.ContentHash)
	assert.Equal(t, MimeTypeJSON, a.MimeType)
	assert.Equal(t, int64(len(canonical)), a.SizeBytes)
}

func TestNewArtifact_OrderIndependent(t *testing.T) {
	type inspection struct {
		Score float64 `json:"score"`
		Grade string  `json:"grade"`
	}
	a1, err := NewArtifact("qi", inspection{Score: 1.5, Grade: "A"})
	require.NoError(t, err)
	a2, err := NewArtifact("qi", map[string]interface{}{"grade": "A", "score": 1.5})
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
}

func TestNewArtifact_SerializationError(t *testing.T) {
	_, err := NewArtifact("bad", map[string]interface{}{"weightKg": math.NaN()})
	require.Error(t, err)

	var serr *canonicalize.SerializationError
	require.True(t, errors.As(err, &serr))
	assert.Contains(t, err.Error(), `artifact "bad"`)
}

func TestNewBinaryArtifact(t *testing.T) {
	a := NewBinaryArtifact("scan", "", []byte("raw bytes"))
	assert.Equal(t, MimeTypeOctetStream, a.MimeType)
	assert.Equal(t, sha256Hex("raw bytes"), a.ContentHash)
	assert.Equal(t, int64(9), a.SizeBytes)

	pdf := NewBinaryArtifact("cert", "application/pdf", []byte("%PDF"))
	assert.Equal(t, "application/pdf", pdf.MimeType)
}

func TestHashPayloads_KeepsOrderAndDuplicates(t *testing.T) {
	artifacts, err := HashPayloads([]Payload{
		{Label: "b", Value: 2},
		{Label: "a", Value: 1},
		{Label: "a", Value: 1},
	})
	require.NoError(t, err)
	require.Len(t, artifacts, 3)
	assert.Equal(t, "b", artifacts[0].Label)
	assert.Equal(t, artifacts[1], artifacts[2])
}

func TestBuildPackIndex(t *testing.T) {
	a, err := NewArtifact("chain-summary", map[string]interface{}{"entryCount": 0})
	require.NoError(t, err)

	ix, err := BuildPackIndex("org-9", []Artifact{a}, TraceabilityChainMetadata{ChainID: "CH-1"}, fixedClock)
	require.NoError(t, err)

	assert.Equal(t, SchemaVersion, ix.SchemaVersion)
	assert.Equal(t, PackTypeTraceabilityChain, ix.PackType)
	assert.Equal(t, "org-9", ix.OrgID)
	assert.Equal(t, "2025-03-14T09:26:53.589Z", ix.CreatedAt)
	assert.Equal(t, 1, ix.ArtifactCount)
	assert.Equal(t, a.ContentHash, ix.MerkleRoot, "single artifact is the root")
	require.NoError(t, ix.CheckIntegrity())
}

func TestBuildPackIndex_Empty(t *testing.T) {
	ix, err := BuildPackIndex("org-9", nil, TraceabilityChainMetadata{ChainID: "CH-1"}, fixedClock)
	require.NoError(t, err)
	assert.Equal(t, merkle.EmptyRoot, ix.MerkleRoot)
	assert.Equal(t, 0, ix.ArtifactCount)
	assert.NotNil(t, ix.Artifacts)
}

func TestBuildPackIndex_NilMetadata(t *testing.T) {
	_, err := BuildPackIndex("org-9", nil, nil, fixedClock)
	require.Error(t, err)
}

func TestBuildPackIndex_DoesNotAliasArtifacts(t *testing.T) {
	a, err := NewArtifact("x", 1)
	require.NoError(t, err)
	in := []Artifact{a}
	ix, err := BuildPackIndex("org", in, LotCertificationMetadata{LotID: "L"}, fixedClock)
	require.NoError(t, err)
	in[0].Label = "changed"
	assert.Equal(t, "x", ix.Artifacts[0].Label)
}

func TestBuildPackIndex_NilClockUsesWallTime(t *testing.T) {
	before := time.Now().UTC().Truncate(time.Millisecond)
	ix, err := BuildPackIndex("org", nil, LotCertificationMetadata{LotID: "L"}, nil)
	require.NoError(t, err)
	created, err := ParseTimestamp(ix.CreatedAt)
	require.NoError(t, err)
	assert.False(t, created.Before(before))
}

func TestMetadata_DoesNotCollideWithReservedFields(t *testing.T) {
	variants := []Metadata{
		LotCertificationMetadata{LotID: "L"},
		ShipmentManifestMetadata{ShipmentID: "S"},
		PaymentDistributionMetadata{PlanID: "P", LotID: "L"},
		TraceabilityChainMetadata{ChainID: "C"},
	}
	for _, m := range variants {
		assert.True(t, m.PackType().Known())
		keys := make([]string, 0)
		for k := range m.Fields() {
			assert.NotContains(t, ReservedFields, k, "%s metadata key %q", m.PackType(), k)
			keys = append(keys, k)
		}
		assert.ElementsMatch(t, MetadataKeys(m.PackType()), keys)

		back, err := MetadataFromFields(m.PackType(), m.Fields())
		require.NoError(t, err)
		assert.Equal(t, m, back)
	}
}

func TestMetadataFromFields_Strict(t *testing.T) {
	_, err := MetadataFromFields(PackTypeLotCertification, map[string]string{})
	require.Error(t, err)

	_, err = MetadataFromFields(PackTypeLotCertification, map[string]string{"lotId": "L", "shipmentId": "S"})
	require.Error(t, err)

	_, err = MetadataFromFields(PackTypeLotCertification, map[string]string{"lotId": "L", "zeta": "z", "alpha": "a", "mid": "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unexpected members "alpha", "mid", "zeta"`)

	_, err = MetadataFromFields("warehouse_receipt", map[string]string{})
	require.ErrorIs(t, err, ErrUnknownPackType)
}

func TestSealPack_MissingKey(t *testing.T) {
	ix, err := BuildPackIndex("org", nil, LotCertificationMetadata{LotID: "L"}, fixedClock)
	require.NoError(t, err)

	_, err = SealPack(ix, SealOptions{})
	require.ErrorIs(t, err, seal.ErrMissingKey)

	_, err = GenerateSeal(ix, SealOptions{Key: seal.Key{ID: "id-only"}})
	require.ErrorIs(t, err, seal.ErrMissingKey)
}

func TestSealPack_UnsupportedAlgorithm(t *testing.T) {
	ix, err := BuildPackIndex("org", nil, LotCertificationMetadata{LotID: "L"}, fixedClock)
	require.NoError(t, err)
	_, err = SealPack(ix, SealOptions{Key: testKey(t), Algorithm: "RSA-PSS"})
	require.ErrorIs(t, err, seal.ErrUnsupportedAlgorithm)
}

func TestSealPack_RejectsCorruptIndex(t *testing.T) {
	a, err := NewArtifact("x", 1)
	require.NoError(t, err)
	b, err := NewArtifact("y", 2)
	require.NoError(t, err)

	ix, err := BuildPackIndex("org", []Artifact{a, b}, LotCertificationMetadata{LotID: "L"}, fixedClock)
	require.NoError(t, err)

	badCount := *ix
	badCount.ArtifactCount = 3
	_, err = SealPack(&badCount, SealOptions{Key: testKey(t)})
	require.ErrorIs(t, err, ErrCorruptIndex)

	badRoot := *ix
	badRoot.MerkleRoot = a.ContentHash
	_, err = SealPack(&badRoot, SealOptions{Key: testKey(t)})
	require.ErrorIs(t, err, ErrCorruptIndex)

	badMeta := *ix
	badMeta.Metadata = ShipmentManifestMetadata{ShipmentID: "S"}
	_, err = SealPack(&badMeta, SealOptions{Key: testKey(t)})
	require.ErrorIs(t, err, ErrCorruptIndex)
}

func TestSealPack_Deterministic(t *testing.T) {
	p1 := samplePack(t)
	p2 := samplePack(t)
	assert.Equal(t, p1.Index.MerkleRoot, p2.Index.MerkleRoot)
	assert.Equal(t, p1.Seal.Signature, p2.Seal.Signature)

	j1, err := json.Marshal(p1)
	require.NoError(t, err)
	j2, err := json.Marshal(p2)
	require.NoError(t, err)
	assert.Equal(t, j1, j2)
}

func TestSealPack_KeyIDFromFingerprint(t *testing.T) {
	ix, err := BuildPackIndex("org", nil, LotCertificationMetadata{LotID: "L"}, fixedClock)
	require.NoError(t, err)
	secret := []byte("anonymous-secret")
	p, err := SealPack(ix, SealOptions{Key: seal.Key{Secret: secret}, Clock: fixedClock})
	require.NoError(t, err)
	assert.Equal(t, seal.Fingerprint(secret), p.Seal.KeyID)
}

func TestVerifySeal_DetectsIndexAndHeaderTampering(t *testing.T) {
	key := testKey(t)
	p := samplePack(t)

	ok, err := p.VerifySeal(key)
	require.NoError(t, err)
	require.True(t, ok)

	mutations := map[string]func(p *EvidencePack){
		"orgId":     func(p *EvidencePack) { p.Index.OrgID = "org-2" },
		"createdAt": func(p *EvidencePack) { p.Index.CreatedAt = "2025-03-15T00:00:00.000Z" },
		"metadata":  func(p *EvidencePack) { p.Index.Metadata = LotCertificationMetadata{LotID: "LOT-2"} },
		"label":     func(p *EvidencePack) { p.Index.Artifacts[0].Label = "renamed" },
		"sizeBytes": func(p *EvidencePack) { p.Index.Artifacts[1].SizeBytes++ },
		"keyId":     func(p *EvidencePack) { p.Seal.KeyID = "other-key" },
		"sealedAt":  func(p *EvidencePack) { p.Seal.SealedAt = "2030-01-01T00:00:00.000Z" },
		"signature": func(p *EvidencePack) { p.Seal.Signature = strings.Repeat("0", 64) },
		"algorithm": func(p *EvidencePack) { p.Seal.Algorithm = seal.HMACSHA512 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			tampered := samplePack(t)
			mutate(tampered)
			ok, err := tampered.VerifySeal(key)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

// TestInteropVector recomputes every step with nothing but the standard
// library and a hand-written canonical string.
func TestInteropVector(t *testing.T) {
	summary := `{"lotId":"LOT-1"}`
	inspection := `{"grade":"A"}`
	h1, h2 := sha256Hex(summary), sha256Hex(inspection)

	raw1, _ := hex.DecodeString(h1)
	raw2, _ := hex.DecodeString(h2)
	rootSum := sha256.Sum256(append(raw1, raw2...))
	root := hex.EncodeToString(rootSum[:])

	expected := `{"artifactCount":2,"artifacts":[` +
		`{"label":"lot-summary","mimeType":"application/json","sha256":"` + h1 + `","sizeBytes":` + strconv.Itoa(len(summary)) + `},` +
		`{"label":"quality-inspection","mimeType":"application/json","sha256":"` + h2 + `","sizeBytes":` + strconv.Itoa(len(inspection)) + `}],` +
		`"createdAt":"2025-03-14T09:26:53.589Z","lotId":"LOT-1","merkleRoot":"` + root + `",` +
		`"orgId":"org-1","packType":"lot_certification","schemaVersion":"1.0.0",` +
		`"seal":{"algorithm":"HMAC-SHA256","keyId":"test-key","sealedAt":"2025-03-14T09:26:53.589Z"}}`

	secret := []byte("evidence-test-secret")
	m := hmac.New(sha256.New, secret)
	m.Write([]byte(expected))
	wantSig := hex.EncodeToString(m.Sum(nil))

	artifacts, err := HashPayloads([]Payload{
		{Label: "lot-summary", Value: map[string]string{"lotId": "LOT-1"}},
		{Label: "quality-inspection", Value: map[string]string{"grade": "A"}},
	})
	require.NoError(t, err)
	ix, err := BuildPackIndex("org-1", artifacts, LotCertificationMetadata{LotID: "LOT-1"}, fixedClock)
	require.NoError(t, err)
	p, err := SealPack(ix, SealOptions{Key: testKey(t), Clock: fixedClock})
	require.NoError(t, err)

	assert.Equal(t, root, p.Index.MerkleRoot)
	payload, err := SigningPayload(&p.Index, &p.Seal)
	require.NoError(t, err)
	assert.Equal(t, expected, string(payload))
	assert.Equal(t, wantSig, p.Seal.Signature)
}

func TestProofForArtifact(t *testing.T) {
	p := samplePack(t)
	proof, err := p.Index.Proof("certifications")
	require.NoError(t, err)
	assert.True(t, merkle.VerifyInclusionProof(*proof, p.Index.MerkleRoot))

	_, err = p.Index.Proof("missing")
	require.Error(t, err)

	a, ok := p.Index.Artifact("quality-inspection")
	require.True(t, ok)
	assert.Equal(t, proofLeaf(t, p, "quality-inspection"), a.ContentHash)
}

func proofLeaf(t *testing.T, p *EvidencePack, label string) string {
	t.Helper()
	proof, err := p.Index.Proof(label)
	require.NoError(t, err)
	return proof.LeafHash
}
