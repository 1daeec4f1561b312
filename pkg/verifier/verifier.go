// Package verifier provides offline evidence pack verification.
//
// The verifier has no network or storage dependencies. It trusts only the
// hashing and MAC primitives and the pack format itself, never the system
// that produced the pack. Verification findings are data: every check runs,
// and the report lists all of them rather than stopping at the first failure.
package verifier

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/Mindburn-Labs/sealpack/pkg/canonicalize"
	"github.com/Mindburn-Labs/sealpack/pkg/evidence"
	"github.com/Mindburn-Labs/sealpack/pkg/merkle"
	"github.com/Mindburn-Labs/sealpack/pkg/seal"
)

const VerifierVersion = "1.0.0"

// SupportedSchemaVersions is the semver constraint an index schemaVersion
// must satisfy. Patch releases share the 1.0 structure.
const SupportedSchemaVersions = "~1.0.0"

// FailureReason classifies a failed check.
type FailureReason string

const (
	MerkleMismatch       FailureReason = "MerkleMismatch"
	SealMismatch         FailureReason = "SealMismatch"
	UnsupportedVersion   FailureReason = "UnsupportedVersion"
	UnsupportedAlgorithm FailureReason = "UnsupportedAlgorithm"
	StructureInvalid     FailureReason = "StructureInvalid"
	ArtifactMismatch     FailureReason = "ArtifactMismatch"
	MalformedPack        FailureReason = "MalformedPack"
)

// Check names, in the order they run.
const (
	CheckDecode        = "decode"
	CheckSchemaVersion = "schema_version"
	CheckStructure     = "structure"
	CheckArtifact      = "artifact:"
	CheckMerkleRoot    = "merkle_root"
	CheckSealAlgorithm = "seal_algorithm"
	CheckSeal          = "seal"
)

// CheckResult represents a single verification check.
type CheckResult struct {
	Name    string        `json:"name"`
	Pass    bool          `json:"pass"`
	Skipped bool          `json:"skipped,omitempty"`
	Detail  string        `json:"detail,omitempty"`
	Reason  FailureReason `json:"reason,omitempty"`
}

// Mismatch describes an artifact whose supplied payload does not match the
// pack.
type Mismatch struct {
	Label    string `json:"label"`
	Field    string `json:"field"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// Result is the full verification report. It carries no wall-clock data, so
// the same pack verified with the same inputs always yields the same report.
type Result struct {
	ReportID        string          `json:"reportId"`
	Valid           bool            `json:"valid"`
	Reasons         []FailureReason `json:"reasons"`
	Checks          []CheckResult   `json:"checks"`
	Mismatches      []Mismatch      `json:"mismatches"`
	PackType        string          `json:"packType,omitempty"`
	OrgID           string          `json:"orgId,omitempty"`
	MerkleRoot      string          `json:"merkleRoot,omitempty"`
	Summary         string          `json:"summary"`
	IssueCount      int             `json:"issueCount"`
	VerifierVersion string          `json:"verifierVersion"`
}

// HasReason reports whether r failed for reason.
func (r *Result) HasReason(reason FailureReason) bool {
	for _, x := range r.Reasons {
		if x == reason {
			return true
		}
	}
	return false
}

// Check returns the check with the given name.
func (r *Result) Check(name string) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckResult{}, false
}

// Options supplies key material and, optionally, original payloads.
type Options struct {
	// Key verifies the seal. When empty, Keyring is consulted for the seal's keyId.
	Key     seal.Key
	Keyring *seal.Keyring
	// DeriveOrgKeys treats Key (or the keyring default) as a master key and
	// verifies with the key derived for the pack's organisation.
	DeriveOrgKeys bool
	// Payloads maps artifact labels to original payloads. When nil, artifact
	// contents are not re-hashed.
	Payloads map[string]interface{}
}

var reportNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://sealpack.schemas.local/verification-report"))

// Verify checks pack against key.
func Verify(pack *evidence.EvidencePack, key seal.Key) *Result {
	return VerifyWith(pack, Options{Key: key})
}

// VerifyWith runs every check against pack and returns the full report.
func VerifyWith(pack *evidence.EvidencePack, opts Options) *Result {
	r := newResult()
	if pack == nil {
		r.addCheck(CheckResult{Name: CheckDecode, Reason: MalformedPack, Detail: "no pack supplied"})
		return r.finish()
	}
	r.PackType = string(pack.Index.PackType)
	r.OrgID = pack.Index.OrgID
	r.MerkleRoot = pack.Index.MerkleRoot

	r.addCheck(checkSchemaVersion(pack))
	r.addCheck(checkStructure(pack))
	if opts.Payloads != nil {
		cs, ms := checkArtifacts(pack, opts.Payloads)
		r.addChecks(cs)
		r.Mismatches = append(r.Mismatches, ms...)
	}
	r.addCheck(checkMerkleRoot(pack))
	r.addCheck(checkSealAlgorithm(pack))
	r.addCheck(checkSeal(pack, opts))
	return r.finish()
}

// VerifyJSON decodes a JSON pack (schema-validated, strict) and verifies it.
// A pack that cannot be decoded yields a MalformedPack report, not an error.
func VerifyJSON(data []byte, opts Options) *Result {
	pack, err := evidence.DecodeJSON(data)
	if err != nil {
		return malformed(err)
	}
	return VerifyWith(pack, opts)
}

// VerifyBytes verifies a pack in JSON or CBOR encoding.
func VerifyBytes(data []byte, opts Options) *Result {
	pack, err := evidence.Decode(data)
	if err != nil {
		return malformed(err)
	}
	return VerifyWith(pack, opts)
}

// VerifyFile reads and verifies a pack file. Only I/O failures are errors.
func VerifyFile(path string, opts Options) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("verifier: read pack: %w", err)
	}
	return VerifyBytes(data, opts), nil
}

func malformed(err error) *Result {
	r := newResult()
	r.addCheck(CheckResult{Name: CheckDecode, Reason: MalformedPack, Detail: err.Error()})
	return r.finish()
}

func newResult() *Result {
	return &Result{
		Reasons:         make([]FailureReason, 0),
		Checks:          make([]CheckResult, 0),
		Mismatches:      make([]Mismatch, 0),
		VerifierVersion: VerifierVersion,
	}
}

func (r *Result) addCheck(c CheckResult) {
	r.Checks = append(r.Checks, c)
}

func (r *Result) addChecks(cs []CheckResult) {
	r.Checks = append(r.Checks, cs...)
}

func (r *Result) finish() *Result {
	failed := 0
	seen := make(map[FailureReason]bool)
	for _, c := range r.Checks {
		if c.Pass {
			continue
		}
		failed++
		if !seen[c.Reason] {
			seen[c.Reason] = true
			r.Reasons = append(r.Reasons, c.Reason)
		}
	}
	r.IssueCount = failed
	r.Valid = failed == 0
	if failed > 0 {
		r.Summary = fmt.Sprintf("FAIL: %d/%d checks failed", failed, len(r.Checks))
	} else {
		r.Summary = fmt.Sprintf("PASS: %d/%d checks passed", len(r.Checks), len(r.Checks))
	}

	// The ID is a name-based UUID over the canonical report body.
	r.ReportID = ""
	if body, err := canonicalize.JCS(r); err == nil {
		r.ReportID = uuid.NewSHA1(reportNamespace, body).String()
	}
	return r
}

// --- Check implementations ---

func checkSchemaVersion(pack *evidence.EvidencePack) CheckResult {
	name := CheckSchemaVersion
	v, err := semver.StrictNewVersion(pack.Index.SchemaVersion)
	if err != nil {
		return CheckResult{Name: name, Reason: UnsupportedVersion, Detail: fmt.Sprintf("schemaVersion %q is not a semantic version", pack.Index.SchemaVersion)}
	}
	c, err := semver.NewConstraint(SupportedSchemaVersions)
	if err != nil {
		return CheckResult{Name: name, Reason: UnsupportedVersion, Detail: err.Error()}
	}
	if !c.Check(v) {
		return CheckResult{Name: name, Reason: UnsupportedVersion, Detail: fmt.Sprintf("schemaVersion %s outside supported range %s", v, SupportedSchemaVersions)}
	}
	return CheckResult{Name: name, Pass: true, Detail: "schemaVersion " + v.String()}
}

func checkStructure(pack *evidence.EvidencePack) CheckResult {
	name := CheckStructure
	ix := &pack.Index
	fail := func(format string, args ...interface{}) CheckResult {
		return CheckResult{Name: name, Reason: StructureInvalid, Detail: fmt.Sprintf(format, args...)}
	}

	if !ix.PackType.Known() {
		return fail("unknown packType %q", ix.PackType)
	}
	if ix.Metadata == nil || ix.Metadata.PackType() != ix.PackType {
		return fail("metadata does not match packType %q", ix.PackType)
	}
	if ix.ArtifactCount != len(ix.Artifacts) {
		return fail("artifactCount %d but %d artifacts present", ix.ArtifactCount, len(ix.Artifacts))
	}
	labels := make(map[string]bool, len(ix.Artifacts))
	for i, a := range ix.Artifacts {
		if a.Label == "" {
			return fail("artifact %d has an empty label", i)
		}
		if labels[a.Label] {
			return fail("duplicate artifact label %q", a.Label)
		}
		labels[a.Label] = true
		if !isDigest(a.ContentHash) {
			return fail("artifact %q hash is not a lowercase SHA-256 hex digest", a.Label)
		}
		if a.SizeBytes < 0 {
			return fail("artifact %q has negative size", a.Label)
		}
	}
	if _, err := evidence.ParseTimestamp(ix.CreatedAt); err != nil {
		return fail("createdAt %q is not a valid timestamp", ix.CreatedAt)
	}
	if _, err := evidence.ParseTimestamp(pack.Seal.SealedAt); err != nil {
		return fail("sealedAt %q is not a valid timestamp", pack.Seal.SealedAt)
	}
	return CheckResult{Name: name, Pass: true, Detail: fmt.Sprintf("%d artifacts", len(ix.Artifacts))}
}

func checkArtifacts(pack *evidence.EvidencePack, payloads map[string]interface{}) ([]CheckResult, []Mismatch) {
	var checks []CheckResult
	var mismatches []Mismatch
	known := make(map[string]bool, len(pack.Index.Artifacts))

	for _, a := range pack.Index.Artifacts {
		known[a.Label] = true
		name := CheckArtifact + a.Label
		payload, ok := payloads[a.Label]
		if !ok {
			checks = append(checks, CheckResult{Name: name, Pass: true, Skipped: true, Detail: "no payload supplied"})
			continue
		}

		got, err := rehash(a, payload)
		if err != nil {
			checks = append(checks, CheckResult{Name: name, Reason: ArtifactMismatch, Detail: err.Error()})
			mismatches = append(mismatches, Mismatch{Label: a.Label, Field: "payload", Actual: "unhashable"})
			continue
		}

		var fields []Mismatch
		if got.ContentHash != a.ContentHash {
			fields = append(fields, Mismatch{Label: a.Label, Field: "sha256", Expected: a.ContentHash, Actual: got.ContentHash})
		}
		if got.SizeBytes != a.SizeBytes {
			fields = append(fields, Mismatch{Label: a.Label, Field: "sizeBytes", Expected: fmt.Sprint(a.SizeBytes), Actual: fmt.Sprint(got.SizeBytes)})
		}
		if len(fields) > 0 {
			checks = append(checks, CheckResult{Name: name, Reason: ArtifactMismatch, Detail: "payload does not match artifact"})
			mismatches = append(mismatches, fields...)
			continue
		}
		checks = append(checks, CheckResult{Name: name, Pass: true, Detail: "payload hash verified"})
	}

	extra := make([]string, 0)
	for label := range payloads {
		if !known[label] {
			extra = append(extra, label)
		}
	}
	sort.Strings(extra)
	for _, label := range extra {
		checks = append(checks, CheckResult{Name: CheckArtifact + label, Reason: ArtifactMismatch, Detail: "payload has no artifact in pack"})
		mismatches = append(mismatches, Mismatch{Label: label, Field: "label", Actual: label})
	}
	return checks, mismatches
}

// rehash hashes payload the way the artifact was hashed: raw bytes for
// binary artifacts, canonical JSON otherwise.
func rehash(a evidence.Artifact, payload interface{}) (evidence.Artifact, error) {
	if b, ok := payload.([]byte); ok && a.MimeType != evidence.MimeTypeJSON {
		return evidence.NewBinaryArtifact(a.Label, a.MimeType, b), nil
	}
	return evidence.NewArtifact(a.Label, payload)
}

func checkMerkleRoot(pack *evidence.EvidencePack) CheckResult {
	name := CheckMerkleRoot
	root, err := merkle.ComputeRoot(pack.Index.ArtifactHashes())
	if err != nil {
		return CheckResult{Name: name, Reason: MerkleMismatch, Detail: err.Error()}
	}
	if root != pack.Index.MerkleRoot {
		return CheckResult{Name: name, Reason: MerkleMismatch, Detail: fmt.Sprintf("merkleRoot %s, recomputed %s", pack.Index.MerkleRoot, root)}
	}
	return CheckResult{Name: name, Pass: true, Detail: "merkle root recomputed"}
}

func checkSealAlgorithm(pack *evidence.EvidencePack) CheckResult {
	name := CheckSealAlgorithm
	if _, err := seal.ParseAlgorithm(string(pack.Seal.Algorithm)); err != nil {
		return CheckResult{Name: name, Reason: UnsupportedAlgorithm, Detail: fmt.Sprintf("algorithm %q is not supported", pack.Seal.Algorithm)}
	}
	return CheckResult{Name: name, Pass: true, Detail: string(pack.Seal.Algorithm)}
}

func checkSeal(pack *evidence.EvidencePack, opts Options) CheckResult {
	name := CheckSeal
	if !pack.Seal.Algorithm.Supported() {
		return CheckResult{Name: name, Reason: SealMismatch, Detail: "cannot authenticate with an unsupported algorithm"}
	}
	key, err := resolveKey(pack, opts)
	if err != nil {
		return CheckResult{Name: name, Reason: SealMismatch, Detail: err.Error()}
	}
	ok, err := pack.VerifySeal(key)
	if err != nil {
		return CheckResult{Name: name, Reason: SealMismatch, Detail: err.Error()}
	}
	if !ok {
		return CheckResult{Name: name, Reason: SealMismatch, Detail: "signature does not match pack contents"}
	}
	return CheckResult{Name: name, Pass: true, Detail: "seal verified with key " + pack.Seal.KeyID}
}

var errNoKey = errors.New("no verification key available")

func resolveKey(pack *evidence.EvidencePack, opts Options) (seal.Key, error) {
	if opts.DeriveOrgKeys {
		master := opts.Key
		if master.Empty() && opts.Keyring != nil {
			k, err := opts.Keyring.Default()
			if err != nil {
				return seal.Key{}, errNoKey
			}
			master = k
		}
		if master.Empty() {
			return seal.Key{}, errNoKey
		}
		return seal.DeriveOrgKey(master, pack.Index.OrgID)
	}
	if !opts.Key.Empty() {
		return opts.Key, nil
	}
	if opts.Keyring != nil {
		if k, ok := opts.Keyring.Lookup(pack.Seal.KeyID); ok {
			return k, nil
		}
		return seal.Key{}, fmt.Errorf("no key for keyId %q", pack.Seal.KeyID)
	}
	return seal.Key{}, errNoKey
}

func isDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
