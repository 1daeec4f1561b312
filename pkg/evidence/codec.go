package evidence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/Mindburn-Labs/sealpack/pkg/canonicalize"
	"github.com/Mindburn-Labs/sealpack/pkg/seal"
)

// cborEncMode uses Core Deterministic Encoding (RFC 8949 §4.2) so the same
// pack always produces identical CBOR bytes.
var cborEncMode cbor.EncMode

var cborDecMode cbor.DecMode

func init() {
	var err error
	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("evidence: CBOR encoder initialization failed: " + err.Error())
	}
	cborDecMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
		DupMapKey:      cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("evidence: CBOR decoder initialization failed: " + err.Error())
	}
}

// wireObject is the flat pack object: index members, metadata and "seal".
func (p *EvidencePack) wireObject() map[string]interface{} {
	obj := p.Index.wireObject()
	obj["seal"] = map[string]interface{}{
		"algorithm": string(p.Seal.Algorithm),
		"keyId":     p.Seal.KeyID,
		"signature": p.Seal.Signature,
		"sealedAt":  p.Seal.SealedAt,
	}
	return obj
}

// genericObject is wireObject with artifacts expanded to plain maps, for
// encoders that do not read json struct tags.
func (p *EvidencePack) genericObject() map[string]interface{} {
	obj := p.wireObject()
	artifacts := make([]interface{}, len(p.Index.Artifacts))
	for i, a := range p.Index.Artifacts {
		artifacts[i] = map[string]interface{}{
			"label":     a.Label,
			"sha256":    a.ContentHash,
			"mimeType":  a.MimeType,
			"sizeBytes": a.SizeBytes,
		}
	}
	obj["artifacts"] = artifacts
	return obj
}

// MarshalJSON emits the canonical (RFC 8785) JSON form of the pack.
func (p EvidencePack) MarshalJSON() ([]byte, error) {
	data, err := canonicalize.JCS(p.wireObject())
	if err != nil {
		return nil, fmt.Errorf("evidence: encode pack: %w", err)
	}
	return data, nil
}

// MarshalJSON emits the canonical JSON form of the unsealed index.
func (ix PackIndex) MarshalJSON() ([]byte, error) {
	data, err := canonicalize.JCS(ix.wireObject())
	if err != nil {
		return nil, fmt.Errorf("evidence: encode index: %w", err)
	}
	return data, nil
}

type wireArtifact struct {
	Label       *string `json:"label"`
	ContentHash *string `json:"sha256"`
	MimeType    *string `json:"mimeType"`
	SizeBytes   *int64  `json:"sizeBytes"`
}

type wireSeal struct {
	Algorithm *string `json:"algorithm"`
	KeyID     *string `json:"keyId"`
	Signature *string `json:"signature"`
	SealedAt  *string `json:"sealedAt"`
}

// UnmarshalJSON decodes a pack strictly: every reserved member and the seal
// must be present, unknown members inside artifacts or the seal are
// rejected, and top-level members beyond the reserved set must be exactly
// the metadata members of the declared pack type. A member name repeated
// within any object is rejected.
func (p *EvidencePack) UnmarshalJSON(data []byte) error {
	if err := rejectDuplicateMembers(data); err != nil {
		return err
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPack, err)
	}
	for _, name := range ReservedFields {
		if _, ok := members[name]; !ok {
			return fmt.Errorf("%w: missing member %q", ErrMalformedPack, name)
		}
	}

	var ix PackIndex
	var packType string
	fields := []struct {
		name string
		dst  interface{}
	}{
		{"schemaVersion", &ix.SchemaVersion},
		{"packType", &packType},
		{"orgId", &ix.OrgID},
		{"createdAt", &ix.CreatedAt},
		{"artifactCount", &ix.ArtifactCount},
		{"merkleRoot", &ix.MerkleRoot},
	}
	for _, f := range fields {
		if err := json.Unmarshal(members[f.name], f.dst); err != nil {
			return fmt.Errorf("%w: member %q: %v", ErrMalformedPack, f.name, err)
		}
	}
	ix.PackType = PackType(packType)

	var artifacts []wireArtifact
	if err := strictUnmarshal(members["artifacts"], &artifacts); err != nil {
		return fmt.Errorf("%w: member \"artifacts\": %v", ErrMalformedPack, err)
	}
	if artifacts == nil {
		return fmt.Errorf("%w: member \"artifacts\" must be an array", ErrMalformedPack)
	}
	ix.Artifacts = make([]Artifact, len(artifacts))
	for i, a := range artifacts {
		if a.Label == nil || a.ContentHash == nil || a.MimeType == nil || a.SizeBytes == nil {
			return fmt.Errorf("%w: artifact %d is incomplete", ErrMalformedPack, i)
		}
		ix.Artifacts[i] = Artifact{Label: *a.Label, ContentHash: *a.ContentHash, MimeType: *a.MimeType, SizeBytes: *a.SizeBytes}
	}

	var ws wireSeal
	if err := strictUnmarshal(members["seal"], &ws); err != nil {
		return fmt.Errorf("%w: member \"seal\": %v", ErrMalformedPack, err)
	}
	if ws.Algorithm == nil || ws.KeyID == nil || ws.Signature == nil || ws.SealedAt == nil {
		return fmt.Errorf("%w: seal is incomplete", ErrMalformedPack)
	}

	names := make([]string, 0, len(members))
	for name := range members {
		if !isReserved(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	meta := make(map[string]string, len(names))
	for _, name := range names {
		var v string
		if err := json.Unmarshal(members[name], &v); err != nil {
			return fmt.Errorf("%w: metadata member %q: %v", ErrMalformedPack, name, err)
		}
		meta[name] = v
	}
	m, err := MetadataFromFields(ix.PackType, meta)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedPack, err)
	}
	ix.Metadata = m

	*p = EvidencePack{
		Index: ix,
		Seal: SealEnvelope{
			Algorithm: seal.Algorithm(*ws.Algorithm),
			KeyID:     *ws.KeyID,
			Signature: *ws.Signature,
			SealedAt:  *ws.SealedAt,
		},
	}
	return nil
}

// rejectDuplicateMembers scans data and fails on the first object that
// names a member twice. encoding/json would silently keep the last one.
func rejectDuplicateMembers(data []byte) error {
	type scope struct {
		object  bool
		wantKey bool
		seen    map[string]bool
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var stack []*scope
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPack, err)
		}
		var top *scope
		if n := len(stack); n > 0 {
			top = stack[n-1]
		}

		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				if top != nil && top.object {
					top.wantKey = true
				}
				stack = append(stack, &scope{object: d == '{', wantKey: true, seen: make(map[string]bool)})
			default:
				stack = stack[:len(stack)-1]
			}
			continue
		}
		if top == nil || !top.object {
			continue
		}
		if top.wantKey {
			name, _ := tok.(string)
			if top.seen[name] {
				return fmt.Errorf("%w: duplicate member %q", ErrMalformedPack, name)
			}
			top.seen[name] = true
			top.wantKey = false
			continue
		}
		top.wantKey = true
	}
}

func strictUnmarshal(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func isReserved(name string) bool {
	for _, r := range ReservedFields {
		if r == name {
			return true
		}
	}
	return false
}

// DecodeJSON validates data against the evidence pack JSON Schema and
// decodes it strictly.
func DecodeJSON(data []byte) (*EvidencePack, error) {
	if err := rejectDuplicateMembers(data); err != nil {
		return nil, err
	}
	if err := ValidateJSON(data); err != nil {
		return nil, err
	}
	var p EvidencePack
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// EncodeCBOR encodes the pack as deterministic CBOR carrying the same
// members as the JSON form.
func EncodeCBOR(p *EvidencePack) ([]byte, error) {
	data, err := cborEncMode.Marshal(p.genericObject())
	if err != nil {
		return nil, fmt.Errorf("evidence: encode cbor: %w", err)
	}
	return data, nil
}

// DecodeCBOR decodes a pack written by EncodeCBOR with the same strictness
// as DecodeJSON.
func DecodeCBOR(data []byte) (*EvidencePack, error) {
	var obj map[string]interface{}
	if err := cborDecMode.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("%w: cbor: %v", ErrMalformedPack, err)
	}
	js, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: cbor: %v", ErrMalformedPack, err)
	}
	return DecodeJSON(js)
}

// PackCID returns the content identifier of the sealed pack: CIDv1, raw
// codec, sha2-256 over the canonical JSON bytes.
func PackCID(p *EvidencePack) (cid.Cid, error) {
	data, err := p.MarshalJSON()
	if err != nil {
		return cid.Undef, err
	}
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("evidence: pack cid: %w", err)
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// Format names an encoding accepted by Encode and Decode.
type Format string

const (
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

// Encode writes p in the requested format.
func Encode(p *EvidencePack, f Format) ([]byte, error) {
	switch Format(strings.ToLower(string(f))) {
	case FormatJSON, "":
		return p.MarshalJSON()
	case FormatCBOR:
		return EncodeCBOR(p)
	default:
		return nil, fmt.Errorf("evidence: unknown format %q", f)
	}
}

// Decode reads a pack in either encoding. JSON is detected by a leading '{'.
func Decode(data []byte) (*EvidencePack, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return DecodeJSON(data)
	}
	return DecodeCBOR(data)
}
