package evidence

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON_RoundTrip(t *testing.T) {
	p := samplePack(t)

	data, err := json.Marshal(p)
	require.NoError(t, err)

	decoded, err := DecodeJSON(data)
	require.NoError(t, err)
	assert.Equal(t, p, decoded)

	ok, err := decoded.VerifySeal(testKey(t))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestJSON_WireShape(t *testing.T) {
	p := samplePack(t)
	data, err := p.MarshalJSON()
	require.NoError(t, err)

	var obj map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &obj))
	assert.Equal(t, "LOT-1", obj["lotId"])
	assert.Equal(t, "lot_certification", obj["packType"])
	assert.EqualValues(t, 3, obj["artifactCount"])

	sealObj := obj["seal"].(map[string]interface{})
	assert.Equal(t, "HMAC-SHA256", sealObj["algorithm"])
	assert.Equal(t, "test-key", sealObj["keyId"])

	first := obj["artifacts"].([]interface{})[0].(map[string]interface{})
	assert.ElementsMatch(t, []string{"label", "sha256", "mimeType", "sizeBytes"}, keysOf(first))
}

func keysOf(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func TestIndexMarshalJSON_HasNoSeal(t *testing.T) {
	p := samplePack(t)
	data, err := json.Marshal(p.Index)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"seal"`)
	assert.Contains(t, string(data), `"lotId":"LOT-1"`)
}

func mutateWire(t *testing.T, p *EvidencePack, fn func(obj map[string]interface{})) []byte {
	t.Helper()
	data, err := p.MarshalJSON()
	require.NoError(t, err)
	var obj map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &obj))
	fn(obj)
	out, err := json.Marshal(obj)
	require.NoError(t, err)
	return out
}

func TestDecodeJSON_Strict(t *testing.T) {
	p := samplePack(t)

	cases := map[string]func(obj map[string]interface{}){
		"unknown member":         func(obj map[string]interface{}) { obj["extra"] = 1 },
		"foreign metadata":       func(obj map[string]interface{}) { obj["shipmentId"] = "S-1" },
		"missing metadata":       func(obj map[string]interface{}) { delete(obj, "lotId") },
		"missing seal":           func(obj map[string]interface{}) { delete(obj, "seal") },
		"missing merkle root":    func(obj map[string]interface{}) { delete(obj, "merkleRoot") },
		"unknown pack type":      func(obj map[string]interface{}) { obj["packType"] = "warehouse_receipt" },
		"fractional count":       func(obj map[string]interface{}) { obj["artifactCount"] = 2.5 },
		"unknown seal member":    func(obj map[string]interface{}) { obj["seal"].(map[string]interface{})["nonce"] = "x" },
		"incomplete seal":        func(obj map[string]interface{}) { delete(obj["seal"].(map[string]interface{}), "signature") },
		"unknown artifact field": func(obj map[string]interface{}) { firstArtifact(obj)["uri"] = "s3://x" },
		"incomplete artifact":    func(obj map[string]interface{}) { delete(firstArtifact(obj), "sha256") },
		"artifacts not array":    func(obj map[string]interface{}) { obj["artifacts"] = "none" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeJSON(mutateWire(t, p, mutate))
			require.ErrorIs(t, err, ErrMalformedPack)
		})
	}
}

func TestUnmarshalJSON_StrictWithoutSchema(t *testing.T) {
	p := samplePack(t)

	var out EvidencePack
	err := json.Unmarshal(mutateWire(t, p, func(obj map[string]interface{}) { obj["shipmentId"] = "S" }), &out)
	require.ErrorIs(t, err, ErrMalformedPack)

	err = json.Unmarshal(mutateWire(t, p, func(obj map[string]interface{}) { firstArtifact(obj)["uri"] = "x" }), &out)
	require.ErrorIs(t, err, ErrMalformedPack)

	err = json.Unmarshal(mutateWire(t, p, func(obj map[string]interface{}) { obj["packType"] = "other" }), &out)
	require.ErrorIs(t, err, ErrUnknownPackType)
}

func TestDecodeJSON_AcceptsTamperedButWellFormed(t *testing.T) {
	p := samplePack(t)
	data := mutateWire(t, p, func(obj map[string]interface{}) {
		obj["schemaVersion"] = "9.0.0"
		obj["seal"].(map[string]interface{})["algorithm"] = "HMAC-MD5"
	})
	decoded, err := DecodeJSON(data)
	require.NoError(t, err)
	assert.Equal(t, "9.0.0", decoded.Index.SchemaVersion)
	assert.Equal(t, "HMAC-MD5", string(decoded.Seal.Algorithm))
}

func TestDecodeJSON_NotJSON(t *testing.T) {
	_, err := DecodeJSON([]byte("not json"))
	require.ErrorIs(t, err, ErrMalformedPack)
}

func firstArtifact(obj map[string]interface{}) map[string]interface{} {
	return obj["artifacts"].([]interface{})[0].(map[string]interface{})
}

func TestCBOR_RoundTrip(t *testing.T) {
	p := samplePack(t)

	c1, err := EncodeCBOR(p)
	require.NoError(t, err)
	c2, err := EncodeCBOR(p)
	require.NoError(t, err)
	assert.Equal(t, c1, c2, "deterministic encoding")

	decoded, err := DecodeCBOR(c1)
	require.NoError(t, err)
	assert.Equal(t, p, decoded)

	_, err = DecodeCBOR([]byte{0xff, 0x00})
	require.ErrorIs(t, err, ErrMalformedPack)
}

func TestEncodeDecode_Formats(t *testing.T) {
	p := samplePack(t)
	for _, f := range []Format{FormatJSON, FormatCBOR} {
		data, err := Encode(p, f)
		require.NoError(t, err)
		back, err := Decode(data)
		require.NoError(t, err, f)
		assert.Equal(t, p, back, f)
	}
	_, err := Encode(p, "xml")
	require.Error(t, err)
}

func TestPackCID(t *testing.T) {
	p := samplePack(t)
	c1, err := PackCID(p)
	require.NoError(t, err)
	c2, err := PackCID(samplePack(t))
	require.NoError(t, err)

	assert.Equal(t, c1.String(), c2.String())
	assert.True(t, strings.HasPrefix(c1.String(), "bafkrei"), c1.String())

	p.Index.OrgID = "org-2"
	c3, err := PackCID(p)
	require.NoError(t, err)
	assert.NotEqual(t, c1.String(), c3.String())
}

func TestDecodeJSON_RejectsDuplicateMembers(t *testing.T) {
	p := samplePack(t)
	data, err := p.MarshalJSON()
	require.NoError(t, err)
	wire := string(data)

	cases := map[string]string{
		"top level":       `{"orgId":"org-EVIL",` + wire[1:],
		"metadata":        strings.Replace(wire, `"lotId":"LOT-1"`, `"lotId":"LOT-9","lotId":"LOT-1"`, 1),
		"seal":            strings.Replace(wire, `"seal":{`, `"seal":{"keyId":"other",`, 1),
		"artifact":        strings.Replace(wire, `"artifacts":[{`, `"artifacts":[{"label":"forged",`, 1),
		"nested artifact": strings.Replace(wire, `"certifications",`, `"certifications","mimeType":"text/plain",`, 1),
	}
	for name, forged := range cases {
		t.Run(name, func(t *testing.T) {
			require.NotEqual(t, wire, forged)

			_, err := DecodeJSON([]byte(forged))
			require.ErrorIs(t, err, ErrMalformedPack)
			assert.Contains(t, err.Error(), "duplicate member")

			var out EvidencePack
			require.ErrorIs(t, json.Unmarshal([]byte(forged), &out), ErrMalformedPack)
		})
	}

	// The same name in sibling objects is not a duplicate.
	_, err = DecodeJSON(data)
	require.NoError(t, err)
}

func TestDecodeCBOR_RejectsDuplicateKeys(t *testing.T) {
	// {"a": 1, "a": 2}
	_, err := DecodeCBOR([]byte{0xa2, 0x61, 'a', 0x01, 0x61, 'a', 0x02})
	require.ErrorIs(t, err, ErrMalformedPack)
	assert.Contains(t, err.Error(), "duplicate map key")
}

func TestDecodeJSON_ErrorsAreStable(t *testing.T) {
	p := samplePack(t)
	cases := map[string][]byte{
		"foreign metadata": mutateWire(t, p, func(obj map[string]interface{}) {
			for _, k := range []string{"aaa", "bbb", "ccc", "ddd", "eee"} {
				obj[k] = "x"
			}
		}),
		"schema violations": mutateWire(t, p, func(obj map[string]interface{}) {
			obj["orgId"] = 1
			obj["createdAt"] = true
			obj["merkleRoot"] = 7
			obj["seal"].(map[string]interface{})["keyId"] = 3
			firstArtifact(obj)["uri"] = "s3://x"
			firstArtifact(obj)["etag"] = "y"
		}),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, first := DecodeJSON(data)
			require.ErrorIs(t, first, ErrMalformedPack)
			for i := 0; i < 100; i++ {
				_, err := DecodeJSON(data)
				require.Equal(t, first.Error(), err.Error())
			}
		})
	}
}
