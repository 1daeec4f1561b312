package evidence

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const packSchemaURL = "https://sealpack.schemas.local/evidence_pack.schema.json"

//go:embed schema/evidence_pack.schema.json
var packSchemaJSON string

var (
	packSchemaOnce sync.Once
	packSchema     *jsonschema.Schema
	packSchemaErr  error
)

func compiledPackSchema() (*jsonschema.Schema, error) {
	packSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(packSchemaURL, bytes.NewReader([]byte(packSchemaJSON))); err != nil {
			packSchemaErr = fmt.Errorf("evidence: pack schema load failed: %w", err)
			return
		}
		packSchema, packSchemaErr = c.Compile(packSchemaURL)
		if packSchemaErr != nil {
			packSchemaErr = fmt.Errorf("evidence: pack schema compile failed: %w", packSchemaErr)
		}
	})
	return packSchema, packSchemaErr
}

// ValidateJSON checks data against the evidence pack JSON Schema.
func ValidateJSON(data []byte) error {
	schema, err := compiledPackSchema()
	if err != nil {
		return err
	}
	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPack, err)
	}
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("%w: schema validation failed: %s", ErrMalformedPack, describeViolations(ve))
		}
		return fmt.Errorf("%w: schema validation failed: %v", ErrMalformedPack, err)
	}
	return nil
}

// describeViolations lists every leaf violation under ve, ordered by
// instance location so that the same document always reads the same way.
func describeViolations(ve *jsonschema.ValidationError) string {
	var lines []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			lines = append(lines, loc+": "+sortedNameList(e.KeywordLocation, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.Strings(lines)
	out := lines[:0]
	for i, l := range lines {
		if i == 0 || l != lines[i-1] {
			out = append(out, l)
		}
	}
	return strings.Join(out, "; ")
}

// sortedNameList orders the property names in an additionalProperties
// message, which the validator emits in map order.
func sortedNameList(keyword, msg string) string {
	const prefix, suffix = "additionalProperties ", " not allowed"
	if !strings.HasSuffix(keyword, "/additionalProperties") ||
		!strings.HasPrefix(msg, prefix) || !strings.HasSuffix(msg, suffix) {
		return msg
	}
	names := strings.Split(strings.TrimSuffix(strings.TrimPrefix(msg, prefix), suffix), ", ")
	sort.Strings(names)
	return prefix + strings.Join(names, ", ") + suffix
}
