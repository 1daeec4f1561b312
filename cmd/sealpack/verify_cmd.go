package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/Mindburn-Labs/sealpack/pkg/evidence"
	"github.com/Mindburn-Labs/sealpack/pkg/verifier"
)

// runVerifyCmd implements `sealpack verify`.
//
// Recomputes the Merkle root and seal of each pack and, with --payloads,
// re-hashes the original artifact payloads. Supports auditor mode via
// --json-out for structured verification reports.
//
// Exit codes:
//
//	0 = verification passed
//	1 = verification failed
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		packPaths   []string
		payloadPath string
		jsonOutput  bool
		jsonOutFile string
	)

	cmd.StringArrayVar(&packPaths, "pack", nil, "Path to an encoded pack; repeat to verify several (REQUIRED)")
	cmd.StringVar(&payloadPath, "payloads", "", "JSON file of artifact payloads keyed by label (single pack only)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON to stdout")
	cmd.StringVar(&jsonOutFile, "json-out", "", "Write structured audit report to file (auditor mode)")

	if err := cmd.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	packPaths = append(packPaths, cmd.Args()...)

	if len(packPaths) == 0 {
		_, _ = fmt.Fprintln(stderr, "Error: --pack is required")
		return 2
	}
	if payloadPath != "" && len(packPaths) > 1 {
		_, _ = fmt.Fprintln(stderr, "Error: --payloads applies to a single --pack")
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer a.close(ctx)

	keyring, err := a.cfg.Keyring()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	opts := verifier.Options{Keyring: keyring, DeriveOrgKeys: a.cfg.OrgKeys}
	if payloadPath != "" {
		opts.Payloads, err = readPayloads(payloadPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}

	encoded := make([][]byte, len(packPaths))
	for i, path := range packPaths {
		encoded[i], err = readInput(path)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: cannot read pack: %v\n", err)
			return 2
		}
	}

	var results []*verifier.Result
	if len(encoded) == 1 {
		results = []*verifier.Result{a.service.VerifyBytes(ctx, encoded[0], opts)}
	} else {
		results, err = verifyMany(ctx, a, encoded, opts)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: verification aborted: %v\n", err)
			return 2
		}
	}

	var report interface{} = results
	if len(results) == 1 {
		report = results[0]
	}

	// Write auditor JSON report to file if requested
	if jsonOutFile != "" {
		data, _ := json.MarshalIndent(report, "", "  ")
		if writeErr := os.WriteFile(jsonOutFile, data, 0o644); writeErr != nil {
			_, _ = fmt.Fprintf(stderr, "Error: cannot write audit report: %v\n", writeErr)
			return 2
		}
		_, _ = fmt.Fprintf(stdout, "Audit report written to %s\n", jsonOutFile)
	}

	allValid := true
	for _, r := range results {
		allValid = allValid && r.Valid
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		for i, r := range results {
			printResult(stdout, packPaths[i], r)
		}
	}

	if !allValid {
		return 1
	}
	return 0
}

// verifyMany decodes every pack and verifies the decodable ones
// concurrently. Packs that fail to decode get their MalformedPack report
// in place.
func verifyMany(ctx context.Context, a *app, encoded [][]byte, opts verifier.Options) ([]*verifier.Result, error) {
	results := make([]*verifier.Result, len(encoded))
	decoded := make([]*evidence.EvidencePack, 0, len(encoded))
	slots := make([]int, 0, len(encoded))
	for i, data := range encoded {
		p, err := evidence.Decode(data)
		if err != nil {
			results[i] = a.service.VerifyBytes(ctx, data, opts)
			continue
		}
		decoded = append(decoded, p)
		slots = append(slots, i)
	}

	batch, err := a.service.VerifyBatch(ctx, decoded, opts, a.cfg.VerifyWorkers)
	if err != nil {
		return nil, err
	}
	for j, r := range batch {
		results[slots[j]] = r
	}
	return results, nil
}

func readPayloads(path string) (map[string]interface{}, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read payloads: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var payloads map[string]interface{}
	if err := dec.Decode(&payloads); err != nil {
		return nil, fmt.Errorf("payloads: %w", err)
	}
	return payloads, nil
}

func printResult(w io.Writer, path string, r *verifier.Result) {
	if r.Valid {
		_, _ = fmt.Fprintf(w, "✅ EvidencePack verification PASSED\n")
	} else {
		_, _ = fmt.Fprintf(w, "❌ EvidencePack verification FAILED\n")
	}
	_, _ = fmt.Fprintf(w, "Pack:   %s\n", path)
	if r.PackType != "" {
		_, _ = fmt.Fprintf(w, "Type:   %s (%s)\n", r.PackType, r.OrgID)
	}
	_, _ = fmt.Fprintf(w, "Checks: %s\n", r.Summary)
	_, _ = fmt.Fprintf(w, "Report: %s\n", r.ReportID)
	for _, c := range r.Checks {
		switch {
		case c.Skipped:
			_, _ = fmt.Fprintf(w, "  ~ %s: skipped\n", c.Name)
		case !c.Pass:
			_, _ = fmt.Fprintf(w, "  - %s: %s (%s)\n", c.Name, c.Reason, c.Detail)
		}
	}
}
