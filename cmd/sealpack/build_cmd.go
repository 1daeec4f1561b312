package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/Mindburn-Labs/sealpack/pkg/canonicalize"
	"github.com/Mindburn-Labs/sealpack/pkg/evidence"
	"github.com/Mindburn-Labs/sealpack/pkg/packs"
)

// runBuildCmd implements `sealpack build`.
//
// Decodes a domain input record, seals it with the configured key and
// writes the encoded pack. --payloads-out keeps the hashed payloads so the
// pack's artifacts can be re-checked later with `verify --payloads`.
func runBuildCmd(args []string, stdout, stderr io.Writer) int {
	cmd := pflag.NewFlagSet("build", pflag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		packType    string
		input       string
		out         string
		format      string
		payloadsOut string
	)

	cmd.StringVar(&packType, "type", "", "Pack type: lot_certification, shipment_manifest, payment_distribution, traceability_chain (REQUIRED)")
	cmd.StringVar(&input, "input", "", "Path to the JSON input record, - for stdin (REQUIRED)")
	cmd.StringVarP(&out, "out", "o", "", "Write the pack to this file instead of stdout")
	cmd.StringVar(&format, "format", string(evidence.FormatJSON), "Pack encoding: json or cbor")
	cmd.StringVar(&payloadsOut, "payloads-out", "", "Write the artifact payloads as JSON to this file")

	if err := cmd.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	if packType == "" || input == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --type and --input are required")
		return 2
	}
	f := evidence.Format(strings.ToLower(format))
	if f != evidence.FormatJSON && f != evidence.FormatCBOR {
		_, _ = fmt.Fprintf(stderr, "Error: unknown --format %q\n", format)
		return 2
	}

	data, err := readInput(input)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: cannot read input: %v\n", err)
		return 2
	}
	in, err := packs.DecodeInput(evidence.PackType(packType), data)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer a.close(ctx)

	key, err := a.cfg.SigningKey()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	b := packs.NewBuilder(key).WithAlgorithm(a.cfg.SealAlgorithm())
	if a.cfg.OrgKeys {
		b = b.WithOrgKeys()
	}

	pack, err := a.service.Build(ctx, b, in)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: build failed: %v\n", err)
		return 2
	}

	encoded, err := evidence.Encode(pack, f)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: encode pack: %v\n", err)
		return 2
	}

	if payloadsOut != "" {
		payloads, err := canonicalize.JCS(packs.PayloadMap(in))
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: encode payloads: %v\n", err)
			return 2
		}
		if err := os.WriteFile(payloadsOut, payloads, 0o644); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: cannot write payloads: %v\n", err)
			return 2
		}
	}

	if out == "" {
		_, _ = stdout.Write(encoded)
		if f == evidence.FormatJSON {
			_, _ = fmt.Fprintln(stdout)
		}
		return 0
	}
	if err := os.WriteFile(out, encoded, 0o644); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: cannot write pack: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintf(stdout, "Sealed %s pack for %s\n", pack.Index.PackType, pack.Index.OrgID)
	_, _ = fmt.Fprintf(stdout, "Artifacts:   %d\n", pack.Index.ArtifactCount)
	_, _ = fmt.Fprintf(stdout, "Merkle root: %s\n", pack.Index.MerkleRoot)
	_, _ = fmt.Fprintf(stdout, "Key:         %s (%s)\n", pack.Seal.KeyID, pack.Seal.Algorithm)
	_, _ = fmt.Fprintf(stdout, "Written to:  %s\n", out)
	return 0
}
