package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/pflag"

	"github.com/Mindburn-Labs/sealpack/pkg/config"
	"github.com/Mindburn-Labs/sealpack/pkg/evidence"
	"github.com/Mindburn-Labs/sealpack/pkg/merkle"
	"github.com/Mindburn-Labs/sealpack/pkg/seal"
)

// packInfo is the inspect view of a pack.
type packInfo struct {
	CID           string                `json:"cid"`
	SchemaVersion string                `json:"schemaVersion"`
	PackType      evidence.PackType     `json:"packType"`
	OrgID         string                `json:"orgId"`
	CreatedAt     string                `json:"createdAt"`
	Metadata      map[string]string     `json:"metadata"`
	MerkleRoot    string                `json:"merkleRoot"`
	Artifacts     []evidence.Artifact   `json:"artifacts"`
	Seal          evidence.SealEnvelope `json:"seal"`
}

// runInspectCmd implements `sealpack inspect`. It decodes without verifying.
func runInspectCmd(args []string, stdout, stderr io.Writer) int {
	cmd := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		packPath   string
		jsonOutput bool
	)
	cmd.StringVar(&packPath, "pack", "", "Path to an encoded pack (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")

	if err := cmd.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if packPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --pack is required")
		return 2
	}

	pack, code := loadPack(packPath, stderr)
	if pack == nil {
		return code
	}
	id, err := evidence.PackCID(pack)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	info := packInfo{
		CID:           id.String(),
		SchemaVersion: pack.Index.SchemaVersion,
		PackType:      pack.Index.PackType,
		OrgID:         pack.Index.OrgID,
		CreatedAt:     pack.Index.CreatedAt,
		Metadata:      pack.Index.Metadata.Fields(),
		MerkleRoot:    pack.Index.MerkleRoot,
		Artifacts:     pack.Index.Artifacts,
		Seal:          pack.Seal,
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(info, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}

	_, _ = fmt.Fprintf(stdout, "CID:         %s\n", info.CID)
	_, _ = fmt.Fprintf(stdout, "Type:        %s (schema %s)\n", info.PackType, info.SchemaVersion)
	_, _ = fmt.Fprintf(stdout, "Org:         %s\n", info.OrgID)
	_, _ = fmt.Fprintf(stdout, "Created:     %s\n", info.CreatedAt)
	keys := make([]string, 0, len(info.Metadata))
	for k := range info.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(stdout, "%-12s %s\n", k+":", info.Metadata[k])
	}
	_, _ = fmt.Fprintf(stdout, "Merkle root: %s\n", info.MerkleRoot)
	_, _ = fmt.Fprintf(stdout, "Seal:        %s by %s at %s\n", info.Seal.Algorithm, info.Seal.KeyID, info.Seal.SealedAt)
	_, _ = fmt.Fprintf(stdout, "Artifacts (%d):\n", len(info.Artifacts))
	for i, a := range info.Artifacts {
		_, _ = fmt.Fprintf(stdout, "  %d. %-26s %s %8d B %s\n", i, a.Label, a.ContentHash, a.SizeBytes, a.MimeType)
	}
	return 0
}

// runProofCmd implements `sealpack proof`: the inclusion proof of one
// artifact against the pack's Merkle root. Exit 1 if the proof does not
// reproduce the recorded root.
func runProofCmd(args []string, stdout, stderr io.Writer) int {
	cmd := pflag.NewFlagSet("proof", pflag.ContinueOnError)
	cmd.SetOutput(stderr)

	var packPath, label string
	cmd.StringVar(&packPath, "pack", "", "Path to an encoded pack (REQUIRED)")
	cmd.StringVar(&label, "label", "", "Artifact label (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if packPath == "" || label == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --pack and --label are required")
		return 2
	}

	pack, code := loadPack(packPath, stderr)
	if pack == nil {
		return code
	}
	proof, err := pack.Index.Proof(label)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	data, _ := json.MarshalIndent(proof, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(data))
	if !merkle.VerifyInclusionProof(*proof, pack.Index.MerkleRoot) {
		_, _ = fmt.Fprintln(stderr, "Error: proof does not reproduce the recorded Merkle root")
		return 1
	}
	return 0
}

// runKeyIDCmd implements `sealpack keyid`: the identifier seals carry for
// the configured key, or for the key derived for --org.
func runKeyIDCmd(args []string, stdout, stderr io.Writer) int {
	cmd := pflag.NewFlagSet("keyid", pflag.ContinueOnError)
	cmd.SetOutput(stderr)

	var orgID string
	cmd.StringVar(&orgID, "org", "", "Print the identifier of the key derived for this organisation")

	if err := cmd.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	key, err := cfg.SigningKey()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if orgID != "" {
		key, err = seal.DeriveOrgKey(key, orgID)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}
	_, _ = fmt.Fprintln(stdout, key.KeyID())
	return 0
}

// runRootCmd implements `sealpack root <hash>...`.
func runRootCmd(args []string, stdout, stderr io.Writer) int {
	cmd := pflag.NewFlagSet("root", pflag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	root, err := merkle.ComputeRoot(cmd.Args())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintln(stdout, root)
	return 0
}

// loadPack reads and decodes path. On failure it reports to stderr and
// returns a nil pack with the exit code to use.
func loadPack(path string, stderr io.Writer) (*evidence.EvidencePack, int) {
	data, err := readInput(path)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: cannot read pack: %v\n", err)
		return nil, 2
	}
	pack, err := evidence.Decode(data)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, 2
	}
	return pack, 0
}
