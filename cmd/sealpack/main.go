package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Mindburn-Labs/sealpack/pkg/config"
	"github.com/Mindburn-Labs/sealpack/pkg/observability"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
//
// Exit codes:
//
//	0 = success / verification passed
//	1 = verification failed
//	2 = usage or runtime error
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "build":
		return runBuildCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "inspect":
		return runInspectCmd(args[2:], stdout, stderr)
	case "proof":
		return runProofCmd(args[2:], stdout, stderr)
	case "keyid":
		return runKeyIDCmd(args[2:], stdout, stderr)
	case "root":
		return runRootCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorBlue  = "\033[34m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintf(w, "%ssealpack%s\n", ColorBold+ColorBlue, ColorReset)
	_, _ = fmt.Fprintf(w, "%sTamper-evident evidence packs for supply-chain records.%s\n", ColorGray, ColorReset)
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	_, _ = fmt.Fprintln(w, "  sealpack <command> [flags]")
	_, _ = fmt.Fprintln(w, "")

	printSection(w, "PACKS")
	printCommand(w, "build", "Seal an input record into a pack (--type, --input, --out)")
	printCommand(w, "verify", "Verify one or more packs (--pack, --payloads, --json)")
	printCommand(w, "inspect", "Show a pack's index and content ID (--pack)")
	printCommand(w, "proof", "Print an artifact inclusion proof (--pack, --label)")

	printSection(w, "KEYS & HASHES")
	printCommand(w, "keyid", "Print the configured key's identifier (--org)")
	printCommand(w, "root", "Compute the Merkle root of hex digests")

	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintf(w, "%sKeys come from SEALPACK_SEAL_KEY or SEALPACK_KEYRING_FILE.%s\n", ColorGray, ColorReset)
	_, _ = fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	_, _ = fmt.Fprintf(w, "%s%s:%s\n", ColorBold, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	_, _ = fmt.Fprintf(w, "  %-10s %s\n", name, desc)
}

// app holds what every pack command needs: config, logger and the
// instrumented service.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	provider *observability.Provider
	service  *observability.Service
}

func newApp(ctx context.Context, stderr io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger(stderr)
	slog.SetDefault(logger)

	provider, err := observability.New(ctx, cfg.Observability())
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:      cfg,
		logger:   logger,
		provider: provider,
		service:  observability.NewService(provider, logger),
	}, nil
}

func (a *app) close(ctx context.Context) {
	_ = a.provider.Shutdown(ctx)
}

// readInput reads path, or stdin when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
