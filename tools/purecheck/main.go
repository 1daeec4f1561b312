// Package main implements an import restriction linter for the sealing core.
//
// It scans Go source files under pkg/ and ensures the pure packages
// (canonicalisation, Merkle, seal, evidence, packs, verifier) never import
// logging, telemetry, configuration or CLI code. Those concerns live in
// pkg/observability and pkg/config.
//
// Usage:
//
//	go run ./tools/purecheck [--root <project-root>]
package main

import (
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
)

// Forbidden imports. A rule ending in "/" matches any import under it;
// other rules match one import path exactly.
var forbiddenImports = []string{
	"log",
	"log/slog",
	"go.opentelemetry.io/",
	"github.com/Mindburn-Labs/sealpack/pkg/config",
	"github.com/Mindburn-Labs/sealpack/pkg/observability",
	"github.com/Mindburn-Labs/sealpack/cmd/",
}

// Packages under pkg/ allowed to have side effects.
var exemptDirs = map[string]bool{
	"config":        true,
	"observability": true,
}

// Violation is one forbidden import.
type Violation struct {
	File   string
	Line   int
	Import string
	Rule   string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s:%d imports %q (forbidden: %q)", v.File, v.Line, v.Import, v.Rule)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("purecheck", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	root := flags.String("root", ".", "Project root directory")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	violations, err := check(*root)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 2
	}
	for _, v := range violations {
		_, _ = fmt.Fprintf(stdout, "PURITY VIOLATION: %s\n", v)
	}
	if len(violations) > 0 {
		_, _ = fmt.Fprintf(stdout, "\n❌ %d purity violation(s) found\n", len(violations))
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "✅ Purity check passed: no side-effecting imports in the sealing core")
	return 0
}

// check walks root/pkg and returns every forbidden import in non-test files
// outside the exempt packages.
func check(root string) ([]Violation, error) {
	pkgDir := filepath.Join(root, "pkg")
	if _, err := os.Stat(pkgDir); err != nil {
		return nil, fmt.Errorf("%s: %w", pkgDir, err)
	}

	var violations []Violation
	fset := token.NewFileSet()

	err := filepath.Walk(pkgDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			rel, _ := filepath.Rel(pkgDir, path)
			top := strings.Split(filepath.ToSlash(rel), "/")[0]
			if exemptDirs[top] || info.Name() == "testdata" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		f, parseErr := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if parseErr != nil {
			return fmt.Errorf("parse %s: %w", path, parseErr)
		}
		for _, imp := range f.Imports {
			importPath := strings.Trim(imp.Path.Value, `"`)
			for _, rule := range forbiddenImports {
				if !matches(importPath, rule) {
					continue
				}
				relPath, _ := filepath.Rel(root, path)
				violations = append(violations, Violation{
					File:   filepath.ToSlash(relPath),
					Line:   fset.Position(imp.Pos()).Line,
					Import: importPath,
					Rule:   rule,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk failed: %w", err)
	}
	return violations, nil
}

func matches(importPath, rule string) bool {
	if strings.HasSuffix(rule, "/") {
		return strings.HasPrefix(importPath, rule)
	}
	return importPath == rule
}
