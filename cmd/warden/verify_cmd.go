package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/wardenlabs/warden/pkg/audit"
)

// verifyReport is the structured verification result.
type verifyReport struct {
	File          string `json:"file"`
	FormatVersion string `json:"format_version"`
	GenesisHash   string `json:"genesis_hash"`
	EntryCount    int    `json:"entry_count"`
	Valid         bool   `json:"valid"`
	TamperReason  string `json:"tamper_reason,omitempty"`
}

// runVerifyCmd implements `warden verify`.
//
// Re-runs the hash chain walk over an audit export file, offline and with
// no kernel state: schema validation, format version check, then per-entry
// previous_hash linkage, entry_hash, and immutable_proof recomputation.
//
// Exit codes:
//
//	0 = chain verified
//	1 = tampering detected
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		exportPath string
		jsonOutput bool
	)

	cmd.StringVar(&exportPath, "export", "", "Path to the audit export JSON (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the verification report as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if exportPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --export is required")
		return 2
	}

	raw, err := os.ReadFile(exportPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read export: %v\n", err)
		return 2
	}

	export, err := audit.ParseExport(raw)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	valid, reason, err := audit.VerifyExport(export)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: verify: %v\n", err)
		return 2
	}

	report := verifyReport{
		File:          exportPath,
		FormatVersion: export.FormatVersion,
		GenesisHash:   export.GenesisHash,
		EntryCount:    export.EntryCount,
		Valid:         valid,
		TamperReason:  string(reason),
	}

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	} else if valid {
		_, _ = fmt.Fprintf(stdout, "%sChain verified%s: %d entries from genesis %.12s…\n",
			ColorBold+ColorGreen, ColorReset, report.EntryCount, report.GenesisHash)
	} else {
		_, _ = fmt.Fprintf(stdout, "Chain verification FAILED: %s\n", report.TamperReason)
	}

	if !valid {
		return 1
	}
	return 0
}
