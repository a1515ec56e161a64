package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/wardenlabs/warden/pkg/archive"
	"github.com/wardenlabs/warden/pkg/audit"
	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/contracts"
	"github.com/wardenlabs/warden/pkg/store"
)

// runExportCmd implements `warden export`.
//
// Rebuilds the compliance export from the durable audit mirror: a SQLite
// file (--db) or the Postgres DSN in WARDEN_DATABASE_URL. The genesis hash
// is recovered from the first entry's previous_hash; the chain is
// re-verified with the configured hash algorithm before the export leaves
// the process.
//
// Exit codes:
//
//	0 = export written, chain valid
//	1 = export written, chain verification failed
//	2 = runtime error
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dbPath    string
		outPath   string
		toArchive bool
	)

	cmd.StringVar(&dbPath, "db", "", "SQLite path of the durable audit mirror")
	cmd.StringVar(&outPath, "out", "", "Output file (default: stdout)")
	cmd.BoolVar(&toArchive, "archive", false, "Also ship the export to WARDEN_ARCHIVE_BUCKET")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	ctx := context.Background()

	st, err := openStore(dbPath, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer st.Close()

	entries, err := st.LoadEntries(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: load entries: %v\n", err)
		return 2
	}
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(stderr, "Error: store has no audit entries")
		return 2
	}

	governance := cfg.Governance
	governance.EmergencyOverrideKey = ""

	export := contracts.AuditExport{
		FormatVersion: contracts.ExportFormatVersion,
		GenesisHash:   entries[0].PreviousHash,
		EntryCount:    len(entries),
		Config:        governance,
		Entries:       entries,
	}

	valid, reason, err := audit.VerifyExport(&export)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: verify: %v\n", err)
		return 2
	}
	export.ChainValid = valid

	raw, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if outPath != "" {
		if err := os.WriteFile(outPath, raw, 0o644); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: write export: %v\n", err)
			return 2
		}
		_, _ = fmt.Fprintf(stdout, "Export written: %s (%d entries, chain valid: %v)\n", outPath, len(entries), valid)
	} else {
		_, _ = fmt.Fprintln(stdout, string(raw))
	}

	if toArchive {
		if cfg.ArchiveBucket == "" {
			_, _ = fmt.Fprintln(stderr, "Error: --archive requires WARDEN_ARCHIVE_BUCKET")
			return 2
		}
		archiver, err := archive.NewS3Archiver(ctx, archive.S3Config{Bucket: cfg.ArchiveBucket, Prefix: "audit/"})
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: archiver: %v\n", err)
			return 2
		}
		anchor := entries[len(entries)-1].EntryHash
		key, err := archiver.Archive(ctx, raw, anchor)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: archive upload: %v\n", err)
			return 2
		}
		_, _ = fmt.Fprintf(stdout, "Archived: s3://%s/%s\n", cfg.ArchiveBucket, key)
	}

	if !valid {
		_, _ = fmt.Fprintf(stderr, "Error: chain verification failed: %s\n", reason)
		return 1
	}
	return 0
}

func openStore(dbPath string, cfg *config.Config) (store.Store, error) {
	if dbPath != "" {
		return store.OpenSQLite(dbPath)
	}
	if cfg.DatabaseURL != "" {
		return store.OpenPostgres(cfg.DatabaseURL)
	}
	return nil, fmt.Errorf("no store configured: pass --db or set WARDEN_DATABASE_URL")
}
