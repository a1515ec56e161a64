package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/contracts"
	"github.com/wardenlabs/warden/pkg/missionctl"
	"github.com/wardenlabs/warden/pkg/notify"
	"github.com/wardenlabs/warden/pkg/observability"
	"github.com/wardenlabs/warden/pkg/policy"
	"github.com/wardenlabs/warden/pkg/store"
)

// demoReport is the structured result of one demo run.
type demoReport struct {
	StatusResult  any    `json:"status_result"`
	ApprovalID    string `json:"approval_id"`
	DestroyResult any    `json:"destroy_result"`
	EntryCount    int    `json:"entry_count"`
	ChainValid    bool   `json:"chain_valid"`
	PersistedTo   string `json:"persisted_to,omitempty"`
	ExportWritten string `json:"export_written,omitempty"`
	SyncedEntries int    `json:"synced_entries,omitempty"`
}

// runDemoCmd implements `warden demo`.
//
// Drives a governed workload end to end against an in-process kernel: an L0
// read passes straight through, an L2 destroy parks on human approval, the
// demo operator approves it, and the retry executes. The hash-chained trail
// is verified at the end and can be persisted (--db) or exported (--out).
//
// Exit codes:
//
//	0 = workload completed and chain verified
//	1 = chain verification failed
//	2 = runtime error
func runDemoCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("demo", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dbPath      string
		outPath     string
		policiesDir string
		jsonOutput  bool
	)

	cmd.StringVar(&dbPath, "db", "", "SQLite path for the durable audit mirror (optional)")
	cmd.StringVar(&outPath, "out", "", "Write the audit export JSON to this file (optional)")
	cmd.StringVar(&policiesDir, "policies", "", "Directory of policy rule bundles (optional)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the run report as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	ctx := context.Background()

	var opts []missionctl.Option
	if policiesDir != "" {
		loader := policy.NewLoader(policiesDir)
		if err := loader.LoadAll(); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		guard, err := policy.NewGuard(loader.Expressions(), nil)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: guard init: %v\n", err)
			return 2
		}
		opts = append(opts, missionctl.WithGuard(guard))
	}

	var obs *observability.Provider
	if cfg.OTLPEndpoint != "" {
		obsCfg := observability.DefaultConfig()
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		obsCfg.Insecure = true
		p, err := observability.New(ctx, obsCfg)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: observability init: %v\n", err)
			return 2
		}
		obs = p
		defer func() { _ = obs.Shutdown(ctx) }()
		opts = append(opts, missionctl.WithInstrumentation(obs))
	}

	mc, err := missionctl.New(cfg.Governance, opts...)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: kernel init failed: %v\n", err)
		return 2
	}

	if obs != nil {
		em, err := observability.AttachEventMetrics(mc.Events(), obs.Meter())
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: event metrics: %v\n", err)
			return 2
		}
		defer em.Close()
	}

	var st store.Store
	if dbPath != "" {
		s, err := store.OpenSQLite(dbPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: open store: %v\n", err)
			return 2
		}
		defer s.Close()
		st = s
		rec := store.AttachRecorder(mc.Events(), st)
		defer rec.Close()
	}

	if cfg.RedisURL != "" {
		n := notify.NewRedisNotifier(cfg.RedisURL, "", 0)
		d := notify.AttachDispatcher(mc.Events(), n, []string{"ops"})
		defer d.Close()
		defer n.Close()
	}

	operator, err := contracts.NewApprover("op-1", "Demo Operator", contracts.ClearanceL2, "ops@example.com", nil)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if err := mc.RegisterApprover(operator); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	agent := contracts.AgentIdentity{ID: "agent-demo", Name: "demo-agent", Clearance: contracts.ClearanceL2}
	report := demoReport{}

	// L0: passes through without gating.
	statusOutcome, err := mc.Execute(ctx, contracts.ActionQueryStatus, agent, map[string]any{"target": "kernel"},
		func(any) (any, error) { return map[string]any{"status": "healthy"}, nil })
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: query-status: %v\n", err)
		return 2
	}
	report.StatusResult = statusOutcome.Result.Output

	// L2: parks on approval.
	destroyOutcome, err := mc.Execute(ctx, contracts.ActionDestroyResource, agent, map[string]any{"resource": "demo-vm-17"},
		func(any) (any, error) { return nil, nil })
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: destroy-resource: %v\n", err)
		return 2
	}
	if destroyOutcome.Pending == nil {
		_, _ = fmt.Fprintln(stderr, "Error: expected destroy-resource to wait for approval")
		return 2
	}
	report.ApprovalID = destroyOutcome.Pending.ApprovalID

	if _, err := mc.ApproveAction(report.ApprovalID, operator.ID, nil, "demo approval"); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: approve: %v\n", err)
		return 2
	}

	// Retry under the now-approved request.
	retryOutcome, err := mc.Execute(ctx, contracts.ActionDestroyResource, agent, map[string]any{"resource": "demo-vm-17"},
		func(payload any) (any, error) { return map[string]any{"destroyed": "demo-vm-17"}, nil })
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: destroy retry: %v\n", err)
		return 2
	}
	report.DestroyResult = retryOutcome.Result.Output

	report.EntryCount = mc.GetAuditTrail().Len()
	report.ChainValid = mc.VerifyAuditIntegrity()

	if st != nil {
		synced, err := store.SyncTrail(ctx, st, mc.GetAuditTrail())
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: sync trail: %v\n", err)
			return 2
		}
		report.PersistedTo = dbPath
		report.SyncedEntries = synced
	}

	if outPath != "" {
		export, err := mc.ExportAuditTrail()
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: export: %v\n", err)
			return 2
		}
		if err := os.WriteFile(outPath, []byte(export), 0o644); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: write export: %v\n", err)
			return 2
		}
		report.ExportWritten = outPath
	}

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	} else {
		printDemoReport(stdout, report)
	}

	if !report.ChainValid {
		_, _ = fmt.Fprintln(stderr, "Error: audit chain verification failed")
		return 1
	}
	return 0
}

func printDemoReport(w io.Writer, r demoReport) {
	fmt.Fprintf(w, "%sGoverned workload complete%s\n", ColorBold+ColorGreen, ColorReset)
	fmt.Fprintf(w, "  query-status     → %v\n", r.StatusResult)
	fmt.Fprintf(w, "  destroy-resource → waited on approval %s, then %v\n", r.ApprovalID, r.DestroyResult)
	fmt.Fprintf(w, "  audit entries    → %d (chain valid: %v)\n", r.EntryCount, r.ChainValid)
	if r.PersistedTo != "" {
		fmt.Fprintf(w, "  persisted        → %s (%d entries synced)\n", r.PersistedTo, r.SyncedEntries)
	}
	if r.ExportWritten != "" {
		fmt.Fprintf(w, "  export           → %s\n", r.ExportWritten)
	}
}
