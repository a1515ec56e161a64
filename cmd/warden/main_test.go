package main

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func TestRunUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"warden", "frobnicate"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "Unknown command") {
		t.Errorf("stderr = %q, want unknown-command message", stderr.String())
	}
}

func TestRunVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := Run([]string{"warden", "version"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit = %d, want 0", code)
	}
	if !strings.Contains(stdout.String(), versionString) {
		t.Errorf("stdout = %q, want version", stdout.String())
	}
}

func TestDemoExportVerify_RoundTrip(t *testing.T) {
	t.Setenv("WARDEN_REDIS_URL", "")
	dir := t.TempDir()
	dbPath := dir + "/audit.db"
	exportPath := dir + "/export.json"

	var stdout, stderr bytes.Buffer
	code := Run([]string{"warden", "demo", "--db", dbPath, "--out", exportPath, "--json"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("demo exit = %d, stderr = %s", code, stderr.String())
	}

	var report demoReport
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		t.Fatalf("demo report decode: %v", err)
	}
	if !report.ChainValid {
		t.Error("demo reported an invalid chain")
	}
	if report.ApprovalID == "" {
		t.Error("demo did not park on an approval")
	}
	if report.EntryCount != report.SyncedEntries {
		t.Errorf("synced %d of %d entries", report.SyncedEntries, report.EntryCount)
	}

	// The written export verifies offline.
	stdout.Reset()
	stderr.Reset()
	if code := Run([]string{"warden", "verify", "--export", exportPath, "--json"}, &stdout, &stderr); code != 0 {
		t.Fatalf("verify exit = %d, stderr = %s", code, stderr.String())
	}
	var vr verifyReport
	if err := json.Unmarshal(stdout.Bytes(), &vr); err != nil {
		t.Fatalf("verify report decode: %v", err)
	}
	if !vr.Valid || vr.EntryCount != report.EntryCount {
		t.Errorf("verify report = %+v", vr)
	}

	// The durable mirror rebuilds an equivalent, verifiable export.
	rebuiltPath := dir + "/rebuilt.json"
	stdout.Reset()
	stderr.Reset()
	if code := Run([]string{"warden", "export", "--db", dbPath, "--out", rebuiltPath}, &stdout, &stderr); code != 0 {
		t.Fatalf("export exit = %d, stderr = %s", code, stderr.String())
	}
	stdout.Reset()
	if code := Run([]string{"warden", "verify", "--export", rebuiltPath}, &stdout, &stderr); code != 0 {
		t.Fatalf("rebuilt verify exit = %d, stderr = %s", code, stderr.String())
	}
}

func TestDemoWithPolicyBundle(t *testing.T) {
	dir := t.TempDir()
	bundle := `{
		"version": "1.0.0",
		"name": "demo",
		"rules": [
			{"id": "r1", "name": "no-arbitrary", "expression": "action.kind != \"execute-arbitrary\"", "priority": 1, "enabled": true}
		]
	}`
	if err := os.WriteFile(dir+"/demo.json", []byte(bundle), 0o644); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	code := Run([]string{"warden", "demo", "--policies", dir, "--json"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("demo exit = %d, stderr = %s", code, stderr.String())
	}

	var report demoReport
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		t.Fatalf("demo report decode: %v", err)
	}
	if !report.ChainValid {
		t.Error("demo reported an invalid chain")
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	exportPath := dir + "/export.json"

	var stdout, stderr bytes.Buffer
	if code := Run([]string{"warden", "demo", "--out", exportPath, "--json"}, &stdout, &stderr); code != 0 {
		t.Fatalf("demo exit = %d, stderr = %s", code, stderr.String())
	}

	raw, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatal(err)
	}
	tampered := bytes.Replace(raw, []byte("demo-vm-17"), []byte("prod-vm-01"), 1)
	if bytes.Equal(tampered, raw) {
		t.Fatal("tamper substitution did not apply")
	}
	if err := os.WriteFile(exportPath, tampered, 0o644); err != nil {
		t.Fatal(err)
	}

	stdout.Reset()
	stderr.Reset()
	if code := Run([]string{"warden", "verify", "--export", exportPath}, &stdout, &stderr); code != 1 {
		t.Fatalf("verify exit = %d, want 1", code)
	}
	if !strings.Contains(stdout.String(), "FAILED") {
		t.Errorf("stdout = %q, want failure message", stdout.String())
	}
}

func TestExportWithoutStore(t *testing.T) {
	t.Setenv("WARDEN_DATABASE_URL", "")
	var stdout, stderr bytes.Buffer
	if code := Run([]string{"warden", "export"}, &stdout, &stderr); code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "no store configured") {
		t.Errorf("stderr = %q", stderr.String())
	}
}
