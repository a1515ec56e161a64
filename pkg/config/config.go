// Package config loads the kernel configuration from the environment with
// an optional YAML overlay for the governance section.
package config

import (
	"os"
	"strconv"

	"github.com/wardenlabs/warden/pkg/contracts"
)

// Config holds process-level configuration: where collaborators live plus
// the governance section handed to the kernel.
type Config struct {
	LogLevel      string
	DatabaseURL   string
	RedisURL      string
	OTLPEndpoint  string
	ArchiveBucket string

	Governance contracts.GovernanceConfig
}

// Load builds configuration from environment variables, falling back to
// the documented defaults. Unset or malformed numeric variables keep their
// defaults rather than failing startup.
func Load() *Config {
	cfg := &Config{
		LogLevel:      envOr("WARDEN_LOG_LEVEL", "INFO"),
		DatabaseURL:   envOr("WARDEN_DATABASE_URL", ""),
		RedisURL:      envOr("WARDEN_REDIS_URL", ""),
		OTLPEndpoint:  envOr("WARDEN_OTLP_ENDPOINT", ""),
		ArchiveBucket: envOr("WARDEN_ARCHIVE_BUCKET", ""),
		Governance:    contracts.DefaultGovernanceConfig(),
	}

	g := &cfg.Governance
	g.L2ApprovalTimeoutMs = envInt64("WARDEN_L2_APPROVAL_TIMEOUT_MS", g.L2ApprovalTimeoutMs)
	g.RequiredApprovers = envInt("WARDEN_REQUIRED_APPROVERS", g.RequiredApprovers)
	g.MaxApprovers = envInt("WARDEN_MAX_APPROVERS", g.MaxApprovers)
	g.RequireUnanimous = envBool("WARDEN_REQUIRE_UNANIMOUS", g.RequireUnanimous)
	g.EscalationTimeoutMs = envInt64("WARDEN_ESCALATION_TIMEOUT_MS", g.EscalationTimeoutMs)
	g.AutoRejectOnTimeout = envBool("WARDEN_AUTO_REJECT_ON_TIMEOUT", g.AutoRejectOnTimeout)
	g.AuditRetentionDays = envInt("WARDEN_AUDIT_RETENTION_DAYS", g.AuditRetentionDays)
	g.RequireMFA = envBool("WARDEN_REQUIRE_MFA", g.RequireMFA)
	if v := os.Getenv("WARDEN_HASH_ALGORITHM"); v != "" {
		g.HashAlgorithm = contracts.HashAlgorithm(v)
	}
	if v := os.Getenv("WARDEN_EMERGENCY_OVERRIDE_KEY"); v != "" {
		g.EmergencyOverrideKey = v
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	switch os.Getenv(key) {
	case "true", "1":
		return true
	case "false", "0":
		return false
	default:
		return fallback
	}
}
