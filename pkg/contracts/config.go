package contracts

import "time"

// HashAlgorithm selects the digest used for the audit chain.
type HashAlgorithm string

const (
	HashSHA256 HashAlgorithm = "SHA-256"
	HashSHA384 HashAlgorithm = "SHA-384"
	HashSHA512 HashAlgorithm = "SHA-512"
)

// Valid reports whether the algorithm is one of the supported three.
func (h HashAlgorithm) Valid() bool {
	switch h {
	case HashSHA256, HashSHA384, HashSHA512:
		return true
	}
	return false
}

// GovernanceConfig is the full configuration surface of the kernel. It is
// snapshotted into every audit export, so fields and their JSON names are
// part of the compliance artifact.
type GovernanceConfig struct {
	// L2ApprovalTimeoutMs is the absolute approval deadline. When it
	// elapses a still-pending request moves to EXPIRED.
	L2ApprovalTimeoutMs int64 `json:"l2_approval_timeout_ms" yaml:"l2_approval_timeout_ms"`

	// RequiredApprovers is the number of affirmative decisions needed for
	// approval (the workflow's minApprovers).
	RequiredApprovers int `json:"required_approvers" yaml:"required_approvers"`

	// MaxApprovers caps the chosen approver set.
	MaxApprovers int `json:"max_approvers" yaml:"max_approvers"`

	// RequireUnanimous demands an affirmative decision from every chosen
	// approver, not just RequiredApprovers of them.
	RequireUnanimous bool `json:"require_unanimous" yaml:"require_unanimous"`

	// EscalationTimeoutMs is the time to the first warning event. It must
	// be strictly before the absolute deadline; when configured at or past
	// it the workflow pulls the warning back to 80% of the deadline.
	EscalationTimeoutMs int64 `json:"escalation_timeout_ms" yaml:"escalation_timeout_ms"`

	AutoRejectOnTimeout bool `json:"auto_reject_on_timeout" yaml:"auto_reject_on_timeout"`

	// AuditRetentionDays is advisory; pruning is the persistence
	// collaborator's concern (pkg/store).
	AuditRetentionDays int `json:"audit_retention_days" yaml:"audit_retention_days"`

	HashAlgorithm HashAlgorithm `json:"hash_algorithm" yaml:"hash_algorithm"`

	// EnableImmutableAudit, when false, still computes tamper evidence but
	// does not enforce it at append time. Test hook only.
	EnableImmutableAudit bool `json:"enable_immutable_audit" yaml:"enable_immutable_audit"`

	// EmergencyOverrideKey is reserved for a future cryptographically
	// guarded emergency-stop path. Never exported in logs.
	EmergencyOverrideKey string `json:"emergency_override_key,omitempty" yaml:"emergency_override_key"`

	// NotifyChannels are opaque channel names handed to notifier
	// collaborators (pkg/notify).
	NotifyChannels []string `json:"notify_channels,omitempty" yaml:"notify_channels"`

	// RequireMFA is advisory, surfaced to notifiers; the kernel does not
	// verify MFA itself.
	RequireMFA bool `json:"require_mfa" yaml:"require_mfa"`
}

// DefaultGovernanceConfig returns the documented defaults.
func DefaultGovernanceConfig() GovernanceConfig {
	return GovernanceConfig{
		L2ApprovalTimeoutMs:  300_000,
		RequiredApprovers:    1,
		MaxApprovers:         3,
		RequireUnanimous:     false,
		EscalationTimeoutMs:  300_000,
		AutoRejectOnTimeout:  true,
		AuditRetentionDays:   365,
		HashAlgorithm:        HashSHA256,
		EnableImmutableAudit: true,
		RequireMFA:           true,
	}
}

// L2ApprovalTimeout returns the absolute deadline as a duration.
func (c GovernanceConfig) L2ApprovalTimeout() time.Duration {
	return time.Duration(c.L2ApprovalTimeoutMs) * time.Millisecond
}

// EscalationTimeout returns the warning delay as a duration, pulled back to
// 80% of the absolute deadline when it would otherwise not precede it.
func (c GovernanceConfig) EscalationTimeout() time.Duration {
	esc := time.Duration(c.EscalationTimeoutMs) * time.Millisecond
	abs := c.L2ApprovalTimeout()
	if abs > 0 && esc >= abs {
		return abs * 8 / 10
	}
	return esc
}
