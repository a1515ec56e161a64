package contracts

import "time"

// AuditEntry is one tamper-evident record in the governance trail.
//
// EntryHash covers the canonical identifying fields of the entry (see
// pkg/audit for the exact byte layout); ImmutableProof additionally binds
// the hash to its chain position. Together they make any later mutation of
// a past entry detectable.
type AuditEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  uint64    `json:"sequence"`

	Request  ActionRequest    `json:"action_request"`
	Result   ActionResult     `json:"action_result"`
	Agent    AgentIdentity    `json:"agent"`
	Approval *ApprovalRequest `json:"approval,omitempty"`

	PreviousHash   string `json:"previous_hash"`
	EntryHash      string `json:"entry_hash"`
	ImmutableProof string `json:"immutable_proof"`
}

// TamperReason classifies a chain verification failure.
type TamperReason string

const (
	TamperPreviousHashMismatch TamperReason = "PREVIOUS_HASH_MISMATCH"
	TamperEntryHashMismatch    TamperReason = "ENTRY_HASH_MISMATCH"
	TamperProofMismatch        TamperReason = "PROOF_MISMATCH"
)

// ExportFormatVersion identifies the audit export layout. Consumers accept
// any export within the same major version.
const ExportFormatVersion = "1.0.0"

// AuditExport is the compliance artifact: the full chain plus everything a
// later reader needs to re-verify it offline.
type AuditExport struct {
	FormatVersion string           `json:"format_version"`
	GenesisHash   string           `json:"genesis_hash"`
	EntryCount    int              `json:"entry_count"`
	Config        GovernanceConfig `json:"config"`
	Entries       []AuditEntry     `json:"entries"`
	ChainValid    bool             `json:"chain_valid"`
}
