package contracts

import "time"

// ApprovalState tracks the lifecycle of an approval request.
// PENDING is the only non-terminal state; terminal states never transition,
// with the single documented exception of the emergency-stop path which
// moves PENDING directly to REVOKED.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "PENDING"
	ApprovalApproved ApprovalState = "APPROVED"
	ApprovalRejected ApprovalState = "REJECTED"
	ApprovalExpired  ApprovalState = "EXPIRED"
	ApprovalRevoked  ApprovalState = "REVOKED"
)

// Terminal reports whether the state admits no further transitions.
// APPROVED is non-terminal only with respect to revocation.
func (s ApprovalState) Terminal() bool {
	return s == ApprovalRejected || s == ApprovalExpired || s == ApprovalRevoked
}

// DecisionChoice is an approver's verdict on a single request.
type DecisionChoice string

const (
	DecisionApprove DecisionChoice = "APPROVE"
	DecisionReject  DecisionChoice = "REJECT"
)

// ApprovalDecision records one approver's submitted decision.
type ApprovalDecision struct {
	ApproverID string         `json:"approver_id"`
	Choice     DecisionChoice `json:"choice"`
	Timestamp  time.Time      `json:"timestamp"`
	Signature  []byte         `json:"signature,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// ApprovalRequest is the human-in-the-loop artifact created for every L2
// attempt. The evidence hash binds the request to the immutable identifying
// fields of the originating action at creation time; the chosen approver
// set is recorded so the selection is recoverable from the audit trail.
type ApprovalRequest struct {
	ID              string             `json:"id"`
	ActionRequestID string             `json:"action_request_id"`
	ActionKind      ActionKind         `json:"action_kind"`
	State           ApprovalState      `json:"state"`
	Requester       AgentIdentity      `json:"requester"`
	CreatedAt       time.Time          `json:"created_at"`
	ApproverIDs     []string           `json:"approver_ids"`
	Decisions       []ApprovalDecision `json:"decisions,omitempty"`
	DecidedBy       string             `json:"decided_by,omitempty"`
	DecidedAt       *time.Time         `json:"decided_at,omitempty"`
	RejectionReason string             `json:"rejection_reason,omitempty"`
	ExpiresAt       time.Time          `json:"expires_at"`
	EvidenceHash    string             `json:"evidence_hash"`

	// ConsumedAt marks the moment an APPROVED request authorized an
	// execution. A consumed approval cannot authorize a second run.
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

// Clone returns a deep-enough copy for handing outside the workflow lock.
// Slices are copied; identity values are plain data.
func (r *ApprovalRequest) Clone() *ApprovalRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.ApproverIDs = append([]string(nil), r.ApproverIDs...)
	c.Decisions = append([]ApprovalDecision(nil), r.Decisions...)
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		c.DecidedAt = &t
	}
	if r.ConsumedAt != nil {
		t := *r.ConsumedAt
		c.ConsumedAt = &t
	}
	return &c
}
