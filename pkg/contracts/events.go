package contracts

import "time"

// EventKind enumerates the governance event taxonomy.
type EventKind string

const (
	EventActionRequested     EventKind = "action-requested"
	EventActionApproved      EventKind = "action-approved"
	EventActionRejected      EventKind = "action-rejected"
	EventActionExecuted      EventKind = "action-executed"
	EventActionFailed        EventKind = "action-failed"
	EventClearanceViolation  EventKind = "clearance-violation"
	EventApprovalTimeout     EventKind = "approval-timeout"
	EventAuditTamperDetected EventKind = "audit-tamper-detected"
)

// Severity grades an event for downstream consumers.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is the value handed to registered handlers. Handlers receive it by
// copy; Details must be treated as read-only.
type Event struct {
	ID        string         `json:"id"`
	Kind      EventKind      `json:"kind"`
	Severity  Severity       `json:"severity"`
	Timestamp time.Time      `json:"timestamp"`
	ActionID  string         `json:"action_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}
