package contracts

import "time"

// ActionRequest is the immutable record of one attempted action. It is
// allocated at entry to mission control and never mutates afterwards.
type ActionRequest struct {
	ID            string     `json:"id"`
	Kind          ActionKind `json:"kind"`
	AgentID       string     `json:"agent_id"`
	CreatedAt     time.Time  `json:"created_at"`
	Payload       any        `json:"payload,omitempty"`
	Signature     []byte     `json:"signature,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
}

// ActionResult records the outcome of executing (or refusing) a request.
type ActionResult struct {
	Success     bool      `json:"success"`
	RequestID   string    `json:"request_id"`
	CompletedAt time.Time `json:"completed_at"`
	Output      any       `json:"output,omitempty"`
	Error       string    `json:"error,omitempty"`
	ExecutedBy  string    `json:"executed_by,omitempty"`
}

// ExecutionContext is the observability snapshot of an in-flight executor
// invocation, registered between PreExecute and PostExecute.
type ExecutionContext struct {
	ActionID  string     `json:"action_id"`
	Kind      ActionKind `json:"kind"`
	AgentID   string     `json:"agent_id"`
	StartedAt time.Time  `json:"started_at"`
}
