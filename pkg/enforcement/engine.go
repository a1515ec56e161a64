// Package enforcement implements the decision core: clearance arithmetic,
// idempotency, the pre/post execution hooks, and payload sanitization. The
// engine never invokes executors itself; mission control owns that step.
package enforcement

import (
	"log/slog"
	"sync"
	"time"

	"github.com/wardenlabs/warden/pkg/clock"
	"github.com/wardenlabs/warden/pkg/contracts"
	"github.com/wardenlabs/warden/pkg/events"
)

// ApprovalDirectory is the slice of the approval workflow the engine
// consults. *approval.Workflow satisfies it.
type ApprovalDirectory interface {
	SubmitForApproval(req contracts.ActionRequest, requester contracts.AgentIdentity) (*contracts.ApprovalRequest, error)
	LatestForAction(kind contracts.ActionKind, agentID string) *contracts.ApprovalRequest
	MarkConsumed(approvalID string)
}

// Guard is an optional policy hook evaluated after the clearance check and
// before approval consultation. pkg/policy provides a CEL-backed
// implementation.
type Guard interface {
	Evaluate(req contracts.ActionRequest, agent contracts.AgentIdentity) (allowed bool, reason string, err error)
}

// Verdict is the pure decision computed by Validate.
type Verdict struct {
	Allowed           bool                       `json:"allowed"`
	RequiresApproval  bool                       `json:"requires_approval"`
	RequiredClearance contracts.ClearanceLevel   `json:"required_clearance"`
	AgentClearance    contracts.ClearanceLevel   `json:"agent_clearance"`
	Approval          *contracts.ApprovalRequest `json:"approval,omitempty"`
	Reason            string                     `json:"reason,omitempty"`
}

// Decision is the outcome class of PreExecute.
type Decision string

const (
	// DecisionProceed means the executor may run with PreResult.Payload.
	DecisionProceed Decision = "proceed"
	// DecisionWaiting means a pending approval gates the action.
	DecisionWaiting Decision = "waiting"
)

// PreResult carries the sanitized payload and the approval governing an
// L2 action (nil below L2).
type PreResult struct {
	Decision Decision
	Payload  any
	Verdict  Verdict
	Approval *contracts.ApprovalRequest
}

// CleanupAction names a compensating step reported after a failed
// execution. The engine reports; callers compensate.
type CleanupAction string

const (
	CleanupRollbackPendingChanges CleanupAction = "ROLLBACK_PENDING_CHANGES"
	CleanupReleaseResources       CleanupAction = "RELEASE_RESOURCES"
)

// PostResult is the outcome of PostExecute.
type PostResult struct {
	CleanupActions []CleanupAction
}

// Engine holds the idempotency set and the in-flight approval bindings.
// Safe for concurrent use.
type Engine struct {
	mu        sync.Mutex
	cfg       contracts.GovernanceConfig
	clk       clock.Clock
	bus       *events.Bus
	approvals ApprovalDirectory
	guard     Guard
	logger    *slog.Logger
	executed  map[string]struct{}
	inflight  map[string]string // action-request id -> approval id
}

// NewEngine builds an engine sharing the kernel's clock and bus.
func NewEngine(cfg contracts.GovernanceConfig, clk clock.Clock, bus *events.Bus, approvals ApprovalDirectory) *Engine {
	return &Engine{
		cfg:       cfg,
		clk:       clk,
		bus:       bus,
		approvals: approvals,
		logger:    slog.Default().With("component", "enforcement"),
		executed:  make(map[string]struct{}),
		inflight:  make(map[string]string),
	}
}

// WithGuard installs a policy guard. Call before serving requests.
func (e *Engine) WithGuard(g Guard) *Engine {
	e.guard = g
	return e
}

// Validate is the pure decision: clearance lookup and comparison plus the
// approval-requirement flag. It publishes nothing and creates nothing.
func (e *Engine) Validate(req contracts.ActionRequest, agent contracts.AgentIdentity) Verdict {
	required, known := contracts.RequiredClearance(req.Kind)
	if !known {
		return Verdict{
			AgentClearance: agent.Clearance,
			Reason:         "unknown action kind " + string(req.Kind),
		}
	}
	v := Verdict{
		RequiredClearance: required,
		AgentClearance:    agent.Clearance,
		RequiresApproval:  required == contracts.ClearanceL2,
	}
	if !agent.Clearance.AtLeast(required) {
		v.Reason = "Insufficient clearance: required " + string(required) + ", have " + string(agent.Clearance)
		return v
	}
	v.Allowed = true
	if v.RequiresApproval && e.approvals != nil {
		v.Approval = e.approvals.LatestForAction(req.Kind, agent.ID)
	}
	return v
}

// PreExecute gates one execution attempt. The guard order is fixed:
// clearance, idempotency, policy guard, approval state. A pending approval
// yields DecisionWaiting with no error; terminal approval states and every
// other refusal come back as tagged errors.
func (e *Engine) PreExecute(req contracts.ActionRequest, agent contracts.AgentIdentity) (*PreResult, error) {
	v := e.Validate(req, agent)

	if !v.Allowed {
		if v.RequiredClearance == "" {
			return nil, contracts.Errorf(contracts.CodeEnforcementRejected, "%s", v.Reason)
		}
		e.publish(events.New(contracts.EventClearanceViolation, contracts.SeverityCritical, e.now(), req.ID, map[string]any{
			"action_kind":    string(req.Kind),
			"agent_id":       agent.ID,
			"required_level": string(v.RequiredClearance),
			"actual_level":   string(v.AgentClearance),
		}))
		return nil, contracts.NewError(contracts.CodeClearanceViolation, v.Reason)
	}

	e.mu.Lock()
	_, seen := e.executed[req.ID]
	e.mu.Unlock()
	if seen {
		return nil, contracts.Errorf(contracts.CodeAlreadyExecuted,
			"action %s already executed; retries need a fresh request id", req.ID)
	}

	if e.guard != nil {
		allowed, reason, err := e.guard.Evaluate(req, agent)
		if err != nil {
			return nil, contracts.Errorf(contracts.CodeEnforcementRejected,
				"policy evaluation failed for action %s", req.ID).WithCause(err)
		}
		if !allowed {
			return nil, contracts.Errorf(contracts.CodeEnforcementRejected,
				"policy denied action %s: %s", req.ID, reason)
		}
	}

	if v.RequiresApproval {
		governing := v.Approval
		if governing == nil {
			created, err := e.approvals.SubmitForApproval(req, agent)
			if err != nil {
				return nil, err
			}
			return &PreResult{Decision: DecisionWaiting, Verdict: v, Approval: created}, nil
		}
		switch governing.State {
		case contracts.ApprovalPending:
			return &PreResult{Decision: DecisionWaiting, Verdict: v, Approval: governing}, nil
		case contracts.ApprovalApproved:
			e.mu.Lock()
			e.inflight[req.ID] = governing.ID
			e.mu.Unlock()
			v.Approval = governing
		default:
			// Terminal states produce exactly one rejection, then the
			// pair starts a fresh approval cycle.
			e.approvals.MarkConsumed(governing.ID)
			msg := "approval " + governing.ID + " is " + string(governing.State)
			if governing.RejectionReason != "" {
				msg += ": " + governing.RejectionReason
			}
			return nil, contracts.NewError(contracts.CodeEnforcementRejected, msg)
		}
	}

	return &PreResult{
		Decision: DecisionProceed,
		Payload:  SanitizePayload(req.Payload),
		Verdict:  v,
		Approval: v.Approval,
	}, nil
}

// PostExecute seals one execution attempt: the request id joins the
// idempotency set, the governing approval (if any) is consumed, and the
// outcome event fires. On failure it reports the compensating steps.
func (e *Engine) PostExecute(req contracts.ActionRequest, result contracts.ActionResult, execErr error) PostResult {
	e.mu.Lock()
	e.executed[req.ID] = struct{}{}
	approvalID, bound := e.inflight[req.ID]
	delete(e.inflight, req.ID)
	e.mu.Unlock()

	if bound && e.approvals != nil {
		e.approvals.MarkConsumed(approvalID)
	}

	if execErr != nil || !result.Success {
		details := map[string]any{
			"action_kind": string(req.Kind),
			"agent_id":    req.AgentID,
			"error":       result.Error,
		}
		if execErr != nil {
			details["error"] = execErr.Error()
		}
		e.publish(events.New(contracts.EventActionFailed, contracts.SeverityWarning, e.now(), req.ID, details))
		return PostResult{CleanupActions: []CleanupAction{
			CleanupRollbackPendingChanges,
			CleanupReleaseResources,
		}}
	}

	e.publish(events.New(contracts.EventActionExecuted, contracts.SeverityInfo, e.now(), req.ID, map[string]any{
		"action_kind": string(req.Kind),
		"agent_id":    req.AgentID,
	}))
	return PostResult{}
}

// Executed reports whether the request id is in the idempotency set.
func (e *Engine) Executed(actionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.executed[actionID]
	return ok
}

func (e *Engine) now() time.Time {
	return e.clk.Now().UTC().Truncate(time.Millisecond)
}

func (e *Engine) publish(ev contracts.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}
