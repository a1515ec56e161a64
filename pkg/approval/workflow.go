// Package approval implements the human-in-the-loop workflow: the approver
// registry, the approval request state machine, threshold evaluation, and
// the escalation/expiry timers.
//
// State machine:
//
//	PENDING --approve(N>=threshold)--> APPROVED --revoke--> REVOKED
//	PENDING --reject-----------------> REJECTED
//	PENDING --timeout(expiry)--------> EXPIRED
//
// Terminal states never transition. The one documented exception is the
// emergency-stop path, which moves PENDING directly to REVOKED; only
// mission control can reach it.
package approval

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wardenlabs/warden/pkg/canonicalize"
	"github.com/wardenlabs/warden/pkg/clock"
	"github.com/wardenlabs/warden/pkg/contracts"
	"github.com/wardenlabs/warden/pkg/events"
)

type requestState struct {
	req        *contracts.ApprovalRequest
	escalation clock.Timer
	expiry     clock.Timer
}

// Workflow owns approval requests and the approver registry. All public
// methods are safe for concurrent use; the bus is never published to while
// the workflow lock is held.
type Workflow struct {
	mu       sync.Mutex
	cfg      contracts.GovernanceConfig
	clk      clock.Clock
	bus      *events.Bus
	hasher   *canonicalize.Hasher
	logger   *slog.Logger
	order    []string // approver ids in registration order
	registry map[string]contracts.ApproverIdentity
	requests map[string]*requestState
}

// NewWorkflow builds a workflow sharing the kernel's clock and bus. Both
// timers it schedules derive from the same clock; mixing sources drifts
// escalation against expiry.
func NewWorkflow(cfg contracts.GovernanceConfig, clk clock.Clock, bus *events.Bus) (*Workflow, error) {
	hasher, err := canonicalize.NewHasher(cfg.HashAlgorithm)
	if err != nil {
		return nil, err
	}
	return &Workflow{
		cfg:      cfg,
		clk:      clk,
		bus:      bus,
		hasher:   hasher,
		logger:   slog.Default().With("component", "approval"),
		registry: make(map[string]contracts.ApproverIdentity),
		requests: make(map[string]*requestState),
	}, nil
}

// RegisterApprover inserts an approver. Non-L2 identities fail with
// CodeInsufficientApproverClearance. Re-registering an id updates the
// identity without changing its position in the selection order.
func (w *Workflow) RegisterApprover(ap contracts.ApproverIdentity) error {
	if err := ap.Validate(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.registry[ap.ID]; !exists {
		w.order = append(w.order, ap.ID)
	}
	w.registry[ap.ID] = ap
	return nil
}

// UnregisterApprover removes an approver. Already-chosen approver sets on
// in-flight requests are unaffected, but a removed approver can no longer
// submit decisions.
func (w *Workflow) UnregisterApprover(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.registry[id]; !exists {
		return
	}
	delete(w.registry, id)
	for i, oid := range w.order {
		if oid == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
}

// ApproverCount returns the registry size.
func (w *Workflow) ApproverCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.registry)
}

// chosenSetLocked selects the first-N approvers by registration order.
// Selection is deterministic and the chosen set is recorded on the request,
// so it is recoverable from the audit trail.
func (w *Workflow) chosenSetLocked() []string {
	n := w.cfg.RequiredApprovers
	if n < 1 {
		n = 1
	}
	if n > len(w.order) {
		n = len(w.order)
	}
	if w.cfg.MaxApprovers > 0 && n > w.cfg.MaxApprovers {
		n = w.cfg.MaxApprovers
	}
	return append([]string(nil), w.order[:n]...)
}

// SubmitForApproval creates a PENDING request for the action and schedules
// the escalation warning and the absolute expiry, both against the shared
// clock. Fails with CodeNoApproversRegistered on an empty registry.
func (w *Workflow) SubmitForApproval(req contracts.ActionRequest, requester contracts.AgentIdentity) (*contracts.ApprovalRequest, error) {
	w.mu.Lock()
	if len(w.registry) == 0 {
		w.mu.Unlock()
		return nil, contracts.NewError(contracts.CodeNoApproversRegistered,
			"cannot submit for approval: no approvers registered")
	}

	now := w.clk.Now().UTC().Truncate(time.Millisecond)
	payloadDigest, err := w.hasher.PayloadDigest(req.Payload)
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}
	evidence, err := w.hasher.HashCanonical(map[string]any{
		"action_id":      req.ID,
		"action_kind":    string(req.Kind),
		"agent_id":       requester.ID,
		"requested_at":   canonicalize.ISOMillis(now),
		"payload_digest": payloadDigest,
	})
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}

	ar := &contracts.ApprovalRequest{
		ID:              uuid.New().String(),
		ActionRequestID: req.ID,
		ActionKind:      req.Kind,
		State:           contracts.ApprovalPending,
		Requester:       requester,
		CreatedAt:       now,
		ApproverIDs:     w.chosenSetLocked(),
		ExpiresAt:       now.Add(w.cfg.L2ApprovalTimeout()),
		EvidenceHash:    evidence,
	}

	st := &requestState{req: ar}
	st.escalation = w.clk.AfterFunc(w.cfg.EscalationTimeout(), func() { w.onEscalation(ar.ID) })
	st.expiry = w.clk.AfterFunc(w.cfg.L2ApprovalTimeout(), func() { w.onExpiry(ar.ID) })
	w.requests[ar.ID] = st

	out := ar.Clone()
	w.mu.Unlock()

	w.publish(events.New(contracts.EventActionRequested, contracts.SeverityInfo, now, req.ID, map[string]any{
		"approval_id":     ar.ID,
		"action_kind":     string(req.Kind),
		"agent_id":        requester.ID,
		"approver_ids":    out.ApproverIDs,
		"expires_at":      canonicalize.ISOMillis(ar.ExpiresAt),
		"notify_channels": w.cfg.NotifyChannels,
		"require_mfa":     w.cfg.RequireMFA,
	}))
	return out, nil
}

// onEscalation emits the first warning. It never changes state; the
// absolute deadline belongs to onExpiry.
func (w *Workflow) onEscalation(approvalID string) {
	defer w.recoverTimer("escalation")
	w.mu.Lock()
	st, ok := w.requests[approvalID]
	if !ok || st.req.State != contracts.ApprovalPending {
		w.mu.Unlock()
		return
	}
	actionID := st.req.ActionRequestID
	now := w.clk.Now()
	w.mu.Unlock()

	w.publish(events.New(contracts.EventApprovalTimeout, contracts.SeverityWarning, now, actionID, map[string]any{
		"approval_id": approvalID,
		"phase":       "escalation",
	}))
}

// onExpiry enforces the absolute deadline: a still-pending request moves to
// EXPIRED (unless auto-reject is disabled, in which case only the warning
// fires).
func (w *Workflow) onExpiry(approvalID string) {
	defer w.recoverTimer("expiry")
	w.mu.Lock()
	st, ok := w.requests[approvalID]
	if !ok || st.req.State != contracts.ApprovalPending {
		w.mu.Unlock()
		return
	}
	now := w.clk.Now()
	if w.cfg.AutoRejectOnTimeout {
		st.req.State = contracts.ApprovalExpired
	}
	actionID := st.req.ActionRequestID
	w.mu.Unlock()

	w.publish(events.New(contracts.EventApprovalTimeout, contracts.SeverityWarning, now, actionID, map[string]any{
		"approval_id": approvalID,
		"phase":       "expired",
	}))
}

func (w *Workflow) recoverTimer(phase string) {
	if r := recover(); r != nil {
		w.logger.Error("timer callback panicked", "phase", phase, "panic", r)
	}
}

// Approve records an affirmative decision and re-evaluates the threshold.
func (w *Workflow) Approve(approvalID, approverID string, sig []byte, reason string) (*contracts.ApprovalRequest, error) {
	w.mu.Lock()
	st, now, err := w.decisionGuardsLocked(approvalID, approverID)
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}

	st.req.Decisions = append(st.req.Decisions, contracts.ApprovalDecision{
		ApproverID: approverID,
		Choice:     contracts.DecisionApprove,
		Timestamp:  now,
		Signature:  sig,
		Reason:     reason,
	})

	var approvedEvent *contracts.Event
	if w.thresholdMetLocked(st.req) {
		st.req.State = contracts.ApprovalApproved
		st.req.DecidedBy = approverID
		st.req.DecidedAt = &now
		w.stopTimersLocked(st)
		ev := events.New(contracts.EventActionApproved, contracts.SeverityInfo, now, st.req.ActionRequestID, map[string]any{
			"approval_id": approvalID,
			"approver_id": approverID,
			"decisions":   len(st.req.Decisions),
		})
		approvedEvent = &ev
	}
	out := st.req.Clone()
	w.mu.Unlock()

	if approvedEvent != nil {
		w.publish(*approvedEvent)
	}
	return out, nil
}

// Reject moves the request to REJECTED. A single rejection is final.
func (w *Workflow) Reject(approvalID, approverID, reason string, sig []byte) (*contracts.ApprovalRequest, error) {
	w.mu.Lock()
	st, now, err := w.decisionGuardsLocked(approvalID, approverID)
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}

	st.req.Decisions = append(st.req.Decisions, contracts.ApprovalDecision{
		ApproverID: approverID,
		Choice:     contracts.DecisionReject,
		Timestamp:  now,
		Signature:  sig,
		Reason:     reason,
	})
	st.req.State = contracts.ApprovalRejected
	st.req.DecidedBy = approverID
	st.req.DecidedAt = &now
	st.req.RejectionReason = reason
	w.stopTimersLocked(st)
	out := st.req.Clone()
	actionID := st.req.ActionRequestID
	w.mu.Unlock()

	w.publish(events.New(contracts.EventActionRejected, contracts.SeverityWarning, now, actionID, map[string]any{
		"approval_id": approvalID,
		"approver_id": approverID,
		"reason":      reason,
	}))
	return out, nil
}

// decisionGuardsLocked runs the shared approve/reject guards in their
// documented order: NotFound, AlreadyDecided, Unauthorized, Unregistered,
// DuplicateDecision.
func (w *Workflow) decisionGuardsLocked(approvalID, approverID string) (*requestState, time.Time, error) {
	st, ok := w.requests[approvalID]
	if !ok {
		return nil, time.Time{}, contracts.Errorf(contracts.CodeNotFound, "approval %s not found", approvalID)
	}
	if st.req.State != contracts.ApprovalPending {
		return nil, time.Time{}, contracts.Errorf(contracts.CodeAlreadyDecided,
			"approval %s is %s, not PENDING", approvalID, st.req.State)
	}
	chosen := false
	for _, id := range st.req.ApproverIDs {
		if id == approverID {
			chosen = true
			break
		}
	}
	if !chosen {
		return nil, time.Time{}, contracts.Errorf(contracts.CodeUnauthorized,
			"approver %s is not in the chosen set for approval %s", approverID, approvalID)
	}
	if _, registered := w.registry[approverID]; !registered {
		return nil, time.Time{}, contracts.Errorf(contracts.CodeUnregistered,
			"approver %s is not registered", approverID)
	}
	for _, d := range st.req.Decisions {
		if d.ApproverID == approverID {
			return nil, time.Time{}, contracts.Errorf(contracts.CodeDuplicateDecision,
				"approver %s already decided approval %s", approverID, approvalID)
		}
	}
	return st, w.clk.Now().UTC().Truncate(time.Millisecond), nil
}

// thresholdMetLocked evaluates the approval condition after a new
// affirmative decision. Rejections are terminal before this runs, so every
// recorded decision here is an approval.
func (w *Workflow) thresholdMetLocked(req *contracts.ApprovalRequest) bool {
	affirmative := 0
	for _, d := range req.Decisions {
		if d.Choice == contracts.DecisionApprove {
			affirmative++
		}
	}
	if w.cfg.RequireUnanimous {
		return affirmative == len(req.ApproverIDs)
	}
	threshold := w.cfg.RequiredApprovers
	if threshold > len(req.ApproverIDs) {
		threshold = len(req.ApproverIDs)
	}
	if threshold < 1 {
		threshold = 1
	}
	return affirmative >= threshold
}

// Revoke withdraws an already-granted approval. Only APPROVED requests can
// be revoked through this path; everything else is InvalidTransition. This
// is the emergency-override for grants that should not have been given.
func (w *Workflow) Revoke(approvalID, by, reason string) (*contracts.ApprovalRequest, error) {
	w.mu.Lock()
	st, ok := w.requests[approvalID]
	if !ok {
		w.mu.Unlock()
		return nil, contracts.Errorf(contracts.CodeNotFound, "approval %s not found", approvalID)
	}
	if st.req.State != contracts.ApprovalApproved {
		w.mu.Unlock()
		return nil, contracts.Errorf(contracts.CodeInvalidTransition,
			"cannot revoke approval %s in state %s", approvalID, st.req.State)
	}
	now := w.clk.Now().UTC().Truncate(time.Millisecond)
	st.req.State = contracts.ApprovalRevoked
	st.req.RejectionReason = reason
	out := st.req.Clone()
	actionID := st.req.ActionRequestID
	w.mu.Unlock()

	w.publish(events.New(contracts.EventActionRejected, contracts.SeverityCritical, now, actionID, map[string]any{
		"approval_id": approvalID,
		"revoked_by":  by,
		"reason":      reason,
	}))
	return out, nil
}

// RevokeAllPending is the privileged emergency-stop transition: every
// PENDING request moves directly to REVOKED, bypassing the approved-only
// guard. Mission control emits the composite event; no per-request events
// fire here.
func (w *Workflow) RevokeAllPending(reason string) []contracts.ApprovalRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	var revoked []contracts.ApprovalRequest
	for _, st := range w.requests {
		if st.req.State != contracts.ApprovalPending {
			continue
		}
		st.req.State = contracts.ApprovalRevoked
		st.req.RejectionReason = reason
		w.stopTimersLocked(st)
		revoked = append(revoked, *st.req.Clone())
	}
	return revoked
}

func (w *Workflow) stopTimersLocked(st *requestState) {
	if st.escalation != nil {
		st.escalation.Stop()
		st.escalation = nil
	}
	if st.expiry != nil {
		st.expiry.Stop()
		st.expiry = nil
	}
}

// Get returns a copy of the request.
func (w *Workflow) Get(approvalID string) (*contracts.ApprovalRequest, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.requests[approvalID]
	if !ok {
		return nil, contracts.Errorf(contracts.CodeNotFound, "approval %s not found", approvalID)
	}
	return st.req.Clone(), nil
}

// Pending returns copies of all PENDING requests.
func (w *Workflow) Pending() []contracts.ApprovalRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []contracts.ApprovalRequest
	for _, st := range w.requests {
		if st.req.State == contracts.ApprovalPending {
			out = append(out, *st.req.Clone())
		}
	}
	return out
}

// LatestForAction returns the governing approval for an (action kind,
// agent) pair: the most recently created request that has not yet been
// consumed. Consumed requests no longer govern; the next attempt mints a
// fresh approval cycle.
func (w *Workflow) LatestForAction(kind contracts.ActionKind, agentID string) *contracts.ApprovalRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	var latest *contracts.ApprovalRequest
	for _, st := range w.requests {
		r := st.req
		if r.ActionKind != kind || r.Requester.ID != agentID || r.ConsumedAt != nil {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	return latest.Clone()
}

// MarkConsumed stamps the approval as used. An APPROVED request authorizes
// exactly one execution; a terminal request produces exactly one
// enforcement rejection before the pair can start a fresh cycle.
func (w *Workflow) MarkConsumed(approvalID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.requests[approvalID]
	if !ok || st.req.ConsumedAt != nil {
		return
	}
	now := w.clk.Now().UTC().Truncate(time.Millisecond)
	st.req.ConsumedAt = &now
}

func (w *Workflow) publish(ev contracts.Event) {
	if w.bus != nil {
		w.bus.Publish(ev)
	}
}
