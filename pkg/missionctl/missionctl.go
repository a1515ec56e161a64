// Package missionctl is the orchestrator: it wires the enforcement engine,
// the approval workflow, and the audit trail behind one execute entry point
// and owns the event fan-out and the emergency-stop path.
package missionctl

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wardenlabs/warden/pkg/approval"
	"github.com/wardenlabs/warden/pkg/audit"
	"github.com/wardenlabs/warden/pkg/clock"
	"github.com/wardenlabs/warden/pkg/contracts"
	"github.com/wardenlabs/warden/pkg/enforcement"
	"github.com/wardenlabs/warden/pkg/events"
)

// Executor is the caller-supplied function that performs the action. It
// receives the sanitized payload and is treated as opaque; its error is
// propagated into the audit entry and re-raised as ExecutionFailed.
type Executor func(sanitizedPayload any) (any, error)

// PendingRef is returned when an L2 action is gated on a not-yet-decided
// approval. The executor has not been invoked; the caller retries execute
// (with a fresh action id) once the approval is decided.
type PendingRef struct {
	ApprovalID string    `json:"approval_id"`
	ActionID   string    `json:"action_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Outcome is the successful result of Execute: either the executed tuple or
// a pending reference, never both.
type Outcome struct {
	Result  *contracts.ActionResult
	Entry   *contracts.AuditEntry
	Pending *PendingRef
}

// Instrumentor wraps one execute call in tracing and metrics. The returned
// func is called with the call's final error (nil on success).
// *observability.Provider satisfies this.
type Instrumentor interface {
	TrackExecution(ctx context.Context, kind string, attrs ...attribute.KeyValue) (context.Context, func(error))
}

// tracerInstrumentor is the default: a span per execute call, no metrics.
type tracerInstrumentor struct {
	tracer trace.Tracer
}

func (ti tracerInstrumentor) TrackExecution(ctx context.Context, kind string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	attrs = append(attrs, attribute.String("warden.action_kind", kind))
	ctx, span := ti.tracer.Start(ctx, "warden.execute", trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}

// Option configures a MissionControl at construction.
type Option func(*options)

type options struct {
	clk   clock.Clock
	guard enforcement.Guard
	instr Instrumentor
}

// WithClock substitutes the time source. Tests use clock.NewVirtual.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clk = c } }

// WithGuard installs a policy guard on the enforcement engine.
func WithGuard(g enforcement.Guard) Option { return func(o *options) { o.guard = g } }

// WithInstrumentation routes execute calls through the given instrumentor
// instead of the default tracer-only spans.
func WithInstrumentation(i Instrumentor) Option { return func(o *options) { o.instr = i } }

// MissionControl owns one instance each of the enforcement engine, the
// approval workflow, and the audit trail for its lifetime. All methods are
// safe for concurrent use; no internal lock is ever held across an executor
// invocation.
type MissionControl struct {
	cfg      contracts.GovernanceConfig
	clk      clock.Clock
	bus      *events.Bus
	trail    *audit.Trail
	workflow *approval.Workflow
	engine   *enforcement.Engine
	logger   *slog.Logger
	instr    Instrumentor

	mu       sync.Mutex
	contexts map[string]contracts.ExecutionContext
}

// New builds a fully wired orchestrator from the configuration.
func New(cfg contracts.GovernanceConfig, opts ...Option) (*MissionControl, error) {
	o := options{
		clk:   clock.Wall(),
		instr: tracerInstrumentor{tracer: otel.Tracer("github.com/wardenlabs/warden/pkg/missionctl")},
	}
	for _, opt := range opts {
		opt(&o)
	}

	bus := events.NewBus()
	trail, err := audit.NewTrail(cfg, o.clk, bus)
	if err != nil {
		return nil, err
	}
	workflow, err := approval.NewWorkflow(cfg, o.clk, bus)
	if err != nil {
		return nil, err
	}
	engine := enforcement.NewEngine(cfg, o.clk, bus, workflow)
	if o.guard != nil {
		engine.WithGuard(o.guard)
	}

	return &MissionControl{
		cfg:      cfg,
		clk:      o.clk,
		bus:      bus,
		trail:    trail,
		workflow: workflow,
		engine:   engine,
		logger:   slog.Default().With("component", "missionctl"),
		instr:    o.instr,
		contexts: make(map[string]contracts.ExecutionContext),
	}, nil
}

// Execute runs one governed action attempt end to end: enforcement,
// optional approval gating, executor invocation, audit append.
func (m *MissionControl) Execute(ctx context.Context, kind contracts.ActionKind, agent contracts.AgentIdentity, payload any, executor Executor) (*Outcome, error) {
	ctx, done := m.instr.TrackExecution(ctx, string(kind),
		attribute.String("warden.agent_id", agent.ID))
	outcome, err := m.execute(ctx, kind, agent, payload, executor)
	done(err)
	return outcome, err
}

func (m *MissionControl) execute(_ context.Context, kind contracts.ActionKind, agent contracts.AgentIdentity, payload any, executor Executor) (*Outcome, error) {
	now := m.now()
	req := contracts.ActionRequest{
		ID:        uuid.New().String(),
		Kind:      kind,
		AgentID:   agent.ID,
		CreatedAt: now,
		Payload:   payload,
	}

	pre, err := m.engine.PreExecute(req, agent)
	if err != nil {
		return nil, m.sealRefusal(req, agent, err)
	}

	if pre.Decision == enforcement.DecisionWaiting {
		return &Outcome{Pending: &PendingRef{
			ApprovalID: pre.Approval.ID,
			ActionID:   req.ID,
			ExpiresAt:  pre.Approval.ExpiresAt,
		}}, nil
	}

	m.mu.Lock()
	m.contexts[req.ID] = contracts.ExecutionContext{
		ActionID:  req.ID,
		Kind:      kind,
		AgentID:   agent.ID,
		StartedAt: now,
	}
	m.mu.Unlock()

	// No lock is held across the executor.
	output, execErr := executor(pre.Payload)

	m.mu.Lock()
	delete(m.contexts, req.ID)
	m.mu.Unlock()

	result := contracts.ActionResult{
		Success:     execErr == nil,
		RequestID:   req.ID,
		CompletedAt: m.now(),
		Output:      output,
		ExecutedBy:  agent.ID,
	}
	if execErr != nil {
		result.Error = execErr.Error()
	}

	m.engine.PostExecute(req, result, execErr)

	entry, recErr := m.trail.Record(req, result, agent, pre.Approval)
	if recErr != nil {
		m.logger.Error("audit append failed", "action_id", req.ID, "error", recErr)
		return nil, recErr
	}

	if execErr != nil {
		return nil, contracts.Errorf(contracts.CodeExecutionFailed,
			"executor failed for action %s: %s", req.ID, execErr.Error()).
			WithEntry(entry).WithCause(execErr)
	}
	return &Outcome{Result: &result, Entry: entry}, nil
}

// sealRefusal appends the failed audit entry for an enforcement refusal and
// hands the entry back on the error. Idempotency rejections produce no new
// entry (the original execution already has one), and neither do workflow
// registry errors like an empty approver registry — those never reached
// enforcement of the action itself.
func (m *MissionControl) sealRefusal(req contracts.ActionRequest, agent contracts.AgentIdentity, cause error) error {
	ge, ok := cause.(*contracts.GovernanceError)
	if !ok || ge.Code == contracts.CodeAlreadyExecuted || ge.Code == contracts.CodeNoApproversRegistered {
		return cause
	}
	result := contracts.ActionResult{
		Success:     false,
		RequestID:   req.ID,
		CompletedAt: m.now(),
		Error:       ge.Message,
	}
	entry, err := m.trail.Record(req, result, agent, nil)
	if err != nil {
		m.logger.Error("audit append failed for refusal", "action_id", req.ID, "error", err)
		return ge
	}
	return ge.WithEntry(entry)
}

// RegisterApprover adds an L2 approver to the workflow registry.
func (m *MissionControl) RegisterApprover(ap contracts.ApproverIdentity) error {
	return m.workflow.RegisterApprover(ap)
}

// UnregisterApprover removes an approver from the registry.
func (m *MissionControl) UnregisterApprover(id string) {
	m.workflow.UnregisterApprover(id)
}

// ApproveAction delegates to the workflow. A subsequent Execute for the
// same kind/agent pair proceeds; mission control does not re-drive a
// suspended executor.
func (m *MissionControl) ApproveAction(approvalID, approverID string, sig []byte, reason string) (*contracts.ApprovalRequest, error) {
	return m.workflow.Approve(approvalID, approverID, sig, reason)
}

// RejectAction delegates to the workflow.
func (m *MissionControl) RejectAction(approvalID, approverID, reason string, sig []byte) (*contracts.ApprovalRequest, error) {
	return m.workflow.Reject(approvalID, approverID, reason, sig)
}

// RevokeApproval withdraws an already-granted approval.
func (m *MissionControl) RevokeApproval(approvalID, by, reason string) (*contracts.ApprovalRequest, error) {
	return m.workflow.Revoke(approvalID, by, reason)
}

// EmergencyStop revokes every pending approval and emits one composite
// action-rejected event at critical severity. Executors already in flight
// are not cancelled; subsequent retries fail.
func (m *MissionControl) EmergencyStop(reason string) {
	revoked := m.workflow.RevokeAllPending(reason)
	m.logger.Warn("emergency stop", "reason", reason, "revoked_approvals", len(revoked))
	m.bus.Publish(events.New(contracts.EventActionRejected, contracts.SeverityCritical, m.now(), "", map[string]any{
		"reason":            reason,
		"emergency_stop":    true,
		"revoked_approvals": len(revoked),
	}))
}

// GetPendingApprovals returns copies of all pending approval requests.
func (m *MissionControl) GetPendingApprovals() []contracts.ApprovalRequest {
	return m.workflow.Pending()
}

// GetAuditTrail exposes the trail handle for range queries.
func (m *MissionControl) GetAuditTrail() *audit.Trail { return m.trail }

// VerifyAuditIntegrity re-walks the chain.
func (m *MissionControl) VerifyAuditIntegrity() bool { return m.trail.VerifyChain() }

// ExportAuditTrail renders the compliance artifact.
func (m *MissionControl) ExportAuditTrail() (string, error) { return m.trail.ExportJSON() }

// OnEvent registers a handler for one event kind across all subcomponents;
// the returned subscription deregisters it.
func (m *MissionControl) OnEvent(kind contracts.EventKind, h events.Handler) *events.Subscription {
	return m.bus.Subscribe(kind, h)
}

// OnAnyEvent registers a handler for the whole taxonomy.
func (m *MissionControl) OnAnyEvent(h events.Handler) []*events.Subscription {
	return m.bus.SubscribeAll(h)
}

// Events exposes the bus for persistence/notifier collaborators.
func (m *MissionControl) Events() *events.Bus { return m.bus }

// GetActiveContexts snapshots the in-flight execution contexts.
func (m *MissionControl) GetActiveContexts() []contracts.ExecutionContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]contracts.ExecutionContext, 0, len(m.contexts))
	for _, c := range m.contexts {
		out = append(out, c)
	}
	return out
}

func (m *MissionControl) now() time.Time {
	return m.clk.Now().UTC().Truncate(time.Millisecond)
}
