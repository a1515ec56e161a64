package missionctl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wardenlabs/warden/pkg/clock"
	"github.com/wardenlabs/warden/pkg/contracts"
)

func newTestKernel(t *testing.T, opts ...Option) (*MissionControl, *clock.Virtual) {
	t.Helper()
	clk := clock.NewVirtual(time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC))
	mc, err := New(contracts.DefaultGovernanceConfig(), append([]Option{WithClock(clk)}, opts...)...)
	require.NoError(t, err)
	return mc, clk
}

func l0Agent() contracts.AgentIdentity {
	return contracts.AgentIdentity{ID: "a", Name: "a", Clearance: contracts.ClearanceL0}
}

func l2Agent() contracts.AgentIdentity {
	return contracts.AgentIdentity{ID: "b", Name: "b", Clearance: contracts.ClearanceL2}
}

func okExecutor(out any) Executor {
	return func(any) (any, error) { return out, nil }
}

// An L0 agent runs a query-status action straight through.
func TestExecuteL0PassThrough(t *testing.T) {
	mc, _ := newTestKernel(t)

	outcome, err := mc.Execute(context.Background(), contracts.ActionQueryStatus, l0Agent(),
		map[string]any{}, okExecutor(map[string]any{"status": "ok"}))
	require.NoError(t, err)
	require.NotNil(t, outcome.Result)
	assert.Nil(t, outcome.Pending)

	assert.True(t, outcome.Result.Success)
	assert.Equal(t, map[string]any{"status": "ok"}, outcome.Result.Output)

	require.NotNil(t, outcome.Entry)
	assert.EqualValues(t, 1, outcome.Entry.Sequence)
	assert.True(t, outcome.Entry.Result.Success)
	assert.Nil(t, outcome.Entry.Approval)
	assert.True(t, mc.VerifyAuditIntegrity())
}

// An L0 agent attempting an L1 action is refused before the executor.
func TestExecuteClearanceViolation(t *testing.T) {
	mc, _ := newTestKernel(t)
	var violations []contracts.Event
	mc.OnEvent(contracts.EventClearanceViolation, func(ev contracts.Event) { violations = append(violations, ev) })

	invoked := false
	_, err := mc.Execute(context.Background(), contracts.ActionModifyConfig, l0Agent(), nil,
		func(any) (any, error) { invoked = true; return nil, nil })
	require.Error(t, err)
	assert.True(t, contracts.IsCode(err, contracts.CodeClearanceViolation))
	assert.False(t, invoked, "executor must not run")

	require.Len(t, violations, 1)
	assert.Equal(t, contracts.SeverityCritical, violations[0].Severity)

	entry := contracts.EntryOf(err)
	require.NotNil(t, entry, "refusal carries its audit entry")
	assert.False(t, entry.Result.Success)
	assert.Contains(t, entry.Result.Error, "Insufficient clearance")
	assert.Equal(t, 1, mc.GetAuditTrail().Len())
}

// The full L2 pending-approve-execute round trip.
func TestExecuteL2ApprovalRoundTrip(t *testing.T) {
	mc, _ := newTestKernel(t)
	require.NoError(t, mc.RegisterApprover(contracts.ApproverIdentity{ID: "ap", Name: "ap", Clearance: contracts.ClearanceL2}))
	agent := l2Agent()
	payload := map[string]any{"resourceId": "r-1"}

	invoked := 0
	executor := func(p any) (any, error) {
		invoked++
		return map[string]any{"destroyed": true}, nil
	}

	first, err := mc.Execute(context.Background(), contracts.ActionDestroyResource, agent, payload, executor)
	require.NoError(t, err)
	require.NotNil(t, first.Pending)
	assert.NotEmpty(t, first.Pending.ApprovalID)
	assert.Zero(t, invoked, "executor must not run while pending")

	updated, err := mc.ApproveAction(first.Pending.ApprovalID, "ap", nil, "")
	require.NoError(t, err)
	assert.Equal(t, contracts.ApprovalApproved, updated.State)

	second, err := mc.Execute(context.Background(), contracts.ActionDestroyResource, agent, payload, executor)
	require.NoError(t, err)
	require.NotNil(t, second.Result)
	assert.Equal(t, 1, invoked)

	require.NotNil(t, second.Entry.Approval)
	assert.Equal(t, contracts.ApprovalApproved, second.Entry.Approval.State)
	assert.True(t, mc.VerifyAuditIntegrity())
}

// A rejected approval refuses the retry with the rejection reason.
func TestExecuteL2Rejected(t *testing.T) {
	mc, _ := newTestKernel(t)
	require.NoError(t, mc.RegisterApprover(contracts.ApproverIdentity{ID: "ap", Name: "ap", Clearance: contracts.ClearanceL2}))
	agent := l2Agent()

	first, err := mc.Execute(context.Background(), contracts.ActionDestroyResource, agent, nil, okExecutor(nil))
	require.NoError(t, err)
	require.NotNil(t, first.Pending)

	_, err = mc.RejectAction(first.Pending.ApprovalID, "ap", "risky", nil)
	require.NoError(t, err)

	_, err = mc.Execute(context.Background(), contracts.ActionDestroyResource, agent, nil, okExecutor(nil))
	require.Error(t, err)
	assert.True(t, contracts.IsCode(err, contracts.CodeEnforcementRejected))
	assert.Contains(t, err.Error(), "risky")

	entry := contracts.EntryOf(err)
	require.NotNil(t, entry)
	assert.False(t, entry.Result.Success)
}

type recordingInstr struct {
	kinds []string
	errs  []error
}

func (r *recordingInstr) TrackExecution(ctx context.Context, kind string, _ ...attribute.KeyValue) (context.Context, func(error)) {
	r.kinds = append(r.kinds, kind)
	return ctx, func(err error) { r.errs = append(r.errs, err) }
}

// Every execute call flows through the installed instrumentor, which sees
// the call's final error.
func TestInstrumentationWrapsExecute(t *testing.T) {
	instr := &recordingInstr{}
	mc, _ := newTestKernel(t, WithInstrumentation(instr))

	_, err := mc.Execute(context.Background(), contracts.ActionQueryStatus, l0Agent(),
		map[string]any{}, okExecutor(nil))
	require.NoError(t, err)

	_, err = mc.Execute(context.Background(), contracts.ActionModifyConfig, l0Agent(),
		map[string]any{}, okExecutor(nil))
	require.Error(t, err)

	require.Equal(t, []string{"query-status", "modify-config"}, instr.kinds)
	require.Len(t, instr.errs, 2)
	assert.NoError(t, instr.errs[0])
	assert.True(t, contracts.IsCode(instr.errs[1], contracts.CodeClearanceViolation))
}

// An L2 attempt against an empty approver registry surfaces the workflow
// error without minting an audit entry.
func TestExecuteL2WithEmptyRegistry(t *testing.T) {
	mc, _ := newTestKernel(t)

	_, err := mc.Execute(context.Background(), contracts.ActionDestroyResource, l2Agent(),
		map[string]any{"resource": "vm-1"}, okExecutor(nil))
	require.Error(t, err)
	assert.True(t, contracts.IsCode(err, contracts.CodeNoApproversRegistered))
	assert.Nil(t, contracts.EntryOf(err))
	assert.Equal(t, 0, mc.GetAuditTrail().Len())
}

// Emergency stop revokes every pending approval in one sweep.
func TestEmergencyStop(t *testing.T) {
	mc, _ := newTestKernel(t)
	require.NoError(t, mc.RegisterApprover(contracts.ApproverIdentity{ID: "ap", Name: "ap", Clearance: contracts.ClearanceL2}))

	var critical []contracts.Event
	mc.OnEvent(contracts.EventActionRejected, func(ev contracts.Event) {
		if ev.Severity == contracts.SeverityCritical {
			critical = append(critical, ev)
		}
	})

	agentB := l2Agent()
	agentC := contracts.AgentIdentity{ID: "c", Name: "c", Clearance: contracts.ClearanceL2}
	_, err := mc.Execute(context.Background(), contracts.ActionDestroyResource, agentB, nil, okExecutor(nil))
	require.NoError(t, err)
	_, err = mc.Execute(context.Background(), contracts.ActionModifyProduction, agentC, nil, okExecutor(nil))
	require.NoError(t, err)
	require.Len(t, mc.GetPendingApprovals(), 2)

	mc.EmergencyStop("incident")

	assert.Empty(t, mc.GetPendingApprovals())
	require.Len(t, critical, 1)
	assert.Equal(t, 2, critical[0].Details["revoked_approvals"])
	assert.Equal(t, "incident", critical[0].Details["reason"])

	// Retries after the stop fail instead of proceeding.
	_, err = mc.Execute(context.Background(), contracts.ActionDestroyResource, agentB, nil, okExecutor(nil))
	require.Error(t, err)
	assert.True(t, contracts.IsCode(err, contracts.CodeEnforcementRejected))
}

// Chain integrity holds across the full mixed workload; per-entry tamper
// scenarios live in pkg/audit where the chain internals are reachable.
func TestAuditIntegrityAcrossWorkload(t *testing.T) {
	mc, _ := newTestKernel(t)
	require.NoError(t, mc.RegisterApprover(contracts.ApproverIdentity{ID: "ap", Name: "ap", Clearance: contracts.ClearanceL2}))

	_, err := mc.Execute(context.Background(), contracts.ActionReadPublic, l0Agent(), nil, okExecutor(nil))
	require.NoError(t, err)
	_, err = mc.Execute(context.Background(), contracts.ActionModifyConfig, l0Agent(), nil, okExecutor(nil))
	require.Error(t, err)
	first, err := mc.Execute(context.Background(), contracts.ActionDestroyResource, l2Agent(), nil, okExecutor(nil))
	require.NoError(t, err)
	_, err = mc.ApproveAction(first.Pending.ApprovalID, "ap", nil, "")
	require.NoError(t, err)
	_, err = mc.Execute(context.Background(), contracts.ActionDestroyResource, l2Agent(), nil, okExecutor(nil))
	require.NoError(t, err)

	entries := mc.GetAuditTrail().All()
	require.Len(t, entries, 3)
	for i := 1; i < len(entries); i++ {
		assert.Equal(t, entries[i-1].EntryHash, entries[i].PreviousHash)
		assert.Equal(t, entries[i-1].Sequence+1, entries[i].Sequence)
	}
	assert.True(t, mc.VerifyAuditIntegrity())
}

func TestExecutorFailureSurfacesWithEntry(t *testing.T) {
	mc, _ := newTestKernel(t)
	boom := errors.New("disk on fire")

	_, err := mc.Execute(context.Background(), contracts.ActionQueryStatus, l0Agent(), nil,
		func(any) (any, error) { return nil, boom })
	require.Error(t, err)
	assert.True(t, contracts.IsCode(err, contracts.CodeExecutionFailed))
	assert.ErrorIs(t, err, boom)

	entry := contracts.EntryOf(err)
	require.NotNil(t, entry)
	assert.False(t, entry.Result.Success)
	assert.Contains(t, entry.Result.Error, "disk on fire")
	assert.True(t, mc.VerifyAuditIntegrity())
}

func TestActiveContextsDuringExecution(t *testing.T) {
	mc, _ := newTestKernel(t)

	var observed []contracts.ExecutionContext
	_, err := mc.Execute(context.Background(), contracts.ActionQueryStatus, l0Agent(), nil,
		func(any) (any, error) {
			observed = mc.GetActiveContexts()
			return nil, nil
		})
	require.NoError(t, err)

	require.Len(t, observed, 1)
	assert.Equal(t, contracts.ActionQueryStatus, observed[0].Kind)
	assert.Equal(t, "a", observed[0].AgentID)
	assert.Empty(t, mc.GetActiveContexts(), "context removed after completion")
}

func TestExecutePassesSanitizedPayload(t *testing.T) {
	mc, _ := newTestKernel(t)

	var got any
	_, err := mc.Execute(context.Background(), contracts.ActionQueryStatus, l0Agent(),
		map[string]any{"q": "health", "__proto__": "x"},
		func(p any) (any, error) { got = p; return nil, nil })
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"q": "health"}, got)
}

func TestExportRoundTripThroughOrchestrator(t *testing.T) {
	mc, _ := newTestKernel(t)
	_, err := mc.Execute(context.Background(), contracts.ActionQueryStatus, l0Agent(), nil, okExecutor(nil))
	require.NoError(t, err)

	raw, err := mc.ExportAuditTrail()
	require.NoError(t, err)
	assert.Contains(t, raw, "genesis_hash")
	assert.Contains(t, raw, `"chain_valid": true`)
}

func TestOnEventUnsubscribe(t *testing.T) {
	mc, _ := newTestKernel(t)
	calls := 0
	sub := mc.OnEvent(contracts.EventActionExecuted, func(contracts.Event) { calls++ })

	_, err := mc.Execute(context.Background(), contracts.ActionQueryStatus, l0Agent(), nil, okExecutor(nil))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	sub.Unsubscribe()
	_, err = mc.Execute(context.Background(), contracts.ActionQueryStatus, l0Agent(), nil, okExecutor(nil))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestApprovalExpiryBlocksExecution(t *testing.T) {
	mc, clk := newTestKernel(t)
	require.NoError(t, mc.RegisterApprover(contracts.ApproverIdentity{ID: "ap", Name: "ap", Clearance: contracts.ClearanceL2}))
	agent := l2Agent()

	first, err := mc.Execute(context.Background(), contracts.ActionDestroyResource, agent, nil, okExecutor(nil))
	require.NoError(t, err)
	require.NotNil(t, first.Pending)

	clk.Advance(10 * time.Minute)

	_, err = mc.Execute(context.Background(), contracts.ActionDestroyResource, agent, nil, okExecutor(nil))
	require.Error(t, err)
	assert.True(t, contracts.IsCode(err, contracts.CodeEnforcementRejected))
	assert.Contains(t, err.Error(), "EXPIRED")
}
