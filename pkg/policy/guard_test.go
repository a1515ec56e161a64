package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/pkg/clock"
	"github.com/wardenlabs/warden/pkg/contracts"
)

func testRequest() contracts.ActionRequest {
	return contracts.ActionRequest{
		ID:      "r1",
		Kind:    contracts.ActionModifyConfig,
		AgentID: "a",
		Payload: map[string]any{"key": "feature.flag", "value": true},
	}
}

func testAgent() contracts.AgentIdentity {
	return contracts.AgentIdentity{ID: "a", Name: "deployer", Clearance: contracts.ClearanceL1}
}

func TestEmptyRuleSetAllows(t *testing.T) {
	g, err := NewGuard(nil, nil)
	require.NoError(t, err)

	allowed, reason, err := g.Evaluate(testRequest(), testAgent())
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Empty(t, reason)
}

func TestRuleDenies(t *testing.T) {
	g, err := NewGuard([]string{
		`action.kind != "modify-config"`,
	}, clock.NewVirtual(time.Unix(1000, 0)))
	require.NoError(t, err)

	allowed, reason, err := g.Evaluate(testRequest(), testAgent())
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Contains(t, reason, "modify-config")
}

func TestAllRulesMustHold(t *testing.T) {
	g, err := NewGuard([]string{
		`agent.clearance in ["L0", "L1", "L2"]`,
		`action.id.size() > 0`,
	}, nil)
	require.NoError(t, err)

	allowed, _, err := g.Evaluate(testRequest(), testAgent())
	require.NoError(t, err)
	assert.True(t, allowed)

	req := testRequest()
	req.ID = ""
	allowed, reason, err := g.Evaluate(req, testAgent())
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Contains(t, reason, "action.id")
}

func TestTimestampBinding(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(5000, 0))
	g, err := NewGuard([]string{`timestamp >= 5000`}, clk)
	require.NoError(t, err)

	allowed, _, err := g.Evaluate(testRequest(), testAgent())
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestBadExpressionFailsClosed(t *testing.T) {
	g, err := NewGuard([]string{`no_such_var > 3`}, nil)
	require.NoError(t, err, "compilation is deferred to evaluation")

	allowed, _, err := g.Evaluate(testRequest(), testAgent())
	assert.Error(t, err)
	assert.False(t, allowed)
}

func TestNonBooleanExpressionFailsClosed(t *testing.T) {
	g, err := NewGuard([]string{`action.kind`}, nil)
	require.NoError(t, err)

	allowed, _, err := g.Evaluate(testRequest(), testAgent())
	assert.Error(t, err)
	assert.False(t, allowed)
}
