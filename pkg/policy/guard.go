// Package policy provides a CEL-backed enforcement guard. Rules are boolean
// CEL expressions over the action, the agent, and the evaluation time; every
// rule must hold for the action to pass.
package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/wardenlabs/warden/pkg/clock"
	"github.com/wardenlabs/warden/pkg/contracts"
)

// Guard evaluates a fixed rule set against action requests. It satisfies
// enforcement.Guard. Compiled programs are cached per expression; evaluation
// is fail-closed: a rule that errors denies the action.
type Guard struct {
	env   *cel.Env
	clk   clock.Clock
	rules []string

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewGuard compiles nothing eagerly; expressions are checked against the
// environment on first evaluation. An empty rule set allows everything.
func NewGuard(rules []string, clk clock.Clock) (*Guard, error) {
	env, err := cel.NewEnv(
		cel.Variable("action", cel.DynType),
		cel.Variable("agent", cel.DynType),
		cel.Variable("timestamp", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	if clk == nil {
		clk = clock.Wall()
	}
	return &Guard{
		env:   env,
		clk:   clk,
		rules: append([]string(nil), rules...),
		cache: make(map[string]cel.Program),
	}, nil
}

// Evaluate runs every rule against the request. The first failing rule
// denies with its expression as the reason.
func (g *Guard) Evaluate(req contracts.ActionRequest, agent contracts.AgentIdentity) (bool, string, error) {
	if len(g.rules) == 0 {
		return true, "", nil
	}
	input := map[string]any{
		"timestamp": g.clk.Now().Unix(),
		"action": map[string]any{
			"id":       req.ID,
			"kind":     string(req.Kind),
			"agent_id": req.AgentID,
			"payload":  req.Payload,
		},
		"agent": map[string]any{
			"id":        agent.ID,
			"name":      agent.Name,
			"clearance": string(agent.Clearance),
		},
	}
	for _, rule := range g.rules {
		allowed, err := g.evaluateExpr(rule, input)
		if err != nil {
			return false, "", fmt.Errorf("rule %q: %w", rule, err)
		}
		if !allowed {
			return false, fmt.Sprintf("rule %q", rule), nil
		}
	}
	return true, "", nil
}

func (g *Guard) evaluateExpr(expr string, input map[string]any) (bool, error) {
	g.mu.RLock()
	prg, hit := g.cache[expr]
	g.mu.RUnlock()

	if !hit {
		g.mu.Lock()
		if prg, hit = g.cache[expr]; !hit {
			ast, issues := g.env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				g.mu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			p, err := g.env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				g.mu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			g.cache[expr] = p
			prg = p
		}
		g.mu.Unlock()
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not produce a bool")
	}
	return val, nil
}
