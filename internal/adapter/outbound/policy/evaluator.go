// Package policy implements the optional tool-call authorization gate:
// CEL-conditioned rules, matched against a tool name by exact or glob
// pattern, with an xxhash-keyed LRU cache over evaluation results. It
// has no GABP counterpart in the wire protocol — engaging it is a host
// application's choice, made by wiring an Engine into the dispatcher
// before tools/call reaches the registry.
package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

const (
	maxExpressionLength = 1024
	maxCostBudget       = 100_000
	evalTimeout          = 2 * time.Second
	interruptCheckFreq   = 100
)

// EvaluationContext carries the facts a rule's CEL condition may inspect.
type EvaluationContext struct {
	ToolName      string
	Arguments     map[string]any
	Authenticated bool
	Platform      string
}

func newCELEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("tool_name", cel.StringType),
		cel.Variable("arguments", cel.DynType),
		cel.Variable("authenticated", cel.BoolType),
		cel.Variable("platform", cel.StringType),
	)
}

func activationFor(evalCtx EvaluationContext) map[string]any {
	args := evalCtx.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return map[string]any{
		"tool_name":     evalCtx.ToolName,
		"arguments":     args,
		"authenticated": evalCtx.Authenticated,
		"platform":      evalCtx.Platform,
	}
}

// evaluator compiles and runs CEL conditions against an EvaluationContext.
type evaluator struct {
	env *cel.Env
}

func newEvaluator() (*evaluator, error) {
	env, err := newCELEnvironment()
	if err != nil {
		return nil, fmt.Errorf("policy: create CEL environment: %w", err)
	}
	return &evaluator{env: env}, nil
}

func (e *evaluator) compile(expr string) (cel.Program, error) {
	if len(expr) > maxExpressionLength {
		return nil, fmt.Errorf("policy: condition too long: %d chars (max %d)", len(expr), maxExpressionLength)
	}
	if expr == "" {
		return nil, errors.New("policy: condition is empty")
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policy: compile %q: %w", expr, issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: build program for %q: %w", expr, err)
	}
	return prg, nil
}

func (e *evaluator) evaluate(prg cel.Program, evalCtx EvaluationContext) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, activationFor(evalCtx))
	if err != nil {
		return false, fmt.Errorf("policy: evaluate: %w", err)
	}
	b, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy: condition did not return a bool, got %T", result.Value())
	}
	return b, nil
}
