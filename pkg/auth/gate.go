package auth

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// Gate decides whether a token may be issued for a user. The policy is a CEL
// expression over the string variables user_id (the token's owner) and
// started_by (the user running the flow) that must evaluate to a bool.
// A nil Gate allows everything.
type Gate struct {
	expression string
	prg        cel.Program
}

// NewGate compiles expression. An empty expression yields a nil Gate.
func NewGate(expression string) (*Gate, error) {
	if expression == "" {
		return nil, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("user_id", cel.StringType),
		cel.Variable("started_by", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile auth policy %q: %w", expression, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build auth policy %q: %w", expression, err)
	}
	return &Gate{expression: expression, prg: prg}, nil
}

// Allow evaluates the policy for req.
func (g *Gate) Allow(req Request) (bool, error) {
	if g == nil {
		return true, nil
	}
	out, _, err := g.prg.Eval(map[string]any{
		"user_id":    req.UserID.String(),
		"started_by": req.StartedBy.String(),
	})
	if err != nil {
		return false, fmt.Errorf("evaluate auth policy %q: %w", g.expression, err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("auth policy %q returned %T, want bool", g.expression, out.Value())
	}
	return allowed, nil
}

// Wrap returns a handler that answers NotAllowed when the policy rejects the
// request and delegates to h otherwise.
func (g *Gate) Wrap(h Handler) Handler {
	if g == nil {
		return h
	}
	return func(ctx context.Context, req Request) (Response, error) {
		allowed, err := g.Allow(req)
		if err != nil {
			return Response{}, OtherError(err)
		}
		if !allowed {
			return Response{}, NotAllowedError()
		}
		return h(ctx, req)
	}
}
