package authz

import (
	"context"

	"biohub.org/internal/auth"
)

// Decision records a successful gate evaluation for downstream handlers.
type Decision struct {
	Subject auth.SystemUser
	Scheme  Requirement
	Allowed bool
}

type decisionContextKey struct{}

// ContextWithDecision attaches the decision to ctx.
func ContextWithDecision(ctx context.Context, d Decision) context.Context {
	return context.WithValue(ctx, decisionContextKey{}, d)
}

// DecisionFromContext returns the decision attached by the gate, if any.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	if ctx == nil {
		return Decision{}, false
	}
	d, ok := ctx.Value(decisionContextKey{}).(Decision)
	return d, ok
}
