package auth

import "context"

type principalContextKey struct{}

// Principal is the authenticated caller: verified claims plus the resolved system user.
type Principal struct {
	User   SystemUser
	Claims Claims
}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// ActorFromContext returns the system user id recorded in audit columns.
func ActorFromContext(ctx context.Context) (int64, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.User.ID <= 0 {
		return 0, ErrMissingActor
	}
	return p.User.ID, nil
}
