package auth

import (
	"context"

	"github.com/osda-portal/apiserver/types"
)

type principalKey struct{}

// ContextWithPrincipal attaches the resolved principal to ctx.
func ContextWithPrincipal(ctx context.Context, principal types.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFromContext returns the principal set by ContextWithPrincipal.
func PrincipalFromContext(ctx context.Context) (types.Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(types.Principal)
	return principal, ok
}
