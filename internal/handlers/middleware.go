package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/osda-portal/apiserver/internal/auth"
	"github.com/osda-portal/apiserver/internal/metrics"
	"github.com/osda-portal/apiserver/types"
)

// PrincipalResolver resolves a raw bearer token into a principal.
type PrincipalResolver interface {
	Resolve(ctx context.Context, raw string) (types.Principal, error)
}

// RequireAuth resolves the caller from the Authorization header, falling
// back to the session cookie set by federated sign-in, and attaches the
// principal to the request context.
func RequireAuth(resolver PrincipalResolver, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := bearerToken(r)
			if errors.Is(err, auth.ErrMissingToken) {
				if session := cookieValue(r, sessionCookie); session != "" {
					raw, err = session, nil
				}
			}
			if err != nil {
				m.ObserveResolve(auth.AsError(err).Code)
				writeAuthError(w, err)
				return
			}

			principal, err := resolver.Resolve(r.Context(), raw)
			if err != nil {
				m.ObserveResolve(auth.AsError(err).Code)
				writeAuthError(w, err)
				return
			}
			m.ObserveResolve("ok")

			ctx := auth.ContextWithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission rejects principals that lack perm. It must run after
// RequireAuth.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				writeAuthError(w, auth.ErrMissingToken)
				return
			}
			if !principal.HasPermission(perm) {
				writeAuthError(w, auth.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
