package auth

import (
	"context"
	"net/http"
)

type contextKey struct{}

// Middleware authenticates every request and stores the resolved identity in
// the request context. Unauthenticated requests are rejected before any
// handler runs.
func Middleware(authorizer Authorizer, reject func(w http.ResponseWriter, r *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := ExtractAPIKey(r)
			if err != nil {
				reject(w, r)
				return
			}
			id, err := authorizer.Authorize(r.Context(), key)
			if err != nil {
				reject(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// WithIdentity returns a context carrying the authenticated identity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFrom returns the authenticated identity, if any.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	return id, ok
}
