package api

import (
	"net/http"
	"strings"

	"github.com/Priya8975/error-ingest/internal/auth"
	"github.com/Priya8975/error-ingest/internal/domain"
)

// TokenVerifier turns a bearer token into an actor.
type TokenVerifier interface {
	Verify(token string) (*domain.Actor, error)
}

// optionalActor attaches the actor when a valid token is present. Missing or
// invalid tokens leave the request anonymous.
func optionalActor(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if header := r.Header.Get("Authorization"); header != "" {
				if actor, err := v.Verify(header); err == nil {
					r = r.WithContext(auth.WithActor(r.Context(), actor))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireOperator rejects requests without a valid tenant-scoped token (401)
// or whose role may not use operator surfaces (403).
func requireOperator(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := v.Verify(r.Header.Get("Authorization"))
			if err != nil || strings.TrimSpace(actor.TenantID) == "" {
				respondError(w, http.StatusUnauthorized, auth.ErrUnauthenticated.Error())
				return
			}
			if !actor.CanSymbolicate() {
				respondError(w, http.StatusForbidden, auth.ErrForbidden.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithActor(r.Context(), actor)))
		})
	}
}
