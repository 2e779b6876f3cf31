package rbac

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/spacefolk/spacefolk/internal/permissions"
	"github.com/spacefolk/spacefolk/internal/shared"
)

// Middleware wires authorization helpers for HTTP handlers. Platform modules
// mount it in front of space-scoped routes; the space id is read from the
// named chi URL parameter.
type Middleware struct {
	Resolver *Resolver
	Logger   *slog.Logger
}

// RequirePermission ensures the caller holds the permission in the space
// identified by the URL parameter. Unauthenticated callers are rejected
// before resolution (they can at most hold the "none" tier, which grants no
// management capability).
func (m Middleware) RequirePermission(perm permissions.Permission, spaceParam string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := shared.CallerFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			spaceID, err := strconv.ParseInt(chi.URLParam(r, spaceParam), 10, 64)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
			allowed, err := m.Resolver.Resolve(r.Context(), caller, spaceID, perm)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("rbac require permission", slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if !allowed {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
