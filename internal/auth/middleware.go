package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/spacefolk/spacefolk/internal/shared"
)

// Middleware resolves the bearer token into the caller account and stores it
// in the request context. Requests without a token proceed as anonymous;
// requests with an invalid token are rejected outright.
func Middleware(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			accountID, err := service.ResolveToken(r.Context(), token)
			if err != nil {
				if errors.Is(err, ErrInvalidToken) {
					http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
					return
				}
				if logger != nil {
					logger.Error("resolve token", slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			ctx := shared.ContextWithCaller(r.Context(), accountID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
