package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spacefolk/spacefolk/internal/shared"
)

type memRepo struct {
	accounts map[string]*ServiceAccount
}

func (r *memRepo) FindByClientID(ctx context.Context, clientID string) (*ServiceAccount, error) {
	sa, ok := r.accounts[clientID]
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return sa, nil
}

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte("sekrit"), bcrypt.MinCost)
	require.NoError(t, err)
	repo := &memRepo{accounts: map[string]*ServiceAccount{
		"worker": {ID: 1, ClientID: "worker", SecretHash: string(hash), AccountID: 42, IsActive: true},
		"parked": {ID: 2, ClientID: "parked", SecretHash: string(hash), AccountID: 43, IsActive: false},
	}}
	return NewService(repo, NewTokenStore(client, time.Hour)), mr
}

func TestIssueAndResolveToken(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, "worker", "sekrit")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	accountID, err := svc.ResolveToken(ctx, token)
	require.NoError(t, err)
	require.Equal(t, int64(42), accountID)
	require.Equal(t, int64(3600), svc.TokenTTL())

	// Expiry invalidates the token.
	mr.FastForward(2 * time.Hour)
	_, err = svc.ResolveToken(ctx, token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueTokenRejections(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.IssueToken(ctx, "worker", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.IssueToken(ctx, "ghost", "sekrit")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.IssueToken(ctx, "parked", "sekrit")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRevokeToken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, "worker", "sekrit")
	require.NoError(t, err)
	require.NoError(t, svc.RevokeToken(ctx, token))

	_, err = svc.ResolveToken(ctx, token)
	require.ErrorIs(t, err, ErrInvalidToken)

	// Revoking twice is harmless.
	require.NoError(t, svc.RevokeToken(ctx, token))
}

func TestTokenEndpoints(t *testing.T) {
	svc, _ := newTestService(t)
	handler := NewHandler(nil, svc)
	router := chi.NewRouter()
	router.Route("/auth", handler.MountRoutes)

	body := strings.NewReader(`{"client_id":"worker","client_secret":"sekrit"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/token", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var issued struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expires_in"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))
	require.NotEmpty(t, issued.Token)
	require.Equal(t, int64(3600), issued.ExpiresIn)

	// Bad credentials are a 401, not a 500.
	body = strings.NewReader(`{"client_id":"worker","client_secret":"nope"}`)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/token", body))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Revoke with the issued token.
	req = httptest.NewRequest(http.MethodDelete, "/auth/token", nil)
	req.Header.Set("Authorization", "Bearer "+issued.Token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, err := svc.ResolveToken(context.Background(), issued.Token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, "worker", "sekrit")
	require.NoError(t, err)

	var gotCaller int64
	var gotOK bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCaller, gotOK = shared.CallerFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := Middleware(svc, nil)(next)

	// No token: anonymous pass-through.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, gotOK)

	// Valid token: caller lands in context.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, gotOK)
	require.Equal(t, int64(42), gotCaller)

	// Garbage token: rejected.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
