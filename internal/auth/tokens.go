package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TokenStore keeps issued bearer tokens in Redis. A token maps to the acting
// account id and expires after the configured TTL.
type TokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTokenStore constructs a TokenStore.
func NewTokenStore(client *redis.Client, ttl time.Duration) *TokenStore {
	return &TokenStore{client: client, ttl: ttl}
}

func tokenKey(token string) string {
	return fmt.Sprintf("auth:token:%s", token)
}

// Issue mints a fresh opaque token for the account.
func (s *TokenStore) Issue(ctx context.Context, accountID int64) (string, error) {
	token := uuid.NewString()
	if err := s.client.Set(ctx, tokenKey(token), strconv.FormatInt(accountID, 10), s.ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// Lookup resolves a token to its account id.
func (s *TokenStore) Lookup(ctx context.Context, token string) (int64, error) {
	raw, err := s.client.Get(ctx, tokenKey(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrInvalidToken
		}
		return 0, err
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// Revoke deletes a token.
func (s *TokenStore) Revoke(ctx context.Context, token string) error {
	return s.client.Del(ctx, tokenKey(token)).Err()
}

// TTL returns the configured token lifetime.
func (s *TokenStore) TTL() time.Duration {
	return s.ttl
}
