package auth

import (
	"context"

	"golang.org/x/crypto/bcrypt"
)

// Service issues and revokes bearer tokens for service accounts.
type Service struct {
	repo   Repository
	tokens *TokenStore
}

// NewService builds Service instance.
func NewService(repo Repository, tokens *TokenStore) *Service {
	return &Service{repo: repo, tokens: tokens}
}

// IssueToken verifies the client credentials and mints a bearer token for
// the account the service account acts as.
func (s *Service) IssueToken(ctx context.Context, clientID, clientSecret string) (string, error) {
	sa, err := s.repo.FindByClientID(ctx, clientID)
	if err != nil {
		return "", err
	}
	if !sa.IsActive {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(sa.SecretHash), []byte(clientSecret)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.tokens.Issue(ctx, sa.AccountID)
}

// RevokeToken invalidates a bearer token.
func (s *Service) RevokeToken(ctx context.Context, token string) error {
	return s.tokens.Revoke(ctx, token)
}

// ResolveToken maps a bearer token to the acting account id.
func (s *Service) ResolveToken(ctx context.Context, token string) (int64, error) {
	return s.tokens.Lookup(ctx, token)
}

// TokenTTL returns the configured token lifetime.
func (s *Service) TokenTTL() int64 {
	return int64(s.tokens.TTL().Seconds())
}
