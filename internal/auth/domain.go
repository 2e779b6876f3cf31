// Package auth authenticates platform modules calling the roles service:
// service accounts exchange their client credentials for a Redis-backed
// bearer token carrying the acting AccountId.
package auth

import (
	"errors"
	"time"
)

// ErrInvalidCredentials indicates a failed credential check.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// ErrInvalidToken indicates an unknown or expired bearer token.
var ErrInvalidToken = errors.New("auth: invalid token")

// ServiceAccount is a caller identity trusted to act as AccountID.
type ServiceAccount struct {
	ID         int64
	ClientID   string
	SecretHash string
	AccountID  int64
	IsActive   bool
	CreatedAt  time.Time
}
