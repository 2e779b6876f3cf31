package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides access to service account records.
type Repository interface {
	FindByClientID(ctx context.Context, clientID string) (*ServiceAccount, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) FindByClientID(ctx context.Context, clientID string) (*ServiceAccount, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, client_id, secret_hash, account_id, is_active, created_at
		FROM service_accounts WHERE client_id = $1`, clientID)

	var sa ServiceAccount
	err := row.Scan(&sa.ID, &sa.ClientID, &sa.SecretHash, &sa.AccountID, &sa.IsActive, &sa.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return &sa, nil
}
