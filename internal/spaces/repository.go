package spaces

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spacefolk/spacefolk/internal/permissions"
)

// Repository provides PostgreSQL backed access to space records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get fetches a space by id.
func (r *Repository) Get(ctx context.Context, spaceID int64) (*Space, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, handle, none_permissions, everyone_permissions, follower_permissions, created_at, updated_at
		FROM spaces WHERE id = $1`, spaceID)

	var (
		s                            Space
		noneMask, everyMask, folMask *int64
	)
	if err := row.Scan(&s.ID, &s.OwnerID, &s.Handle, &noneMask, &everyMask, &folMask, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSpaceNotFound
		}
		return nil, err
	}
	s.NonePermissions = maskToSet(noneMask)
	s.EveryonePermissions = maskToSet(everyMask)
	s.FollowerPermissions = maskToSet(folMask)
	return &s, nil
}

// Exists reports whether the space exists.
func (r *Repository) Exists(ctx context.Context, spaceID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM spaces WHERE id = $1)`, spaceID).Scan(&exists)
	return exists, err
}

// IsOwner reports whether the account owns the space.
func (r *Repository) IsOwner(ctx context.Context, accountID, spaceID int64) (bool, error) {
	var ownerID int64
	err := r.pool.QueryRow(ctx, `SELECT owner_id FROM spaces WHERE id = $1`, spaceID).Scan(&ownerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrSpaceNotFound
		}
		return false, err
	}
	return ownerID == accountID, nil
}

// IsFollower reports whether the account follows the space.
func (r *Repository) IsFollower(ctx context.Context, accountID, spaceID int64) (bool, error) {
	var follows bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM space_followers WHERE space_id = $1 AND account_id = $2)`,
		spaceID, accountID).Scan(&follows)
	return follows, err
}

// TierPermissions returns the effective base permission set for a tier.
func (r *Repository) TierPermissions(ctx context.Context, spaceID int64, tier Tier) (permissions.Set, error) {
	space, err := r.Get(ctx, spaceID)
	if err != nil {
		return 0, err
	}
	return space.DefaultPermissions(tier), nil
}

func maskToSet(mask *int64) *permissions.Set {
	if mask == nil {
		return nil
	}
	s := permissions.Set(uint64(*mask))
	return &s
}
