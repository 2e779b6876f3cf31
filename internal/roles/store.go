package roles

import "context"

// Store is the persistence port for role records and both grant indices.
// Mutating operations run inside WithTx so that every cascade commits
// atomically; a failed callback must leave no index partially updated.
type Store interface {
	// WithTx runs fn against a transactional view of the store. The callback's
	// mutations become visible only if it returns nil.
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error

	// AllocateRoleID mints the next role id. Ids are monotonically increasing
	// and never reused, even after deletion. Returns ErrRoleIDOverflow when
	// the counter is exhausted.
	AllocateRoleID(ctx context.Context) (int64, error)

	GetRole(ctx context.Context, roleID int64) (*Role, error)
	InsertRole(ctx context.Context, role Role) error
	UpdateRole(ctx context.Context, role Role) error
	DeleteRole(ctx context.Context, roleID int64) error

	// Space role list: exactly the roles whose SpaceID equals the key.
	SpaceRoles(ctx context.Context, spaceID int64) ([]Role, error)
	AddRoleToSpace(ctx context.Context, spaceID, roleID int64) error
	RemoveRoleFromSpace(ctx context.Context, spaceID, roleID int64) error

	// Grant index, forward and reverse. InsertGrant and DeleteGrant maintain
	// both directions; the two must stay mirror-consistent.
	GrantedAccounts(ctx context.Context, roleID int64) ([]int64, error)
	AccountRoles(ctx context.Context, accountID, spaceID int64) ([]Role, error)
	InsertGrant(ctx context.Context, roleID, accountID, spaceID int64) error
	DeleteGrant(ctx context.Context, roleID, accountID, spaceID int64) error
	DeleteRoleGrants(ctx context.Context, roleID int64) error
}
