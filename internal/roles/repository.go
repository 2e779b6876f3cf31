package roles

import (
	"context"
	"errors"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spacefolk/spacefolk/internal/permissions"
	"github.com/spacefolk/spacefolk/internal/platform/db"
	"github.com/spacefolk/spacefolk/internal/rbac"
)

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository provides PostgreSQL backed persistence for role records and the
// grant indices. It satisfies both the Store port and the resolver's
// RoleSource.
type Repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool, pool: pool}
}

// WithTx runs fn against a transactional repository view.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &Repository{db: tx, pool: r.pool})
	})
}

// AllocateRoleID mints the next role id from the single-row counter table.
func (r *Repository) AllocateRoleID(ctx context.Context) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		UPDATE role_counter SET next_id = next_id + 1
		WHERE next_id < $1
		RETURNING next_id - 1`, int64(math.MaxInt64)).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrRoleIDOverflow
		}
		return 0, err
	}
	return id, nil
}

const roleColumns = `id, space_id, permissions, disabled, content_ref, created_by, updated_by, created_at, updated_at`

// GetRole fetches a role by id.
func (r *Repository) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	row := r.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, roleID)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoleNotFound
		}
		return nil, err
	}
	return role, nil
}

// InsertRole inserts a new role record.
func (r *Repository) InsertRole(ctx context.Context, role Role) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO roles (id, space_id, permissions, disabled, content_ref, created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		role.ID, role.SpaceID, int64(role.Permissions), role.Disabled, role.ContentRef,
		role.CreatedBy, role.UpdatedBy, role.CreatedAt, role.UpdatedAt)
	return err
}

// UpdateRole overwrites the mutable fields of an existing role.
func (r *Repository) UpdateRole(ctx context.Context, role Role) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE roles
		SET permissions = $2, disabled = $3, content_ref = $4, updated_by = $5, updated_at = $6
		WHERE id = $1`,
		role.ID, int64(role.Permissions), role.Disabled, role.ContentRef, role.UpdatedBy, role.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRoleNotFound
	}
	return nil
}

// DeleteRole removes the role record itself.
func (r *Repository) DeleteRole(ctx context.Context, roleID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRoleNotFound
	}
	return nil
}

// SpaceRoles returns every role in the space role list, oldest first.
func (r *Repository) SpaceRoles(ctx context.Context, spaceID int64) ([]Role, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+roleColumns+` FROM roles
		WHERE id IN (SELECT role_id FROM space_roles WHERE space_id = $1)
		ORDER BY id`, spaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRoles(rows)
}

// AddRoleToSpace appends the role to the space role list.
func (r *Repository) AddRoleToSpace(ctx context.Context, spaceID, roleID int64) error {
	_, err := r.db.Exec(ctx, `INSERT INTO space_roles (space_id, role_id) VALUES ($1, $2)`, spaceID, roleID)
	return err
}

// RemoveRoleFromSpace drops the role from the space role list.
func (r *Repository) RemoveRoleFromSpace(ctx context.Context, spaceID, roleID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM space_roles WHERE space_id = $1 AND role_id = $2`, spaceID, roleID)
	return err
}

// GrantedAccounts returns the accounts holding the role.
func (r *Repository) GrantedAccounts(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT account_id FROM role_users WHERE role_id = $1 ORDER BY account_id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}

// AccountRoles returns the role records the account holds in the space.
func (r *Repository) AccountRoles(ctx context.Context, accountID, spaceID int64) ([]Role, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+roleColumns+` FROM roles
		WHERE id IN (SELECT role_id FROM user_roles WHERE account_id = $1 AND space_id = $2)
		ORDER BY id`, accountID, spaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRoles(rows)
}

// AccountRoleGrants implements the resolver's RoleSource.
func (r *Repository) AccountRoleGrants(ctx context.Context, accountID, spaceID int64) ([]rbac.RoleGrant, error) {
	rows, err := r.db.Query(ctx, `
		SELECT ro.permissions, ro.disabled
		FROM user_roles ur
		JOIN roles ro ON ro.id = ur.role_id
		WHERE ur.account_id = $1 AND ur.space_id = $2`, accountID, spaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []rbac.RoleGrant
	for rows.Next() {
		var (
			mask     int64
			disabled bool
		)
		if err := rows.Scan(&mask, &disabled); err != nil {
			return nil, err
		}
		grants = append(grants, rbac.RoleGrant{Permissions: permissions.Set(uint64(mask)), Disabled: disabled})
	}
	return grants, rows.Err()
}

// InsertGrant writes both directions of the grant index.
func (r *Repository) InsertGrant(ctx context.Context, roleID, accountID, spaceID int64) error {
	if _, err := r.db.Exec(ctx, `INSERT INTO role_users (role_id, account_id) VALUES ($1, $2)`, roleID, accountID); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx, `INSERT INTO user_roles (account_id, space_id, role_id) VALUES ($1, $2, $3)`, accountID, spaceID, roleID)
	return err
}

// DeleteGrant removes both directions of the grant index.
func (r *Repository) DeleteGrant(ctx context.Context, roleID, accountID, spaceID int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM role_users WHERE role_id = $1 AND account_id = $2`, roleID, accountID); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx, `DELETE FROM user_roles WHERE account_id = $1 AND space_id = $2 AND role_id = $3`, accountID, spaceID, roleID)
	return err
}

// DeleteRoleGrants removes every grant referencing the role from both
// indices, as part of the delete cascade.
func (r *Repository) DeleteRoleGrants(ctx context.Context, roleID int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM role_users WHERE role_id = $1`, roleID); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx, `DELETE FROM user_roles WHERE role_id = $1`, roleID)
	return err
}

func scanRole(row pgx.Row) (*Role, error) {
	var (
		role Role
		mask int64
	)
	err := row.Scan(&role.ID, &role.SpaceID, &mask, &role.Disabled, &role.ContentRef,
		&role.CreatedBy, &role.UpdatedBy, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return nil, err
	}
	role.Permissions = permissions.Set(uint64(mask))
	return &role, nil
}

func collectRoles(rows pgx.Rows) ([]Role, error) {
	var out []Role
	for rows.Next() {
		var (
			role Role
			mask int64
		)
		if err := rows.Scan(&role.ID, &role.SpaceID, &mask, &role.Disabled, &role.ContentRef,
			&role.CreatedBy, &role.UpdatedBy, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		role.Permissions = permissions.Set(uint64(mask))
		out = append(out, role)
	}
	return out, rows.Err()
}

func collectIDs(rows pgx.Rows) ([]int64, error) {
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
