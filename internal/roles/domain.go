// Package roles owns the role lifecycle and the grant index for spaces: role
// records, the per-space role list, and the bidirectional account<->role
// mapping that permission resolution reads.
package roles

import (
	"errors"
	"time"

	"github.com/spacefolk/spacefolk/internal/permissions"
)

var (
	// ErrRoleNotFound indicates the referenced role does not exist.
	ErrRoleNotFound = errors.New("roles: role not found")
	// ErrUnauthorized indicates the caller is neither the space owner nor a
	// ManageRoles holder in the target space.
	ErrUnauthorized = errors.New("roles: caller may not manage roles in this space")
	// ErrEmptyPermissionSet indicates a create or update would leave a role
	// with zero permissions.
	ErrEmptyPermissionSet = errors.New("roles: permission set must not be empty")
	// ErrEmptyAccountList indicates grant or revoke was called with no accounts.
	ErrEmptyAccountList = errors.New("roles: account list must not be empty")
	// ErrNoChangeRequested indicates an update that changes nothing.
	ErrNoChangeRequested = errors.New("roles: update contains no changes")
	// ErrRoleIDOverflow indicates the global role id counter is exhausted.
	// Existing roles remain usable.
	ErrRoleIDOverflow = errors.New("roles: role id space exhausted")
)

// Role is a space-scoped bundle of permissions grantable to accounts. ID and
// SpaceID are immutable after creation; a role never migrates between spaces.
type Role struct {
	ID          int64           `json:"id"`
	SpaceID     int64           `json:"space_id"`
	Permissions permissions.Set `json:"permissions"`
	Disabled    bool            `json:"disabled"`
	ContentRef  string          `json:"content_ref,omitempty"`
	CreatedBy   int64           `json:"created_by"`
	UpdatedBy   *int64          `json:"updated_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// RoleUpdate is the transient update command applied by UpdateRole. Additions
// are applied before removals; the net permission set must stay non-empty.
type RoleUpdate struct {
	AddPermissions    permissions.Set
	RemovePermissions permissions.Set
	Disabled          *bool
	ContentRef        *string
}

// IsZero reports whether the update carries no fields at all.
func (u RoleUpdate) IsZero() bool {
	return u.AddPermissions.IsEmpty() &&
		u.RemovePermissions.IsEmpty() &&
		u.Disabled == nil &&
		u.ContentRef == nil
}

// CreateRoleInput carries the fields of a create_role call.
type CreateRoleInput struct {
	SpaceID     int64
	Permissions permissions.Set
	Disabled    bool
	ContentRef  string
}

// Audit actions recorded for role mutations.
const (
	auditEntity       = "role"
	actionRoleCreated = "role.created"
	actionRoleUpdated = "role.updated"
	actionRoleDeleted = "role.deleted"
	actionRoleGranted = "role.granted"
	actionRoleRevoked = "role.revoked"
)
