// Package spaces is the boundary to the space collaborator: existence,
// ownership, follower membership and per-space default permission tiers. The
// roles core consumes it read-only.
package spaces

import (
	"errors"
	"time"

	"github.com/spacefolk/spacefolk/internal/permissions"
)

// ErrSpaceNotFound indicates the referenced space does not exist.
var ErrSpaceNotFound = errors.New("spaces: space not found")

// Tier is a non-role source of default permissions.
type Tier string

const (
	// TierNone applies to every account, including anonymous lookups.
	TierNone Tier = "none"
	// TierEveryone applies to any authenticated account.
	TierEveryone Tier = "everyone"
	// TierFollower applies to accounts following the space.
	TierFollower Tier = "follower"
)

// Space is an isolated content container owning its role set.
type Space struct {
	ID      int64
	OwnerID int64
	Handle  string

	// Per-space overrides for the default tiers. Nil means the platform
	// default applies.
	NonePermissions     *permissions.Set
	EveryonePermissions *permissions.Set
	FollowerPermissions *permissions.Set

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Platform-wide tier defaults. Product tuning happens via per-space
// overrides, so these stay conservative.
var (
	DefaultNonePermissions     = permissions.Set(0)
	DefaultEveryonePermissions = permissions.NewSet(permissions.CreateComments)
	DefaultFollowerPermissions = permissions.NewSet(permissions.CreateComments)
)

// DefaultPermissions returns the effective base set for a tier, applying the
// space override when present.
func (s *Space) DefaultPermissions(tier Tier) permissions.Set {
	switch tier {
	case TierNone:
		if s != nil && s.NonePermissions != nil {
			return *s.NonePermissions
		}
		return DefaultNonePermissions
	case TierEveryone:
		if s != nil && s.EveryonePermissions != nil {
			return *s.EveryonePermissions
		}
		return DefaultEveryonePermissions
	case TierFollower:
		if s != nil && s.FollowerPermissions != nil {
			return *s.FollowerPermissions
		}
		return DefaultFollowerPermissions
	default:
		return permissions.Set(0)
	}
}
