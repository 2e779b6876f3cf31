// Package rbac computes allow/deny decisions for (account, space, permission)
// triples. All permission sources are strictly additive: ownership first,
// then default tiers, then enabled role grants. There is no deny primitive,
// so widening any source can only ever broaden access.
package rbac

import (
	"context"

	"github.com/spacefolk/spacefolk/internal/permissions"
	"github.com/spacefolk/spacefolk/internal/shared"
	"github.com/spacefolk/spacefolk/internal/spaces"
)

// RoleGrant is the slice of a role record resolution cares about.
type RoleGrant struct {
	Permissions permissions.Set
	Disabled    bool
}

// RoleSource supplies the role grants an account holds in a space.
type RoleSource interface {
	AccountRoleGrants(ctx context.Context, accountID, spaceID int64) ([]RoleGrant, error)
}

// SpaceSource supplies space ownership, tier defaults and follower state.
type SpaceSource interface {
	Get(ctx context.Context, spaceID int64) (*spaces.Space, error)
	IsFollower(ctx context.Context, accountID, spaceID int64) (bool, error)
}

// DecisionObserver records resolution outcomes, e.g. for metrics.
type DecisionObserver interface {
	ObserveDecision(source string, allowed bool)
}

// Decision sources reported to the observer.
const (
	sourceOwner   = "owner"
	sourceDerived = "derived"
)

// Resolver is the single authorization code path: queries and the lifecycle
// managers' self-authorization both go through it.
type Resolver struct {
	roleSource  RoleSource
	spaceSource SpaceSource
	cache       *Cache
	observer    DecisionObserver
}

// NewResolver constructs a Resolver. cache and observer may be nil.
func NewResolver(roleSource RoleSource, spaceSource SpaceSource, cache *Cache, observer DecisionObserver) *Resolver {
	return &Resolver{
		roleSource:  roleSource,
		spaceSource: spaceSource,
		cache:       cache,
		observer:    observer,
	}
}

// Resolve reports whether the account holds the permission in the space.
// Ownership is evaluated first and short-circuits everything else. Missing
// grants never error; only collaborator failures propagate.
func (r *Resolver) Resolve(ctx context.Context, accountID, spaceID int64, perm permissions.Permission) (bool, error) {
	space, err := r.spaceSource.Get(ctx, spaceID)
	if err != nil {
		return false, err
	}
	if space.OwnerID == accountID {
		r.observe(sourceOwner, true)
		return true, nil
	}

	effective, err := r.derivedPermissions(ctx, space, accountID)
	if err != nil {
		return false, err
	}
	allowed := effective.Has(perm)
	r.observe(sourceDerived, allowed)
	return allowed, nil
}

// EffectivePermissions returns the full permission set the account holds in
// the space. Owners hold the entire universe.
func (r *Resolver) EffectivePermissions(ctx context.Context, accountID, spaceID int64) (permissions.Set, error) {
	space, err := r.spaceSource.Get(ctx, spaceID)
	if err != nil {
		return 0, err
	}
	if space.OwnerID == accountID {
		return permissions.All(), nil
	}
	return r.derivedPermissions(ctx, space, accountID)
}

// derivedPermissions unions the default tiers and the account's enabled role
// grants, consulting the cache when configured.
func (r *Resolver) derivedPermissions(ctx context.Context, space *spaces.Space, accountID int64) (permissions.Set, error) {
	loader := func(ctx context.Context) (permissions.Set, error) {
		return r.loadDerived(ctx, space, accountID)
	}
	if r.cache == nil {
		return loader(ctx)
	}
	return r.cache.Fetch(ctx, space.ID, accountID, loader)
}

func (r *Resolver) loadDerived(ctx context.Context, space *spaces.Space, accountID int64) (permissions.Set, error) {
	effective := space.DefaultPermissions(spaces.TierNone)

	if accountID != shared.AnonymousAccount {
		effective = effective.Union(space.DefaultPermissions(spaces.TierEveryone))

		follows, err := r.spaceSource.IsFollower(ctx, accountID, space.ID)
		if err != nil {
			return 0, err
		}
		if follows {
			effective = effective.Union(space.DefaultPermissions(spaces.TierFollower))
		}

		grants, err := r.roleSource.AccountRoleGrants(ctx, accountID, space.ID)
		if err != nil {
			return 0, err
		}
		for _, grant := range grants {
			if grant.Disabled {
				continue
			}
			effective = effective.Union(grant.Permissions)
		}
	}

	return effective, nil
}

func (r *Resolver) observe(source string, allowed bool) {
	if r.observer != nil {
		r.observer.ObserveDecision(source, allowed)
	}
}
