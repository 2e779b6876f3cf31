package roles

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spacefolk/spacefolk/internal/content"
	"github.com/spacefolk/spacefolk/internal/permissions"
	"github.com/spacefolk/spacefolk/internal/shared"
)

// Authorizer answers "may this account manage roles in this space". Both the
// lifecycle and grant operations authorize themselves through the same
// resolution path used for queries, so authorization logic cannot drift.
type Authorizer interface {
	Resolve(ctx context.Context, accountID, spaceID int64, perm permissions.Permission) (bool, error)
}

// Auditor records successful mutations.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CacheBumper invalidates derived-permission caches for a space.
type CacheBumper interface {
	Bump(ctx context.Context, spaceID int64) error
}

// Service implements the role lifecycle and grant/revoke operations. Every
// mutation validates all preconditions first, then applies its index writes
// inside a single store transaction.
type Service struct {
	store  Store
	authz  Authorizer
	audit  Auditor
	cache  CacheBumper
	logger *slog.Logger
}

// NewService constructs a Service. audit, cache and logger may be nil.
func NewService(store Store, authz Authorizer, audit Auditor, cache CacheBumper, logger *slog.Logger) *Service {
	return &Service{store: store, authz: authz, audit: audit, cache: cache, logger: logger}
}

// GetRole fetches a role record.
func (s *Service) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	return s.store.GetRole(ctx, roleID)
}

// SpaceRoles returns every role belonging to the space.
func (s *Service) SpaceRoles(ctx context.Context, spaceID int64) ([]Role, error) {
	return s.store.SpaceRoles(ctx, spaceID)
}

// GrantedAccounts returns the accounts currently holding the role.
func (s *Service) GrantedAccounts(ctx context.Context, roleID int64) ([]int64, error) {
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	return s.store.GrantedAccounts(ctx, roleID)
}

// CreateRole allocates the next role id and inserts a role into the space.
// The caller does not receive an implicit grant.
func (s *Service) CreateRole(ctx context.Context, caller int64, in CreateRoleInput) (*Role, error) {
	if in.Permissions.IsEmpty() {
		return nil, ErrEmptyPermissionSet
	}
	if err := content.Validate(in.ContentRef); err != nil {
		return nil, err
	}
	if err := s.ensureManager(ctx, caller, in.SpaceID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var role Role
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		id, err := tx.AllocateRoleID(ctx)
		if err != nil {
			return err
		}
		role = Role{
			ID:          id,
			SpaceID:     in.SpaceID,
			Permissions: in.Permissions,
			Disabled:    in.Disabled,
			ContentRef:  in.ContentRef,
			CreatedBy:   caller,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.InsertRole(ctx, role); err != nil {
			return err
		}
		return tx.AddRoleToSpace(ctx, in.SpaceID, id)
	})
	if err != nil {
		return nil, err
	}

	s.recordMutation(ctx, caller, actionRoleCreated, role.ID, map[string]any{
		"space_id":    role.SpaceID,
		"permissions": role.Permissions.Names(),
	})
	s.invalidate(ctx, role.SpaceID)
	return &role, nil
}

// UpdateRole applies a RoleUpdate: additions, then removals, then the
// disabled flag, then the content reference. All fields apply or none.
func (s *Service) UpdateRole(ctx context.Context, caller, roleID int64, update RoleUpdate) (*Role, error) {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureManager(ctx, caller, role.SpaceID); err != nil {
		return nil, err
	}
	if update.IsZero() {
		return nil, ErrNoChangeRequested
	}
	if update.ContentRef != nil {
		if err := content.Validate(*update.ContentRef); err != nil {
			return nil, err
		}
	}

	next := *role
	next.Permissions = role.Permissions.Union(update.AddPermissions).Difference(update.RemovePermissions)
	if next.Permissions.IsEmpty() {
		return nil, ErrEmptyPermissionSet
	}
	if update.Disabled != nil {
		next.Disabled = *update.Disabled
	}
	if update.ContentRef != nil {
		next.ContentRef = *update.ContentRef
	}
	if next.Permissions == role.Permissions && next.Disabled == role.Disabled && next.ContentRef == role.ContentRef {
		return nil, ErrNoChangeRequested
	}
	next.UpdatedBy = &caller
	next.UpdatedAt = time.Now().UTC()

	err = s.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		return tx.UpdateRole(ctx, next)
	})
	if err != nil {
		return nil, err
	}

	s.recordMutation(ctx, caller, actionRoleUpdated, next.ID, map[string]any{
		"space_id":    next.SpaceID,
		"permissions": next.Permissions.Names(),
		"disabled":    next.Disabled,
	})
	s.invalidate(ctx, next.SpaceID)
	return &next, nil
}

// DeleteRole removes the role and cascades: the space role list entry, every
// forward grant and every reverse grant go in the same transaction. After it
// returns the role id is unreachable from any index.
func (s *Service) DeleteRole(ctx context.Context, caller, roleID int64) error {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.ensureManager(ctx, caller, role.SpaceID); err != nil {
		return err
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		if err := tx.DeleteRoleGrants(ctx, roleID); err != nil {
			return err
		}
		if err := tx.RemoveRoleFromSpace(ctx, role.SpaceID, roleID); err != nil {
			return err
		}
		return tx.DeleteRole(ctx, roleID)
	})
	if err != nil {
		return err
	}

	s.recordMutation(ctx, caller, actionRoleDeleted, roleID, map[string]any{
		"space_id": role.SpaceID,
	})
	s.invalidate(ctx, role.SpaceID)
	return nil
}

// GrantRole adds the accounts to the role's grant set. Accounts already
// granted are skipped. Returns the count actually newly granted.
func (s *Service) GrantRole(ctx context.Context, caller, roleID int64, accounts []int64) (int, error) {
	accounts = dedupe(accounts)
	if len(accounts) == 0 {
		return 0, ErrEmptyAccountList
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return 0, err
	}
	if err := s.ensureManager(ctx, caller, role.SpaceID); err != nil {
		return 0, err
	}

	granted := 0
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		existing, err := tx.GrantedAccounts(ctx, roleID)
		if err != nil {
			return err
		}
		held := make(map[int64]struct{}, len(existing))
		for _, acc := range existing {
			held[acc] = struct{}{}
		}
		for _, acc := range accounts {
			if _, ok := held[acc]; ok {
				continue
			}
			if err := tx.InsertGrant(ctx, roleID, acc, role.SpaceID); err != nil {
				return err
			}
			granted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if granted > 0 {
		s.recordMutation(ctx, caller, actionRoleGranted, roleID, map[string]any{
			"space_id": role.SpaceID,
			"accounts": accounts,
			"granted":  granted,
		})
		s.invalidate(ctx, role.SpaceID)
	}
	return granted, nil
}

// RevokeRole removes the accounts from the role's grant set. Absent accounts
// are skipped; revoking the last grant does not delete the role. Returns the
// count actually revoked.
func (s *Service) RevokeRole(ctx context.Context, caller, roleID int64, accounts []int64) (int, error) {
	accounts = dedupe(accounts)
	if len(accounts) == 0 {
		return 0, ErrEmptyAccountList
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return 0, err
	}
	if err := s.ensureManager(ctx, caller, role.SpaceID); err != nil {
		return 0, err
	}

	revoked := 0
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		existing, err := tx.GrantedAccounts(ctx, roleID)
		if err != nil {
			return err
		}
		held := make(map[int64]struct{}, len(existing))
		for _, acc := range existing {
			held[acc] = struct{}{}
		}
		for _, acc := range accounts {
			if _, ok := held[acc]; !ok {
				continue
			}
			if err := tx.DeleteGrant(ctx, roleID, acc, role.SpaceID); err != nil {
				return err
			}
			revoked++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if revoked > 0 {
		s.recordMutation(ctx, caller, actionRoleRevoked, roleID, map[string]any{
			"space_id": role.SpaceID,
			"accounts": accounts,
			"revoked":  revoked,
		})
		s.invalidate(ctx, role.SpaceID)
	}
	return revoked, nil
}

// ensureManager enforces the shared authorization rule: space owner or
// ManageRoles holder. The ownership short-circuit lives in the resolver.
func (s *Service) ensureManager(ctx context.Context, caller, spaceID int64) error {
	if caller == shared.AnonymousAccount {
		return ErrUnauthorized
	}
	allowed, err := s.authz.Resolve(ctx, caller, spaceID, permissions.ManageRoles)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrUnauthorized
	}
	return nil
}

func (s *Service) recordMutation(ctx context.Context, actor int64, action string, roleID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   auditEntity,
		EntityID: fmt.Sprintf("%d", roleID),
		Meta:     meta,
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("audit record", slog.Any("error", err))
	}
}

func (s *Service) invalidate(ctx context.Context, spaceID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx, spaceID); err != nil && s.logger != nil {
		s.logger.Warn("cache bump", slog.Int64("space_id", spaceID), slog.Any("error", err))
	}
}

func dedupe(accounts []int64) []int64 {
	seen := make(map[int64]struct{}, len(accounts))
	out := accounts[:0]
	for _, acc := range accounts {
		if _, ok := seen[acc]; ok {
			continue
		}
		seen[acc] = struct{}{}
		out = append(out, acc)
	}
	return out
}
