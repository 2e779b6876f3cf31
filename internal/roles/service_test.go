package roles

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spacefolk/spacefolk/internal/permissions"
	"github.com/spacefolk/spacefolk/internal/rbac"
	"github.com/spacefolk/spacefolk/internal/spaces"
)

type grantKey struct {
	accountID int64
	spaceID   int64
	roleID    int64
}

// memStore mirrors the PostgreSQL schema in maps. WithTx clones the whole
// state, runs the callback against the clone and swaps it in only on success,
// matching the commit-on-success contract of the real store.
type memStore struct {
	nextID     int64
	roles      map[int64]Role
	spaceRoles map[int64]map[int64]struct{}
	roleUsers  map[int64]map[int64]struct{}
	userRoles  map[grantKey]struct{}

	failInsertGrant bool
}

func newMemStore() *memStore {
	return &memStore{
		nextID:     1,
		roles:      make(map[int64]Role),
		spaceRoles: make(map[int64]map[int64]struct{}),
		roleUsers:  make(map[int64]map[int64]struct{}),
		userRoles:  make(map[grantKey]struct{}),
	}
}

func (s *memStore) clone() *memStore {
	c := newMemStore()
	c.nextID = s.nextID
	c.failInsertGrant = s.failInsertGrant
	for id, r := range s.roles {
		c.roles[id] = r
	}
	for space, ids := range s.spaceRoles {
		set := make(map[int64]struct{}, len(ids))
		for id := range ids {
			set[id] = struct{}{}
		}
		c.spaceRoles[space] = set
	}
	for role, accs := range s.roleUsers {
		set := make(map[int64]struct{}, len(accs))
		for acc := range accs {
			set[acc] = struct{}{}
		}
		c.roleUsers[role] = set
	}
	for k := range s.userRoles {
		c.userRoles[k] = struct{}{}
	}
	return c
}

func (s *memStore) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	tx := s.clone()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	*s = *tx
	return nil
}

func (s *memStore) AllocateRoleID(ctx context.Context) (int64, error) {
	id := s.nextID
	s.nextID++
	return id, nil
}

func (s *memStore) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	role, ok := s.roles[roleID]
	if !ok {
		return nil, ErrRoleNotFound
	}
	return &role, nil
}

func (s *memStore) InsertRole(ctx context.Context, role Role) error {
	s.roles[role.ID] = role
	return nil
}

func (s *memStore) UpdateRole(ctx context.Context, role Role) error {
	if _, ok := s.roles[role.ID]; !ok {
		return ErrRoleNotFound
	}
	s.roles[role.ID] = role
	return nil
}

func (s *memStore) DeleteRole(ctx context.Context, roleID int64) error {
	if _, ok := s.roles[roleID]; !ok {
		return ErrRoleNotFound
	}
	delete(s.roles, roleID)
	return nil
}

func (s *memStore) SpaceRoles(ctx context.Context, spaceID int64) ([]Role, error) {
	var out []Role
	for id := range s.spaceRoles[spaceID] {
		if role, ok := s.roles[id]; ok {
			out = append(out, role)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) AddRoleToSpace(ctx context.Context, spaceID, roleID int64) error {
	if s.spaceRoles[spaceID] == nil {
		s.spaceRoles[spaceID] = make(map[int64]struct{})
	}
	s.spaceRoles[spaceID][roleID] = struct{}{}
	return nil
}

func (s *memStore) RemoveRoleFromSpace(ctx context.Context, spaceID, roleID int64) error {
	delete(s.spaceRoles[spaceID], roleID)
	return nil
}

func (s *memStore) GrantedAccounts(ctx context.Context, roleID int64) ([]int64, error) {
	var out []int64
	for acc := range s.roleUsers[roleID] {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *memStore) AccountRoles(ctx context.Context, accountID, spaceID int64) ([]Role, error) {
	var out []Role
	for k := range s.userRoles {
		if k.accountID == accountID && k.spaceID == spaceID {
			if role, ok := s.roles[k.roleID]; ok {
				out = append(out, role)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) AccountRoleGrants(ctx context.Context, accountID, spaceID int64) ([]rbac.RoleGrant, error) {
	var out []rbac.RoleGrant
	for k := range s.userRoles {
		if k.accountID == accountID && k.spaceID == spaceID {
			if role, ok := s.roles[k.roleID]; ok {
				out = append(out, rbac.RoleGrant{Permissions: role.Permissions, Disabled: role.Disabled})
			}
		}
	}
	return out, nil
}

func (s *memStore) InsertGrant(ctx context.Context, roleID, accountID, spaceID int64) error {
	if s.failInsertGrant {
		return errStoreBroken
	}
	if s.roleUsers[roleID] == nil {
		s.roleUsers[roleID] = make(map[int64]struct{})
	}
	s.roleUsers[roleID][accountID] = struct{}{}
	s.userRoles[grantKey{accountID, spaceID, roleID}] = struct{}{}
	return nil
}

func (s *memStore) DeleteGrant(ctx context.Context, roleID, accountID, spaceID int64) error {
	delete(s.roleUsers[roleID], accountID)
	delete(s.userRoles, grantKey{accountID, spaceID, roleID})
	return nil
}

func (s *memStore) DeleteRoleGrants(ctx context.Context, roleID int64) error {
	delete(s.roleUsers, roleID)
	for k := range s.userRoles {
		if k.roleID == roleID {
			delete(s.userRoles, k)
		}
	}
	return nil
}

// requireMirrored asserts the forward and reverse grant indices agree.
func requireMirrored(t *testing.T, s *memStore) {
	t.Helper()
	forward := 0
	for roleID, accs := range s.roleUsers {
		forward += len(accs)
		role, ok := s.roles[roleID]
		require.True(t, ok, "role_users references role %d with no record", roleID)
		for acc := range accs {
			_, ok := s.userRoles[grantKey{acc, role.SpaceID, roleID}]
			require.True(t, ok, "grant role=%d account=%d has no reverse entry", roleID, acc)
		}
	}
	require.Len(t, s.userRoles, forward)
}

var errStoreBroken = errors.New("grant insert failed")

// memSpaces implements the resolver's space boundary.
type memSpaces struct {
	spaces    map[int64]*spaces.Space
	followers map[grantKey]struct{}
}

func newMemSpaces() *memSpaces {
	return &memSpaces{
		spaces:    make(map[int64]*spaces.Space),
		followers: make(map[grantKey]struct{}),
	}
}

func (m *memSpaces) addSpace(id, owner int64) {
	m.spaces[id] = &spaces.Space{ID: id, OwnerID: owner}
}

func (m *memSpaces) follow(accountID, spaceID int64) {
	m.followers[grantKey{accountID: accountID, spaceID: spaceID}] = struct{}{}
}

func (m *memSpaces) Get(ctx context.Context, spaceID int64) (*spaces.Space, error) {
	space, ok := m.spaces[spaceID]
	if !ok {
		return nil, spaces.ErrSpaceNotFound
	}
	return space, nil
}

func (m *memSpaces) IsFollower(ctx context.Context, accountID, spaceID int64) (bool, error) {
	_, ok := m.followers[grantKey{accountID: accountID, spaceID: spaceID}]
	return ok, nil
}

const (
	spaceID = int64(10)
	owner   = int64(100)
	alice   = int64(200)
	bob     = int64(300)
)

func newFixture() (*Service, *memStore, *rbac.Resolver) {
	store := newMemStore()
	world := newMemSpaces()
	world.addSpace(spaceID, owner)
	resolver := rbac.NewResolver(store, world, nil, nil)
	svc := NewService(store, resolver, nil, nil, nil)
	return svc, store, resolver
}

func TestCreateRoleByOwner(t *testing.T) {
	svc, store, _ := newFixture()
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, owner, CreateRoleInput{
		SpaceID:     spaceID,
		Permissions: permissions.NewSet(permissions.CreatePosts, permissions.UpdateOwnPosts),
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), role.ID)
	require.Equal(t, spaceID, role.SpaceID)
	require.Equal(t, owner, role.CreatedBy)
	require.False(t, role.Disabled)

	// A fresh role has no updater; the column stays NULL until the first
	// update sets it.
	require.Nil(t, role.UpdatedBy)
	stored, err := svc.GetRole(ctx, role.ID)
	require.NoError(t, err)
	require.Nil(t, stored.UpdatedBy)

	listed, err := svc.SpaceRoles(ctx, spaceID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, role.ID, listed[0].ID)

	// No implicit self-grant.
	accounts, err := svc.GrantedAccounts(ctx, role.ID)
	require.NoError(t, err)
	require.Empty(t, accounts)
	requireMirrored(t, store)

	next, err := svc.CreateRole(ctx, owner, CreateRoleInput{
		SpaceID:     spaceID,
		Permissions: permissions.NewSet(permissions.ManageRoles),
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), next.ID)
}

func TestCreateRoleRejections(t *testing.T) {
	svc, _, _ := newFixture()
	ctx := context.Background()

	_, err := svc.CreateRole(ctx, owner, CreateRoleInput{SpaceID: spaceID})
	require.ErrorIs(t, err, ErrEmptyPermissionSet)

	_, err = svc.CreateRole(ctx, alice, CreateRoleInput{
		SpaceID:     spaceID,
		Permissions: permissions.NewSet(permissions.CreatePosts),
	})
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.CreateRole(ctx, 0, CreateRoleInput{
		SpaceID:     spaceID,
		Permissions: permissions.NewSet(permissions.CreatePosts),
	})
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.CreateRole(ctx, owner, CreateRoleInput{
		SpaceID:     999,
		Permissions: permissions.NewSet(permissions.CreatePosts),
	})
	require.ErrorIs(t, err, spaces.ErrSpaceNotFound)
}

func TestManageRolesHolderCanManage(t *testing.T) {
	svc, _, _ := newFixture()
	ctx := context.Background()

	manager, err := svc.CreateRole(ctx, owner, CreateRoleInput{
		SpaceID:     spaceID,
		Permissions: permissions.NewSet(permissions.ManageRoles),
	})
	require.NoError(t, err)

	granted, err := svc.GrantRole(ctx, owner, manager.ID, []int64{alice})
	require.NoError(t, err)
	require.Equal(t, 1, granted)

	// Alice now manages roles without owning the space.
	role, err := svc.CreateRole(ctx, alice, CreateRoleInput{
		SpaceID:     spaceID,
		Permissions: permissions.NewSet(permissions.CreatePosts),
	})
	require.NoError(t, err)
	require.Equal(t, alice, role.CreatedBy)

	// Disabling the manager role withdraws the ability.
	disabled := true
	_, err = svc.UpdateRole(ctx, owner, manager.ID, RoleUpdate{Disabled: &disabled})
	require.NoError(t, err)

	_, err = svc.CreateRole(ctx, alice, CreateRoleInput{
		SpaceID:     spaceID,
		Permissions: permissions.NewSet(permissions.CreatePosts),
	})
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestGrantRevokeIdempotent(t *testing.T) {
	svc, store, resolver := newFixture()
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, owner, CreateRoleInput{
		SpaceID:     spaceID,
		Permissions: permissions.NewSet(permissions.CreatePosts),
	})
	require.NoError(t, err)

	granted, err := svc.GrantRole(ctx, owner, role.ID, []int64{alice, bob, alice})
	require.NoError(t, err)
	require.Equal(t, 2, granted)
	requireMirrored(t, store)

	allowed, err := resolver.Resolve(ctx, alice, spaceID, permissions.CreatePosts)
	require.NoError(t, err)
	require.True(t, allowed)

	// The grant confers nothing outside the role's set.
	allowed, err = resolver.Resolve(ctx, alice, spaceID, permissions.DeleteAnyPost)
	require.NoError(t, err)
	require.False(t, allowed)

	// Granting again is a no-op.
	granted, err = svc.GrantRole(ctx, owner, role.ID, []int64{alice})
	require.NoError(t, err)
	require.Zero(t, granted)

	revoked, err := svc.RevokeRole(ctx, owner, role.ID, []int64{alice})
	require.NoError(t, err)
	require.Equal(t, 1, revoked)
	requireMirrored(t, store)

	allowed, err = resolver.Resolve(ctx, alice, spaceID, permissions.CreatePosts)
	require.NoError(t, err)
	require.False(t, allowed)

	// Revoking an absent account is a no-op; the role record survives losing
	// its last holder.
	revoked, err = svc.RevokeRole(ctx, owner, role.ID, []int64{alice, bob})
	require.NoError(t, err)
	require.Equal(t, 1, revoked)
	_, err = svc.GetRole(ctx, role.ID)
	require.NoError(t, err)

	_, err = svc.GrantRole(ctx, owner, role.ID, nil)
	require.ErrorIs(t, err, ErrEmptyAccountList)
	_, err = svc.RevokeRole(ctx, owner, role.ID, []int64{})
	require.ErrorIs(t, err, ErrEmptyAccountList)
}

func TestGrantRollsBackOnFailure(t *testing.T) {
	svc, store, _ := newFixture()
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, owner, CreateRoleInput{
		SpaceID:     spaceID,
		Permissions: permissions.NewSet(permissions.CreatePosts),
	})
	require.NoError(t, err)

	store.failInsertGrant = true
	_, err = svc.GrantRole(ctx, owner, role.ID, []int64{alice, bob})
	require.Error(t, err)

	// Nothing committed.
	accounts, err := svc.GrantedAccounts(ctx, role.ID)
	require.NoError(t, err)
	require.Empty(t, accounts)
	requireMirrored(t, store)
}

func TestUpdateRolePermissionAlgebra(t *testing.T) {
	svc, _, _ := newFixture()
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, owner, CreateRoleInput{
		SpaceID:     spaceID,
		Permissions: permissions.NewSet(permissions.CreatePosts, permissions.CreateComments),
	})
	require.NoError(t, err)

	updated, err := svc.UpdateRole(ctx, owner, role.ID, RoleUpdate{
		AddPermissions:    permissions.NewSet(permissions.UpdateOwnPosts),
		RemovePermissions: permissions.NewSet(permissions.CreateComments),
	})
	require.NoError(t, err)
	require.True(t, updated.Permissions.Has(permissions.CreatePosts))
	require.True(t, updated.Permissions.Has(permissions.UpdateOwnPosts))
	require.False(t, updated.Permissions.Has(permissions.CreateComments))
	require.NotNil(t, updated.UpdatedBy)
	require.Equal(t, owner, *updated.UpdatedBy)

	// Emptying the set is rejected and leaves the role unchanged.
	_, err = svc.UpdateRole(ctx, owner, role.ID, RoleUpdate{
		RemovePermissions: permissions.All(),
	})
	require.ErrorIs(t, err, ErrEmptyPermissionSet)
	current, err := svc.GetRole(ctx, role.ID)
	require.NoError(t, err)
	require.Equal(t, updated.Permissions, current.Permissions)

	_, err = svc.UpdateRole(ctx, owner, role.ID, RoleUpdate{})
	require.ErrorIs(t, err, ErrNoChangeRequested)

	// Removing a permission the role never had changes nothing.
	_, err = svc.UpdateRole(ctx, owner, role.ID, RoleUpdate{
		RemovePermissions: permissions.NewSet(permissions.HideAnyPost),
	})
	require.ErrorIs(t, err, ErrNoChangeRequested)
}

func TestDisableAndReenableRole(t *testing.T) {
	svc, _, resolver := newFixture()
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, owner, CreateRoleInput{
		SpaceID:     spaceID,
		Permissions: permissions.NewSet(permissions.CreatePosts),
	})
	require.NoError(t, err)
	_, err = svc.GrantRole(ctx, owner, role.ID, []int64{alice})
	require.NoError(t, err)

	disabled := true
	_, err = svc.UpdateRole(ctx, owner, role.ID, RoleUpdate{Disabled: &disabled})
	require.NoError(t, err)

	allowed, err := resolver.Resolve(ctx, alice, spaceID, permissions.CreatePosts)
	require.NoError(t, err)
	require.False(t, allowed)

	// The grant is retained while the role is disabled.
	accounts, err := svc.GrantedAccounts(ctx, role.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{alice}, accounts)

	enabled := false
	_, err = svc.UpdateRole(ctx, owner, role.ID, RoleUpdate{Disabled: &enabled})
	require.NoError(t, err)

	allowed, err = resolver.Resolve(ctx, alice, spaceID, permissions.CreatePosts)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestDeleteRoleCascades(t *testing.T) {
	svc, store, resolver := newFixture()
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, owner, CreateRoleInput{
		SpaceID:     spaceID,
		Permissions: permissions.NewSet(permissions.CreatePosts),
	})
	require.NoError(t, err)
	_, err = svc.GrantRole(ctx, owner, role.ID, []int64{alice, bob})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteRole(ctx, owner, role.ID))
	requireMirrored(t, store)

	_, err = svc.GetRole(ctx, role.ID)
	require.ErrorIs(t, err, ErrRoleNotFound)

	listed, err := svc.SpaceRoles(ctx, spaceID)
	require.NoError(t, err)
	require.Empty(t, listed)

	allowed, err := resolver.Resolve(ctx, alice, spaceID, permissions.CreatePosts)
	require.NoError(t, err)
	require.False(t, allowed)

	// Operations on the deleted id keep failing with not found.
	disabled := true
	_, err = svc.UpdateRole(ctx, owner, role.ID, RoleUpdate{Disabled: &disabled})
	require.ErrorIs(t, err, ErrRoleNotFound)
	_, err = svc.GrantRole(ctx, owner, role.ID, []int64{alice})
	require.ErrorIs(t, err, ErrRoleNotFound)
	require.ErrorIs(t, svc.DeleteRole(ctx, owner, role.ID), ErrRoleNotFound)

	// The id is never reused.
	next, err := svc.CreateRole(ctx, owner, CreateRoleInput{
		SpaceID:     spaceID,
		Permissions: permissions.NewSet(permissions.CreatePosts),
	})
	require.NoError(t, err)
	require.Greater(t, next.ID, role.ID)
}

func TestCreateRoleContentRef(t *testing.T) {
	svc, _, _ := newFixture()
	ctx := context.Background()

	_, err := svc.CreateRole(ctx, owner, CreateRoleInput{
		SpaceID:     spaceID,
		Permissions: permissions.NewSet(permissions.CreatePosts),
		ContentRef:  "not-a-cid",
	})
	require.Error(t, err)

	role, err := svc.CreateRole(ctx, owner, CreateRoleInput{
		SpaceID:     spaceID,
		Permissions: permissions.NewSet(permissions.CreatePosts),
		ContentRef:  "raw:moderators",
	})
	require.NoError(t, err)
	require.Equal(t, "raw:moderators", role.ContentRef)
}
