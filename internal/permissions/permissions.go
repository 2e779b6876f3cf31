// Package permissions defines the fixed capability universe for spaces and a
// compact set type used across role records and resolution.
package permissions

import (
	"encoding/json"
	"fmt"
	"math/bits"
)

// Permission is one capability from the fixed universe. Bit positions are
// stable and part of the storage format: never reorder, only append.
type Permission uint8

const (
	ManageRoles Permission = iota
	RepresentSpaceInternally
	RepresentSpaceExternally
	UpdateSpace
	CreateSubspaces
	UpdateOwnSubspaces
	DeleteOwnSubspaces
	HideOwnSubspaces
	UpdateAnySubspace
	DeleteAnySubspace
	HideAnySubspace
	CreatePosts
	UpdateOwnPosts
	DeleteOwnPosts
	HideOwnPosts
	CreateComments
	UpdateOwnComments
	DeleteOwnComments
	HideOwnComments
	UpdateAnyPost
	DeleteAnyPost
	HideAnyPost
	HideAnyComment
	UpdateSpaceSettings

	universeSize
)

var names = [universeSize]string{
	ManageRoles:              "ManageRoles",
	RepresentSpaceInternally: "RepresentSpaceInternally",
	RepresentSpaceExternally: "RepresentSpaceExternally",
	UpdateSpace:              "UpdateSpace",
	CreateSubspaces:          "CreateSubspaces",
	UpdateOwnSubspaces:       "UpdateOwnSubspaces",
	DeleteOwnSubspaces:       "DeleteOwnSubspaces",
	HideOwnSubspaces:         "HideOwnSubspaces",
	UpdateAnySubspace:        "UpdateAnySubspace",
	DeleteAnySubspace:        "DeleteAnySubspace",
	HideAnySubspace:          "HideAnySubspace",
	CreatePosts:              "CreatePosts",
	UpdateOwnPosts:           "UpdateOwnPosts",
	DeleteOwnPosts:           "DeleteOwnPosts",
	HideOwnPosts:             "HideOwnPosts",
	CreateComments:           "CreateComments",
	UpdateOwnComments:        "UpdateOwnComments",
	DeleteOwnComments:        "DeleteOwnComments",
	HideOwnComments:          "HideOwnComments",
	UpdateAnyPost:            "UpdateAnyPost",
	DeleteAnyPost:            "DeleteAnyPost",
	HideAnyPost:              "HideAnyPost",
	HideAnyComment:           "HideAnyComment",
	UpdateSpaceSettings:      "UpdateSpaceSettings",
}

var byName = func() map[string]Permission {
	m := make(map[string]Permission, universeSize)
	for p, name := range names {
		m[name] = Permission(p)
	}
	return m
}()

// Valid reports whether p is a member of the universe.
func (p Permission) Valid() bool {
	return p < universeSize
}

// String returns the wire name of the permission.
func (p Permission) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Permission(%d)", uint8(p))
	}
	return names[p]
}

// Parse resolves a wire name into a Permission.
func Parse(name string) (Permission, error) {
	p, ok := byName[name]
	if !ok {
		return 0, fmt.Errorf("permissions: unknown permission %q", name)
	}
	return p, nil
}

// Universe returns every permission in bit order.
func Universe() []Permission {
	all := make([]Permission, universeSize)
	for i := range all {
		all[i] = Permission(i)
	}
	return all
}

// All is the set containing the whole universe.
func All() Set {
	return Set(1<<universeSize - 1)
}

// Set is a bitmask over the permission universe. The zero value is the empty
// set. Sets are values; all operations return a new Set.
type Set uint64

// NewSet builds a set from the given permissions.
func NewSet(perms ...Permission) Set {
	var s Set
	for _, p := range perms {
		s = s.Add(p)
	}
	return s
}

// FromNames builds a set from wire names, rejecting unknown ones.
func FromNames(names []string) (Set, error) {
	var s Set
	for _, name := range names {
		p, err := Parse(name)
		if err != nil {
			return 0, err
		}
		s = s.Add(p)
	}
	return s, nil
}

// Add returns s with p included.
func (s Set) Add(p Permission) Set {
	if !p.Valid() {
		return s
	}
	return s | 1<<p
}

// Remove returns s with p excluded.
func (s Set) Remove(p Permission) Set {
	return s &^ (1 << p)
}

// Union returns the union of s and other.
func (s Set) Union(other Set) Set {
	return s | other
}

// Difference returns the members of s that are not in other.
func (s Set) Difference(other Set) Set {
	return s &^ other
}

// Has reports whether p is in the set.
func (s Set) Has(p Permission) bool {
	return p.Valid() && s&(1<<p) != 0
}

// HasAll reports whether every member of other is in s.
func (s Set) HasAll(other Set) bool {
	return s&other == other
}

// IsEmpty reports whether the set has no members.
func (s Set) IsEmpty() bool {
	return s == 0
}

// Len returns the number of members.
func (s Set) Len() int {
	return bits.OnesCount64(uint64(s))
}

// Names returns the wire names of the members in bit order.
func (s Set) Names() []string {
	out := make([]string, 0, s.Len())
	for p := Permission(0); p < universeSize; p++ {
		if s.Has(p) {
			out = append(out, names[p])
		}
	}
	return out
}

// MarshalJSON encodes the set as an array of permission names.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

// UnmarshalJSON decodes an array of permission names.
func (s *Set) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromNames(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
