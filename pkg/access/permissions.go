package access

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Permission is a capability tag granted through a role.
type Permission string

const (
	ViewDashboard       Permission = "VIEW_DASHBOARD"
	ViewCommunity       Permission = "VIEW_COMMUNITY"
	ViewEvents          Permission = "VIEW_EVENTS"
	MakeDonation        Permission = "MAKE_DONATION"
	EditProfile         Permission = "EDIT_PROFILE"
	ManageMembers       Permission = "MANAGE_MEMBERS"
	ManageEvents        Permission = "MANAGE_EVENTS"
	ManagePayments      Permission = "MANAGE_PAYMENTS"
	ViewAnalytics       Permission = "VIEW_ANALYTICS"
	ManageCommunities   Permission = "MANAGE_COMMUNITIES"
	ManageOrganizations Permission = "MANAGE_ORGANIZATIONS"
	SuperAdminAccess    Permission = "SUPER_ADMIN_ACCESS"
)

// PermissionSet is an immutable-by-convention set of permissions.
type PermissionSet map[Permission]struct{}

func newSet(perms ...Permission) PermissionSet {
	s := make(PermissionSet, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

func (s PermissionSet) with(perms ...Permission) PermissionSet {
	out := make(PermissionSet, len(s)+len(perms))
	for p := range s {
		out[p] = struct{}{}
	}
	for _, p := range perms {
		out[p] = struct{}{}
	}
	return out
}

func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Contains reports whether every permission in other is also in s.
func (s PermissionSet) Contains(other PermissionSet) bool {
	for p := range other {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

// Sorted returns the permissions in a stable order.
func (s PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

var (
	userPermissions = newSet(
		ViewDashboard,
		ViewCommunity,
		ViewEvents,
		MakeDonation,
		EditProfile,
	)
	communityAdminPermissions = userPermissions.with(
		ManageMembers,
		ManageEvents,
		ManagePayments,
		ViewAnalytics,
	)
	superAdminPermissions = communityAdminPermissions.with(
		ManageCommunities,
		ManageOrganizations,
		SuperAdminAccess,
	)
)

// PermissionsFor returns the static permission set of a role. The result is
// shared; callers must not modify it.
func PermissionsFor(r Role) PermissionSet {
	switch r {
	case RoleNone:
		return PermissionSet{}
	case RoleUser:
		return userPermissions
	case RoleCommunityAdmin:
		return communityAdminPermissions
	case RoleSuperAdmin:
		return superAdminPermissions
	default:
		panic(fmt.Sprintf("access: unhandled role %d", int(r)))
	}
}

// AllRoles lists every role in ascending precedence.
func AllRoles() []Role {
	return []Role{RoleNone, RoleUser, RoleCommunityAdmin, RoleSuperAdmin}
}
