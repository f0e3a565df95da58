package access

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type member []Grant

func (m member) Grants() []Grant { return m }

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"", RoleNone, false},
		{"USER", RoleUser, false},
		{"community_admin", RoleCommunityAdmin, false},
		{" SUPER_ADMIN ", RoleSuperAdmin, false},
		{"OWNER", RoleNone, true},
		{"admin", RoleNone, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnknownRole)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseNullableRole(t *testing.T) {
	r, err := ParseNullableRole(nil)
	require.NoError(t, err)
	assert.Equal(t, RoleNone, r)

	s := "COMMUNITY_ADMIN"
	r, err = ParseNullableRole(&s)
	require.NoError(t, err)
	assert.Equal(t, RoleCommunityAdmin, r)
	assert.Equal(t, &s, r.Nullable())
	assert.Nil(t, RoleNone.Nullable())
}

func TestHighestRole(t *testing.T) {
	assert.Equal(t, RoleNone, HighestRole(nil))
	assert.Equal(t, RoleUser, HighestRole([]Role{RoleUser, RoleNone}))
	assert.Equal(t, RoleCommunityAdmin, HighestRole([]Role{RoleUser, RoleCommunityAdmin, RoleUser}))
	assert.Equal(t, RoleSuperAdmin, HighestRole([]Role{RoleCommunityAdmin, RoleSuperAdmin, RoleUser}))
}

func TestPermissions_MonotonicInPrecedence(t *testing.T) {
	roles := AllRoles()
	for i := 1; i < len(roles); i++ {
		lower, higher := PermissionsFor(roles[i-1]), PermissionsFor(roles[i])
		assert.True(t, higher.Contains(lower), "%s should contain %s", roles[i], roles[i-1])
		assert.Greater(t, len(higher), len(lower), "%s should be a strict superset", roles[i])
	}
}

func TestPermissions_Table(t *testing.T) {
	assert.True(t, PermissionsFor(RoleUser).Has(ViewDashboard))
	assert.False(t, PermissionsFor(RoleUser).Has(ManageMembers))

	assert.True(t, PermissionsFor(RoleCommunityAdmin).Has(ManageMembers))
	assert.True(t, PermissionsFor(RoleCommunityAdmin).Has(ViewAnalytics))
	assert.False(t, PermissionsFor(RoleCommunityAdmin).Has(SuperAdminAccess))

	assert.True(t, PermissionsFor(RoleSuperAdmin).Has(SuperAdminAccess))
	assert.True(t, PermissionsFor(RoleSuperAdmin).Has(ManageOrganizations))
}

func TestHasPermission_NoMemberships(t *testing.T) {
	all := PermissionsFor(RoleSuperAdmin).Sorted()
	subjects := map[string]Subject{
		"nil subject":       nil,
		"empty memberships": member{},
		"role-less":         member{{CommunityID: "c1", Role: RoleNone}},
	}
	for name, s := range subjects {
		t.Run(name, func(t *testing.T) {
			assert.Empty(t, EffectivePermissions(s))
			for _, p := range all {
				assert.False(t, HasPermission(s, p), p)
			}
			assert.False(t, CanAccessAdminRoute(s))
			assert.False(t, CanAccessSuperAdminRoute(s))
		})
	}
}

func TestHasPermission_UsesHighestAcrossCommunities(t *testing.T) {
	m := member{
		{CommunityID: "a", Role: RoleCommunityAdmin},
		{CommunityID: "b", Role: RoleUser},
	}
	assert.Equal(t, RoleCommunityAdmin, EffectiveRole(m))
	assert.True(t, HasPermission(m, ManageMembers))
	assert.True(t, CanAccessAdminRoute(m))
	assert.False(t, CanAccessSuperAdminRoute(m))
}

func TestHasCommunityPermission_NoCrossCommunityElevation(t *testing.T) {
	m := member{
		{CommunityID: "a", Role: RoleCommunityAdmin},
		{CommunityID: "b", Role: RoleUser},
	}
	assert.True(t, HasCommunityPermission(m, "a", ManageMembers))
	assert.False(t, HasCommunityPermission(m, "b", ManageMembers))
	assert.True(t, HasCommunityPermission(m, "b", ViewCommunity))
	assert.False(t, HasCommunityPermission(m, "c", ViewCommunity))
	assert.False(t, HasCommunityPermission(nil, "a", ViewCommunity))
}

func TestSuperAdminRoute(t *testing.T) {
	m := member{{CommunityID: "a", Role: RoleSuperAdmin}}
	assert.True(t, CanAccessSuperAdminRoute(m))
	assert.True(t, CanAccessAdminRoute(m))
}

func TestRoleJSON(t *testing.T) {
	type wrapper struct {
		Role Role `json:"role"`
	}
	b, err := json.Marshal(wrapper{Role: RoleCommunityAdmin})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"COMMUNITY_ADMIN"}`, string(b))

	b, err = json.Marshal(wrapper{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":null}`, string(b))

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"role":"SUPER_ADMIN"}`), &w))
	assert.Equal(t, RoleSuperAdmin, w.Role)

	assert.Error(t, json.Unmarshal([]byte(`{"role":"ROOT"}`), &w))
}

func TestPermissionSetJSON_Sorted(t *testing.T) {
	b, err := json.Marshal(PermissionsFor(RoleUser))
	require.NoError(t, err)
	assert.JSONEq(t, `["EDIT_PROFILE","MAKE_DONATION","VIEW_COMMUNITY","VIEW_DASHBOARD","VIEW_EVENTS"]`, string(b))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusActive, StatusLapsed))
	assert.True(t, CanTransition(StatusActive, StatusPaused))
	assert.True(t, CanTransition(StatusActive, StatusTransferPending))
	assert.True(t, CanTransition(StatusPaused, StatusActive))
	assert.True(t, CanTransition(StatusLapsed, StatusLapsed))
	assert.False(t, CanTransition(StatusPaused, StatusLapsed))
	assert.False(t, CanTransition(StatusTransferPending, StatusPaused))
	assert.False(t, CanTransition("BOGUS", StatusActive))
}

func TestParseMembershipStatus(t *testing.T) {
	st, err := ParseMembershipStatus("transfer_pending")
	require.NoError(t, err)
	assert.Equal(t, StatusTransferPending, st)

	_, err = ParseMembershipStatus("GONE")
	assert.Error(t, err)
}
