package access

// Grant is one community membership as seen by the resolver.
type Grant struct {
	CommunityID string
	Role        Role
}

// Subject is anything that can report its per-community roles. A nil Subject
// is an unauthenticated visitor.
type Subject interface {
	Grants() []Grant
}

func roles(s Subject) []Role {
	if s == nil {
		return nil
	}
	grants := s.Grants()
	out := make([]Role, 0, len(grants))
	for _, g := range grants {
		if g.Role != RoleNone {
			out = append(out, g.Role)
		}
	}
	return out
}

// EffectiveRole is the highest role the subject holds in any community.
func EffectiveRole(s Subject) Role {
	return HighestRole(roles(s))
}

// EffectivePermissions is the permission set of the subject's highest role.
func EffectivePermissions(s Subject) PermissionSet {
	return PermissionsFor(EffectiveRole(s))
}

// HasPermission checks p against the subject's highest role across all
// memberships. A community admin of one community therefore passes checks
// for every community; use HasCommunityPermission where the action targets
// a specific community.
func HasPermission(s Subject, p Permission) bool {
	return EffectivePermissions(s).Has(p)
}

// CommunityRole is the subject's role within a single community, or RoleNone.
func CommunityRole(s Subject, communityID string) Role {
	if s == nil || communityID == "" {
		return RoleNone
	}
	for _, g := range s.Grants() {
		if g.CommunityID == communityID {
			return g.Role
		}
	}
	return RoleNone
}

// HasCommunityPermission checks p against the role held in communityID only.
// Roles in other communities never elevate it.
func HasCommunityPermission(s Subject, communityID string, p Permission) bool {
	return PermissionsFor(CommunityRole(s, communityID)).Has(p)
}

// CanAccessAdminRoute gates the admin area.
func CanAccessAdminRoute(s Subject) bool {
	return HasPermission(s, ManageMembers) || HasPermission(s, SuperAdminAccess)
}

// CanAccessSuperAdminRoute gates the super-admin area.
func CanAccessSuperAdminRoute(s Subject) bool {
	return HasPermission(s, SuperAdminAccess)
}
