// Package access resolves a member's effective permissions from the roles
// they hold across community memberships.
package access

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Role is the closed set of membership roles. The zero value is RoleNone.
type Role int

const (
	RoleNone Role = iota
	RoleUser
	RoleCommunityAdmin
	RoleSuperAdmin
)

var ErrUnknownRole = errors.New("unknown role")

func (r Role) String() string {
	switch r {
	case RoleNone:
		return ""
	case RoleUser:
		return "USER"
	case RoleCommunityAdmin:
		return "COMMUNITY_ADMIN"
	case RoleSuperAdmin:
		return "SUPER_ADMIN"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// ParseRole maps the stored representation to a Role. The empty string is
// RoleNone; any other unrecognized value is an error rather than silently
// resolving to no permissions.
func ParseRole(s string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return RoleNone, nil
	case "USER":
		return RoleUser, nil
	case "COMMUNITY_ADMIN":
		return RoleCommunityAdmin, nil
	case "SUPER_ADMIN":
		return RoleSuperAdmin, nil
	default:
		return RoleNone, fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// ParseNullableRole is ParseRole for nullable storage columns.
func ParseNullableRole(s *string) (Role, error) {
	if s == nil {
		return RoleNone, nil
	}
	return ParseRole(*s)
}

// Nullable returns the storage form: nil for RoleNone.
func (r Role) Nullable() *string {
	if r == RoleNone {
		return nil
	}
	s := r.String()
	return &s
}

// rank orders roles by precedence. It panics on values outside the enum so a
// new role cannot be added without deciding where it sits.
func (r Role) rank() int {
	switch r {
	case RoleNone:
		return 0
	case RoleUser:
		return 1
	case RoleCommunityAdmin:
		return 2
	case RoleSuperAdmin:
		return 3
	default:
		panic(fmt.Sprintf("access: unhandled role %d", int(r)))
	}
}

// Outranks reports whether r has strictly higher precedence than other.
func (r Role) Outranks(other Role) bool { return r.rank() > other.rank() }

// HighestRole reduces roles by SUPER_ADMIN > COMMUNITY_ADMIN > USER > none.
func HighestRole(roles []Role) Role {
	highest := RoleNone
	for _, r := range roles {
		if r.Outranks(highest) {
			highest = r
		}
	}
	return highest
}

func (r Role) MarshalJSON() ([]byte, error) {
	if r == RoleNone {
		return []byte("null"), nil
	}
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = RoleNone
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
