package rbac

import (
	"encoding/json"
	"fmt"
)

// Role is a closed enumeration; its numeric value is the privilege rank.
type Role uint8

const (
	// RoleNone is the resolution result for a subject unrelated to a scope.
	// It is never persisted.
	RoleNone Role = iota
	RoleViewer
	RoleMember
	RoleAdmin
)

// Roles lists every assignable role from lowest to highest privilege.
func Roles() []Role {
	return []Role{RoleViewer, RoleMember, RoleAdmin}
}

// ParseRole converts a stored or submitted role name into a Role.
func ParseRole(raw string) (Role, error) {
	switch raw {
	case "admin":
		return RoleAdmin, nil
	case "member":
		return RoleMember, nil
	case "viewer":
		return RoleViewer, nil
	default:
		return RoleNone, fmt.Errorf("rbac: unknown role %q", raw)
	}
}

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleMember:
		return "member"
	case RoleViewer:
		return "viewer"
	default:
		return "none"
	}
}

// Valid reports whether r is an assignable role.
func (r Role) Valid() bool {
	return r >= RoleViewer && r <= RoleAdmin
}

// Rank is the position in the privilege order: viewer=1, member=2, admin=3.
func (r Role) Rank() int {
	return int(r)
}

// AtLeast reports whether r is an assignable role ranked at or above min.
func (r Role) AtLeast(min Role) bool {
	return r.Valid() && min.Valid() && r >= min
}

// MarshalJSON renders the role name; RoleNone renders as null.
func (r Role) MarshalJSON() ([]byte, error) {
	if !r.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(r.String())
}

// UnmarshalJSON accepts only assignable role names.
func (r *Role) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseRole(raw)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Highest returns the most privileged of the given roles, RoleNone when empty.
func Highest(roles ...Role) Role {
	best := RoleNone
	for _, r := range roles {
		if r.Valid() && r > best {
			best = r
		}
	}
	return best
}
