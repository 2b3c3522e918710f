package models

import "fmt"

// Role is a member's rank inside a space. Exactly one role is held per (user, space) pair.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

// ParseRole converts a raw string into a Role, rejecting anything outside the hierarchy
func ParseRole(raw string) (Role, error) {
	role := Role(raw)
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", raw)
	}
	return role, nil
}

// Rank returns the position of the role in the total order owner > admin > moderator > member.
// Unknown roles rank 0.
func (r Role) Rank() int {
	switch r {
	case RoleOwner:
		return 4
	case RoleAdmin:
		return 3
	case RoleModerator:
		return 2
	case RoleMember:
		return 1
	default:
		return 0
	}
}

// Valid reports whether r is one of the four known roles
func (r Role) Valid() bool {
	return r.Rank() > 0
}

// Outranks reports whether r sits strictly above other
func (r Role) Outranks(other Role) bool {
	return r.Rank() > other.Rank()
}

func (r Role) String() string {
	return string(r)
}
