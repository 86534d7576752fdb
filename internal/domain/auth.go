package domain

import "strings"

type Role string

const (
	RoleNone  Role = ""
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// ParseRole normalises a role string coming from the client. Unknown values map to RoleNone.
func ParseRole(s string) Role {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(RoleUser):
		return RoleUser
	case string(RoleAdmin):
		return RoleAdmin
	default:
		return RoleNone
	}
}

// AuthState holds the three signals the cart coordinator observes.
type AuthState struct {
	Authenticated bool
	Role          Role
	Token         string
}
