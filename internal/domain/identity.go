package domain

import "time"

// Role is an authorization tag carried by an identity.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// DefaultRoles is the role set granted on registration.
func DefaultRoles() []Role {
	return []Role{RoleUser}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	default:
		return false
	}
}

// Identity is an authenticated principal. It never carries the password hash.
type Identity struct {
	Username string `json:"username"`
	Roles    []Role `json:"roles"`
}

// HasRole reports whether the identity holds role.
func (i *Identity) HasRole(role Role) bool {
	if i == nil {
		return false
	}
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Account is the stored credential record for a username.
type Account struct {
	Username     string
	PasswordHash string
	Roles        []Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity projects the account without its credential hash.
func (a *Account) Identity() *Identity {
	roles := make([]Role, len(a.Roles))
	copy(roles, a.Roles)
	return &Identity{Username: a.Username, Roles: roles}
}
