package dto

import (
	"time"

	"github.com/spec-kit/todo-service/internal/domain"
)

// CredentialsRequest is accepted by register and authenticate, as JSON or form fields.
type CredentialsRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// RolesRequest replaces a user's roles.
type RolesRequest struct {
	Roles []domain.Role `json:"roles"`
}

// AuthResponse is returned by authenticate. Token is only set for bearer transport.
type AuthResponse struct {
	Message   string    `json:"message,omitempty"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IdentityResponse describes an account without its credentials.
type IdentityResponse struct {
	Username string        `json:"username"`
	Roles    []domain.Role `json:"roles"`
}

// NewIdentityResponse maps a domain identity.
func NewIdentityResponse(identity *domain.Identity) IdentityResponse {
	roles := identity.Roles
	if roles == nil {
		roles = []domain.Role{}
	}
	return IdentityResponse{Username: identity.Username, Roles: roles}
}
