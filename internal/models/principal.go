package models

import (
	"github.com/google/uuid"
)

// Principal is the identity bound to a request after access token validation
// Built from token claims only, never loaded from storage on the request path
type Principal struct {
	UserID   uuid.UUID
	Username string
	Roles    []string
}

// HasRole reports if the principal carries the role
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
