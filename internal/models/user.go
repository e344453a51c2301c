package models

import (
	"time"

	"github.com/google/uuid"
)

// Roles known to the system
// Stored as strings in user_roles, so new roles require a migration only
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

type User struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Username       string
	Email          string
	HashedPassword string
	Enabled        bool
	Locked         bool
	FailedLogins   int
	LastLoginAt    *time.Time // nil if user never logged in
	Roles          []string
}

// HasRole reports if role assigned to the user
func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
