package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is the persisted session record.
// It never carries the raw secret: only the SHA-256 hash is stored, the raw
// value is returned to the client exactly once as IssuedToken.
type RefreshToken struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	TokenHash      string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	RevokedAt      *time.Time // nil if token not revoked
	ReplacedByHash *string    // hash of the successor token, audit link only
	IPAddress      string
	UserAgent      string
	Valid          bool
}

// Usable reports if the token may still be exchanged for a new pair
func (t RefreshToken) Usable(now time.Time) bool {
	return t.Valid && t.RevokedAt == nil && t.ExpiresAt.After(now)
}

// ClientMeta is request origin info attached to a session record
type ClientMeta struct {
	IPAddress string
	UserAgent string
}
