package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lwenstrom/cooklion/internal/models"
)

type CreateUserParams struct {
	Username       string
	Email          string
	HashedPassword string
	Roles          []string
}

// User repository interface
type UserRepo interface {
	// Create user with roles in one statement batch
	// On unique violation must return apperrors.ErrUsernameTaken or
	// apperrors.ErrEmailTaken depending on the violated constraint. Both
	// match apperrors.ErrUserAlreadyExists via errors.Is
	CreateUser(ctx context.Context, params CreateUserParams) (models.User, error)

	// Get user by id, username, email or login (username-or-email)
	// If user not found must return apperrors.ErrUserNotFound
	GetByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetByUsername(ctx context.Context, username string) (models.User, error)
	GetByEmail(ctx context.Context, email string) (models.User, error)
	GetByLogin(ctx context.Context, login string) (models.User, error)

	// Lock user row until current transaction ends
	// Serializes per-account session writes: two concurrent rotations for the
	// same account queue on this lock
	LockForUpdate(ctx context.Context, userID uuid.UUID) error

	// Assign role to user, idempotent
	AssignRole(ctx context.Context, userID uuid.UUID, role string) error

	// Record failed login attempt: increment counter and lock the account
	// when the counter reaches lockAfter. Returns the updated user
	RecordLoginFailure(ctx context.Context, userID uuid.UUID, lockAfter int) (models.User, error)

	// Record successful login: reset failure counter, stamp last login
	RecordLoginSuccess(ctx context.Context, userID uuid.UUID, at time.Time) (models.User, error)
}

// RefreshToken repository interface
type RefreshTokenRepo interface {
	// Persist new token record, hash must be unique
	Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Get token record by secret hash even if revoked or expired
	// If no record exists must return apperrors.ErrRefreshTokenNotFound
	GetByHash(ctx context.Context, hash string) (models.RefreshToken, error)

	// Same as GetByHash but takes a row lock until transaction ends
	GetByHashForUpdate(ctx context.Context, hash string) (models.RefreshToken, error)

	// Revoke every valid token owned by the user, returns number revoked
	InvalidateAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error)

	// Revoke single token and link it to its successor
	MarkReplaced(ctx context.Context, hash string, replacedByHash string, at time.Time) error

	// Revoke single token, idempotent: an already revoked token keeps its
	// original revocation time
	Revoke(ctx context.Context, hash string, at time.Time) error

	// Revoke the token and every descendant reachable over replaced_by_hash
	// Returns number of rows touched
	RevokeChain(ctx context.Context, hash string, at time.Time) (int64, error)

	// Delete rows that are expired or revoked, returns number deleted
	DeleteDead(ctx context.Context, now time.Time) (int64, error)
}

// Storage aggregates repositories over a single connection source
type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo

	// Run fn within one database transaction
	// The storage passed to fn is bound to that transaction
	InTx(ctx context.Context, fn func(Storage) error) error
}
