package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lwenstrom/cooklion/internal/apperrors"
	"github.com/lwenstrom/cooklion/internal/models"
	"github.com/lwenstrom/cooklion/internal/repository"
)

type UserRepo struct {
	DB DBTX
}

// Columns every user query returns, roles aggregated from user_roles
const userColumns = `u.id, u.created_at, u.updated_at, u.username, u.email, u.password_hash,
	u.enabled, u.locked, u.failed_logins, u.last_login_at,
	COALESCE(array_agg(r.role ORDER BY r.role) FILTER (WHERE r.role IS NOT NULL), '{}') AS roles`

const createUser = `-- name: CreateUser
INSERT INTO users (id, username, email, password_hash)
VALUES ($1, $2, $3, $4)
RETURNING id, created_at, updated_at, username, email, password_hash, enabled, locked, failed_logins, last_login_at
`

const insertRole = `-- name: InsertRole
INSERT INTO user_roles (user_id, role)
VALUES ($1, $2)
ON CONFLICT DO NOTHING
`

func (r *UserRepo) CreateUser(ctx context.Context, params repository.CreateUserParams) (models.User, error) {
	rows, _ := r.DB.Query(ctx, createUser, uuid.New(), params.Username, params.Email, params.HashedPassword)
	user, err := pgx.CollectOneRow(rows, rowToUserNoRoles)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			switch pgErr.ConstraintName {
			case "users_email_key":
				return user, apperrors.ErrEmailTaken
			default:
				return user, apperrors.ErrUsernameTaken
			}
		}

		return user, fmt.Errorf("db error: %w", err)
	}

	for _, role := range params.Roles {
		if _, err := r.DB.Exec(ctx, insertRole, user.ID, role); err != nil {
			return user, fmt.Errorf("db error: %w", err)
		}
		user.Roles = append(user.Roles, role)
	}

	return user, nil
}

const getUserByID = `-- name: GetUserByID
SELECT ` + userColumns + `
FROM users u
LEFT JOIN user_roles r ON r.user_id = u.id
WHERE u.id = $1
GROUP BY u.id
`

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByID, id)
	return collectUser(rows)
}

const getUserByUsername = `-- name: GetUserByUsername
SELECT ` + userColumns + `
FROM users u
LEFT JOIN user_roles r ON r.user_id = u.id
WHERE u.username = $1
GROUP BY u.id
`

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByUsername, username)
	return collectUser(rows)
}

const getUserByEmail = `-- name: GetUserByEmail
SELECT ` + userColumns + `
FROM users u
LEFT JOIN user_roles r ON r.user_id = u.id
WHERE lower(u.email) = lower($1)
GROUP BY u.id
`

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByEmail, email)
	return collectUser(rows)
}

const getUserByLogin = `-- name: GetUserByLogin
SELECT ` + userColumns + `
FROM users u
LEFT JOIN user_roles r ON r.user_id = u.id
WHERE u.username = $1 OR lower(u.email) = lower($1)
GROUP BY u.id
`

func (r *UserRepo) GetByLogin(ctx context.Context, login string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByLogin, login)
	return collectUser(rows)
}

const lockUser = `-- name: LockUser
SELECT id FROM users
WHERE id = $1
FOR UPDATE
`

func (r *UserRepo) LockForUpdate(ctx context.Context, userID uuid.UUID) error {
	rows, _ := r.DB.Query(ctx, lockUser, userID)
	_, err := pgx.CollectOneRow(rows, pgx.RowTo[uuid.UUID])

	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return apperrors.ErrUserNotFound
	default:
		return fmt.Errorf("db error: %w", err)
	}
}

func (r *UserRepo) AssignRole(ctx context.Context, userID uuid.UUID, role string) error {
	if _, err := r.DB.Exec(ctx, insertRole, userID, role); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const recordLoginFailure = `-- name: RecordLoginFailure
UPDATE users u
SET failed_logins = u.failed_logins + 1,
    locked = u.locked OR u.failed_logins + 1 >= $2,
    updated_at = now()
WHERE u.id = $1
RETURNING u.id, u.created_at, u.updated_at, u.username, u.email, u.password_hash,
    u.enabled, u.locked, u.failed_logins, u.last_login_at,
    (SELECT COALESCE(array_agg(role ORDER BY role), '{}') FROM user_roles WHERE user_id = u.id)
`

// Counter and lock flag mutate in one statement, so two racing failed logins
// can't lose an increment
func (r *UserRepo) RecordLoginFailure(ctx context.Context, userID uuid.UUID, lockAfter int) (models.User, error) {
	rows, _ := r.DB.Query(ctx, recordLoginFailure, userID, lockAfter)
	return collectUser(rows)
}

const recordLoginSuccess = `-- name: RecordLoginSuccess
UPDATE users u
SET failed_logins = 0,
    last_login_at = $2,
    updated_at = now()
WHERE u.id = $1
RETURNING u.id, u.created_at, u.updated_at, u.username, u.email, u.password_hash,
    u.enabled, u.locked, u.failed_logins, u.last_login_at,
    (SELECT COALESCE(array_agg(role ORDER BY role), '{}') FROM user_roles WHERE user_id = u.id)
`

func (r *UserRepo) RecordLoginSuccess(ctx context.Context, userID uuid.UUID, at time.Time) (models.User, error) {
	rows, _ := r.DB.Query(ctx, recordLoginSuccess, userID, at)
	return collectUser(rows)
}

func collectUser(rows pgx.Rows) (models.User, error) {
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, apperrors.ErrUserNotFound
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.CreatedAt, &u.UpdatedAt, &u.Username, &u.Email, &u.HashedPassword,
		&u.Enabled, &u.Locked, &u.FailedLogins, &u.LastLoginAt, &u.Roles,
	)
	return u, err
}

func rowToUserNoRoles(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.CreatedAt, &u.UpdatedAt, &u.Username, &u.Email, &u.HashedPassword,
		&u.Enabled, &u.Locked, &u.FailedLogins, &u.LastLoginAt,
	)
	return u, err
}
