package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lwenstrom/cooklion/internal/apperrors"
	"github.com/lwenstrom/cooklion/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const tokenColumns = `id, user_id, token_hash, created_at, expires_at, revoked_at, replaced_by_hash, ip_address, user_agent, valid`

const saveToken = `-- name: SaveRefreshToken
INSERT INTO refresh_tokens (id, user_id, token_hash, created_at, expires_at, ip_address, user_agent)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + tokenColumns

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	id := token.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	rows, _ := r.DB.Query(ctx, saveToken,
		id, token.UserID, token.TokenHash, token.CreatedAt, token.ExpiresAt, token.IPAddress, token.UserAgent)
	saved, err := pgx.CollectOneRow(rows, rowToToken)
	if err != nil {
		return saved, fmt.Errorf("db error: %w", err)
	}
	return saved, nil
}

const getToken = `-- name: GetRefreshToken
SELECT ` + tokenColumns + `
FROM refresh_tokens
WHERE token_hash = $1
`

// Get token by secret hash
// Returns the record even if it is revoked or expired: callers decide what a
// dead record means (rotation treats it as a reuse signal)
func (r *RefreshTokenRepo) GetByHash(ctx context.Context, hash string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getToken, hash)
	return collectToken(rows)
}

const getTokenForUpdate = getToken + `FOR UPDATE
`

func (r *RefreshTokenRepo) GetByHashForUpdate(ctx context.Context, hash string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getTokenForUpdate, hash)
	return collectToken(rows)
}

const invalidateAllForUser = `-- name: InvalidateAllForUser
UPDATE refresh_tokens
SET valid = FALSE, revoked_at = COALESCE(revoked_at, $2)
WHERE user_id = $1 AND valid
`

func (r *RefreshTokenRepo) InvalidateAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, invalidateAllForUser, userID, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const markReplaced = `-- name: MarkReplaced
UPDATE refresh_tokens
SET valid = FALSE, revoked_at = COALESCE(revoked_at, $3), replaced_by_hash = $2
WHERE token_hash = $1
RETURNING token_hash
`

func (r *RefreshTokenRepo) MarkReplaced(ctx context.Context, hash string, replacedByHash string, at time.Time) error {
	rows, _ := r.DB.Query(ctx, markReplaced, hash, replacedByHash, at)
	_, err := pgx.CollectOneRow(rows, pgx.RowTo[string])

	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return apperrors.ErrRefreshTokenNotFound
	default:
		return fmt.Errorf("db error: %w", err)
	}
}

const revokeToken = `-- name: RevokeToken
UPDATE refresh_tokens
SET valid = FALSE, revoked_at = COALESCE(revoked_at, $2)
WHERE token_hash = $1
`

// Revoke is idempotent and silent about unknown hashes: logout must not leak
// whether a presented secret ever existed
func (r *RefreshTokenRepo) Revoke(ctx context.Context, hash string, at time.Time) error {
	if _, err := r.DB.Exec(ctx, revokeToken, hash, at); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const revokeChain = `-- name: RevokeChain
WITH RECURSIVE chain AS (
	SELECT token_hash, replaced_by_hash
	FROM refresh_tokens
	WHERE token_hash = $1
	UNION ALL
	SELECT t.token_hash, t.replaced_by_hash
	FROM refresh_tokens t
	JOIN chain c ON t.token_hash = c.replaced_by_hash
)
UPDATE refresh_tokens
SET valid = FALSE, revoked_at = COALESCE(revoked_at, $2)
WHERE token_hash IN (SELECT token_hash FROM chain)
`

func (r *RefreshTokenRepo) RevokeChain(ctx context.Context, hash string, at time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeChain, hash, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const deleteDead = `-- name: DeleteDeadTokens
DELETE FROM refresh_tokens
WHERE expires_at < $1 OR revoked_at IS NOT NULL
`

func (r *RefreshTokenRepo) DeleteDead(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteDead, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectToken(rows pgx.Rows) (models.RefreshToken, error) {
	token, err := pgx.CollectOneRow(rows, rowToToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, apperrors.ErrRefreshTokenNotFound
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

func rowToToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(
		&t.ID, &t.UserID, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt,
		&t.RevokedAt, &t.ReplacedByHash, &t.IPAddress, &t.UserAgent, &t.Valid,
	)
	return t, err
}
