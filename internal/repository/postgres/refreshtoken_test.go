package postgres

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwenstrom/cooklion/internal/apperrors"
	"github.com/lwenstrom/cooklion/internal/models"
	"github.com/lwenstrom/cooklion/internal/repository"
	"github.com/lwenstrom/cooklion/internal/testutil"
)

func mustParseTime(value string) time.Time {
	dt, err := time.Parse("2006-01-02 15:04:05Z07:00", value)
	if err != nil {
		panic(err)
	}
	return dt
}

// Tokens reference users, so every test needs an owner row first
func createTokenOwner(t *testing.T, tx pgx.Tx) models.User {
	t.Helper()

	r := UserRepo{DB: tx}
	user, err := r.CreateUser(t.Context(), repository.CreateUserParams{
		Username:       "tokenowner",
		Email:          "tokenowner@example.com",
		HashedPassword: "hashedpassword123",
	})
	require.NoError(t, err, "token owner should be created without errors")
	return user
}

func Test_RefreshTokenRepo(t *testing.T) {
	t.Parallel() // It's ok to run in parallel with other tests, but not with subtests

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	newToken := func(userID uuid.UUID, hash string) models.RefreshToken {
		return models.RefreshToken{
			ID:        uuid.New(),
			UserID:    userID,
			TokenHash: hash,
			CreatedAt: mustParseTime("2024-01-01 19:00:01Z"),
			ExpiresAt: mustParseTime("2200-01-01 03:00:02Z"),
			IPAddress: "192.0.2.10",
			UserAgent: "test-agent",
		}
	}

	t.Run("save token ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			user := createTokenOwner(t, tx)
			repo := RefreshTokenRepo{DB: tx}
			token := newToken(user.ID, "hash-1")

			got, err := repo.Save(t.Context(), token)

			require.NoError(t, err)
			require.Equal(t, token.ID, got.ID)
			require.Equal(t, token.UserID, got.UserID)
			require.Equal(t, token.TokenHash, got.TokenHash)
			require.WithinDuration(t, token.CreatedAt, got.CreatedAt, time.Microsecond)
			require.WithinDuration(t, token.ExpiresAt, got.ExpiresAt, time.Microsecond)
			require.Equal(t, token.IPAddress, got.IPAddress)
			require.Equal(t, token.UserAgent, got.UserAgent)
			require.True(t, got.Valid, "fresh token should be valid")
			require.Nil(t, got.RevokedAt)
			require.Nil(t, got.ReplacedByHash)
		})
	})

	t.Run("save generates id when not set", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			user := createTokenOwner(t, tx)
			repo := RefreshTokenRepo{DB: tx}
			token := newToken(user.ID, "hash-1")
			token.ID = uuid.Nil

			got, err := repo.Save(t.Context(), token)

			require.NoError(t, err)
			require.NotEqual(t, uuid.Nil, got.ID, "id should be generated")
		})
	})

	t.Run("get token by hash", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			user := createTokenOwner(t, tx)
			repo := RefreshTokenRepo{DB: tx}
			_, err := repo.Save(t.Context(), newToken(user.ID, "hash-1"))
			require.NoError(t, err)

			got, err := repo.GetByHash(t.Context(), "hash-1")

			require.NoError(t, err)
			require.Equal(t, "hash-1", got.TokenHash)
			require.Equal(t, user.ID, got.UserID)
		})
	})

	t.Run("get token not found", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}

			_, err := repo.GetByHash(t.Context(), "no-such-hash")

			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
		})
	})

	t.Run("invalidate all for user", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			user := createTokenOwner(t, tx)
			repo := RefreshTokenRepo{DB: tx}
			for i := range 3 {
				_, err := repo.Save(t.Context(), newToken(user.ID, fmt.Sprintf("hash-%d", i)))
				require.NoError(t, err)
			}

			now := time.Now()
			count, err := repo.InvalidateAllForUser(t.Context(), user.ID, now)

			require.NoError(t, err)
			require.Equal(t, int64(3), count, "all valid tokens should be invalidated")

			for i := range 3 {
				got, err := repo.GetByHash(t.Context(), fmt.Sprintf("hash-%d", i))
				require.NoError(t, err)
				assert.False(t, got.Valid)
				require.NotNil(t, got.RevokedAt)
				assert.WithinDuration(t, now, *got.RevokedAt, time.Microsecond)
			}

			// Second call should touch nothing
			count, err = repo.InvalidateAllForUser(t.Context(), user.ID, time.Now())
			require.NoError(t, err)
			require.Zero(t, count, "already invalidated tokens should not be touched again")
		})
	})

	t.Run("mark replaced", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			user := createTokenOwner(t, tx)
			repo := RefreshTokenRepo{DB: tx}
			_, err := repo.Save(t.Context(), newToken(user.ID, "hash-old"))
			require.NoError(t, err)
			_, err = repo.Save(t.Context(), newToken(user.ID, "hash-new"))
			require.NoError(t, err)

			err = repo.MarkReplaced(t.Context(), "hash-old", "hash-new", time.Now())
			require.NoError(t, err)

			got, err := repo.GetByHash(t.Context(), "hash-old")
			require.NoError(t, err)
			assert.False(t, got.Valid, "replaced token should not be valid")
			require.NotNil(t, got.RevokedAt)
			require.NotNil(t, got.ReplacedByHash)
			assert.Equal(t, "hash-new", *got.ReplacedByHash, "successor link should be stored")
		})
	})

	t.Run("mark replaced not existed token", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}

			err := repo.MarkReplaced(t.Context(), "no-such-hash", "hash-new", time.Now())

			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
		})
	})

	t.Run("revoke", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			user := createTokenOwner(t, tx)
			repo := RefreshTokenRepo{DB: tx}
			_, err := repo.Save(t.Context(), newToken(user.ID, "hash-1"))
			require.NoError(t, err)

			err = repo.Revoke(t.Context(), "hash-1", time.Now())
			require.NoError(t, err)

			got, err := repo.GetByHash(t.Context(), "hash-1")
			require.NoError(t, err)
			assert.False(t, got.Valid)
			assert.NotNil(t, got.RevokedAt)
		})
	})

	t.Run("revoke unknown hash is silent", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}

			err := repo.Revoke(t.Context(), "no-such-hash", time.Now())

			require.NoError(t, err, "revoking unknown hash must not leak whether it existed")
		})
	})

	t.Run("revoke keeps first revocation time", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			user := createTokenOwner(t, tx)
			repo := RefreshTokenRepo{DB: tx}
			_, err := repo.Save(t.Context(), newToken(user.ID, "hash-1"))
			require.NoError(t, err)

			first := time.Now()
			require.NoError(t, repo.Revoke(t.Context(), "hash-1", first))
			require.NoError(t, repo.Revoke(t.Context(), "hash-1", first.Add(time.Hour)))

			got, err := repo.GetByHash(t.Context(), "hash-1")
			require.NoError(t, err)
			require.NotNil(t, got.RevokedAt)
			assert.WithinDuration(t, first, *got.RevokedAt, time.Microsecond, "revoked_at should keep the first revocation time")
		})
	})

	t.Run("revoke chain", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			user := createTokenOwner(t, tx)
			repo := RefreshTokenRepo{DB: tx}

			// Build a rotation chain: hash-0 -> hash-1 -> hash-2
			for i := range 3 {
				_, err := repo.Save(t.Context(), newToken(user.ID, fmt.Sprintf("hash-%d", i)))
				require.NoError(t, err)
			}
			require.NoError(t, repo.MarkReplaced(t.Context(), "hash-0", "hash-1", time.Now()))
			require.NoError(t, repo.MarkReplaced(t.Context(), "hash-1", "hash-2", time.Now()))

			count, err := repo.RevokeChain(t.Context(), "hash-0", time.Now())

			require.NoError(t, err)
			require.Equal(t, int64(3), count, "whole chain should be revoked")

			got, err := repo.GetByHash(t.Context(), "hash-2")
			require.NoError(t, err)
			assert.False(t, got.Valid, "chain head reuse should take down the live tail token")
			assert.NotNil(t, got.RevokedAt)
		})
	})

	t.Run("delete dead", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			user := createTokenOwner(t, tx)
			repo := RefreshTokenRepo{DB: tx}

			// Expired token
			expired := newToken(user.ID, "hash-expired")
			expired.ExpiresAt = time.Now().Add(-time.Hour)
			_, err := repo.Save(t.Context(), expired)
			require.NoError(t, err)

			// Revoked token
			_, err = repo.Save(t.Context(), newToken(user.ID, "hash-revoked"))
			require.NoError(t, err)
			require.NoError(t, repo.Revoke(t.Context(), "hash-revoked", time.Now()))

			// Live token
			_, err = repo.Save(t.Context(), newToken(user.ID, "hash-live"))
			require.NoError(t, err)

			count, err := repo.DeleteDead(t.Context(), time.Now())

			require.NoError(t, err)
			require.Equal(t, int64(2), count, "expired and revoked tokens should be deleted")

			_, err = repo.GetByHash(t.Context(), "hash-live")
			require.NoError(t, err, "live token should survive the sweep")
		})
	})
}
