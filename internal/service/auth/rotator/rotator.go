// Package rotator owns the refresh token lifecycle: single use rotation,
// revocation and the expired-row sweep.
package rotator

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/lwenstrom/cooklion/internal/apperrors"
	"github.com/lwenstrom/cooklion/internal/models"
	"github.com/lwenstrom/cooklion/internal/repository"
)

const (
	defaultRefreshTokenTTL = 7 * 24 * time.Hour

	// Raw secret length in bytes before encoding
	secretLen = 32
)

type Config struct {
	// Refresh token lifetime
	// If not set then default is used
	RefreshTTL time.Duration
}

type Rotator struct {
	storage    repository.Storage
	refreshTTL time.Duration
}

func New(cfg Config, storage repository.Storage) (*Rotator, error) {
	if storage == nil {
		return nil, errors.New("storage must not be nil")
	}

	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = defaultRefreshTokenTTL
	}

	return &Rotator{
		storage:    storage,
		refreshTTL: cfg.RefreshTTL,
	}, nil
}

// Create issues a fresh refresh secret for the user
// Every token the user currently holds is revoked first: one account owns at
// most one live session. The raw secret is returned exactly once, the stored
// record keeps only its hash
func (r *Rotator) Create(ctx context.Context, user models.User, meta models.ClientMeta) (string, models.RefreshToken, error) {
	var raw string
	var record models.RefreshToken

	err := r.storage.InTx(ctx, func(s repository.Storage) error {
		var err error
		raw, record, err = r.create(ctx, s, user, meta)
		return err
	})
	if err != nil {
		return "", models.RefreshToken{}, err
	}

	return raw, record, nil
}

// CreateIn is Create running inside the caller's transaction
// The passed storage must be transaction bound, callers that already hold a
// transaction use this to keep session issuance atomic with their own writes
func (r *Rotator) CreateIn(ctx context.Context, s repository.Storage, user models.User, meta models.ClientMeta) (string, models.RefreshToken, error) {
	return r.create(ctx, s, user, meta)
}

// create runs against a transaction bound storage
// The user row lock serializes concurrent session writes for one account, so
// two racing calls can't both end up with a token they believe is the only
// valid one
func (r *Rotator) create(ctx context.Context, s repository.Storage, user models.User, meta models.ClientMeta) (string, models.RefreshToken, error) {
	now := time.Now().Truncate(time.Microsecond)

	if err := s.User().LockForUpdate(ctx, user.ID); err != nil {
		return "", models.RefreshToken{}, fmt.Errorf("error while locking user row. Err: %w", err)
	}

	if _, err := s.Refresh().InvalidateAllForUser(ctx, user.ID, now); err != nil {
		return "", models.RefreshToken{}, fmt.Errorf("error while invalidating user tokens. Err: %w", err)
	}

	raw, err := generateSecret()
	if err != nil {
		return "", models.RefreshToken{}, fmt.Errorf("error while generating refresh secret. Err: %w", err)
	}

	record, err := s.Refresh().Save(ctx, models.RefreshToken{
		UserID:    user.ID,
		TokenHash: HashSecret(raw),
		CreatedAt: now,
		ExpiresAt: now.Add(r.refreshTTL),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	if err != nil {
		return "", models.RefreshToken{}, fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	return raw, record, nil
}

// Lookup returns the record for a raw secret if it is still usable
func (r *Rotator) Lookup(ctx context.Context, raw string) (models.RefreshToken, error) {
	token, err := r.storage.Refresh().GetByHash(ctx, HashSecret(raw))
	if err != nil {
		return token, err
	}

	return token, usableErr(token, time.Now())
}

// Rotate exchanges a raw refresh secret for a new one in one transaction
// Presenting an already rotated or revoked secret is treated as a theft
// signal: the whole descendant chain is revoked and ErrRefreshTokenReused is
// returned. Either every write lands or none does, a half rotated state is
// never observable
func (r *Rotator) Rotate(ctx context.Context, raw string, meta models.ClientMeta) (string, models.RefreshToken, error) {
	var newRaw string
	var newRecord models.RefreshToken

	// Reuse is reported after commit: the chain revocation below must land
	// even though the rotation itself fails
	var reused bool

	oldHash := HashSecret(raw)

	err := r.storage.InTx(ctx, func(s repository.Storage) error {
		now := time.Now().Truncate(time.Microsecond)

		// Peek at the row unlocked to learn the owner, then take locks in
		// the order create does: user row first, token row after. One shared
		// ordering keeps a concurrent login and refresh for the same account
		// from deadlocking each other
		peeked, err := s.Refresh().GetByHash(ctx, oldHash)
		switch {
		case errors.Is(err, apperrors.ErrRefreshTokenNotFound):
			return apperrors.ErrRefreshTokenInvalid
		case err != nil:
			return err
		}

		if err := s.User().LockForUpdate(ctx, peeked.UserID); err != nil {
			return fmt.Errorf("error while locking user row. Err: %w", err)
		}

		// Re-read locked: the row may have been rotated or revoked while we
		// waited on the user lock
		old, err := s.Refresh().GetByHashForUpdate(ctx, oldHash)
		switch {
		case errors.Is(err, apperrors.ErrRefreshTokenNotFound):
			return apperrors.ErrRefreshTokenInvalid
		case err != nil:
			return err
		}

		if !old.Usable(now) {
			if old.ExpiresAt.Before(now) && old.RevokedAt == nil {
				return apperrors.ErrRefreshTokenExpired
			}

			// Someone is replaying a dead secret: kill every descendant too
			if _, err := s.Refresh().RevokeChain(ctx, oldHash, now); err != nil {
				return fmt.Errorf("error while revoking token chain. Err: %w", err)
			}
			reused = true
			return nil
		}

		user, err := s.User().GetByID(ctx, old.UserID)
		if err != nil {
			return fmt.Errorf("error while loading token owner. Err: %w", err)
		}

		// create revokes the old record along with everything else the user
		// holds, the successor link is stamped after
		newRaw, newRecord, err = r.create(ctx, s, user, meta)
		if err != nil {
			return err
		}

		if err := s.Refresh().MarkReplaced(ctx, oldHash, newRecord.TokenHash, now); err != nil {
			return fmt.Errorf("error while linking replaced token. Err: %w", err)
		}

		return nil
	})
	if err != nil {
		return "", models.RefreshToken{}, err
	}
	if reused {
		return "", models.RefreshToken{}, apperrors.ErrRefreshTokenReused
	}

	return newRaw, newRecord, nil
}

// Invalidate revokes the record for a raw secret
// Idempotent and silent about unknown secrets
func (r *Rotator) Invalidate(ctx context.Context, raw string) error {
	return r.storage.Refresh().Revoke(ctx, HashSecret(raw), time.Now())
}

// Sweep deletes expired and revoked records
// Touches only already dead rows, so it needs no coordination with request
// traffic and is safe to run concurrently
func (r *Rotator) Sweep(ctx context.Context, now time.Time) (int64, error) {
	return r.storage.Refresh().DeleteDead(ctx, now)
}

// HashSecret maps a raw refresh secret to its storage key
// Secrets carry 256 bits of entropy already, a plain SHA-256 is enough and
// keeps lookups deterministic
func HashSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func generateSecret() (string, error) {
	b := make([]byte, secretLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func usableErr(token models.RefreshToken, now time.Time) error {
	switch {
	case token.Usable(now):
		return nil
	case token.ExpiresAt.Before(now) && token.RevokedAt == nil:
		return apperrors.ErrRefreshTokenExpired
	default:
		return apperrors.ErrRefreshTokenInvalid
	}
}
