// Package auth is the command surface of the authentication subsystem:
// register, login, refresh, logout and the federated flow.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lwenstrom/cooklion/internal/apperrors"
	"github.com/lwenstrom/cooklion/internal/models"
	"github.com/lwenstrom/cooklion/internal/repository"
	"github.com/lwenstrom/cooklion/internal/service/auth/rotator"
	"github.com/lwenstrom/cooklion/internal/service/auth/tokenmanager"
	"github.com/lwenstrom/cooklion/internal/service/provisioning"
)

// Consecutive failed password attempts before the account locks
const defaultLockoutThreshold = 5

// A well-formed bcrypt hash that matches no password
// Compared against when the login does not resolve to an account, so the
// response time doesn't reveal whether the account exists
const dummyPasswordHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

type Config struct {
	// Hasher used during registration and login
	// If not set then bcrypt is used
	Hasher PasswordHasher

	// Failed attempts before lockout
	// If not set then default is used
	LockoutThreshold int
}

type AuthService struct {
	tokens      *tokenmanager.TokenManager
	rotator     *rotator.Rotator
	provisioner *provisioning.Provisioner
	storage     repository.Storage
	hasher      PasswordHasher
	lockAfter   int
}

func NewService(
	cfg Config,
	tokens *tokenmanager.TokenManager,
	rot *rotator.Rotator,
	prov *provisioning.Provisioner,
	storage repository.Storage,
) (*AuthService, error) {
	if tokens == nil || rot == nil || prov == nil || storage == nil {
		return nil, errors.New("token manager, rotator, provisioner and storage must not be nil")
	}

	hasher := cfg.Hasher
	if hasher == nil {
		hasher = BcryptHasher{}
	}

	lockAfter := cfg.LockoutThreshold
	if lockAfter == 0 {
		lockAfter = defaultLockoutThreshold
	}

	return &AuthService{
		tokens:      tokens,
		rotator:     rot,
		provisioner: prov,
		storage:     storage,
		hasher:      hasher,
		lockAfter:   lockAfter,
	}, nil
}

// Register creates an account with the base role and issues a token pair
// One transaction end to end: if session issuance fails the account row is
// rolled back too, there is no registered user without a session
// Returns apperrors.ErrUsernameTaken or apperrors.ErrEmailTaken when either
// identity field is already in use
func (s *AuthService) Register(ctx context.Context, username, email, password string, meta models.ClientMeta) (models.TokenPair, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("can't use this as password, error=%w", err)
	}

	var pair models.TokenPair

	err = s.storage.InTx(ctx, func(txs repository.Storage) error {
		user, err := txs.User().CreateUser(ctx, repository.CreateUserParams{
			Username:       username,
			Email:          email,
			HashedPassword: hash,
			Roles:          []string{models.RoleUser},
		})
		if err != nil {
			return err
		}

		pair, err = s.issuePairIn(ctx, txs, user, meta)
		return err
	})
	if err != nil {
		return models.TokenPair{}, err
	}

	return pair, nil
}

// Login authenticates by username-or-email and password
// A wrong password increments the failure counter in the same transaction as
// the attempt, the account locks at the configured threshold. A locked or
// disabled account fails with ErrAccountLocked even on the correct password
func (s *AuthService) Login(ctx context.Context, login, password string, meta models.ClientMeta) (models.TokenPair, error) {
	var pair models.TokenPair

	// The failure counter is reported after commit: returning the error from
	// inside the transaction would roll the increment back
	var badPassword bool

	err := s.storage.InTx(ctx, func(txs repository.Storage) error {
		user, err := txs.User().GetByLogin(ctx, login)
		switch {
		case errors.Is(err, apperrors.ErrUserNotFound):
			// Burn a comparison anyway to keep the timing flat
			_ = s.hasher.Compare(dummyPasswordHash, password)
			return apperrors.ErrBadCredentials
		case err != nil:
			return err
		}

		if user.Locked || !user.Enabled {
			return apperrors.ErrAccountLocked
		}

		if err := s.hasher.Compare(user.HashedPassword, password); err != nil {
			if _, err := txs.User().RecordLoginFailure(ctx, user.ID, s.lockAfter); err != nil {
				return fmt.Errorf("error while recording login failure. Err: %w", err)
			}
			badPassword = true
			return nil
		}

		if _, err := txs.User().RecordLoginSuccess(ctx, user.ID, time.Now()); err != nil {
			return fmt.Errorf("error while recording login. Err: %w", err)
		}

		pair, err = s.issuePairIn(ctx, txs, user, meta)
		return err
	})
	if err != nil {
		return models.TokenPair{}, err
	}
	if badPassword {
		return models.TokenPair{}, apperrors.ErrBadCredentials
	}

	return pair, nil
}

// Refresh exchanges a refresh secret for a new token pair
// The new access token is bound to the account owning the presented secret
func (s *AuthService) Refresh(ctx context.Context, refresh string, meta models.ClientMeta) (models.TokenPair, error) {
	raw, record, err := s.rotator.Rotate(ctx, refresh, meta)
	if err != nil {
		return models.TokenPair{}, err
	}

	user, err := s.storage.User().GetByID(ctx, record.UserID)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("error while loading token owner. Err: %w", err)
	}

	access, err := s.tokens.Issue(user)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("token could not generated, sorry. %w", err)
	}

	return models.TokenPair{
		Access:  access,
		Refresh: models.IssuedToken{Value: raw, ExpiresAt: record.ExpiresAt},
	}, nil
}

// Logout revokes the presented refresh secret
// Best-effort by design: an unknown or already dead secret is not an error,
// so the endpoint leaks nothing about token validity
func (s *AuthService) Logout(ctx context.Context, refresh string) error {
	return s.rotator.Invalidate(ctx, refresh)
}

// FederatedLogin turns a claims map from an external identity handshake into
// a local session
func (s *AuthService) FederatedLogin(ctx context.Context, claims map[string]any, meta models.ClientMeta) (models.TokenPair, error) {
	identity, err := provisioning.IdentityFromClaims(claims)
	if err != nil {
		return models.TokenPair{}, err
	}

	user, err := s.provisioner.Resolve(ctx, identity)
	if err != nil {
		return models.TokenPair{}, err
	}

	if user.Locked || !user.Enabled {
		return models.TokenPair{}, apperrors.ErrAccountLocked
	}

	return s.issuePair(ctx, user, meta)
}

// Authenticate verifies a bearer access token and returns the principal
// Touches only in-process key material: no store access on the hot path
func (s *AuthService) Authenticate(access string) (models.Principal, error) {
	claims, err := s.tokens.Parse(access)
	if err != nil {
		return models.Principal{}, err
	}

	userID, err := claims.UserID()
	if err != nil {
		return models.Principal{}, fmt.Errorf("%w: bad subject: %w", apperrors.ErrTokenInvalid, err)
	}

	return models.Principal{
		UserID:   userID,
		Username: claims.Username,
		Roles:    claims.Authorities,
	}, nil
}

// AccessTTL exposes the configured access token lifetime for response bodies
func (s *AuthService) AccessTTL() time.Duration {
	return s.tokens.AccessTTL()
}

func (s *AuthService) issuePair(ctx context.Context, user models.User, meta models.ClientMeta) (models.TokenPair, error) {
	var pair models.TokenPair

	err := s.storage.InTx(ctx, func(txs repository.Storage) error {
		var err error
		pair, err = s.issuePairIn(ctx, txs, user, meta)
		return err
	})
	if err != nil {
		return models.TokenPair{}, err
	}

	return pair, nil
}

// issuePairIn assembles a token pair inside the caller's transaction
func (s *AuthService) issuePairIn(ctx context.Context, txs repository.Storage, user models.User, meta models.ClientMeta) (models.TokenPair, error) {
	access, err := s.tokens.Issue(user)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("token could not generated, sorry. %w", err)
	}

	raw, record, err := s.rotator.CreateIn(ctx, txs, user, meta)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("error while creating refresh token. Err: %w", err)
	}

	return models.TokenPair{
		Access:  access,
		Refresh: models.IssuedToken{Value: raw, ExpiresAt: record.ExpiresAt},
	}, nil
}
