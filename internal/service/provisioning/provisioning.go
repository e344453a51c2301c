// Package provisioning creates local accounts for federated identities.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lwenstrom/cooklion/internal/apperrors"
	"github.com/lwenstrom/cooklion/internal/models"
	"github.com/lwenstrom/cooklion/internal/repository"
)

// Safety bound for the username suffix loop
// Hitting it means something is badly wrong with the users table
const maxUsernameAttempts = 1000

type Config struct {
	// Emails that get the admin role on first creation
	// Matched case-insensitively
	AdminEmails []string
}

type Provisioner struct {
	storage     repository.Storage
	adminEmails map[string]struct{}
}

func New(cfg Config, storage repository.Storage) (*Provisioner, error) {
	if storage == nil {
		return nil, errors.New("storage must not be nil")
	}

	admins := make(map[string]struct{}, len(cfg.AdminEmails))
	for _, email := range cfg.AdminEmails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email != "" {
			admins[email] = struct{}{}
		}
	}

	return &Provisioner{storage: storage, adminEmails: admins}, nil
}

// Resolve maps a federated identity to a local account, creating one on first
// sight. Last login time is stamped on every resolution. Roles always come
// from the stored account, never from the claims
func (p *Provisioner) Resolve(ctx context.Context, identity Identity) (models.User, error) {
	var user models.User

	err := p.storage.InTx(ctx, func(s repository.Storage) error {
		var err error

		user, err = s.User().GetByEmail(ctx, identity.Email)
		switch {
		case errors.Is(err, apperrors.ErrUserNotFound):
			user, err = p.createUser(ctx, s, identity)
			if err != nil {
				return err
			}
		case err != nil:
			return fmt.Errorf("error while looking up account by email. Err: %w", err)
		}

		user, err = s.User().RecordLoginSuccess(ctx, user.ID, time.Now())
		if err != nil {
			return fmt.Errorf("error while updating last login. Err: %w", err)
		}

		return nil
	})
	if err != nil {
		return models.User{}, err
	}

	return user, nil
}

// createUser inserts the account, disambiguating the username by retrying on
// the unique constraint with an incrementing suffix: alice, alice1, alice2...
// The constraint is the arbiter, there is no probe-then-write race
func (p *Provisioner) createUser(ctx context.Context, s repository.Storage, identity Identity) (models.User, error) {
	roles := []string{models.RoleUser}
	if p.isAdminEmail(identity.Email) {
		roles = append(roles, models.RoleAdmin)
	}

	base := identity.usernameBase()

	for attempt := 0; attempt < maxUsernameAttempts; attempt++ {
		username := base
		if attempt > 0 {
			username = base + strconv.Itoa(attempt)
		}

		// Each attempt runs in a nested transaction (a savepoint), so a
		// unique violation doesn't poison the enclosing transaction
		var user models.User
		err := s.InTx(ctx, func(nested repository.Storage) error {
			var err error
			user, err = nested.User().CreateUser(ctx, repository.CreateUserParams{
				Username: username,
				Email:    identity.Email,
				// No password: the account authenticates through the
				// identity provider only
				HashedPassword: "",
				Roles:          roles,
			})
			return err
		})

		switch {
		case err == nil:
			return user, nil
		case errors.Is(err, apperrors.ErrEmailTaken):
			// Lost a first-seen race for the same email, the winner's
			// account is ours
			return s.User().GetByEmail(ctx, identity.Email)
		case errors.Is(err, apperrors.ErrUsernameTaken):
			continue
		default:
			return user, fmt.Errorf("error while creating account. Err: %w", err)
		}
	}

	return models.User{}, fmt.Errorf("no free username derived from %q", base)
}

func (p *Provisioner) isAdminEmail(email string) bool {
	_, ok := p.adminEmails[strings.ToLower(email)]
	return ok
}
