package tokenmanager

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lwenstrom/cooklion/internal/apperrors"
	"github.com/lwenstrom/cooklion/internal/models"
)

const (
	defaultAccessTokenTTL = 15 * time.Minute
	defaultSigningMethod  = "HS256"
)

type AccessClaims struct {
	jwt.RegisteredClaims
	Username    string   `json:"username"`
	Authorities []string `json:"authorities"`
}

// UserID is the token subject parsed back to uuid
func (c AccessClaims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// Token manager config with sensible defaults
type Config struct {
	// Provider of signing and verification keys
	// Required to be set
	Keys Keys

	// JWT MAC (Message Authentication Code) algorithm
	// If not set then default is used
	Alg string

	// Access token lifetime
	// If not set then default is used
	AccessTTL time.Duration
}

type TokenManager struct {
	keys      Keys
	alg       jwt.SigningMethod
	accessTTL time.Duration
}

func New(cfg Config) (*TokenManager, error) {
	if cfg.Keys == nil {
		return nil, errors.New("keys provider must not be nil")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = defaultAccessTokenTTL
	}

	return &TokenManager{
		keys:      cfg.Keys,
		alg:       jwt.GetSigningMethod(cfg.Alg),
		accessTTL: cfg.AccessTTL,
	}, nil
}

func (m *TokenManager) AccessTTL() time.Duration {
	return m.accessTTL
}

// Issue mints a signed access token for the user
// Subject is the user id, authorities carry the stored role set
func (m *TokenManager) Issue(user models.User) (models.IssuedToken, error) {
	now := time.Now().Truncate(time.Second)
	expiresAt := now.Add(m.accessTTL)

	token := jwt.NewWithClaims(
		m.alg,
		AccessClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				Subject:   user.ID.String(),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(expiresAt),
			},
			Username:    user.Username,
			Authorities: user.Roles,
		},
	)
	signed, err := token.SignedString(m.keys.SigningKey())
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	return models.IssuedToken{Value: signed, ExpiresAt: expiresAt}, nil
}

// Parse verifies signature and expiry and returns the claims
// Every failure (expired, malformed, unsupported alg, wrong signature) comes
// back wrapped in apperrors.ErrTokenInvalid: callers treat the request as
// unauthenticated and keep going, nothing here is fatal
func (m *TokenManager) Parse(access string) (AccessClaims, error) {
	var lastErr error

	for _, key := range m.keys.VerificationKeys() {
		claims := &AccessClaims{}

		_, err := jwt.ParseWithClaims(
			access,
			claims,
			func(t *jwt.Token) (any, error) { return key, nil },
			jwt.WithValidMethods([]string{m.alg.Alg()}),
		)
		if err == nil {
			return *claims, nil
		}
		lastErr = err

		// A bad signature may just mean the token was signed with another
		// acceptable key, anything else won't change on retry
		if !errors.Is(err, jwt.ErrSignatureInvalid) {
			break
		}
	}

	return AccessClaims{}, fmt.Errorf("%w: %w", apperrors.ErrTokenInvalid, lastErr)
}
