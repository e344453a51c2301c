package tokenmanager

import (
	"bytes"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwenstrom/cooklion/internal/apperrors"
	"github.com/lwenstrom/cooklion/internal/models"
)

func mustKeys(t *testing.T, current string, previous ...string) *StaticKeys {
	t.Helper()

	prev := make([][]byte, 0, len(previous))
	for _, p := range previous {
		prev = append(prev, []byte(p))
	}

	keys, err := NewStaticKeys([]byte(current), prev...)
	require.NoError(t, err, "keys should be created without errors")
	return keys
}

func Test_StaticKeys(t *testing.T) {
	t.Parallel()

	t.Run("reject short signing key", func(t *testing.T) {
		_, err := NewStaticKeys([]byte("too-short"))
		require.Error(t, err, "short signing key must be rejected")
	})

	t.Run("reject short verification key", func(t *testing.T) {
		_, err := NewStaticKeys(bytes.Repeat([]byte("a"), 32), []byte("too-short"))
		require.Error(t, err, "short verification key must be rejected")
	})

	t.Run("current key verifies first", func(t *testing.T) {
		keys := mustKeys(t,
			"test-secret-key-long-enough-0001",
			"test-secret-key-long-enough-0002",
		)

		got := keys.VerificationKeys()
		require.Len(t, got, 2)
		require.Equal(t, keys.SigningKey(), got[0], "signing key should be tried first when verifying")
	})
}

func Test_TokenManager(t *testing.T) {
	t.Parallel()

	keys := mustKeys(t, "test-secret-key-long-enough-0001")

	testUser := models.User{
		ID:       uuid.New(),
		Username: "testuser",
		Roles:    []string{models.RoleUser, models.RoleAdmin},
	}

	t.Run("new defaults", func(t *testing.T) {
		m, err := New(Config{Keys: keys})
		require.NoError(t, err, "token manager should be created without errors")

		require.Equal(t, defaultAccessTokenTTL, m.accessTTL, "default access token TTL should be set")
		require.Equal(t, defaultSigningMethod, m.alg.Alg(), "default signing method should be set")
	})

	t.Run("new requires keys", func(t *testing.T) {
		_, err := New(Config{})
		require.Error(t, err, "token manager without keys must not be created")
	})

	t.Run("Issue", func(t *testing.T) {
		t.Run("return signed token", func(t *testing.T) {
			m, err := New(Config{Keys: keys, AccessTTL: 15 * time.Minute})
			require.NoError(t, err)

			token, err := m.Issue(testUser)
			require.NoError(t, err)

			assert.NotEmpty(t, token.Value, "access token should not be empty")
			assert.WithinDuration(t, time.Now().Add(15*time.Minute), token.ExpiresAt, time.Second)
		})

		t.Run("access claims", func(t *testing.T) {
			m, err := New(Config{Keys: keys, AccessTTL: 15 * time.Minute})
			require.NoError(t, err)

			issued, err := m.Issue(testUser)
			require.NoError(t, err)

			// Parse and verify the access token
			token, err := jwt.ParseWithClaims(issued.Value, &AccessClaims{}, func(token *jwt.Token) (any, error) {
				return keys.SigningKey(), nil
			})
			require.NoError(t, err)
			require.True(t, token.Valid, "access token should be valid")

			claims, ok := token.Claims.(*AccessClaims)
			require.True(t, ok, "claims should be of type AccessClaims")

			userID, err := claims.UserID()
			require.NoError(t, err, "subject should parse back to user id")
			assert.Equal(t, testUser.ID, userID, "user ID in token should match")
			assert.Equal(t, testUser.Username, claims.Username, "username in token should match")
			assert.Equal(t, testUser.Roles, claims.Authorities, "authorities in token should match roles")
			assert.NotEmpty(t, claims.ID, "token has to has jti")
			assert.WithinDuration(t, time.Now(), claims.IssuedAt.Time, time.Second, "issued at should be close to now")
			assert.WithinDuration(t, time.Now().Add(15*time.Minute), claims.ExpiresAt.Time, time.Second, "expires at should be 15 minutes from now")
			assert.WithinDuration(t, issued.ExpiresAt, claims.ExpiresAt.Time, 0, "expires at should match issued token")
		})

		t.Run("generate different tokens", func(t *testing.T) {
			m, err := New(Config{Keys: keys})
			require.NoError(t, err)

			token1, err := m.Issue(testUser)
			require.NoError(t, err)

			token2, err := m.Issue(testUser)
			require.NoError(t, err)

			assert.NotEqual(t, token1.Value, token2.Value, "access tokens should be different")
		})
	})

	t.Run("Parse", func(t *testing.T) {
		t.Run("valid token", func(t *testing.T) {
			m, err := New(Config{Keys: keys})
			require.NoError(t, err)

			issued, err := m.Issue(testUser)
			require.NoError(t, err)

			claims, err := m.Parse(issued.Value)
			require.NoError(t, err, "valid token should be parsed without errors")

			userID, err := claims.UserID()
			require.NoError(t, err)
			require.Equal(t, testUser.ID, userID)
		})

		t.Run("not a token", func(t *testing.T) {
			m, err := New(Config{Keys: keys})
			require.NoError(t, err)

			_, err = m.Parse("invalid token")
			require.ErrorIs(t, err, apperrors.ErrTokenInvalid, "parsing even not a token should return an error")
		})

		t.Run("expired token", func(t *testing.T) {
			m, err := New(Config{Keys: keys, AccessTTL: time.Second})
			require.NoError(t, err)

			issued, err := m.Issue(testUser)
			require.NoError(t, err)

			// Wait for the token to expire
			time.Sleep(time.Second)

			_, err = m.Parse(issued.Value)
			require.ErrorIs(t, err, apperrors.ErrTokenInvalid, "token has to become expired")
		})

		t.Run("wrong key", func(t *testing.T) {
			m, err := New(Config{Keys: keys})
			require.NoError(t, err)

			other, err := New(Config{Keys: mustKeys(t, "test-secret-key-long-enough-0002")})
			require.NoError(t, err)

			issued, err := other.Issue(testUser)
			require.NoError(t, err)

			_, err = m.Parse(issued.Value)
			require.ErrorIs(t, err, apperrors.ErrTokenInvalid, "token signed with unknown key must fail")
		})

		t.Run("previous key still accepted", func(t *testing.T) {
			oldKeys := mustKeys(t, "test-secret-key-long-enough-0002")
			old, err := New(Config{Keys: oldKeys})
			require.NoError(t, err)

			issued, err := old.Issue(testUser)
			require.NoError(t, err)

			// Rotate: old signing key moves into the verification set
			rotated, err := New(Config{Keys: mustKeys(t,
				"test-secret-key-long-enough-0001",
				"test-secret-key-long-enough-0002",
			)})
			require.NoError(t, err)

			claims, err := rotated.Parse(issued.Value)
			require.NoError(t, err, "token signed with previous key should verify after rotation")

			userID, err := claims.UserID()
			require.NoError(t, err)
			require.Equal(t, testUser.ID, userID)
		})

		t.Run("not signed token", func(t *testing.T) {
			m, err := New(Config{Keys: keys})
			require.NoError(t, err)

			// Create valid but unsigned token
			token := jwt.NewWithClaims(
				jwt.SigningMethodNone,
				AccessClaims{
					RegisteredClaims: jwt.RegisteredClaims{
						ID:        uuid.NewString(),
						Subject:   testUser.ID.String(),
						IssuedAt:  jwt.NewNumericDate(time.Now()),
						ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
					},
					Username: testUser.Username,
				},
			)
			access, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
			require.NoError(t, err)

			_, err = m.Parse(access)
			require.ErrorIs(t, err, apperrors.ErrTokenInvalid, "Valid token with empty alg must fail")
		})
	})
}
