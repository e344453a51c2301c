package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_BcryptHasher(t *testing.T) {
	t.Parallel()

	h := BcryptHasher{}

	t.Run("hash password", func(t *testing.T) {
		got, err := h.Hash("password")
		require.NoError(t, err)

		require.Len(t, got, 60, "bcrypt strings are 60 chars")
		require.Equal(t, "$2a$", got[:4], "bcrypt hash should have prefix '$2a$'")
	})

	t.Run("compare password ok", func(t *testing.T) {
		hash, err := h.Hash("password")
		require.NoError(t, err)

		require.NoError(t, h.Compare(hash, "password"))
	})

	t.Run("fail compare if wrong password", func(t *testing.T) {
		hash, err := h.Hash("password")
		require.NoError(t, err)

		require.Error(t, h.Compare(hash, "wrong"))
	})

	t.Run("long passphrases are not truncated", func(t *testing.T) {
		long := make([]byte, 100)
		for i := range long {
			long[i] = 'a'
		}

		hash, err := h.Hash(string(long))
		require.NoError(t, err)

		require.NoError(t, h.Compare(hash, string(long)))
		require.Error(t, h.Compare(hash, string(long[:99])), "prefix of a long password must not match")
	})
}
