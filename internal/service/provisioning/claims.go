package provisioning

import (
	"strings"

	"github.com/lwenstrom/cooklion/internal/apperrors"
)

// Identity is the canonical value extracted from a federated login
// It is all the provisioner ever sees: which protocol produced the claims map
// is not its concern
type Identity struct {
	Email             string
	PreferredUsername string
	Name              string
}

// IdentityFromClaims maps a raw claims map to an Identity
// Email is the only required claim, without it the federated flow aborts with
// apperrors.ErrEmailRequired
func IdentityFromClaims(claims map[string]any) (Identity, error) {
	str := func(key string) string {
		v, _ := claims[key].(string)
		return strings.TrimSpace(v)
	}

	email := str("email")
	if email == "" {
		return Identity{}, apperrors.ErrEmailRequired
	}

	return Identity{
		Email:             email,
		PreferredUsername: str("preferred_username"),
		Name:              str("name"),
	}, nil
}

// usernameBase derives the starting username candidate
// Preferred username wins, otherwise the email local part stripped of
// everything but letters and digits
func (i Identity) usernameBase() string {
	if i.PreferredUsername != "" {
		return i.PreferredUsername
	}

	local, _, _ := strings.Cut(i.Email, "@")

	var b strings.Builder
	for _, r := range local {
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
			b.WriteRune(r)
		}
	}

	if b.Len() == 0 {
		return "user"
	}
	return b.String()
}
