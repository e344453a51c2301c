package middleware

import (
	"net/http"
	"strings"

	"github.com/lwenstrom/cooklion/internal/handlers/principalctx"
	"github.com/lwenstrom/cooklion/internal/handlers/render"
	"github.com/lwenstrom/cooklion/internal/models"
)

const bearerScheme = "Bearer"

type authenticator interface {
	// Authenticate validates an access token and returns the principal
	// Must absorb every parse failure into an error, never panic
	Authenticate(access string) (models.Principal, error)
}

type debugLogger interface {
	Debug(msg string, args ...any)
}

// Authenticate binds the principal from a bearer access token when one is
// present and valid. The request continues to the next handler no matter
// what: public routes stay reachable, protected ones reject later via
// RequireUser or RequireRole
func Authenticate(auth authenticator, l debugLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			principal, err := auth.Authenticate(token)
			if err != nil {
				// Diagnostic only, invalid tokens just mean unauthenticated
				l.Debug("access token rejected", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			ctx := principalctx.New(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser rejects requests that carry no authenticated principal
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := principalctx.FromContext(r.Context()); !ok {
			render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects authenticated requests whose principal lacks the role
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := principalctx.FromContext(r.Context())
			if !ok {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if !principal.HasRole(role) {
				render.ServiceError(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, bearerScheme) {
		return ""
	}

	return strings.TrimSpace(token)
}
