package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/lwenstrom/cooklion/internal/apperrors"
	"github.com/lwenstrom/cooklion/internal/handlers/principalctx"
	"github.com/lwenstrom/cooklion/internal/handlers/render"
	"github.com/lwenstrom/cooklion/internal/logger"
	"github.com/lwenstrom/cooklion/internal/models"
)

type authService interface {
	// Register creates an account and issues a token pair
	// Has to return an error matching apperrors.ErrUserAlreadyExists when
	// either identity field is taken
	Register(ctx context.Context, username, email, password string, meta models.ClientMeta) (models.TokenPair, error)

	// Login by username-or-email
	// Has to return apperrors.ErrBadCredentials or apperrors.ErrAccountLocked
	Login(ctx context.Context, login, password string, meta models.ClientMeta) (models.TokenPair, error)

	// Refresh rotates the refresh secret and returns a new pair
	// Every failure maps to one of the apperrors refresh sentinels
	Refresh(ctx context.Context, refresh string, meta models.ClientMeta) (models.TokenPair, error)

	// Logout revokes the secret, idempotent
	Logout(ctx context.Context, refresh string) error

	// FederatedLogin provisions from an external claims map
	FederatedLogin(ctx context.Context, claims map[string]any, meta models.ClientMeta) (models.TokenPair, error)

	// Configured access token lifetime
	AccessTTL() time.Duration
}

// TokenResponse is the success body of every token issuing endpoint
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func handleRegister(auth authService, l logger.Logger) http.Handler {
	type registerRequest struct {
		Username string `json:"username" validate:"required,min=3,max=64"`
		Email    string `json:"email" validate:"required,email,max=255"`
		Password string `json:"password" validate:"required,min=8,max=128"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[registerRequest](w, r)
		if err != nil {
			return
		}

		pair, err := auth.Register(r.Context(), data.Username, data.Email, data.Password, MetaFromRequest(r))
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrUserAlreadyExists):
				render.ServiceError(w, "User already exists", http.StatusConflict)
			default:
				l.Error("register failed", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		render.JSON(w, tokenResponse(pair, auth.AccessTTL()))
	})
}

func handleLogin(auth authService, l logger.Logger) http.Handler {
	type loginRequest struct {
		Login    string `json:"login" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[loginRequest](w, r)
		if err != nil {
			return
		}

		pair, err := auth.Login(r.Context(), data.Login, data.Password, MetaFromRequest(r))
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrAccountLocked):
				render.ServiceError(w, "Account locked", http.StatusUnauthorized)
			case errors.Is(err, apperrors.ErrBadCredentials):
				render.ServiceError(w, "Bad credentials", http.StatusUnauthorized)
			default:
				l.Error("login failed", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		render.JSON(w, tokenResponse(pair, auth.AccessTTL()))
	})
}

func handleRefresh(auth authService, l logger.Logger) http.Handler {
	type refreshRequest struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[refreshRequest](w, r)
		if err != nil {
			return
		}

		pair, err := auth.Refresh(r.Context(), data.RefreshToken, MetaFromRequest(r))
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrRefreshTokenReused):
				// Chain already revoked, the client re-authenticates
				l.Warn("refresh token reuse detected", "ip", MetaFromRequest(r).IPAddress)
				render.ServiceError(w, "Refresh token invalid", http.StatusUnauthorized)
			case errors.Is(err, apperrors.ErrRefreshTokenInvalid),
				errors.Is(err, apperrors.ErrRefreshTokenExpired),
				errors.Is(err, apperrors.ErrRefreshTokenNotFound):
				render.ServiceError(w, "Refresh token invalid", http.StatusUnauthorized)
			default:
				l.Error("refresh failed", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		render.JSON(w, tokenResponse(pair, auth.AccessTTL()))
	})
}

func handleLogout(auth authService, l logger.Logger) http.Handler {
	type logoutRequest struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}
	type logoutResponse struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[logoutRequest](w, r)
		if err != nil {
			return
		}

		if err := auth.Logout(r.Context(), data.RefreshToken); err != nil {
			l.Error("logout failed", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, logoutResponse{Message: "Logged out"})
	})
}

func handleFederatedLogin(auth authService, l logger.Logger) http.Handler {
	type federatedRequest struct {
		Claims map[string]any `json:"claims" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[federatedRequest](w, r)
		if err != nil {
			return
		}

		pair, err := auth.FederatedLogin(r.Context(), data.Claims, MetaFromRequest(r))
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrEmailRequired):
				render.ServiceError(w, "Email claim is required", http.StatusBadRequest)
			case errors.Is(err, apperrors.ErrAccountLocked):
				render.ServiceError(w, "Account locked", http.StatusUnauthorized)
			default:
				l.Error("federated login failed", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		render.JSON(w, tokenResponse(pair, auth.AccessTTL()))
	})
}

func handleMe() http.Handler {
	type meResponse struct {
		UserID   string   `json:"user_id"`
		Username string   `json:"username"`
		Roles    []string `json:"roles"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := principalctx.FromContext(r.Context())
		if !ok {
			// RequireUser guards this route, reaching here unbound is a bug
			render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		render.JSON(w, meResponse{
			UserID:   principal.UserID.String(),
			Username: principal.Username,
			Roles:    principal.Roles,
		})
	})
}

func tokenResponse(pair models.TokenPair, accessTTL time.Duration) TokenResponse {
	return TokenResponse{
		AccessToken:  pair.Access.Value,
		RefreshToken: pair.Refresh.Value,
		TokenType:    "Bearer",
		ExpiresIn:    int64(accessTTL.Seconds()),
	}
}
