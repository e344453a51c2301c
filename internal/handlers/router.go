package handlers

import (
	"net/http"

	"github.com/lwenstrom/cooklion/internal/handlers/middleware"
	"github.com/lwenstrom/cooklion/internal/logger"
	"github.com/lwenstrom/cooklion/internal/models"
)

type authenticator interface {
	Authenticate(access string) (models.Principal, error)
}

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(auth authService, authn authenticator, l logger.Logger) http.Handler {
	api := http.NewServeMux()

	api.Handle("POST /register", handleRegister(auth, l))
	api.Handle("POST /login", handleLogin(auth, l))
	api.Handle("POST /refresh", handleRefresh(auth, l))
	api.Handle("POST /logout", handleLogout(auth, l))
	api.Handle("POST /federated", handleFederatedLogin(auth, l))
	api.Handle("GET /me", middleware.RequireUser(handleMe()))

	root := http.NewServeMux()
	root.Handle("/api/auth/", http.StripPrefix("/api/auth", api))

	return chain(root,
		middleware.LoggerMiddleware(l),
		middleware.Authenticate(authn, l),
	)
}
