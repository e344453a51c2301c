package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lwenstrom/cooklion/internal/db"
	"github.com/lwenstrom/cooklion/internal/handlers"
	"github.com/lwenstrom/cooklion/internal/logger"
	"github.com/lwenstrom/cooklion/internal/repository/postgres"
	"github.com/lwenstrom/cooklion/internal/service/auth"
	"github.com/lwenstrom/cooklion/internal/service/auth/rotator"
	"github.com/lwenstrom/cooklion/internal/service/auth/tokenmanager"
	"github.com/lwenstrom/cooklion/internal/service/provisioning"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler
	Sweeper    *rotator.Sweeper

	logger logger.Logger
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	l, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Initialize services
	keys, err := signingKeys(c.SecretKey, c.PreviousSecretKeys)
	if err != nil {
		return nil, fmt.Errorf("error while loading signing keys. Err: %w", err)
	}

	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		Keys:      keys,
		AccessTTL: time.Duration(c.AccessTTLMinutes) * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	rot, err := rotator.New(rotator.Config{
		RefreshTTL: time.Duration(c.RefreshTTLDays) * 24 * time.Hour,
	}, storage)
	if err != nil {
		return nil, fmt.Errorf("error while creating token rotator. Err: %w", err)
	}

	prov, err := provisioning.New(provisioning.Config{
		AdminEmails: splitList(c.AdminEmails),
	}, storage)
	if err != nil {
		return nil, fmt.Errorf("error while creating provisioner. Err: %w", err)
	}

	authService, err := auth.NewService(auth.Config{
		LockoutThreshold: c.LockoutThreshold,
	}, tokenManager, rot, prov, storage)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	mux := handlers.NewRouter(authService, authService, l)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
		Sweeper:    rotator.NewSweeper(rot, c.SweepInterval, l),
		logger:     l,
	}, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	sweeperStopped := s.Sweeper.Run(srvCtx)

	idleConnsClosed := make(chan struct{})
	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-sweeperStopped

	return err
}

// signingKeys decodes the hex encoded secret keys into a static key provider.
// The first argument is the current signing key, the second an optional
// comma-separated list of previous keys still accepted for verification
func signingKeys(current string, previous string) (*tokenmanager.StaticKeys, error) {
	currentKey, err := hex.DecodeString(current)
	if err != nil {
		return nil, fmt.Errorf("secret key must be hex encoded: %w", err)
	}

	var previousKeys [][]byte
	for _, s := range splitList(previous) {
		key, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("previous secret key must be hex encoded: %w", err)
		}
		previousKeys = append(previousKeys, key)
	}

	return tokenmanager.NewStaticKeys(currentKey, previousKeys...)
}

func splitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}
