package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Getenv, os.Getwd, os.Args[1:]); err != nil {
		slog.Error("Server error", "error", err.Error())
		os.Exit(1)
	}
}

// run builds the config, wires the app and serves until ctx is cancelled
func run(ctx context.Context, getenv func(string) string, getwd func() (string, error), args []string) error {
	cfg := NewConfig()

	if err := cfg.LoadDotEnv(getwd); err != nil {
		return fmt.Errorf("error while loading '.env' file. Err: %w", err)
	}
	cfg.LoadEnv(getenv)

	if err := cfg.ParseFlags(args); err != nil {
		return fmt.Errorf("error while parsing flags. Err: %w", err)
	}

	srv, err := NewServerApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("can't initialize app. Err: %w", err)
	}

	if err := srv.Run(ctx); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
