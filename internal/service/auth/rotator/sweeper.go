package rotator

import (
	"context"
	"time"

	"github.com/lwenstrom/cooklion/internal/logger"
)

const defaultSweepInterval = time.Hour

// Sweeper periodically deletes dead refresh token rows
// Independent of request traffic: it only removes rows that are already
// expired or revoked, so it needs no coordination with the rotation path
type Sweeper struct {
	rotator  *Rotator
	interval time.Duration
	logger   logger.Logger
}

func NewSweeper(rot *Rotator, interval time.Duration, l logger.Logger) *Sweeper {
	if interval == 0 {
		interval = defaultSweepInterval
	}

	return &Sweeper{
		rotator:  rot,
		interval: interval,
		logger:   l,
	}
}

// Run sweeps on a ticker until the context is cancelled
// The returned channel closes when the sweeper has fully stopped
func (s *Sweeper) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	s.logger.Debug("Starting refresh token sweeper", "interval", s.interval)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("Sweeper stopped by context")
				return

			case <-ticker.C:
				removed, err := s.rotator.Sweep(ctx, time.Now())
				if err != nil {
					s.logger.Error("Failed to sweep refresh tokens", "error", err)
					continue
				}
				if removed > 0 {
					s.logger.Info("Swept dead refresh tokens", "removed", removed)
				}
			}
		}
	}()

	return idleStopped
}
