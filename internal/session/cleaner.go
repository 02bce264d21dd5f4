package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/Proton-105/flowbot/pkg/metrics"
)

// Sweeper is the subset of Manager used by Cleaner.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Cleaner removes expired session states on a schedule.
type Cleaner struct {
	sweeper  Sweeper
	log      *slog.Logger
	interval time.Duration
}

// NewCleaner constructs a Cleaner instance.
func NewCleaner(sweeper Sweeper, log *slog.Logger, interval time.Duration) *Cleaner {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	return &Cleaner{
		sweeper:  sweeper,
		log:      log,
		interval: interval,
	}
}

// Run starts the cleanup loop until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	if c == nil || c.sweeper == nil {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("session cleaner stopped", slog.String("reason", context.Cause(ctx).Error()))
			return
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

func (c *Cleaner) cleanup(ctx context.Context) {
	removed, err := c.sweeper.Sweep(ctx)
	if err != nil && ctx.Err() == nil {
		c.log.Error("session sweep failed", slog.Int("removed", removed), slog.Any("error", err))
	}

	metrics.RecordSessionsSwept(removed)
	if removed > 0 {
		c.log.Info("expired sessions removed", slog.Int("removed", removed))
	}
}
