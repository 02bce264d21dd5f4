package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	errors "github.com/Proton-105/flowbot/internal/errors"
)

// Pinger is a dependency the watchdog probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Watchdog pings a dependency on an interval and gives up after a run of
// consecutive failures.
type Watchdog struct {
	target      Pinger
	interval    time.Duration
	maxFailures int
	log         *slog.Logger
}

func NewWatchdog(target Pinger, interval time.Duration, maxFailures int, log *slog.Logger) *Watchdog {
	if log == nil {
		log = slog.Default()
	}
	if maxFailures <= 0 {
		maxFailures = 1
	}

	return &Watchdog{
		target:      target,
		interval:    interval,
		maxFailures: maxFailures,
		log:         log,
	}
}

// Run blocks until ctx is done, returning nil, or until maxFailures pings
// in a row failed, returning a StorageError.
func (w *Watchdog) Run(ctx context.Context) error {
	if w.target == nil || w.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		pingCtx, cancel := context.WithTimeout(ctx, w.interval)
		err := w.target.Ping(pingCtx)
		cancel()

		if err == nil {
			if failures > 0 {
				w.log.Info("health check recovered", slog.Int("failures", failures))
			}
			failures = 0
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		failures++
		w.log.Warn("health check failed", slog.Int("failures", failures), slog.Any("error", err))
		if failures >= w.maxFailures {
			return errors.NewStorageError("health check", fmt.Errorf("%d consecutive failures: %w", failures, err))
		}
	}
}
