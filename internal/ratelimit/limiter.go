// Package ratelimit bounds traffic in both directions: inbound events per
// user with sliding-window limiters, outbound sends per bot with a token
// bucket throttle split between interactive and bulk traffic.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Result captures the outcome of a rate-limit evaluation.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter describes a rate-limiting strategy interface.
type Limiter interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// Cleaner is implemented by limiters holding per-key state in memory.
type Cleaner interface {
	RunCleanup(ctx context.Context, interval, maxAge time.Duration)
}

// ErrLimitExceeded indicates the rate limit has been reached for the key.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// NewLimiter picks the inbound limiter backend. With a redis client limits
// are shared by every process serving the bot and fall back to memory when
// redis is unavailable.
func NewLimiter(client *redis.Client, keyPrefix string, log *slog.Logger) Limiter {
	memory := NewMemoryLimiter(log)
	if client == nil {
		return memory
	}
	return NewAdaptiveLimiter(NewRedisLimiter(client, keyPrefix, log), memory, log)
}
