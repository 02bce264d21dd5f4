package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	rateLimitChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowbot_ratelimit_checks_total",
		Help: "Total number of inbound rate limit checks by backend and result.",
	}, []string{"backend", "result"})

	rateLimitBackendErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowbot_ratelimit_backend_errors_total",
		Help: "Total number of primary backend errors encountered by the limiter.",
	})
)

func init() {
	prometheus.MustRegister(rateLimitChecksTotal, rateLimitBackendErrorsTotal)
}

// AdaptiveLimiter delegates to a primary (Redis) limiter and falls back to
// a stricter in-memory limiter when the primary fails.
type AdaptiveLimiter struct {
	primary  Limiter
	fallback Limiter
	log      *slog.Logger
}

func NewAdaptiveLimiter(primary, fallback Limiter, log *slog.Logger) *AdaptiveLimiter {
	if log == nil {
		log = slog.Default()
	}

	return &AdaptiveLimiter{
		primary:  primary,
		fallback: fallback,
		log:      log,
	}
}

// Check evaluates the limit using the primary backend. On backend errors the
// fallback enforces half the limit.
func (a *AdaptiveLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	result, err := a.primary.Check(ctx, key, limit, window)
	if err == nil || errors.Is(err, ErrLimitExceeded) {
		rateLimitChecksTotal.WithLabelValues("primary", resultLabel(result)).Inc()
		return result, err
	}

	rateLimitBackendErrorsTotal.Inc()
	a.log.Warn("primary limiter failed, falling back to in-memory", "key", key, "error", err)

	fallbackLimit := max(limit/2, 1)
	result, err = a.fallback.Check(ctx, key, fallbackLimit, window)
	rateLimitChecksTotal.WithLabelValues("fallback", resultLabel(result)).Inc()
	return result, err
}

// RunCleanup prunes the in-memory fallback.
func (a *AdaptiveLimiter) RunCleanup(ctx context.Context, interval, maxAge time.Duration) {
	if c, ok := a.fallback.(Cleaner); ok {
		c.RunCleanup(ctx, interval, maxAge)
	}
}

func resultLabel(r *Result) string {
	if r != nil && r.Allowed {
		return "allowed"
	}
	return "rejected"
}
