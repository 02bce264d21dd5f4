package health

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/Proton-105/flowbot/internal/manager"
)

// Checkable represents a component that can report its health status.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc adapts a function to Checkable.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}

// Report is the outcome of one Check run.
type Report struct {
	Healthy    bool              `json:"healthy"`
	Components map[string]string `json:"components"`
}

// Checker aggregates health checks for multiple components.
type Checker struct {
	log    *slog.Logger
	mu     sync.RWMutex
	checks map[string]Checkable
}

// NewChecker instantiates a Checker with the provided logger.
func NewChecker(log *slog.Logger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		log:    log,
		checks: make(map[string]Checkable),
	}
}

// AddCheck registers a checkable component by name.
func (c *Checker) AddCheck(name string, check Checkable) {
	if name == "" || check == nil {
		return
	}
	c.mu.Lock()
	c.checks[name] = check
	c.mu.Unlock()
}

// Check runs all registered health checks and returns their statuses.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]Checkable, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	report := Report{Healthy: true, Components: make(map[string]string, len(names))}
	for _, name := range names {
		if err := checks[name].HealthCheck(ctx); err != nil {
			report.Healthy = false
			report.Components[name] = err.Error()
			c.log.Warn("health check failed", slog.String("component", name), slog.Any("error", err))
			continue
		}
		report.Components[name] = "OK"
	}

	return report
}

// Pinger abstracts the subset of redis.Client used for health checks.
type Pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisChecker verifies connectivity to a Redis instance.
type RedisChecker struct {
	pinger Pinger
}

// NewRedisChecker constructs a RedisChecker.
func NewRedisChecker(pinger Pinger) *RedisChecker {
	return &RedisChecker{pinger: pinger}
}

// HealthCheck issues a PING command against Redis.
func (c *RedisChecker) HealthCheck(ctx context.Context) error {
	if c == nil || c.pinger == nil {
		return redis.ErrClosed
	}
	return c.pinger.Ping(ctx).Err()
}

// BotLister is the part of the manager the bots check reads.
type BotLister interface {
	List(ctx context.Context) []manager.Info
}

// BotsChecker fails while any bot is in the failed state.
type BotsChecker struct {
	bots BotLister
}

func NewBotsChecker(bots BotLister) *BotsChecker {
	return &BotsChecker{bots: bots}
}

func (c *BotsChecker) HealthCheck(ctx context.Context) error {
	var failed []string
	for _, info := range c.bots.List(ctx) {
		if info.Status == manager.StatusFailed {
			failed = append(failed, info.BotID)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed bots: %v", failed)
	}
	return nil
}
