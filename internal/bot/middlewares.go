package bot

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Proton-105/flowbot/internal/domain"
	errors "github.com/Proton-105/flowbot/internal/errors"
	"github.com/Proton-105/flowbot/internal/gateway"
	"github.com/Proton-105/flowbot/internal/i18n"
	"github.com/Proton-105/flowbot/internal/ratelimit"
	"github.com/Proton-105/flowbot/pkg/logger"
	"github.com/Proton-105/flowbot/pkg/metrics"
)

// Notifier sends the fixed message key to the user behind ev.
type Notifier func(ctx context.Context, ev gateway.Event, key string)

// UserTracker records the profile of every user that writes to the bot.
type UserTracker interface {
	UpsertUser(ctx context.Context, p domain.UserProfile) error
}

// RecoveryMiddleware catches panics, reports them via the centralized handler, and notifies the user.
func RecoveryMiddleware(log *slog.Logger, errHandler *errors.Handler, notify Notifier) Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, ev gateway.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.ErrorContext(ctx, "panic recovered in handler",
						slog.Int64("user_id", ev.UserID()),
						slog.Any("panic", r),
						slog.String("stack", string(debug.Stack())),
					)

					if errHandler != nil {
						errHandler.Handle(ctx, errors.NewStorageError("handle event", fmt.Errorf("panic recovered: %v", r)))
					}
					if notify != nil {
						notify(ctx, ev, i18n.ErrGeneric)
					}

					err = nil
				}
			}()

			return next(ctx, ev)
		}
	}
}

// ErrorHandlingMiddleware reports handler failures. The interpreter has
// already queued the user-facing message, so errors stop here.
func ErrorHandlingMiddleware(errHandler *errors.Handler) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, ev gateway.Event) error {
			err := next(ctx, ev)
			if err == nil || errHandler == nil {
				return err
			}

			errHandler.Handle(ctx, err)
			return nil
		}
	}
}

// CorrelationMiddleware tags the event context with a fresh correlation id.
func CorrelationMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, ev gateway.Event) error {
			return next(logger.WithCorrelationID(ctx, ""), ev)
		}
	}
}

// LoggingMiddleware logs basic telemetry about incoming events.
func LoggingMiddleware(log *slog.Logger) Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, ev gateway.Event) error {
			start := time.Now()
			attrs := []any{
				slog.Int64("user_id", ev.UserID()),
				slog.String("type", string(ev.Type)),
			}

			log.DebugContext(ctx, "handling update", attrs...)
			err := next(ctx, ev)
			log.InfoContext(ctx, "handled update", append(attrs,
				slog.Duration("duration", time.Since(start)),
				slog.Any("error", err),
			)...)

			return err
		}
	}
}

// MetricsMiddleware measures handling time and status per event type.
func MetricsMiddleware(botID string) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, ev gateway.Event) error {
			start := time.Now()
			err := next(ctx, ev)

			status := "ok"
			if err != nil {
				status = "error"
			}
			metrics.RecordEvent(botID, string(ev.Type), status, time.Since(start))

			return err
		}
	}
}

// TrackUserMiddleware upserts the sender's profile with the event time as
// last activity. A failed upsert is logged and does not block the event.
func TrackUserMiddleware(users UserTracker, log *slog.Logger) Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, ev gateway.Event) error {
			if users != nil && ev.UserID() != 0 {
				profile := ev.Profile
				profile.LastActive = ev.ReceivedAt
				if profile.LastActive.IsZero() {
					profile.LastActive = time.Now().UTC()
				}
				if err := users.UpsertUser(ctx, profile); err != nil {
					log.WarnContext(ctx, "failed to record user activity", slog.Int64("user_id", ev.UserID()), slog.Any("error", err))
				}
			}

			return next(ctx, ev)
		}
	}
}

// RateLimitMiddleware drops events of users exceeding the per-user rule.
// A user is told to slow down once per exhausted window.
type RateLimitMiddleware struct {
	botID   string
	limiter ratelimit.Limiter
	rules   *ratelimit.Rules
	notify  Notifier
	log     *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	notified map[int64]time.Time
}

// NewRateLimitMiddleware constructs a rate-limit middleware component.
func NewRateLimitMiddleware(botID string, limiter ratelimit.Limiter, rules *ratelimit.Rules, notify Notifier, log *slog.Logger) *RateLimitMiddleware {
	if log == nil {
		log = slog.Default()
	}

	return &RateLimitMiddleware{
		botID:    botID,
		limiter:  limiter,
		rules:    rules,
		notify:   notify,
		log:      log,
		now:      time.Now,
		notified: make(map[int64]time.Time),
	}
}

// Handle is the Middleware.
func (m *RateLimitMiddleware) Handle(next Handler) Handler {
	return func(ctx context.Context, ev gateway.Event) error {
		if m.limiter == nil || !m.rules.Enabled() {
			return next(ctx, ev)
		}

		userID := ev.UserID()
		if m.rules.IsWhitelisted(userID) {
			return next(ctx, ev)
		}

		limit, window, err := m.rules.PerUser()
		if err != nil {
			m.log.Error("failed to load per-user rate limit", slog.Int64("user_id", userID), slog.Any("error", err))
			return next(ctx, ev)
		}

		result, err := m.limiter.Check(ctx, fmt.Sprintf("user:%d", userID), limit, window)
		switch {
		case err == nil:
			m.clear(userID)
			return next(ctx, ev)
		case stdErrors.Is(err, ratelimit.ErrLimitExceeded):
		default:
			m.log.WarnContext(ctx, "rate limiter error", slog.Int64("user_id", userID), slog.Any("error", err))
			return next(ctx, ev)
		}

		metrics.RecordRateLimited(m.botID)
		if m.shouldNotify(userID, result) {
			m.log.WarnContext(ctx, "rate limit exceeded",
				slog.Int64("user_id", userID),
				slog.Any("error", errors.NewRateLimitError(m.retryAfter(result))),
			)
			if m.notify != nil {
				m.notify(ctx, ev, i18n.ErrRateLimited)
			}
		}

		return nil
	}
}

func (m *RateLimitMiddleware) shouldNotify(userID int64, result *ratelimit.Result) bool {
	now := m.now()
	until := now
	if result != nil && result.ResetAt.After(now) {
		until = result.ResetAt
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.notified[userID]; ok && now.Before(prev) {
		return false
	}
	m.notified[userID] = until
	return true
}

// retryAfter is the number of whole seconds until the window resets.
func (m *RateLimitMiddleware) retryAfter(result *ratelimit.Result) int {
	if result == nil {
		return 0
	}
	wait := result.ResetAt.Sub(m.now())
	if wait <= 0 {
		return 0
	}
	return int(math.Ceil(wait.Seconds()))
}

func (m *RateLimitMiddleware) clear(userID int64) {
	m.mu.Lock()
	delete(m.notified, userID)
	m.mu.Unlock()
}
