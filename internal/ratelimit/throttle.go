package ratelimit

import (
	"context"
	"math"

	"golang.org/x/time/rate"

	"github.com/Proton-105/flowbot/internal/gateway"
	"github.com/Proton-105/flowbot/pkg/config"
	"github.com/Proton-105/flowbot/pkg/metrics"
)

// Class separates replies to users from broadcast fan-out.
type Class string

const (
	Interactive Class = "interactive"
	Bulk        Class = "bulk"
)

// Throttle bounds the outbound send rate of one bot. Every send takes a
// token from the global bucket; bulk sends first take one from a smaller
// bucket so that broadcasts can never use more than BulkShare of the rate.
type Throttle struct {
	global *rate.Limiter
	bulk   *rate.Limiter
}

// NewThrottle builds a throttle from cfg. A non-positive RPS disables it.
func NewThrottle(cfg config.ThrottleConfig) *Throttle {
	if cfg.RPS <= 0 {
		return &Throttle{
			global: rate.NewLimiter(rate.Inf, 0),
			bulk:   rate.NewLimiter(rate.Inf, 0),
		}
	}
	bulkBurst := int(math.Max(1, math.Floor(float64(cfg.Burst)*cfg.BulkShare)))
	return &Throttle{
		global: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		bulk:   rate.NewLimiter(rate.Limit(cfg.RPS*cfg.BulkShare), bulkBurst),
	}
}

// Wait blocks until a send of the given class may proceed or ctx is done.
func (t *Throttle) Wait(ctx context.Context, class Class) error {
	if class == Bulk {
		if err := t.bulk.Wait(ctx); err != nil {
			return err
		}
	}
	return t.global.Wait(ctx)
}

// Sender wraps next so that every send waits for the throttle.
func (t *Throttle) Sender(next gateway.Sender, class Class) gateway.Sender {
	return &throttledSender{next: next, throttle: t, class: class}
}

type throttledSender struct {
	next     gateway.Sender
	throttle *Throttle
	class    Class
}

func (s *throttledSender) SendText(ctx context.Context, chatID int64, text string, kb *gateway.Keyboard) error {
	if err := s.throttle.Wait(ctx, s.class); err != nil {
		metrics.RecordSend(string(s.class), "throttled")
		return err
	}
	err := s.next.SendText(ctx, chatID, text, kb)
	metrics.RecordSend(string(s.class), status(err))
	return err
}

func (s *throttledSender) SendPhoto(ctx context.Context, chatID int64, source, caption string) error {
	if err := s.throttle.Wait(ctx, s.class); err != nil {
		metrics.RecordSend(string(s.class), "throttled")
		return err
	}
	err := s.next.SendPhoto(ctx, chatID, source, caption)
	metrics.RecordSend(string(s.class), status(err))
	return err
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
