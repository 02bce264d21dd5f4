package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/flowbot/internal/testutil"
	"github.com/Proton-105/flowbot/pkg/config"
)

func TestMemoryLimiterSlidingWindow(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(testLogger())
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Check(ctx, "user:1", 3, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 2-i, result.Remaining)
	}

	result, err := limiter.Check(ctx, "user:1", 3, time.Minute)
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.False(t, result.Allowed)

	other, err := limiter.Check(ctx, "user:2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	now = now.Add(time.Minute)
	result, err = limiter.Check(ctx, "user:1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestMemoryLimiterCleanup(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(testLogger())
	limiter.now = func() time.Time { return now }

	_, err := limiter.Check(context.Background(), "user:1", 1, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 0, limiter.Cleanup(10*time.Minute))
	now = now.Add(11 * time.Minute)
	assert.Equal(t, 1, limiter.Cleanup(10*time.Minute))
}

func TestRules(t *testing.T) {
	rules := NewRules(config.RateLimitConfig{
		Enabled:   true,
		PerUser:   config.RateLimitRule{Limit: 20, Window: "1m"},
		Whitelist: []int64{99},
	})

	assert.True(t, rules.Enabled())
	assert.True(t, rules.IsWhitelisted(99))
	assert.False(t, rules.IsWhitelisted(1))

	limit, window, err := rules.PerUser()
	require.NoError(t, err)
	assert.Equal(t, 20, limit)
	assert.Equal(t, time.Minute, window)

	_, _, err = NewRules(config.RateLimitConfig{PerUser: config.RateLimitRule{Limit: 1}}).PerUser()
	assert.Error(t, err)

	var nilRules *Rules
	assert.False(t, nilRules.Enabled())
}

func TestThrottleBulkIsCappedBelowGlobal(t *testing.T) {
	throttle := NewThrottle(config.ThrottleConfig{RPS: 1000, Burst: 10, BulkShare: 0.5})

	assert.InDelta(t, 500, float64(throttle.bulk.Limit()), 0.001)
	assert.Equal(t, 5, throttle.bulk.Burst())
	assert.Equal(t, 10, throttle.global.Burst())
}

func TestThrottleWaitHonoursContext(t *testing.T) {
	throttle := NewThrottle(config.ThrottleConfig{RPS: 0.001, Burst: 1, BulkShare: 0.5})

	require.NoError(t, throttle.Wait(context.Background(), Interactive))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, throttle.Wait(ctx, Interactive))
}

func TestThrottledSenderDelegates(t *testing.T) {
	throttle := NewThrottle(config.ThrottleConfig{RPS: 1000, Burst: 10, BulkShare: 0.5})
	sink := testutil.NewSender()
	sender := throttle.Sender(sink, Bulk)

	require.NoError(t, sender.SendText(context.Background(), 1, "hello", nil))
	require.NoError(t, sender.SendPhoto(context.Background(), 1, "https://example.com/a.png", "c"))
	assert.Len(t, sink.Sent(), 2)
}
