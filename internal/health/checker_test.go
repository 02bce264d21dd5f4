package health

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/flowbot/internal/manager"
	"github.com/Proton-105/flowbot/internal/testutil"
)

type staticBots []manager.Info

func (b staticBots) List(context.Context) []manager.Info { return b }

func TestCheckerAggregates(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewChecker(testutil.Logger())
	c.AddCheck("redis", NewRedisChecker(client))
	c.AddCheck("bots", NewBotsChecker(staticBots{{BotID: "a", Status: manager.StatusRunning}}))
	c.AddCheck("", CheckFunc(func(context.Context) error { return errors.New("ignored") }))

	report := c.Check(context.Background())
	assert.True(t, report.Healthy)
	assert.Equal(t, map[string]string{"redis": "OK", "bots": "OK"}, report.Components)
}

func TestCheckerReportsFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	c := NewChecker(testutil.Logger())
	c.AddCheck("redis", NewRedisChecker(client))
	c.AddCheck("bots", NewBotsChecker(staticBots{
		{BotID: "a", Status: manager.StatusRunning},
		{BotID: "b", Status: manager.StatusFailed},
	}))

	report := c.Check(context.Background())
	require.False(t, report.Healthy)
	assert.NotEqual(t, "OK", report.Components["redis"])
	assert.Equal(t, "failed bots: [b]", report.Components["bots"])
}
