package bot

import (
	"context"
	stdErrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/flowbot/internal/domain"
	errors "github.com/Proton-105/flowbot/internal/errors"
	"github.com/Proton-105/flowbot/internal/flow"
	"github.com/Proton-105/flowbot/internal/gateway"
	"github.com/Proton-105/flowbot/internal/storage"
	"github.com/Proton-105/flowbot/internal/testutil"
	"github.com/Proton-105/flowbot/pkg/config"
)

const helloButtons = `{
  "nodes": [
    {"id": "start", "type": "startend", "data": {"command": "/start"}},
    {"id": "hello", "type": "text", "data": {"text": "hi"}},
    {"id": "choice", "type": "button", "data": {"buttons": [{"text": "A"}, {"text": "B"}]}}
  ],
  "edges": [
    {"source": "start", "target": "hello"},
    {"source": "hello", "target": "choice"}
  ]
}`

func testConfig(dir string) config.Config {
	return config.Config{
		Storage:  config.StorageConfig{Driver: "sqlite", SQLiteDir: dir},
		Session:  config.SessionConfig{Backend: "memory", TTL: time.Hour, SweepInterval: time.Hour},
		Flow:     config.FlowConfig{MaxDepth: 10, Workers: 2, DefaultLocale: "en"},
		Throttle: config.ThrottleConfig{RPS: 1000, Burst: 10, BulkShare: 0.5},
		RateLimit: config.RateLimitConfig{
			Enabled: true,
			PerUser: config.RateLimitRule{Limit: 20, Window: "1m"},
		},
		Manager: config.ManagerConfig{StopGrace: time.Second, HealthInterval: time.Hour, MaxHealthFailures: 3},
	}
}

func compile(t *testing.T, src string) *flow.Graph {
	t.Helper()
	doc, err := flow.Parse([]byte(src))
	require.NoError(t, err)
	graph, err := flow.Compile(doc)
	require.NoError(t, err)
	return graph
}

func openStore(t *testing.T, cfg config.Config) *storage.SQLStore {
	t.Helper()
	store, err := storage.Open(context.Background(), cfg.Storage, "demo", testutil.Logger())
	require.NoError(t, err)
	return store
}

type runningInstance struct {
	transport *testutil.Transport
	cancel    context.CancelFunc
	done      chan error
}

func start(t *testing.T, inst *Instance, transport *testutil.Transport) *runningInstance {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- inst.Run(ctx) }()

	select {
	case <-transport.Running():
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("instance did not start polling")
	}
	return &runningInstance{transport: transport, cancel: cancel, done: done}
}

func (r *runningInstance) stop(t *testing.T) error {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("instance did not stop")
		return nil
	}
}

func TestInstanceRunsFlowEndToEnd(t *testing.T) {
	cfg := testConfig(t.TempDir())
	transport := testutil.NewTransport()
	inst := NewInstance("demo", compile(t, helloButtons), transport, openStore(t, cfg), Deps{Config: cfg, Log: testutil.Logger()})

	run := start(t, inst, transport)
	user := domain.UserProfile{ID: 42, Username: "ann", Locale: "en"}
	require.True(t, transport.Push(gateway.NewTextEvent(42, "/start", user, time.Now())))
	require.True(t, transport.Push(gateway.Event{Type: gateway.EventCallback, ChatID: 42, CallbackData: "action_0", Profile: user, ReceivedAt: time.Now()}))

	require.Eventually(t, func() bool { return len(transport.Texts()) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, run.stop(t))

	assert.Equal(t, []string{"hi", "You selected: A"}, transport.Texts())

	store := openStore(t, cfg)
	defer store.Close()
	stored, err := store.User(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "ann", stored.Username)
}

func TestInstanceRepliesToUnknownCommand(t *testing.T) {
	cfg := testConfig(t.TempDir())
	transport := testutil.NewTransport()
	inst := NewInstance("demo", compile(t, helloButtons), transport, openStore(t, cfg), Deps{Config: cfg, Log: testutil.Logger()})

	err := inst.Route(context.Background(), gateway.NewTextEvent(1, "/help", domain.UserProfile{ID: 1}, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, []string{"Command not recognized."}, transport.Texts())
}

type flakyStore struct {
	storage.Store
	pings atomic.Int32
}

func (s *flakyStore) Ping(context.Context) error {
	s.pings.Add(1)
	return stdErrors.New("connection refused")
}

func TestInstanceFailsAfterRepeatedHealthFailures(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Manager.HealthInterval = 10 * time.Millisecond
	cfg.Manager.MaxHealthFailures = 2

	transport := testutil.NewTransport()
	store := &flakyStore{Store: openStore(t, cfg)}
	inst := NewInstance("demo", compile(t, helloButtons), transport, store, Deps{Config: cfg, Log: testutil.Logger()})

	done := make(chan error, 1)
	go func() { done <- inst.Run(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindStorage))
		assert.GreaterOrEqual(t, store.pings.Load(), int32(2))
	case <-time.After(5 * time.Second):
		t.Fatal("instance kept running with a dead store")
	}
}

func TestInstanceSurfacesTransportFailure(t *testing.T) {
	cfg := testConfig(t.TempDir())
	transport := testutil.NewTransport()
	transport.RunErr = stdErrors.New("unauthorized")
	inst := NewInstance("demo", compile(t, helloButtons), transport, openStore(t, cfg), Deps{Config: cfg, Log: testutil.Logger()})

	err := inst.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindTransport))
}

type countingPinger struct {
	calls atomic.Int32
	fail  bool
}

func (p *countingPinger) Ping(context.Context) error {
	p.calls.Add(1)
	if p.fail {
		return stdErrors.New("down")
	}
	return nil
}

func TestWatchdog(t *testing.T) {
	t.Run("healthy target runs until cancelled", func(t *testing.T) {
		target := &countingPinger{}
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
		defer cancel()

		err := NewWatchdog(target, 5*time.Millisecond, 2, testutil.Logger()).Run(ctx)
		assert.NoError(t, err)
		assert.Positive(t, target.calls.Load())
	})

	t.Run("failing target gives up", func(t *testing.T) {
		target := &countingPinger{fail: true}
		err := NewWatchdog(target, 5*time.Millisecond, 3, testutil.Logger()).Run(context.Background())
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindStorage))
		assert.Equal(t, int32(3), target.calls.Load())
	})
}
