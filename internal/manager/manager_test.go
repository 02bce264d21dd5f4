package manager

import (
	"context"
	stdErrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errors "github.com/Proton-105/flowbot/internal/errors"
	"github.com/Proton-105/flowbot/internal/flow"
	"github.com/Proton-105/flowbot/internal/testutil"
)

const validGraph = `{
  "nodes": [
    {"id": "start", "type": "startend", "data": {"command": "/start"}},
    {"id": "hello", "type": "text", "data": {"text": "hi"}}
  ],
  "edges": [{"source": "start", "target": "hello"}]
}`

const danglingGraph = `{
  "nodes": [{"id": "start", "type": "startend", "data": {"command": "/start"}}],
  "edges": [{"source": "start", "target": "missing"}]
}`

func parse(t *testing.T, src string) *flow.Document {
	t.Helper()
	doc, err := flow.Parse([]byte(src))
	require.NoError(t, err)
	return doc
}

type fakeSource struct {
	defs map[string]*Definition
}

func (s *fakeSource) Definition(_ context.Context, botID string) (*Definition, error) {
	def, ok := s.defs[botID]
	if !ok {
		return nil, ErrUnknownBot
	}
	cp := *def
	return &cp, nil
}

func (s *fakeSource) IDs(context.Context) ([]string, error) {
	ids := make([]string, 0, len(s.defs))
	for id := range s.defs {
		ids = append(ids, id)
	}
	return ids, nil
}

// fakeRuntime blocks until cancelled, unless told to fail, panic or
// ignore cancellation.
type fakeRuntime struct {
	graph    *flow.Graph
	failWith chan error
	panicMsg string
	stubborn bool
	stopped  atomic.Bool
}

func (r *fakeRuntime) Run(ctx context.Context) error {
	if r.panicMsg != "" {
		panic(r.panicMsg)
	}
	if r.stubborn {
		time.Sleep(time.Second)
		return nil
	}
	select {
	case <-ctx.Done():
		r.stopped.Store(true)
		return nil
	case err := <-r.failWith:
		return err
	}
}

type fakeFactory struct {
	mu       sync.Mutex
	built    []*fakeRuntime
	err      error
	template fakeRuntime
}

func (f *fakeFactory) build(_ context.Context, _, _ string, graph *flow.Graph) (Runtime, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	rt := &fakeRuntime{
		graph:    graph,
		failWith: make(chan error, 1),
		panicMsg: f.template.panicMsg,
		stubborn: f.template.stubborn,
	}
	f.built = append(f.built, rt)
	return rt, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.built)
}

func (f *fakeFactory) last() *fakeRuntime {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built[len(f.built)-1]
}

func newManager(t *testing.T, defs map[string]*Definition, factory *fakeFactory, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithLogger(testutil.Logger()), WithGrace(200 * time.Millisecond)}, opts...)
	m := New(&fakeSource{defs: defs}, factory.build, opts...)
	t.Cleanup(func() { _ = m.StopAll(context.Background()) })
	return m
}

func TestStartTwiceYieldsOneInstance(t *testing.T) {
	factory := &fakeFactory{}
	m := newManager(t, map[string]*Definition{"a": {ID: "a", Token: "t", Graph: parse(t, validGraph)}}, factory)

	require.NoError(t, m.Start(context.Background(), "a"))
	require.NoError(t, m.Start(context.Background(), "a"))

	assert.Equal(t, 1, factory.count())
	assert.Equal(t, StatusRunning, m.Status("a").Status)
}

func TestStopCancelsAndDeregisters(t *testing.T) {
	factory := &fakeFactory{}
	m := newManager(t, map[string]*Definition{"a": {ID: "a", Token: "t", Graph: parse(t, validGraph)}}, factory)

	require.NoError(t, m.Start(context.Background(), "a"))
	require.NoError(t, m.Stop(context.Background(), "a"))

	assert.True(t, factory.last().stopped.Load())
	assert.Equal(t, StatusStopped, m.Status("a").Status)
	require.NoError(t, m.Stop(context.Background(), "a"), "stopping a stopped bot is a no-op")

	require.NoError(t, m.Start(context.Background(), "a"))
	assert.Equal(t, 2, factory.count())
}

func TestStartRejectsMalformedGraph(t *testing.T) {
	factory := &fakeFactory{}
	m := newManager(t, map[string]*Definition{"bad": {ID: "bad", Token: "t", Graph: parse(t, danglingGraph)}}, factory)

	err := m.Start(context.Background(), "bad")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfig))
	assert.Equal(t, StatusFailed, m.Status("bad").Status)
	assert.Zero(t, factory.count())
}

func TestStartFailures(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		factory *fakeFactory
	}{
		{name: "missing token", token: "", factory: &fakeFactory{}},
		{name: "factory error", token: "t", factory: &fakeFactory{err: stdErrors.New("401 unauthorized")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(t, map[string]*Definition{"a": {ID: "a", Token: tt.token, Graph: parse(t, validGraph)}}, tt.factory)

			err := m.Start(context.Background(), "a")
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindFatalStartup))

			info := m.Status("a")
			assert.Equal(t, StatusFailed, info.Status)
			assert.NotEmpty(t, info.LastError)
		})
	}
}

func TestUnknownBot(t *testing.T) {
	m := newManager(t, map[string]*Definition{}, &fakeFactory{})

	err := m.Start(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownBot)
	assert.Empty(t, m.List(context.Background()))
}

func TestRuntimeFailureIsIsolated(t *testing.T) {
	factory := &fakeFactory{}
	defs := map[string]*Definition{
		"a": {ID: "a", Token: "t", Graph: parse(t, validGraph)},
		"b": {ID: "b", Token: "t", Graph: parse(t, validGraph)},
	}
	m := newManager(t, defs, factory)

	require.NoError(t, m.Start(context.Background(), "a"))
	failing := factory.last()
	require.NoError(t, m.Start(context.Background(), "b"))

	failing.failWith <- errors.NewStorageError("health check", stdErrors.New("down"))

	require.Eventually(t, func() bool { return m.Status("a").Status == StatusFailed }, time.Second, 5*time.Millisecond)
	assert.Contains(t, m.Status("a").LastError, "health check")
	assert.Equal(t, StatusRunning, m.Status("b").Status)
}

func TestRuntimePanicMarksOnlyThatBotFailed(t *testing.T) {
	factory := &fakeFactory{template: fakeRuntime{panicMsg: "boom"}}
	m := newManager(t, map[string]*Definition{"a": {ID: "a", Token: "t", Graph: parse(t, validGraph)}}, factory)

	require.NoError(t, m.Start(context.Background(), "a"))
	require.Eventually(t, func() bool { return m.Status("a").Status == StatusFailed }, time.Second, 5*time.Millisecond)
	assert.Contains(t, m.Status("a").LastError, "boom")
}

func TestStopAbandonsInstanceAfterGrace(t *testing.T) {
	factory := &fakeFactory{template: fakeRuntime{stubborn: true}}
	m := newManager(t, map[string]*Definition{"a": {ID: "a", Token: "t", Graph: parse(t, validGraph)}}, factory, WithGrace(20*time.Millisecond))

	require.NoError(t, m.Start(context.Background(), "a"))
	err := m.Stop(context.Background(), "a")

	assert.ErrorIs(t, err, ErrStopTimeout)
	assert.Equal(t, StatusStopped, m.Status("a").Status)
}

func TestLoadFlowGraphStagesForNextStart(t *testing.T) {
	factory := &fakeFactory{}
	m := newManager(t, map[string]*Definition{"a": {ID: "a", Token: "t", Graph: parse(t, validGraph)}}, factory)

	require.NoError(t, m.Start(context.Background(), "a"))

	err := m.LoadFlowGraph("a", parse(t, danglingGraph))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfig))

	next := parse(t, `{
	  "nodes": [
	    {"id": "start", "type": "startend", "data": {"command": "/start"}},
	    {"id": "bye", "type": "text", "data": {"text": "bye"}}
	  ],
	  "edges": [{"source": "start", "target": "bye"}]
	}`)
	require.NoError(t, m.LoadFlowGraph("a", next))
	assert.True(t, m.Status("a").Staged)
	_, found := factory.last().graph.Node("bye")
	assert.False(t, found, "running instance keeps its graph")

	require.NoError(t, m.Stop(context.Background(), "a"))
	require.NoError(t, m.Start(context.Background(), "a"))

	_, found = factory.last().graph.Node("bye")
	assert.True(t, found)
	assert.False(t, m.Status("a").Staged)
}

func TestListMergesSourceAndRegistry(t *testing.T) {
	factory := &fakeFactory{}
	defs := map[string]*Definition{
		"b": {ID: "b", Token: "t", Graph: parse(t, validGraph)},
		"a": {ID: "a", Token: "t", Graph: parse(t, validGraph)},
	}
	m := newManager(t, defs, factory)
	require.NoError(t, m.Start(context.Background(), "b"))

	list := m.List(context.Background())
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].BotID)
	assert.Equal(t, StatusStopped, list[0].Status)
	assert.Equal(t, "b", list[1].BotID)
	assert.Equal(t, StatusRunning, list[1].Status)
}

func TestTransitions(t *testing.T) {
	assert.True(t, CanTransition(StatusStopped, StatusStarting))
	assert.True(t, CanTransition(StatusStarting, StatusFailed))
	assert.True(t, CanTransition(StatusFailed, StatusStarting))
	assert.False(t, CanTransition(StatusStopped, StatusRunning))
	assert.False(t, CanTransition(StatusStopping, StatusStarting))
}
