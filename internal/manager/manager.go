// Package manager owns the registry of bot instances and moves each of
// them through its lifecycle: stopped, starting, running, stopping and
// failed.
package manager

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/Proton-105/flowbot/internal/bot"
	errors "github.com/Proton-105/flowbot/internal/errors"
	"github.com/Proton-105/flowbot/internal/flow"
	"github.com/Proton-105/flowbot/pkg/metrics"
)

const defaultGrace = 10 * time.Second

var (
	ErrUnknownBot  = stdErrors.New("unknown bot")
	ErrStopTimeout = stdErrors.New("stop grace period elapsed")
)

// Definition is what a Source knows about a bot.
type Definition struct {
	ID    string
	Token string
	Graph *flow.Document
}

// Source resolves bot definitions, e.g. from the file catalog.
type Source interface {
	Definition(ctx context.Context, botID string) (*Definition, error)
	IDs(ctx context.Context) ([]string, error)
}

// Runtime is a started bot. Run blocks until ctx is cancelled or the bot
// fails.
type Runtime interface {
	Run(ctx context.Context) error
}

// Factory materializes the runtime of one bot. Returned errors are treated
// as fatal startup errors.
type Factory func(ctx context.Context, botID, token string, graph *flow.Graph) (Runtime, error)

// InstanceFactory builds full bot instances from shared deps.
func InstanceFactory(deps bot.Deps) Factory {
	return func(ctx context.Context, botID, token string, graph *flow.Graph) (Runtime, error) {
		inst, err := bot.Build(ctx, botID, token, graph, deps)
		if err != nil {
			return nil, err
		}
		return inst, nil
	}
}

type entry struct {
	status   Status
	since    time.Time
	lastErr  error
	runtime  Runtime
	cancel   context.CancelFunc
	done     chan struct{}
	stopping bool
}

// Manager is safe for concurrent use. Start and Stop of the same bot are
// serialized; different bots proceed independently.
type Manager struct {
	source     Source
	factory    Factory
	grace      time.Duration
	errHandler *errors.Handler
	log        *slog.Logger
	now        func() time.Time

	base       context.Context
	cancelBase context.CancelFunc
	running    conc.WaitGroup

	mu     sync.Mutex
	bots   map[string]*entry
	staged map[string]*flow.Document
	locks  map[string]*sync.Mutex
}

type Option func(*Manager)

// WithGrace bounds how long Stop waits before abandoning an instance.
func WithGrace(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.grace = d
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

func WithErrorHandler(h *errors.Handler) Option {
	return func(m *Manager) { m.errHandler = h }
}

func New(source Source, factory Factory, opts ...Option) *Manager {
	base, cancel := context.WithCancel(context.Background())
	m := &Manager{
		source:     source,
		factory:    factory,
		grace:      defaultGrace,
		log:        slog.Default(),
		now:        time.Now,
		base:       base,
		cancelBase: cancel,
		bots:       make(map[string]*entry),
		staged:     make(map[string]*flow.Document),
		locks:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start brings a bot to running. It is a no-op when the bot already runs.
// A malformed graph yields a ConfigError and a bad credential or other
// initialization failure a FatalStartupError; both leave the bot failed.
func (m *Manager) Start(ctx context.Context, botID string) error {
	unlock := m.lockBot(botID)
	defer unlock()

	m.mu.Lock()
	if e, ok := m.bots[botID]; ok && e.status == StatusRunning {
		m.mu.Unlock()
		return nil
	}
	if err := m.transitionLocked(botID, StatusStarting); err != nil {
		m.mu.Unlock()
		return err
	}
	staged := m.staged[botID]
	m.mu.Unlock()

	log := m.log.With(slog.String("bot_id", botID))
	log.Info("starting bot")

	def, err := m.definition(ctx, botID, staged)
	if stdErrors.Is(err, ErrUnknownBot) {
		m.forget(botID)
		return err
	}
	if err != nil {
		return m.fail(botID, err)
	}

	graph, err := flow.Compile(def.Graph)
	if err != nil {
		return m.fail(botID, err)
	}

	if def.Token == "" {
		return m.fail(botID, errors.NewFatalStartupError(botID, stdErrors.New("missing token")))
	}

	rt, err := m.build(ctx, botID, def.Token, graph)
	if err != nil {
		return m.fail(botID, err)
	}

	runCtx, cancel := context.WithCancel(m.base)
	e := &entry{
		status:  StatusRunning,
		since:   m.now(),
		runtime: rt,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	m.bots[botID] = e
	delete(m.staged, botID)
	m.publishLocked()
	m.mu.Unlock()

	m.running.Go(func() { m.supervise(runCtx, botID, e) })
	log.Info("bot running")
	return nil
}

func (m *Manager) definition(ctx context.Context, botID string, staged *flow.Document) (*Definition, error) {
	if m.source == nil {
		return nil, fmt.Errorf("bot %s: %w", botID, ErrUnknownBot)
	}

	def, err := m.source.Definition(ctx, botID)
	if err != nil {
		return nil, err
	}
	if staged != nil {
		def.Graph = staged
	}
	if def.Graph == nil {
		return nil, errors.NewConfigError(fmt.Sprintf("bot %s has no flow graph", botID), nil)
	}
	return def, nil
}

// build runs the factory with panics converted to fatal startup errors.
func (m *Manager) build(ctx context.Context, botID, token string, graph *flow.Graph) (Runtime, error) {
	var (
		rt  Runtime
		err error
	)
	recovered := panics.Try(func() {
		rt, err = m.factory(ctx, botID, token, graph)
	})
	if recovered != nil {
		return nil, errors.NewFatalStartupError(botID, recovered.AsError())
	}
	if err != nil {
		var appErr *errors.AppError
		if !stdErrors.As(err, &appErr) {
			err = errors.NewFatalStartupError(botID, err)
		}
		return nil, err
	}
	return rt, nil
}

// supervise runs the instance and records how it ended. A panic or error
// marks only this bot as failed.
func (m *Manager) supervise(ctx context.Context, botID string, e *entry) {
	defer close(e.done)

	var runErr error
	recovered := panics.Try(func() { runErr = e.runtime.Run(ctx) })
	if recovered != nil {
		runErr = fmt.Errorf("instance panicked: %w", recovered.AsError())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bots[botID] != e {
		// Abandoned after the stop grace period.
		return
	}

	switch {
	case e.stopping:
		m.setLocked(e, StatusStopped, nil)
	case runErr != nil:
		m.setLocked(e, StatusFailed, runErr)
		m.log.Error("bot failed", slog.String("bot_id", botID), slog.Any("error", runErr))
		if m.errHandler != nil {
			m.errHandler.Handle(ctx, runErr)
		}
	default:
		m.setLocked(e, StatusStopped, nil)
		m.log.Warn("bot stopped on its own", slog.String("bot_id", botID))
	}
	e.runtime = nil
	m.publishLocked()
}

// Stop cancels a running bot and waits up to the grace period for it to
// finish its in-flight work. Past the grace period the instance is
// abandoned, reported stopped and ErrStopTimeout is returned. Stopping a
// bot that is not running is a no-op.
func (m *Manager) Stop(ctx context.Context, botID string) error {
	unlock := m.lockBot(botID)
	defer unlock()

	m.mu.Lock()
	e, ok := m.bots[botID]
	if !ok || e.status != StatusRunning {
		m.mu.Unlock()
		return nil
	}
	e.stopping = true
	m.setLocked(e, StatusStopping, nil)
	m.publishLocked()
	m.mu.Unlock()

	log := m.log.With(slog.String("bot_id", botID))
	log.Info("stopping bot")
	e.cancel()

	timer := time.NewTimer(m.grace)
	defer timer.Stop()

	select {
	case <-e.done:
		log.Info("bot stopped")
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bots[botID] == e && e.status == StatusStopping {
		log.Warn("bot did not stop within grace period, abandoning", slog.Duration("grace", m.grace))
		m.bots[botID] = &entry{status: StatusStopped, since: m.now()}
		m.publishLocked()
	}
	return fmt.Errorf("bot %s: %w", botID, ErrStopTimeout)
}

// StopAll stops every running bot concurrently and stops accepting work.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	ids := lo.Keys(m.bots)
	m.mu.Unlock()

	var (
		wg    conc.WaitGroup
		errMu sync.Mutex
		errs  []error
	)
	for _, id := range ids {
		wg.Go(func() {
			if err := m.Stop(ctx, id); err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
		})
	}
	wg.Wait()

	m.cancelBase()
	return stdErrors.Join(errs...)
}

// LoadFlowGraph validates doc and stages it for botID. The staged graph
// replaces the source's graph on the next Start; a running instance keeps
// its current graph.
func (m *Manager) LoadFlowGraph(botID string, doc *flow.Document) error {
	if _, err := flow.Compile(doc); err != nil {
		return err
	}

	m.mu.Lock()
	m.staged[botID] = doc
	running := m.bots[botID] != nil && m.bots[botID].status == StatusRunning
	m.mu.Unlock()

	m.log.Info("flow graph staged", slog.String("bot_id", botID), slog.Bool("restart_required", running))
	return nil
}

// Status returns the lifecycle snapshot of botID.
func (m *Manager) Status(botID string) Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.infoLocked(botID)
}

// List returns the bots known to the manager and the source, sorted by id.
func (m *Manager) List(ctx context.Context) []Info {
	var ids []string
	if m.source != nil {
		known, err := m.source.IDs(ctx)
		if err != nil {
			m.log.Warn("failed to list bot catalog", slog.Any("error", err))
		}
		ids = known
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ids = lo.Uniq(append(ids, lo.Keys(m.bots)...))
	slices.Sort(ids)
	return lo.Map(ids, func(id string, _ int) Info { return m.infoLocked(id) })
}

// Wait blocks until every supervised instance has returned.
func (m *Manager) Wait() {
	m.running.Wait()
}

func (m *Manager) infoLocked(botID string) Info {
	info := Info{BotID: botID, Status: StatusStopped}
	if e, ok := m.bots[botID]; ok {
		info.Status = e.status
		info.Since = e.since
		if e.lastErr != nil {
			info.LastError = e.lastErr.Error()
		}
	}
	_, info.Staged = m.staged[botID]
	return info
}

func (m *Manager) fail(botID string, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.bots[botID]
	m.setLocked(e, StatusFailed, err)
	m.publishLocked()

	m.log.Error("bot failed to start", slog.String("bot_id", botID), slog.Any("error", err))
	if m.errHandler != nil {
		m.errHandler.Handle(context.Background(), err)
	}
	return err
}

// forget drops the registry entry of a bot the source does not know.
func (m *Manager) forget(botID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.bots, botID)
	m.publishLocked()
}

func (m *Manager) transitionLocked(botID string, to Status) error {
	e, ok := m.bots[botID]
	if !ok {
		e = &entry{status: StatusStopped}
		m.bots[botID] = e
	}
	if !CanTransition(e.status, to) {
		return &transitionError{botID: botID, from: e.status, to: to}
	}
	m.setLocked(e, to, nil)
	m.publishLocked()
	return nil
}

func (m *Manager) setLocked(e *entry, status Status, err error) {
	e.status = status
	e.since = m.now()
	e.lastErr = err
}

func (m *Manager) publishLocked() {
	counts := lo.CountValuesBy(lo.Values(m.bots), func(e *entry) string { return string(e.status) })
	for _, s := range []Status{StatusStopped, StatusStarting, StatusRunning, StatusStopping, StatusFailed} {
		if _, ok := counts[string(s)]; !ok {
			counts[string(s)] = 0
		}
	}
	metrics.SetInstances(counts)
}

// lockBot serializes lifecycle calls for one bot.
func (m *Manager) lockBot(botID string) func() {
	m.mu.Lock()
	l, ok := m.locks[botID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[botID] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}
