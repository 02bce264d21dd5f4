// Package bot runs one tenant's bot: it receives events from the chat
// transport, serializes them per user, executes the flow and delivers the
// resulting sends, while the broadcast scheduler and housekeeping loops run
// alongside.
package bot

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"

	"github.com/Proton-105/flowbot/internal/broadcast"
	errors "github.com/Proton-105/flowbot/internal/errors"
	"github.com/Proton-105/flowbot/internal/flow"
	"github.com/Proton-105/flowbot/internal/gateway"
	"github.com/Proton-105/flowbot/internal/gateway/telegram"
	"github.com/Proton-105/flowbot/internal/i18n"
	"github.com/Proton-105/flowbot/internal/interpreter"
	"github.com/Proton-105/flowbot/internal/ratelimit"
	"github.com/Proton-105/flowbot/internal/session"
	"github.com/Proton-105/flowbot/internal/storage"
	"github.com/Proton-105/flowbot/pkg/config"
)

const defaultStopGrace = 10 * time.Second

// Deps are the process-wide resources every instance is built from.
type Deps struct {
	Config     config.Config
	Redis      *redis.Client
	Messages   *i18n.Manager
	ErrHandler *errors.Handler
	Log        *slog.Logger
}

// Instance is one running bot bound to a graph, a transport and its own
// stores.
type Instance struct {
	botID      string
	cfg        config.Config
	transport  gateway.Transport
	store      storage.Store
	sessions   *session.Manager
	interp     *interpreter.Interpreter
	scheduler  *broadcast.Scheduler
	limiter    ratelimit.Limiter
	replies    gateway.Sender
	router     *Router
	messages   *i18n.Manager
	errHandler *errors.Handler
	log        *slog.Logger
}

// Build opens the per-bot store and the transport. Any failure is a
// FatalStartupError.
func Build(ctx context.Context, botID, token string, graph *flow.Graph, deps Deps) (*Instance, error) {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	store, err := storage.Open(ctx, deps.Config.Storage, botID, log)
	if err != nil {
		return nil, err
	}

	transport, err := telegram.New(token, deps.Config.Telegram, false, log.With(slog.String("bot_id", botID)))
	if err != nil {
		_ = store.Close()
		return nil, errors.NewFatalStartupError(botID, err)
	}

	return NewInstance(botID, graph, transport, store, deps), nil
}

// NewInstance wires an instance around an already opened transport and
// store. The instance owns both and closes the store when Run returns.
func NewInstance(botID string, graph *flow.Graph, transport gateway.Transport, store storage.Store, deps Deps) *Instance {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("bot_id", botID))

	cfg := deps.Config
	messages := deps.Messages
	if messages == nil {
		messages = i18n.MustLoad(cfg.Flow.DefaultLocale)
	}
	errHandler := deps.ErrHandler
	if errHandler == nil {
		errHandler = errors.NewHandler(log, false)
	}

	sessions := session.NewManager(sessionStore(botID, cfg.Session, deps.Redis, log), log, session.WithTTL(cfg.Session.TTL))
	throttle := ratelimit.NewThrottle(cfg.Throttle)

	inst := &Instance{
		botID:      botID,
		cfg:        cfg,
		transport:  transport,
		store:      store,
		sessions:   sessions,
		limiter:    ratelimit.NewLimiter(deps.Redis, "flowbot:"+botID, log),
		replies:    throttle.Sender(transport, ratelimit.Interactive),
		messages:   messages,
		errHandler: errHandler,
		log:        log,
	}

	inst.interp = interpreter.New(botID, graph, sessions, store, messages,
		interpreter.WithMaxDepth(cfg.Flow.MaxDepth),
		interpreter.WithLogger(log),
	)
	inst.scheduler = broadcast.New(botID, graph, store, throttle.Sender(transport, ratelimit.Bulk), log)
	inst.router = inst.newRouter()

	return inst
}

func sessionStore(botID string, cfg config.SessionConfig, client *redis.Client, log *slog.Logger) session.Store {
	if cfg.Backend == "redis" {
		if client != nil {
			return session.NewRedisStore(client, log, session.WithKeyPrefix("flowbot:"+botID))
		}
		log.Warn("redis session backend requested without a redis client, using memory")
	}
	return session.NewMemoryStore(nil)
}

func (i *Instance) newRouter() *Router {
	router := NewRouter(i.log)
	router.Use(CorrelationMiddleware())
	router.Use(RecoveryMiddleware(i.log, i.errHandler, i.notify))
	router.Use(ErrorHandlingMiddleware(i.errHandler))
	router.Use(LoggingMiddleware(i.log))
	router.Use(MetricsMiddleware(i.botID))
	router.Use(NewRateLimitMiddleware(i.botID, i.limiter, ratelimit.NewRules(i.cfg.RateLimit), i.notify, i.log).Handle)
	router.Use(TrackUserMiddleware(i.store, i.log))
	router.SetDefault(i.handleEvent)
	return router
}

// BotID returns the tenant this instance serves.
func (i *Instance) BotID() string {
	return i.botID
}

// Scheduler exposes the broadcast scheduler, e.g. for manual firing.
func (i *Instance) Scheduler() *broadcast.Scheduler {
	return i.scheduler
}

// Route handles one event synchronously through the middleware chain.
func (i *Instance) Route(ctx context.Context, ev gateway.Event) error {
	return i.router.Route(ctx, ev)
}

// Run serves the bot until ctx is cancelled or a fatal error occurs. On
// return queued events have been handled, the scheduler is stopped and the
// store is closed. Committed writes are never rolled back by a stop.
func (i *Instance) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	defer func() {
		if err := i.store.Close(); err != nil {
			i.log.Warn("failed to close store", slog.Any("error", err))
		}
	}()

	if err := i.scheduler.Start(ctx); err != nil {
		return errors.NewFatalStartupError(i.botID, err)
	}

	// In-flight events finish after cancellation; the manager bounds the wait.
	dispatcher := NewDispatcher(context.WithoutCancel(ctx), i.router.Route, i.cfg.Flow.Workers, i.log)

	var wg conc.WaitGroup
	wg.Go(func() {
		session.NewCleaner(i.sessions, i.log, i.cfg.Session.SweepInterval).Run(ctx)
	})
	if c, ok := i.limiter.(ratelimit.Cleaner); ok {
		wg.Go(func() { c.RunCleanup(ctx, time.Minute, 10*time.Minute) })
	}
	wg.Go(func() {
		watchdog := NewWatchdog(i.store, i.cfg.Manager.HealthInterval, i.cfg.Manager.MaxHealthFailures, i.log)
		if err := watchdog.Run(ctx); err != nil {
			i.log.Error("instance unhealthy, stopping", slog.Any("error", err))
			cancel(err)
		}
	})

	i.log.Info("bot instance running", slog.Int("broadcast_jobs", len(i.scheduler.Jobs())))
	runErr := i.transport.Run(ctx, func(ev gateway.Event) { dispatcher.Submit(ev) })
	cancel(runErr)

	dispatcher.Close()

	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), i.stopGrace())
	defer stopCancel()
	if err := i.scheduler.Stop(stopCtx); err != nil {
		i.log.Warn("broadcast scheduler did not stop cleanly", slog.Any("error", err))
	}

	if r := wg.WaitAndRecover(); r != nil {
		i.log.Error("instance worker panicked", slog.Any("error", r.AsError()))
		return errors.NewStorageError("instance worker", r.AsError())
	}

	if runErr != nil {
		return errors.NewTransportError("poll updates", runErr)
	}
	if cause := context.Cause(ctx); cause != nil && !stdErrors.Is(cause, context.Canceled) {
		return cause
	}

	i.log.Info("bot instance stopped")
	return nil
}

func (i *Instance) stopGrace() time.Duration {
	if i.cfg.Manager.StopGrace > 0 {
		return i.cfg.Manager.StopGrace
	}
	return defaultStopGrace
}

// handleEvent executes the flow and delivers its sends. Send failures are
// reported and do not stop the remaining sends.
func (i *Instance) handleEvent(ctx context.Context, ev gateway.Event) error {
	actions, err := i.interp.Handle(ctx, ev)
	for _, a := range actions {
		if sendErr := gateway.Deliver(ctx, i.replies, a); sendErr != nil {
			i.errHandler.Handle(ctx, sendErr)
		}
	}
	return err
}

func (i *Instance) notify(ctx context.Context, ev gateway.Event, key string) {
	text := i.messages.Translator(ev.Profile.Locale).T(key)
	if err := i.replies.SendText(ctx, ev.ChatID, text, nil); err != nil {
		i.errHandler.Handle(ctx, err)
	}
}
