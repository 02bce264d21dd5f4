package bot

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Proton-105/flowbot/internal/gateway"
)

// Handler processes one inbound event.
type Handler func(ctx context.Context, ev gateway.Event) error

// Middleware wraps a Handler with cross-cutting behaviour.
type Middleware func(Handler) Handler

// Router dispatches events by type through a shared middleware chain.
type Router struct {
	mu             sync.RWMutex
	handlers       map[gateway.EventType]Handler
	defaultHandler Handler
	middlewares    []Middleware
	log            *slog.Logger
}

// NewRouter builds a Router with empty registries.
func NewRouter(log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}

	return &Router{
		handlers:    make(map[gateway.EventType]Handler),
		middlewares: make([]Middleware, 0),
		log:         log,
	}
}

// Handle registers a handler for one event type.
func (r *Router) Handle(typ gateway.EventType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[typ] = h
}

// Use appends a middleware to the chain.
func (r *Router) Use(mw Middleware) {
	if mw == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.middlewares = append(r.middlewares, mw)
}

// SetDefault sets the fallback handler for event types without a handler.
func (r *Router) SetDefault(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultHandler = h
}

// Route runs the event through the middleware chain and its handler.
func (r *Router) Route(ctx context.Context, ev gateway.Event) error {
	handler := r.handlerFor(ev.Type)
	if handler == nil {
		r.log.Debug("no handler for event", slog.String("type", string(ev.Type)), slog.Int64("user_id", ev.UserID()))
		return nil
	}

	return r.applyMiddlewares(handler)(ctx, ev)
}

func (r *Router) handlerFor(typ gateway.EventType) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.handlers[typ]; ok && h != nil {
		return h
	}
	return r.defaultHandler
}

// applyMiddlewares wraps the handler so the first registered middleware runs outermost.
func (r *Router) applyMiddlewares(h Handler) Handler {
	middlewares := r.middlewaresSnapshot()
	wrapped := h
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}

	return wrapped
}

func (r *Router) middlewaresSnapshot() []Middleware {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.middlewares) == 0 {
		return nil
	}

	snapshot := make([]Middleware, len(r.middlewares))
	copy(snapshot, r.middlewares)
	return snapshot
}
