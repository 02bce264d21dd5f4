package bot

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"github.com/Proton-105/flowbot/internal/gateway"
)

// Dispatcher runs events on a bounded worker pool. Events of one user are
// handled one at a time in arrival order; different users run in parallel.
type Dispatcher struct {
	handle Handler
	log    *slog.Logger
	ctx    context.Context
	pool   *pool.Pool

	mu         sync.Mutex
	queues     map[int64][]gateway.Event
	closed     bool
	submitting sync.WaitGroup
}

// NewDispatcher creates a Dispatcher whose handlers run with ctx.
func NewDispatcher(ctx context.Context, handle Handler, workers int, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}

	return &Dispatcher{
		handle: handle,
		log:    log,
		ctx:    ctx,
		pool:   pool.New().WithMaxGoroutines(workers),
		queues: make(map[int64][]gateway.Event),
	}
}

// Submit queues ev behind earlier events of the same user. It blocks while
// every worker is busy with other users and reports false once closed.
func (d *Dispatcher) Submit(ev gateway.Event) bool {
	userID := ev.UserID()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warn("dropping event after shutdown", slog.Int64("user_id", userID))
		return false
	}

	pending, draining := d.queues[userID]
	d.queues[userID] = append(pending, ev)
	if draining {
		d.mu.Unlock()
		return true
	}
	d.submitting.Add(1)
	d.mu.Unlock()

	d.pool.Go(func() { d.drain(userID) })
	d.submitting.Done()
	return true
}

// Close stops accepting events and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.submitting.Wait()
	d.pool.Wait()
}

// Pending reports how many events wait for a worker.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, q := range d.queues {
		n += len(q)
	}
	return n
}

func (d *Dispatcher) drain(userID int64) {
	for {
		d.mu.Lock()
		queue := d.queues[userID]
		if len(queue) == 0 {
			delete(d.queues, userID)
			d.mu.Unlock()
			return
		}
		ev := queue[0]
		d.queues[userID] = queue[1:]
		d.mu.Unlock()

		d.run(ev)
	}
}

func (d *Dispatcher) run(ev gateway.Event) {
	var catcher panics.Catcher
	catcher.Try(func() {
		if err := d.handle(d.ctx, ev); err != nil {
			d.log.Error("event handler failed", slog.Int64("user_id", ev.UserID()), slog.Any("error", err))
		}
	})

	if r := catcher.Recovered(); r != nil {
		d.log.Error("event handler panicked", slog.Int64("user_id", ev.UserID()), slog.Any("error", r.AsError()))
	}
}
