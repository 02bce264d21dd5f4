// Package broadcast runs the scheduled campaigns declared by broadcast nodes.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sourcegraph/conc"

	"github.com/Proton-105/flowbot/internal/domain"
	"github.com/Proton-105/flowbot/internal/flow"
	"github.com/Proton-105/flowbot/internal/gateway"
	"github.com/Proton-105/flowbot/pkg/metrics"
)

// Recipients resolves the users of a segment.
type Recipients interface {
	QuerySegment(ctx context.Context, segment domain.Segment, now time.Time) ([]int64, error)
}

// Report summarizes one fan-out.
type Report struct {
	NodeID     string
	Recipients int
	Sent       int
	Failed     int
}

var ErrUnknownJob = errors.New("unknown broadcast job")

// Scheduler owns one timer per broadcast node of a graph. Jobs are not
// persisted; they are rebuilt from the graph on every Start.
type Scheduler struct {
	botID      string
	graph      *flow.Graph
	recipients Recipients
	sender     gateway.Sender
	log        *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	timers  []*time.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	running conc.WaitGroup
	started bool
}

type Option func(*Scheduler)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New builds a scheduler. sender should already apply the bulk throttle.
func New(botID string, graph *flow.Graph, recipients Recipients, sender gateway.Sender, log *slog.Logger, opts ...Option) *Scheduler {
	if log == nil {
		log = slog.Default()
	}

	s := &Scheduler{
		botID:      botID,
		graph:      graph,
		recipients: recipients,
		sender:     sender,
		log:        log.With(slog.String("component", "broadcast")),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// cronSpec returns the UTC schedule of a recurring job.
func cronSpec(job flow.BroadcastSpec) (string, bool) {
	switch job.Frequency {
	case flow.FrequencyDaily:
		return fmt.Sprintf("%d %d * * *", job.Minute, job.Hour), true
	case flow.FrequencyWeekly:
		return fmt.Sprintf("%d %d * * 1", job.Minute, job.Hour), true
	case flow.FrequencyMonthly:
		return fmt.Sprintf("%d %d 1 * *", job.Minute, job.Hour), true
	default:
		return "", false
	}
}

// Start arms every job. A "once" job whose time of day has already passed
// when Start runs never fires during this instance's lifetime.
func (s *Scheduler) Start(ctx context.Context) error {
	return s.start(ctx, s.graph.Broadcasts())
}

func (s *Scheduler) start(ctx context.Context, jobs []flow.BroadcastSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{log: s.log}),
		cron.WithChain(cron.Recover(cronLogger{log: s.log})),
	)

	for _, job := range jobs {
		jobLog := s.log.With(slog.String("node_id", job.NodeID), slog.String("frequency", string(job.Frequency)))

		if spec, ok := cronSpec(job); ok {
			if _, err := s.cron.AddFunc(spec, func() { s.fire(job) }); err != nil {
				for _, t := range s.timers {
					t.Stop()
				}
				s.timers = nil
				s.cancel()
				return fmt.Errorf("schedule broadcast %s: %w", job.NodeID, err)
			}
			jobLog.Info("broadcast scheduled", slog.String("spec", spec))
			continue
		}

		now := s.now().UTC()
		at := time.Date(now.Year(), now.Month(), now.Day(), job.Hour, job.Minute, 0, 0, time.UTC)
		if !at.After(now) {
			jobLog.Warn("one-off broadcast time already passed, it will not fire", slog.Time("at", at))
			continue
		}
		s.timers = append(s.timers, time.AfterFunc(at.Sub(now), func() { s.fire(job) }))
		jobLog.Info("one-off broadcast scheduled", slog.Time("at", at))
	}

	s.cron.Start()
	s.started = true
	return nil
}

// Stop cancels pending timers and in-flight fan-outs and waits for them to
// return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	s.cancel()
	cronDone := s.cron.Stop()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		if r := s.running.WaitAndRecover(); r != nil {
			s.log.Error("broadcast panicked", slog.String("panic", r.String()))
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Jobs lists the broadcast schedules of the graph.
func (s *Scheduler) Jobs() []flow.BroadcastSpec {
	return s.graph.Broadcasts()
}

// Fire runs the job of nodeID immediately and waits for the fan-out.
func (s *Scheduler) Fire(ctx context.Context, nodeID string) (Report, error) {
	for _, job := range s.graph.Broadcasts() {
		if job.NodeID == nodeID {
			return s.run(ctx, job)
		}
	}
	return Report{}, fmt.Errorf("%w: %s", ErrUnknownJob, nodeID)
}

func (s *Scheduler) fire(job flow.BroadcastSpec) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()

	s.running.Go(func() {
		report, err := s.run(ctx, job)
		if err != nil {
			s.log.Error("broadcast failed", slog.String("node_id", job.NodeID), slog.Any("error", err))
			return
		}
		s.log.Info("broadcast finished",
			slog.String("node_id", report.NodeID),
			slog.Int("recipients", report.Recipients),
			slog.Int("sent", report.Sent),
			slog.Int("failed", report.Failed),
		)
	})
}

// run sends the single node the broadcast points to, without traversing
// further, to every recipient. Recipient failures are counted and skipped.
func (s *Scheduler) run(ctx context.Context, job flow.BroadcastSpec) (Report, error) {
	report := Report{NodeID: job.NodeID}

	target, ok := s.graph.Next(job.NodeID, flow.AnyEdge)
	if !ok {
		s.log.Warn("broadcast node has no outgoing edge", slog.String("node_id", job.NodeID))
		return report, nil
	}

	send, ok := s.sendFunc(target)
	if !ok {
		s.log.Warn("broadcast target cannot be sent",
			slog.String("node_id", job.NodeID),
			slog.String("target_id", target.ID),
			slog.String("target_type", string(target.Type)),
		)
		return report, nil
	}

	ids, err := s.recipients.QuerySegment(ctx, job.Target, s.now().UTC())
	if err != nil {
		return report, err
	}
	report.Recipients = len(ids)

	for _, userID := range ids {
		if ctx.Err() != nil {
			break
		}
		// private chats share the user's id
		if err := send(ctx, userID); err != nil {
			report.Failed++
			s.log.Debug("broadcast send failed", slog.Int64("user_id", userID), slog.Any("error", err))
			continue
		}
		report.Sent++
	}

	metrics.RecordBroadcast(s.botID, report.Sent, report.Failed)
	return report, ctx.Err()
}

func (s *Scheduler) sendFunc(node *flow.CompiledNode) (func(context.Context, int64) error, bool) {
	switch node.Type {
	case flow.TypeText:
		text := node.Text.Text
		if text == "" {
			return nil, false
		}
		return func(ctx context.Context, chatID int64) error {
			return s.sender.SendText(ctx, chatID, text, nil)
		}, true
	case flow.TypeImage:
		src, caption := node.Image.Source(), node.Image.Caption
		return func(ctx context.Context, chatID int64) error {
			return s.sender.SendPhoto(ctx, chatID, src, caption)
		}, true
	default:
		return nil, false
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
