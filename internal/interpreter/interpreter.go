// Package interpreter executes a compiled flow graph for inbound events.
//
// Each event is handled inside one atomic session update for its user: the
// interpreter resolves where the user is, runs node steps until it reaches an
// interactive node or a dead end, and returns the sends to perform. Auto
// nodes (startend, text, image, dboutput, condition) continue immediately;
// interactive nodes (button, menu, inline, input) suspend until the user
// answers.
package interpreter

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/Proton-105/flowbot/internal/domain"
	apperrors "github.com/Proton-105/flowbot/internal/errors"
	"github.com/Proton-105/flowbot/internal/flow"
	"github.com/Proton-105/flowbot/internal/gateway"
	"github.com/Proton-105/flowbot/internal/i18n"
	"github.com/Proton-105/flowbot/internal/session"
	"github.com/Proton-105/flowbot/internal/storage"
)

// DefaultMaxDepth bounds the node steps of one traversal.
const DefaultMaxDepth = 10

// LastButtonValueVar always receives the bound value of the last chosen button.
const LastButtonValueVar = "last_button_value"

// DataStore is the part of the user data store the interpreter writes and reads.
type DataStore interface {
	AppendRecord(ctx context.Context, table string, userID int64, fields map[string]string) error
	UpdateLastRecord(ctx context.Context, table string, userID int64, fields map[string]string) error
	Query(ctx context.Context, q storage.Query) ([]domain.Row, error)
}

// Interpreter runs one bot's graph. It is safe for concurrent use; events
// of the same user are serialized by the session manager.
type Interpreter struct {
	botID    string
	graph    *flow.Graph
	sessions *session.Manager
	store    DataStore
	messages *i18n.Manager
	maxDepth int
	log      *slog.Logger
}

type Option func(*Interpreter)

func WithMaxDepth(depth int) Option {
	return func(in *Interpreter) {
		if depth > 0 {
			in.maxDepth = depth
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(in *Interpreter) {
		if log != nil {
			in.log = log
		}
	}
}

func New(botID string, graph *flow.Graph, sessions *session.Manager, store DataStore, messages *i18n.Manager, opts ...Option) *Interpreter {
	in := &Interpreter{
		botID:    botID,
		graph:    graph,
		sessions: sessions,
		store:    store,
		messages: messages,
		maxDepth: DefaultMaxDepth,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(in)
	}
	in.log = in.log.With(slog.String("bot_id", botID))
	return in
}

// Graph returns the graph the interpreter executes.
func (in *Interpreter) Graph() *flow.Graph {
	return in.graph
}

// Handle advances the user's flow for ev and returns the sends to perform.
//
// On failure the returned actions end with one generic error message. Flow
// errors (recursion limit, condition evaluation) halt the flow and release
// the session; storage errors leave the session as it was before ev.
func (in *Interpreter) Handle(ctx context.Context, ev gateway.Event) ([]gateway.Action, error) {
	r := &run{
		in: in,
		ev: ev,
		tr: in.messages.Translator(ev.Profile.Locale),
	}

	var halted error
	err := in.sessions.Update(ctx, ev.UserID(), func(ctx context.Context, current *session.State) (*session.State, error) {
		r.reset()
		halted = nil

		st := current
		if st == nil {
			st = session.New(ev.UserID())
		}

		if err := r.dispatch(ctx, st); err != nil {
			if !haltsFlow(err) {
				return nil, err
			}
			in.log.Warn("flow halted",
				slog.Int64("user_id", ev.UserID()),
				slog.String("node_id", st.CurrentNodeID),
				slog.Any("error", err),
			)
			st.Release()
			halted = err
		}
		return st, nil
	})
	if err != nil && apperrors.KindOf(err) == "" {
		err = apperrors.NewStorageError("session update", err)
	}
	if err == nil {
		err = halted
	}

	if err != nil {
		return append(r.actions, gateway.TextAction(ev.ChatID, r.tr.T(i18n.ErrGeneric))), err
	}
	return r.actions, nil
}

func haltsFlow(err error) bool {
	return apperrors.IsKind(err, apperrors.KindRecursionLimit) || apperrors.IsKind(err, apperrors.KindExpression)
}

// run holds the per-event scratch state.
type run struct {
	in      *Interpreter
	ev      gateway.Event
	tr      i18n.Translator
	actions []gateway.Action

	// lastText is the index in actions of the latest keyboard-less text
	// send of the current traversal, or -1.
	lastText int
}

func (r *run) reset() {
	r.actions = nil
	r.lastText = -1
}

func (r *run) dispatch(ctx context.Context, st *session.State) error {
	switch r.ev.Type {
	case gateway.EventCommand:
		if entry, ok := r.in.graph.EntryFor(r.ev.Command()); ok {
			st.Release()
			return r.traverse(ctx, st, entry)
		}
		if st.Suspended() {
			return r.resume(ctx, st)
		}
		if r.configured(r.ev.Command()) {
			r.say(r.tr.T(i18n.CommandNotConfigured))
		} else {
			r.say(r.tr.T(i18n.CommandUnknown))
		}
		return nil

	default:
		if st.Suspended() {
			return r.resume(ctx, st)
		}
		return r.idle()
	}
}

// idle answers an event that arrives outside any flow.
func (r *run) idle() error {
	if r.ev.Type == gateway.EventText && r.ev.Text != "" {
		r.say(r.tr.Tf(i18n.FlowEcho, r.ev.Text))
		return nil
	}
	r.say(r.tr.T(i18n.FlowNotRecognized))
	return nil
}

func (r *run) configured(command string) bool {
	for _, c := range r.in.graph.Commands() {
		if c.Name == command {
			return true
		}
	}
	return false
}

func (r *run) say(text string) {
	r.actions = append(r.actions, gateway.TextAction(r.ev.ChatID, text))
}

func (r *run) conditionVars(st *session.State) map[string]string {
	vars := make(map[string]string, len(st.Context)+1)
	for k, v := range st.Context {
		vars[k] = v
	}
	vars["user_id"] = strconv.FormatInt(r.ev.UserID(), 10)
	return vars
}
