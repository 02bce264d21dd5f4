package interpreter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/flowbot/internal/domain"
	apperrors "github.com/Proton-105/flowbot/internal/errors"
	"github.com/Proton-105/flowbot/internal/flow"
	"github.com/Proton-105/flowbot/internal/gateway"
	"github.com/Proton-105/flowbot/internal/i18n"
	"github.com/Proton-105/flowbot/internal/session"
	"github.com/Proton-105/flowbot/internal/storage"
	"github.com/Proton-105/flowbot/internal/testutil"
)

const chatID = 100

type record struct {
	userID int64
	fields map[string]string
}

type fakeStore struct {
	mu      sync.Mutex
	tables  map[string][]record
	failErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{tables: make(map[string][]record)}
}

func (s *fakeStore) AppendRecord(_ context.Context, table string, userID int64, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.tables[table] = append(s.tables[table], record{userID: userID, fields: fields})
	return nil
}

func (s *fakeStore) UpdateLastRecord(ctx context.Context, table string, userID int64, fields map[string]string) error {
	s.mu.Lock()
	if s.failErr != nil {
		s.mu.Unlock()
		return s.failErr
	}
	rows := s.tables[table]
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].userID == userID {
			for k, v := range fields {
				rows[i].fields[k] = v
			}
			s.mu.Unlock()
			return nil
		}
	}
	s.mu.Unlock()
	return s.AppendRecord(ctx, table, userID, fields)
}

func (s *fakeStore) Query(_ context.Context, q storage.Query) ([]domain.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return nil, s.failErr
	}

	var out []domain.Row
	rows := s.tables[q.Table]
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		if r.userID != q.UserID {
			continue
		}
		if q.FilterColumn != "" && r.fields[q.FilterColumn] != q.FilterValue {
			continue
		}
		row := make(domain.Row, len(q.Columns))
		for j, c := range q.Columns {
			row[j] = r.fields[c]
		}
		out = append(out, row)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) count(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables[table])
}

type harness struct {
	in       *Interpreter
	sessions *session.Manager
	store    *fakeStore
}

func newHarness(t *testing.T, src string, opts ...Option) *harness {
	t.Helper()

	doc, err := flow.Parse([]byte(src))
	require.NoError(t, err)
	graph, err := flow.Compile(doc)
	require.NoError(t, err)

	sessions := session.NewManager(session.NewMemoryStore(nil), testutil.Logger())
	store := newFakeStore()
	opts = append([]Option{WithLogger(testutil.Logger())}, opts...)

	return &harness{
		in:       New("test-bot", graph, sessions, store, i18n.MustLoad("en"), opts...),
		sessions: sessions,
		store:    store,
	}
}

func (h *harness) text(t *testing.T, text string) ([]gateway.Action, error) {
	t.Helper()
	return h.in.Handle(context.Background(), gateway.NewTextEvent(chatID, text, profile("en"), time.Now()))
}

func (h *harness) callback(t *testing.T, data string) ([]gateway.Action, error) {
	t.Helper()
	return h.in.Handle(context.Background(), gateway.Event{
		Type:         gateway.EventCallback,
		ChatID:       chatID,
		CallbackData: data,
		Profile:      profile("en"),
	})
}

func (h *harness) state(t *testing.T) *session.State {
	t.Helper()
	st, err := h.sessions.Get(context.Background(), 1)
	require.NoError(t, err)
	return st
}

func profile(locale string) domain.UserProfile {
	return domain.UserProfile{ID: 1, Username: "ann", Locale: locale}
}

func texts(actions []gateway.Action) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Text)
	}
	return out
}

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

func TestStartThenSelectSendsExactlyTwoMessages(t *testing.T) {
	h := newHarness(t, helloButtons)

	first, err := h.text(t, "/start")
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "hi", first[0].Text)
	require.NotNil(t, first[0].Keyboard)
	assert.False(t, first[0].Keyboard.Inline)
	assert.Equal(t, "A", first[0].Keyboard.Rows[0][0].Text)

	st := h.state(t)
	require.NotNil(t, st)
	assert.Equal(t, "choice", st.CurrentNodeID)
	assert.False(t, st.AwaitingInput)
	assert.Equal(t, map[string]int{"action_0": 0, "action_1": 1, "A": 0, "B": 1}, st.Expected)

	second, err := h.callback(t, "action_0")
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "You selected: A", second[0].Text)
	assert.True(t, second[0].Keyboard.Remove)

	st = h.state(t)
	require.NotNil(t, st)
	assert.False(t, st.Suspended())
	assert.False(t, st.AwaitingInput)
	assert.Equal(t, "A", st.Context[LastButtonValueVar])
}

func TestReplyKeyboardLabelIsAccepted(t *testing.T) {
	h := newHarness(t, helloButtons)

	_, err := h.text(t, "/start")
	require.NoError(t, err)

	actions, err := h.text(t, " b ")
	require.NoError(t, err)
	assert.Equal(t, []string{"You selected: B"}, texts(actions))
}

const branching = `{
  "nodes": [
    {"id": "start", "type": "startend", "data": {"command": "/plan"}},
    {"id": "choice", "type": "inline", "data": {"text": "Which plan?", "buttons": [
      {"text": "Pro", "value": "pro", "value_var": "plan", "action": "pick_pro"},
      {"text": "Basic", "value_var": "plan"}
    ]}},
    {"id": "check", "type": "condition", "data": {"condition": "plan == \"pro\" and user_id == 1"}},
    {"id": "pro", "type": "text", "data": {"text": "welcome pro"}},
    {"id": "basic", "type": "text", "data": {"text": "welcome basic"}}
  ],
  "edges": [
    {"source": "start", "target": "choice"},
    {"source": "choice", "target": "check", "buttonIndex": 0},
    {"source": "choice", "target": "check", "buttonIndex": 1},
    {"source": "check", "target": "pro", "label": "TRUE"},
    {"source": "check", "target": "basic", "label": "false"},
    {"source": "check", "target": "basic", "label": "true"}
  ]
}`

func TestConditionBranchesOnContext(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   []string
	}{
		{name: "explicit action", answer: "pick_pro", want: []string{"You selected: Pro", "welcome pro"}},
		{name: "default action", answer: "action_1", want: []string{"You selected: Basic", "welcome basic"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, branching)

			first, err := h.text(t, "/plan")
			require.NoError(t, err)
			require.Len(t, first, 1)
			assert.Equal(t, "Which plan?", first[0].Text)
			assert.True(t, first[0].Keyboard.Inline)
			assert.Equal(t, "pick_pro", first[0].Keyboard.Rows[0][0].Data)

			actions, err := h.callback(t, tt.answer)
			require.NoError(t, err)
			assert.Equal(t, tt.want, texts(actions))
			assert.Nil(t, actions[0].Keyboard)
		})
	}
}

func TestUnknownConditionVariableHaltsWithGenericMessage(t *testing.T) {
	h := newHarness(t, `{
	  "nodes": [
	    {"id": "start", "type": "startend", "data": {"command": "/start"}},
	    {"id": "check", "type": "condition", "data": {"condition": "age > 18"}},
	    {"id": "adult", "type": "text", "data": {"text": "ok"}}
	  ],
	  "edges": [
	    {"source": "start", "target": "check"},
	    {"source": "check", "target": "adult", "label": "true"}
	  ]
	}`)

	actions, err := h.text(t, "/start")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindExpression))
	assert.Equal(t, []string{"Something went wrong. Please try again later."}, texts(actions))
	assert.Nil(t, h.state(t))
}

func TestCycleHitsRecursionLimit(t *testing.T) {
	h := newHarness(t, `{
	  "nodes": [
	    {"id": "start", "type": "startend", "data": {"command": "/loop"}},
	    {"id": "a", "type": "text", "data": {"text": "a"}},
	    {"id": "b", "type": "text", "data": {"text": "b"}}
	  ],
	  "edges": [
	    {"source": "start", "target": "a"},
	    {"source": "a", "target": "b"},
	    {"source": "b", "target": "a"}
	  ]
	}`, WithMaxDepth(5))

	actions, err := h.text(t, "/loop")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindRecursionLimit))
	assert.Equal(t, []string{"a", "b", "a", "b", "Something went wrong. Please try again later."}, texts(actions))
	assert.Nil(t, h.state(t))
}

const survey = `{
  "nodes": [
    {"id": "start", "type": "startend", "data": {"command": "/survey"}},
    {"id": "ask", "type": "input", "data": {"prompt": "How old are you?", "table": "answers", "column": "age",
      "successMessage": "Thanks", "value_var": "age"}},
    {"id": "show", "type": "dboutput", "data": {"table": "answers", "columns": ["age"], "message": "Your answers:", "limit": 2}}
  ],
  "edges": [
    {"source": "start", "target": "ask"},
    {"source": "ask", "target": "show"}
  ]
}`

func TestInputIsSavedAndRendered(t *testing.T) {
	h := newHarness(t, survey)

	actions, err := h.text(t, "/survey")
	require.NoError(t, err)
	assert.Equal(t, []string{"How old are you?"}, texts(actions))

	st := h.state(t)
	require.NotNil(t, st)
	assert.True(t, st.AwaitingInput)
	assert.Equal(t, &session.InputConfig{Table: "answers", Column: "age", Mode: "text", SaveMode: "new"}, st.Input)

	actions, err = h.text(t, "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"Thanks", "Your answers:\n42"}, texts(actions))
	assert.Equal(t, 1, h.store.count("answers"))

	st = h.state(t)
	require.NotNil(t, st)
	assert.False(t, st.AwaitingInput)
	assert.Equal(t, "42", st.Context["age"])

	_, err = h.text(t, "/survey")
	require.NoError(t, err)
	_, err = h.text(t, "43")
	require.NoError(t, err)
	assert.Equal(t, 2, h.store.count("answers"))
}

func TestInputUpdateLastOverwrites(t *testing.T) {
	h := newHarness(t, `{
	  "nodes": [
	    {"id": "start", "type": "startend", "data": {"command": "/name"}},
	    {"id": "ask", "type": "input", "data": {"prompt": "Name?", "table": "profile", "column": "name", "saveMode": "update_last"}}
	  ],
	  "edges": [{"source": "start", "target": "ask"}]
	}`)

	for _, name := range []string{"Ann", "Bob"} {
		_, err := h.text(t, "/name")
		require.NoError(t, err)
		actions, err := h.text(t, name)
		require.NoError(t, err)
		assert.Empty(t, actions)
	}

	rows, err := h.store.Query(context.Background(), storage.Query{Table: "profile", UserID: 1, Columns: []string{"name"}})
	require.NoError(t, err)
	assert.Equal(t, []domain.Row{{"Bob"}}, rows)
}

func TestInputSaveFailureKeepsWaiting(t *testing.T) {
	h := newHarness(t, survey)

	_, err := h.text(t, "/survey")
	require.NoError(t, err)

	h.store.failErr = apperrors.NewStorageError("append record", errors.New("disk full"))
	actions, err := h.text(t, "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"Could not save your answer. Please try again."}, texts(actions))

	st := h.state(t)
	require.NotNil(t, st)
	assert.True(t, st.AwaitingInput)
	assert.Equal(t, "ask", st.CurrentNodeID)

	h.store.failErr = nil
	actions, err = h.text(t, "42")
	require.NoError(t, err)
	assert.Equal(t, "Thanks", actions[0].Text)
}

func TestTextInputIgnoresButtonTaps(t *testing.T) {
	h := newHarness(t, survey)

	_, err := h.text(t, "/survey")
	require.NoError(t, err)

	actions, err := h.callback(t, "action_0")
	require.NoError(t, err)
	assert.Equal(t, []string{"How old are you?"}, texts(actions))
	assert.Equal(t, 0, h.store.count("answers"))

	st := h.state(t)
	require.NotNil(t, st)
	assert.True(t, st.AwaitingInput)
	assert.Equal(t, "ask", st.CurrentNodeID)

	actions, err = h.text(t, "42")
	require.NoError(t, err)
	assert.Equal(t, "Thanks", actions[0].Text)
	assert.Equal(t, 1, h.store.count("answers"))
}

const rating = `{
  "nodes": [
    {"id": "start", "type": "startend", "data": {"command": "/rate"}},
    {"id": "ask", "type": "input", "data": {"prompt": "Rate us", "table": "ratings", "column": "score",
      "inputMode": "buttons", "buttons": [{"text": "Good", "value": "5", "value_var": "score"}, {"text": "Bad", "value": "1"}]}}
  ],
  "edges": [{"source": "start", "target": "ask"}]
}`

func TestInputButtonsSaveFailureCommitsNothing(t *testing.T) {
	h := newHarness(t, rating)

	_, err := h.text(t, "/rate")
	require.NoError(t, err)

	h.store.failErr = apperrors.NewStorageError("append record", errors.New("disk full"))
	actions, err := h.text(t, "Good")
	require.NoError(t, err)
	assert.Equal(t, []string{"Could not save your answer. Please try again."}, texts(actions))

	st := h.state(t)
	require.NotNil(t, st)
	assert.Equal(t, "ask", st.CurrentNodeID)
	assert.NotContains(t, st.Context, LastButtonValueVar)
	assert.NotContains(t, st.Context, "score")

	h.store.failErr = nil
	actions, err = h.text(t, "Good")
	require.NoError(t, err)
	assert.Equal(t, []string{"Saved!"}, texts(actions))
	assert.Equal(t, "5", h.state(t).Context[LastButtonValueVar])
}

func TestLookupExpectedIsDeterministic(t *testing.T) {
	expected := expectedResponses(flow.TypeButton, []flow.Button{{Text: "Yes"}, {Text: "yes"}})

	for range 100 {
		idx, ok := lookupExpected(expected, " YES ")
		require.True(t, ok)
		require.Equal(t, 0, idx)
	}

	idx, ok := lookupExpected(expected, "yes")
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	_, ok = lookupExpected(expected, "no")
	assert.False(t, ok)
}

func TestInputButtonsMode(t *testing.T) {
	h := newHarness(t, `{
	  "nodes": [
	    {"id": "start", "type": "startend", "data": {"command": "/rate"}},
	    {"id": "ask", "type": "input", "data": {"prompt": "Rate us", "table": "ratings", "column": "score",
	      "inputMode": "buttons", "buttons": [{"text": "Good", "value": "5"}, {"text": "Bad", "value": "1"}]}}
	  ],
	  "edges": [{"source": "start", "target": "ask"}]
	}`)

	actions, err := h.text(t, "/rate")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.NotNil(t, actions[0].Keyboard)
	assert.Len(t, actions[0].Keyboard.Rows, 2)

	actions, err = h.text(t, "meh")
	require.NoError(t, err)
	assert.Equal(t, []string{"Invalid choice, try again."}, texts(actions))
	assert.Equal(t, 0, h.store.count("ratings"))

	actions, err = h.text(t, "Good")
	require.NoError(t, err)
	assert.Equal(t, []string{"Saved!"}, texts(actions))
	assert.True(t, actions[0].Keyboard.Remove)

	rows, err := h.store.Query(context.Background(), storage.Query{Table: "ratings", UserID: 1, Columns: []string{"score"}})
	require.NoError(t, err)
	assert.Equal(t, []domain.Row{{"5"}}, rows)
}

func TestUnrecognizedPolicies(t *testing.T) {
	const tmpl = `{
	  "nodes": [
	    {"id": "start", "type": "startend", "data": {"command": "/start"}},
	    {"id": "choice", "type": "button", "data": {"text": "Pick", "onUnrecognized": "%s", "buttons": [{"text": "A"}]}}
	  ],
	  "edges": [{"source": "start", "target": "choice"}]
	}`

	t.Run("reprompt", func(t *testing.T) {
		h := newHarness(t, sprintf(tmpl, "reprompt"))
		_, err := h.text(t, "/start")
		require.NoError(t, err)

		actions, err := h.text(t, "zzz")
		require.NoError(t, err)
		require.Len(t, actions, 1)
		assert.Equal(t, "Pick", actions[0].Text)
		assert.NotNil(t, actions[0].Keyboard)
		assert.Equal(t, "choice", h.state(t).CurrentNodeID)
	})

	t.Run("report", func(t *testing.T) {
		h := newHarness(t, sprintf(tmpl, "report"))
		_, err := h.text(t, "/start")
		require.NoError(t, err)

		actions, err := h.text(t, "zzz")
		require.NoError(t, err)
		assert.Equal(t, []string{"Sorry, I did not recognize that option."}, texts(actions))
		assert.Equal(t, "choice", h.state(t).CurrentNodeID)
	})
}

func TestMenuAdvancesOnAnyEdge(t *testing.T) {
	h := newHarness(t, `{
	  "nodes": [
	    {"id": "start", "type": "startend", "data": {"command": "/menu"}},
	    {"id": "menu", "type": "menu", "data": {"text": "Menu", "items": [{"text": "One"}, {"text": "Two"}]}},
	    {"id": "done", "type": "text", "data": {"text": "done"}}
	  ],
	  "edges": [
	    {"source": "start", "target": "menu"},
	    {"source": "menu", "target": "done"}
	  ]
	}`)

	_, err := h.text(t, "/menu")
	require.NoError(t, err)

	actions, err := h.text(t, "Two")
	require.NoError(t, err)
	assert.Equal(t, []string{"You selected: Two", "done"}, texts(actions))
}

func TestStorageFailureLeavesSessionUntouched(t *testing.T) {
	h := newHarness(t, `{
	  "nodes": [
	    {"id": "start", "type": "startend", "data": {"command": "/start"}},
	    {"id": "choice", "type": "inline", "data": {"text": "Show?", "buttons": [{"text": "Yes"}]}},
	    {"id": "show", "type": "dboutput", "data": {"table": "answers", "columns": ["age"]}}
	  ],
	  "edges": [
	    {"source": "start", "target": "choice"},
	    {"source": "choice", "target": "show", "buttonIndex": 0}
	  ]
	}`)

	_, err := h.text(t, "/start")
	require.NoError(t, err)

	h.store.failErr = apperrors.NewStorageError("query records", errors.New("connection reset"))
	actions, err := h.callback(t, "action_0")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindStorage))
	assert.Equal(t, "Something went wrong. Please try again later.", actions[len(actions)-1].Text)

	st := h.state(t)
	require.NotNil(t, st)
	assert.Equal(t, "choice", st.CurrentNodeID)
	assert.Empty(t, st.Context)

	h.store.failErr = nil
	actions, err = h.callback(t, "action_0")
	require.NoError(t, err)
	assert.Equal(t, []string{"You selected: Yes", "No data found."}, texts(actions))
}

func TestDBOutputFilterUsesContextVariable(t *testing.T) {
	h := newHarness(t, `{
	  "nodes": [
	    {"id": "start", "type": "startend", "data": {"command": "/orders"}},
	    {"id": "pick", "type": "inline", "data": {"text": "Status?", "buttons": [
	      {"text": "Open", "value": "open", "value_var": "status"},
	      {"text": "Closed", "value": "closed", "value_var": "status"}
	    ]}},
	    {"id": "list", "type": "dboutput", "data": {"table": "orders", "columns": ["item", "status"],
	      "filterColumn": "status", "filterVar": "status"}}
	  ],
	  "edges": [
	    {"source": "start", "target": "pick"},
	    {"source": "pick", "target": "list", "buttonIndex": 0},
	    {"source": "pick", "target": "list", "buttonIndex": 1}
	  ]
	}`)

	ctx := context.Background()
	require.NoError(t, h.store.AppendRecord(ctx, "orders", 1, map[string]string{"item": "tea", "status": "open"}))
	require.NoError(t, h.store.AppendRecord(ctx, "orders", 1, map[string]string{"item": "cake", "status": "closed"}))
	require.NoError(t, h.store.AppendRecord(ctx, "orders", 2, map[string]string{"item": "milk", "status": "open"}))

	_, err := h.text(t, "/orders")
	require.NoError(t, err)
	actions, err := h.callback(t, "action_0")
	require.NoError(t, err)
	assert.Equal(t, []string{"You selected: Open", "tea | open"}, texts(actions))
}

func TestEventsOutsideFlow(t *testing.T) {
	h := newHarness(t, `{
	  "commands": [{"name": "/help"}, {"name": "/start"}],
	  "nodes": [
	    {"id": "start", "type": "startend", "data": {"command": "/start"}},
	    {"id": "hello", "type": "text", "data": {"text": "hi"}}
	  ],
	  "edges": [{"source": "start", "target": "hello"}]
	}`)

	tests := []struct {
		input string
		want  string
	}{
		{"hello there", "You said: hello there"},
		{"/nope", "Command not recognized."},
		{"/help", "This command is not configured."},
		{"/START@test_bot", "hi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			actions, err := h.text(t, tt.input)
			require.NoError(t, err)
			assert.Equal(t, []string{tt.want}, texts(actions))
		})
	}

	actions, err := h.callback(t, "stale")
	require.NoError(t, err)
	assert.Equal(t, []string{"Sorry, I did not recognize that option."}, texts(actions))
}

func TestCommandRestartsSuspendedFlow(t *testing.T) {
	h := newHarness(t, survey)

	_, err := h.text(t, "/survey")
	require.NoError(t, err)

	actions, err := h.text(t, "/survey")
	require.NoError(t, err)
	assert.Equal(t, []string{"How old are you?"}, texts(actions))
	assert.Equal(t, 0, h.store.count("answers"))
}

func TestLocalizedMessages(t *testing.T) {
	h := newHarness(t, helloButtons)

	actions, err := h.in.Handle(context.Background(), gateway.NewTextEvent(chatID, "привет", profile("ru"), time.Now()))
	require.NoError(t, err)
	assert.Equal(t, []string{"Вы сказали: привет"}, texts(actions))
}

func TestEmptyPromptWithoutPrecedingTextUsesDefault(t *testing.T) {
	h := newHarness(t, `{
	  "nodes": [
	    {"id": "start", "type": "startend", "data": {"command": "/start"}},
	    {"id": "choice", "type": "inline", "data": {"buttons": [{"text": "A"}]}}
	  ],
	  "edges": [{"source": "start", "target": "choice"}]
	}`)

	actions, err := h.text(t, "/start")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "Choose an option", actions[0].Text)
	assert.True(t, actions[0].Keyboard.Inline)
}

func TestSameUserEventsAreSerialized(t *testing.T) {
	h := newHarness(t, survey)
	_, err := h.text(t, "/survey")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.text(t, "7")
		}()
	}
	wg.Wait()

	// only the first answer reaches the input node; the rest are echoed
	assert.Equal(t, 1, h.store.count("answers"))
}

func sprintf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
