package interpreter

import (
	"context"
	"strings"

	"github.com/Proton-105/flowbot/internal/flow"
	"github.com/Proton-105/flowbot/internal/gateway"
	"github.com/Proton-105/flowbot/internal/i18n"
	"github.com/Proton-105/flowbot/internal/session"
	"github.com/Proton-105/flowbot/internal/storage"
)

// present shows an interactive node and parks the user on it.
func (r *run) present(st *session.State, node *flow.CompiledNode) {
	st.Release()
	st.CurrentNodeID = node.ID

	var prompt string
	switch node.Type {
	case flow.TypeInput:
		data := node.Input
		prompt = data.Prompt
		st.AwaitingInput = true
		st.Input = &session.InputConfig{
			Table:    data.Table,
			Column:   data.Column,
			Mode:     data.InputMode,
			SaveMode: data.SaveMode,
		}
		if data.InputMode == flow.InputModeButtons {
			st.Expected = expectedResponses(node.Type, data.Buttons)
		}
		if data.InputMode != flow.InputModeButtons {
			if prompt != "" {
				r.say(prompt)
			}
			return
		}
	default:
		prompt = node.Choice.Text
		st.Expected = expectedResponses(node.Type, node.Choice.Choices())
	}

	r.prompt(prompt, r.keyboard(node))
}

// prompt sends text with kb. An empty text attaches kb to the preceding
// text send of this traversal, or falls back to a default prompt.
func (r *run) prompt(text string, kb *gateway.Keyboard) {
	if text == "" && r.lastText >= 0 && r.lastText < len(r.actions) && r.actions[r.lastText].Keyboard == nil {
		r.actions[r.lastText].Keyboard = kb
		r.lastText = -1
		return
	}
	if text == "" {
		text = r.tr.T(i18n.FlowChooseOption)
	}

	action := gateway.TextAction(r.ev.ChatID, text)
	action.Keyboard = kb
	r.actions = append(r.actions, action)
	r.lastText = -1
}

// keyboard renders the choices of node: inline nodes answer with their
// action tokens, the others with reply keys carrying the label.
func (r *run) keyboard(node *flow.CompiledNode) *gateway.Keyboard {
	var choices []flow.Button
	if node.Type == flow.TypeInput {
		choices = node.Input.Buttons
	} else {
		choices = node.Choice.Choices()
	}

	b := gateway.NewReplyKeyboard()
	if node.Type == flow.TypeInline {
		b = gateway.NewInlineKeyboard()
	}
	for i, btn := range choices {
		b.AddRow(gateway.Button{Text: btn.Label(i), Data: btn.Token(i)})
	}
	return b.Build()
}

// expectedResponses maps every accepted answer to its choice index. Reply
// keys come back as their label; callback tokens are accepted for all types.
func expectedResponses(t flow.NodeType, choices []flow.Button) map[string]int {
	expected := make(map[string]int, len(choices)*2)
	for i, btn := range choices {
		expected[btn.Token(i)] = i
	}
	if t == flow.TypeInline {
		return expected
	}
	for i, btn := range choices {
		if _, taken := expected[btn.Label(i)]; !taken {
			expected[btn.Label(i)] = i
		}
	}
	return expected
}

func (r *run) renderOutput(ctx context.Context, st *session.State, d *flow.DBOutputData) (string, error) {
	q := storage.Query{
		Table:   d.Table,
		UserID:  r.ev.UserID(),
		Columns: d.Columns,
		Limit:   d.Limit,
	}
	if d.FilterColumn != "" {
		q.FilterColumn = d.FilterColumn
		q.FilterValue = st.Context[d.FilterVar]
	}

	rows, err := r.in.store.Query(ctx, q)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if d.Message != "" {
		b.WriteString(d.Message)
	}
	if len(rows) == 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(r.tr.T(i18n.FlowNoData))
		return b.String(), nil
	}
	for _, row := range rows {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(strings.Join(row, " | "))
	}
	return b.String(), nil
}
