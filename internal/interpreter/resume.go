package interpreter

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Proton-105/flowbot/internal/flow"
	"github.com/Proton-105/flowbot/internal/gateway"
	"github.com/Proton-105/flowbot/internal/i18n"
	"github.com/Proton-105/flowbot/internal/session"
)

// resume continues a suspended flow with the user's answer.
func (r *run) resume(ctx context.Context, st *session.State) error {
	node, ok := r.in.graph.Node(st.CurrentNodeID)
	if !ok || !node.Type.Interactive() {
		// the graph changed since the user was parked
		r.in.log.Info("dropping stale session",
			slog.Int64("user_id", r.ev.UserID()),
			slog.String("node_id", st.CurrentNodeID),
		)
		st.Release()
		return r.idle()
	}

	if node.Type == flow.TypeInput {
		return r.resumeInput(ctx, st, node)
	}
	return r.resumeChoice(ctx, st, node)
}

func (r *run) resumeChoice(ctx context.Context, st *session.State, node *flow.CompiledNode) error {
	choices := node.Choice.Choices()
	idx, ok := lookupExpected(st.Expected, r.ev.Action())
	if !ok || idx < 0 || idx >= len(choices) {
		r.unrecognized(st, node)
		return nil
	}

	btn := choices[idx]
	r.choose(st, btn)

	ack := gateway.TextAction(r.ev.ChatID, r.tr.Tf(i18n.FlowSelected, btn.Label(idx)))
	if node.Type != flow.TypeInline {
		ack.Keyboard = gateway.RemoveKeyboard()
	}
	r.actions = append(r.actions, ack)

	st.Release()

	match := flow.ButtonEdge(idx)
	if node.Type == flow.TypeMenu {
		match = flow.AnyEdge
	}
	next, ok := r.in.graph.Next(node.ID, match)
	if !ok {
		return nil
	}
	return r.traverse(ctx, st, next)
}

func (r *run) unrecognized(st *session.State, node *flow.CompiledNode) {
	if node.Choice.OnUnrecognized == flow.OnUnrecognizedReport {
		text := node.Choice.UnrecognizedText
		if text == "" {
			text = r.tr.T(i18n.FlowNotRecognized)
		}
		r.say(text)
		return
	}
	r.lastText = -1
	r.present(st, node)
}

func (r *run) resumeInput(ctx context.Context, st *session.State, node *flow.CompiledNode) error {
	data := node.Input
	value := r.ev.Action()

	var chosen *flow.Button
	if data.InputMode == flow.InputModeButtons {
		idx, ok := lookupExpected(st.Expected, value)
		if !ok || idx < 0 || idx >= len(data.Buttons) {
			text := gateway.TextAction(r.ev.ChatID, r.tr.T(i18n.FlowInvalidChoice))
			text.Keyboard = r.keyboard(node)
			r.actions = append(r.actions, text)
			return nil
		}
		chosen = &data.Buttons[idx]
		value = chosen.BoundValue()
	} else if r.ev.Type == gateway.EventCallback {
		// text mode saves typed text only; a tapped button re-asks
		r.lastText = -1
		r.present(st, node)
		return nil
	}

	target := st.Input
	if target == nil {
		target = &session.InputConfig{Table: data.Table, Column: data.Column, SaveMode: data.SaveMode}
	}

	fields := map[string]string{target.Column: value}
	var err error
	if target.SaveMode == flow.SaveModeUpdateLast {
		err = r.in.store.UpdateLastRecord(ctx, target.Table, r.ev.UserID(), fields)
	} else {
		err = r.in.store.AppendRecord(ctx, target.Table, r.ev.UserID(), fields)
	}
	if err != nil {
		r.in.log.Error("failed to save input",
			slog.Int64("user_id", r.ev.UserID()),
			slog.String("node_id", node.ID),
			slog.String("table", target.Table),
			slog.Any("error", err),
		)
		r.say(r.tr.T(i18n.ErrSaveFailed))
		return nil
	}

	if chosen != nil {
		r.choose(st, *chosen)
	}
	st.Set(data.ValueVar, value)

	if data.SuccessMessage != "" || data.InputMode == flow.InputModeButtons {
		msg := data.SuccessMessage
		if msg == "" {
			msg = r.tr.T(i18n.FlowSaved)
		}
		ack := gateway.TextAction(r.ev.ChatID, msg)
		if data.InputMode == flow.InputModeButtons {
			ack.Keyboard = gateway.RemoveKeyboard()
		}
		r.actions = append(r.actions, ack)
	}

	st.Release()

	next, ok := r.in.graph.Next(node.ID, flow.AnyEdge)
	if !ok {
		return nil
	}
	return r.traverse(ctx, st, next)
}

func (r *run) choose(st *session.State, btn flow.Button) {
	value := btn.BoundValue()
	st.Set(btn.ValueVar, value)
	st.Set(LastButtonValueVar, value)
}

// lookupExpected matches exactly first, then ignoring case and surrounding
// space.
func lookupExpected(expected map[string]int, answer string) (int, bool) {
	if idx, ok := expected[answer]; ok {
		return idx, true
	}

	answer = strings.TrimSpace(answer)
	best, found := 0, false
	for key, idx := range expected {
		if strings.EqualFold(key, answer) && (!found || idx < best) {
			best, found = idx, true
		}
	}
	return best, found
}
