package interpreter

import (
	"context"
	"log/slog"

	apperrors "github.com/Proton-105/flowbot/internal/errors"
	"github.com/Proton-105/flowbot/internal/flow"
	"github.com/Proton-105/flowbot/internal/gateway"
	"github.com/Proton-105/flowbot/internal/session"
	"github.com/Proton-105/flowbot/pkg/metrics"
)

// traverse runs node steps from start until the flow suspends on an
// interactive node or runs out of matching edges.
func (r *run) traverse(ctx context.Context, st *session.State, start *flow.CompiledNode) error {
	r.lastText = -1
	node := start

	for steps := 0; node != nil; steps++ {
		if steps >= r.in.maxDepth {
			return apperrors.NewRecursionLimitError(node.ID, r.in.maxDepth)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		metrics.RecordNodeStep(string(node.Type))

		if node.Type.Interactive() {
			r.present(st, node)
			return nil
		}

		match, err := r.step(ctx, st, node)
		if err != nil {
			return err
		}
		if match == nil {
			break
		}

		next, ok := r.in.graph.Next(node.ID, match)
		if !ok {
			break
		}
		node = next
	}

	st.Release()
	return nil
}

// step performs the side effect of an auto node and returns how to pick the
// next edge, or nil to stop.
func (r *run) step(ctx context.Context, st *session.State, node *flow.CompiledNode) (flow.EdgeMatch, error) {
	switch node.Type {
	case flow.TypeStartEnd:
		return flow.AnyEdge, nil

	case flow.TypeText:
		if node.Text != nil && node.Text.Text != "" {
			r.say(node.Text.Text)
			r.lastText = len(r.actions) - 1
		}
		return flow.AnyEdge, nil

	case flow.TypeImage:
		if src := node.Image.Source(); src != "" {
			r.actions = append(r.actions, gateway.PhotoAction(r.ev.ChatID, src, node.Image.Caption))
		} else {
			r.in.log.Warn("image node without source", slog.String("node_id", node.ID))
		}
		return flow.AnyEdge, nil

	case flow.TypeDBOutput:
		text, err := r.renderOutput(ctx, st, node.Output)
		if err != nil {
			return nil, err
		}
		r.say(text)
		r.lastText = len(r.actions) - 1
		return flow.AnyEdge, nil

	case flow.TypeCondition:
		ok, err := node.Condition.Eval(r.conditionVars(st))
		if err != nil {
			return nil, apperrors.NewExpressionError(node.Condition.Source(), err)
		}
		return flow.LabelEdge(ok), nil

	default:
		// broadcast nodes only run on their schedule
		return nil, nil
	}
}
