package flow

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/samber/lo"

	"github.com/Proton-105/flowbot/internal/domain"
	apperrors "github.com/Proton-105/flowbot/internal/errors"
	"github.com/Proton-105/flowbot/internal/expr"
)

// callbackDataLimit is the platform limit for inline button payloads.
const callbackDataLimit = 64

// Compile validates doc and builds its Graph. Every violation is reported;
// the returned error is a ConfigError.
func Compile(doc *Document) (*Graph, error) {
	if doc == nil {
		return nil, apperrors.NewConfigError("document is empty", nil)
	}

	var errs []error
	g := &Graph{
		nodes:    make(map[string]*CompiledNode, len(doc.Nodes)),
		order:    make([]string, 0, len(doc.Nodes)),
		outgoing: make(map[string][]Edge),
		entries:  make(map[string]string),
	}

	for _, n := range doc.Nodes {
		if n.ID == "" {
			errs = append(errs, &StructuralError{Kind: "missing_id", Msg: "node without id"})
			continue
		}
		if _, dup := g.nodes[n.ID]; dup {
			errs = append(errs, &StructuralError{Kind: "duplicate_id", NodeID: n.ID, Msg: "node id is not unique"})
			continue
		}
		if _, ok := knownTypes[n.Type]; !ok {
			errs = append(errs, &StructuralError{Kind: "unknown_type", NodeID: n.ID, Msg: fmt.Sprintf("unknown node type %q", n.Type)})
			continue
		}

		compiled, err := compileNode(n)
		if err != nil {
			errs = append(errs, &PayloadError{NodeID: n.ID, Err: err})
			continue
		}

		g.nodes[n.ID] = compiled
		g.order = append(g.order, n.ID)
	}

	for i, e := range doc.Edges {
		edge, err := normalizeEdge(e)
		if err != nil {
			errs = append(errs, &StructuralError{Kind: "invalid_edge", Msg: fmt.Sprintf("edge %d: %v", i, err)})
			continue
		}
		if !g.known(doc, edge.Source) || !g.known(doc, edge.Target) {
			errs = append(errs, &StructuralError{
				Kind: "dangling_edge",
				Msg:  fmt.Sprintf("edge %d references missing node (%q -> %q)", i, edge.Source, edge.Target),
			})
			continue
		}
		g.outgoing[edge.Source] = append(g.outgoing[edge.Source], edge)
	}

	if len(errs) > 0 {
		return nil, apperrors.NewConfigError(fmt.Sprintf("%d problem(s)", len(errs)), errors.Join(errs...))
	}

	for _, id := range g.order {
		n := g.nodes[id]
		switch {
		case n.StartEnd != nil && n.StartEnd.Entry():
			cmd := normalizeCommand(n.StartEnd.Command)
			if _, taken := g.entries[cmd]; !taken {
				g.entries[cmd] = id
			}
		case n.Broadcast != nil:
			g.broadcasts = append(g.broadcasts, *n.Broadcast)
		}
	}

	g.commands = lo.UniqBy(lo.Map(doc.Commands, func(c Command, _ int) Command {
		c.Name = normalizeCommand(c.Name)
		return c
	}), func(c Command) string { return c.Name })

	return g, nil
}

// known reports whether id names a node of doc, including nodes rejected for
// payload problems so they are not reported twice.
func (g *Graph) known(doc *Document, id string) bool {
	if _, ok := g.nodes[id]; ok {
		return true
	}
	return id != "" && lo.ContainsBy(doc.Nodes, func(n Node) bool { return n.ID == id })
}

func compileNode(n Node) (*CompiledNode, error) {
	c := &CompiledNode{ID: n.ID, Type: n.Type}

	switch n.Type {
	case TypeStartEnd:
		var d StartEndData
		if err := decodeData(n.Data, &d); err != nil {
			return nil, err
		}
		c.StartEnd = &d
	case TypeText:
		var d TextData
		if err := decodeData(n.Data, &d); err != nil {
			return nil, err
		}
		c.Text = &d
	case TypeButton, TypeMenu, TypeInline:
		var d ChoiceData
		if err := decodeData(n.Data, &d); err != nil {
			return nil, err
		}
		if err := validateChoices(n.Type, d); err != nil {
			return nil, err
		}
		c.Choice = &d
	case TypeImage:
		var d ImageData
		if err := decodeData(n.Data, &d); err != nil {
			return nil, err
		}
		if d.Source() == "" {
			return nil, errors.New("image node has no url")
		}
		c.Image = &d
	case TypeInput:
		var d InputData
		if err := decodeData(n.Data, &d); err != nil {
			return nil, err
		}
		if err := validateInput(&d); err != nil {
			return nil, err
		}
		c.Input = &d
	case TypeDBOutput:
		var d DBOutputData
		if err := decodeData(n.Data, &d); err != nil {
			return nil, err
		}
		if d.Table == "" || len(d.Columns) == 0 {
			return nil, errors.New("dboutput node needs a table and columns")
		}
		if (d.FilterColumn == "") != (d.FilterVar == "") {
			return nil, errors.New("dboutput filterColumn and filterVar must be set together")
		}
		c.Output = &d
	case TypeCondition:
		var d ConditionData
		if err := decodeData(n.Data, &d); err != nil {
			return nil, err
		}
		prog, err := expr.Compile(d.Condition)
		if err != nil {
			return nil, fmt.Errorf("condition: %w", err)
		}
		c.Condition = prog
	case TypeBroadcast:
		spec, err := compileBroadcast(n)
		if err != nil {
			return nil, err
		}
		c.Broadcast = spec
	}

	return c, nil
}

func validateChoices(t NodeType, d ChoiceData) error {
	switch d.OnUnrecognized {
	case "", OnUnrecognizedReprompt, OnUnrecognizedReport:
	default:
		return fmt.Errorf("unknown onUnrecognized policy %q", d.OnUnrecognized)
	}

	if len(d.Choices()) == 0 {
		return fmt.Errorf("%s node has no buttons", t)
	}

	return validateTokens(d.Choices())
}

func validateInput(d *InputData) error {
	if d.Table == "" || d.Column == "" {
		return errors.New("input node needs a table and column")
	}

	if d.InputMode == "" {
		d.InputMode = InputModeText
	}
	if d.SaveMode == "" {
		d.SaveMode = SaveModeNew
	}

	switch d.InputMode {
	case InputModeText:
	case InputModeButtons:
		if len(d.Buttons) == 0 {
			return errors.New("input node in buttons mode has no buttons")
		}
		if err := validateTokens(d.Buttons); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown input mode %q", d.InputMode)
	}

	switch d.SaveMode {
	case SaveModeNew, SaveModeUpdateLast:
		return nil
	default:
		return fmt.Errorf("unknown save mode %q", d.SaveMode)
	}
}

func validateTokens(buttons []Button) error {
	seen := make(map[string]struct{}, len(buttons))
	for i, b := range buttons {
		token := b.Token(i)
		if len(token) > callbackDataLimit {
			return fmt.Errorf("button %d action exceeds %d bytes", i, callbackDataLimit)
		}
		if _, dup := seen[token]; dup {
			return fmt.Errorf("button %d action %q is not unique", i, token)
		}
		seen[token] = struct{}{}
	}
	return nil
}

func compileBroadcast(n Node) (*BroadcastSpec, error) {
	d := BroadcastData{BroadcastTime: "09:00", Frequency: string(FrequencyDaily), Target: string(domain.SegmentAll)}
	if err := decodeData(n.Data, &d); err != nil {
		return nil, err
	}

	hour, minute, err := parseClock(d.BroadcastTime)
	if err != nil {
		return nil, err
	}

	freq := Frequency(strings.ToLower(d.Frequency))
	switch freq {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyOnce:
	default:
		return nil, fmt.Errorf("unknown broadcast frequency %q", d.Frequency)
	}

	target, ok := domain.ParseSegment(strings.ToLower(d.Target))
	if !ok {
		return nil, fmt.Errorf("unknown broadcast target %q", d.Target)
	}

	return &BroadcastSpec{NodeID: n.ID, Frequency: freq, Hour: hour, Minute: minute, Target: target}, nil
}

func decodeData(data map[string]any, out any) error {
	if len(data) == 0 {
		return nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	return dec.Decode(data)
}

// normalizeEdge lifts data.buttonIndex to the edge itself.
func normalizeEdge(e Edge) (Edge, error) {
	if e.ButtonIndex != nil || e.Data == nil {
		return e, nil
	}

	raw, ok := e.Data["buttonIndex"]
	if !ok || raw == nil {
		return e, nil
	}

	idx, err := toIndex(raw)
	if err != nil {
		return e, err
	}
	e.ButtonIndex = &idx
	return e, nil
}

func toIndex(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("buttonIndex %v is not an integer", v)
		}
		return int(v), nil
	case string:
		idx, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("buttonIndex %q is not an integer", v)
		}
		return idx, nil
	default:
		return 0, fmt.Errorf("buttonIndex has unsupported type %T", raw)
	}
}
