package flow

import (
	"strconv"
	"strings"

	"github.com/Proton-105/flowbot/internal/domain"
	"github.com/Proton-105/flowbot/internal/expr"
)

// CompiledNode is a node whose payload has been decoded for its type. Exactly
// one payload field is set, matching Type; startend nodes may carry none.
type CompiledNode struct {
	ID   string
	Type NodeType

	StartEnd  *StartEndData
	Text      *TextData
	Choice    *ChoiceData
	Image     *ImageData
	Input     *InputData
	Output    *DBOutputData
	Condition *expr.Program
	Broadcast *BroadcastSpec
}

// BroadcastSpec is the schedule of a broadcast node.
type BroadcastSpec struct {
	NodeID    string
	Frequency Frequency
	Hour      int
	Minute    int
	Target    domain.Segment
}

// Graph is the immutable compiled form of a Document.
type Graph struct {
	nodes      map[string]*CompiledNode
	order      []string
	outgoing   map[string][]Edge
	entries    map[string]string
	commands   []Command
	broadcasts []BroadcastSpec
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*CompiledNode, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Outgoing returns the edges leaving id in declaration order.
func (g *Graph) Outgoing(id string) []Edge {
	return g.outgoing[id]
}

// EntryFor resolves the start node of a command such as "/start".
func (g *Graph) EntryFor(command string) (*CompiledNode, bool) {
	id, ok := g.entries[normalizeCommand(command)]
	if !ok {
		return nil, false
	}
	return g.Node(id)
}

// Commands lists the advertised commands.
func (g *Graph) Commands() []Command {
	return g.commands
}

// Broadcasts lists broadcast schedules in node declaration order.
func (g *Graph) Broadcasts() []BroadcastSpec {
	return g.broadcasts
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// EdgeMatch selects eligible edges during traversal.
type EdgeMatch func(Edge) bool

// AnyEdge accepts every edge.
func AnyEdge(Edge) bool { return true }

// ButtonEdge accepts edges bound to the button at idx.
func ButtonEdge(idx int) EdgeMatch {
	return func(e Edge) bool {
		return e.ButtonIndex != nil && *e.ButtonIndex == idx
	}
}

// LabelEdge accepts edges whose label equals the condition result, ignoring case.
func LabelEdge(result bool) EdgeMatch {
	want := strconv.FormatBool(result)
	return func(e Edge) bool {
		return strings.EqualFold(strings.TrimSpace(e.Label), want)
	}
}

// Next follows the first declared edge out of from that satisfies match.
func (g *Graph) Next(from string, match EdgeMatch) (*CompiledNode, bool) {
	if match == nil {
		match = AnyEdge
	}

	for _, e := range g.outgoing[from] {
		if match(e) {
			return g.Node(e.Target)
		}
	}
	return nil, false
}

func normalizeCommand(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if i := strings.IndexAny(cmd, " @"); i >= 0 {
		cmd = cmd[:i]
	}
	if cmd != "" && !strings.HasPrefix(cmd, "/") {
		cmd = "/" + cmd
	}
	return strings.ToLower(cmd)
}
