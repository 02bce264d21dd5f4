// Package flow defines the conversation graph a bot executes and compiles the
// serialized document into an immutable, indexed Graph.
package flow

// NodeType names the behaviour of a node.
type NodeType string

const (
	TypeStartEnd  NodeType = "startend"
	TypeText      NodeType = "text"
	TypeButton    NodeType = "button"
	TypeMenu      NodeType = "menu"
	TypeInline    NodeType = "inline"
	TypeImage     NodeType = "image"
	TypeInput     NodeType = "input"
	TypeDBOutput  NodeType = "dboutput"
	TypeCondition NodeType = "condition"
	TypeBroadcast NodeType = "broadcast"
)

var knownTypes = map[NodeType]struct{}{
	TypeStartEnd:  {},
	TypeText:      {},
	TypeButton:    {},
	TypeMenu:      {},
	TypeInline:    {},
	TypeImage:     {},
	TypeInput:     {},
	TypeDBOutput:  {},
	TypeCondition: {},
	TypeBroadcast: {},
}

// Interactive reports whether traversal suspends at this node type until the
// user answers.
func (t NodeType) Interactive() bool {
	switch t {
	case TypeButton, TypeMenu, TypeInline, TypeInput:
		return true
	default:
		return false
	}
}

// Document is the serialized graph as produced by the flow editor.
type Document struct {
	Commands []Command `json:"commands,omitempty" yaml:"commands,omitempty"`
	Nodes    []Node    `json:"nodes" yaml:"nodes"`
	Edges    []Edge    `json:"edges" yaml:"edges"`
}

// Command is a bot command advertised to users.
type Command struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type Node struct {
	ID   string         `json:"id" yaml:"id"`
	Type NodeType       `json:"type" yaml:"type"`
	Data map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// Edge connects two nodes. ButtonIndex may be given at the top level or,
// as the editor emits it, inside Data.
type Edge struct {
	ID          string         `json:"id,omitempty" yaml:"id,omitempty"`
	Source      string         `json:"source" yaml:"source"`
	Target      string         `json:"target" yaml:"target"`
	Label       string         `json:"label,omitempty" yaml:"label,omitempty"`
	ButtonIndex *int           `json:"buttonIndex,omitempty" yaml:"buttonIndex,omitempty"`
	Data        map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}
