package flow

import (
	"errors"
	"fmt"
)

var (
	ErrParse      = errors.New("parse error")
	ErrStructural = errors.New("structural error")
	ErrPayload    = errors.New("payload error")
)

// StructuralError describes one violation found while compiling a document.
type StructuralError struct {
	Kind   string
	NodeID string
	Msg    string
}

func (e *StructuralError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: node %q: %s", e.Kind, e.NodeID, e.Msg)
}

func (e *StructuralError) Unwrap() error { return ErrStructural }

// PayloadError reports node data that cannot be decoded or is invalid for
// the node type.
type PayloadError struct {
	NodeID string
	Err    error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("node %q: %v", e.NodeID, e.Err)
}

func (e *PayloadError) Unwrap() []error { return []error{ErrPayload, e.Err} }
