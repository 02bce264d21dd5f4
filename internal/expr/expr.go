// Package expr evaluates condition expressions of flow graphs.
//
// The grammar is limited to literals (numbers, quoted strings, true, false),
// variable references, the comparisons == != < <= > >= and the connectives
// and/&&, or/||, not/!, with parentheses for grouping. Variables resolve only
// against the map handed to Eval; there is no function call, attribute access
// or arithmetic. Comparisons are numeric when both sides read as numbers and
// lexical otherwise.
package expr

import (
	"sort"
	"strings"
)

// Program is a compiled, reusable condition.
type Program struct {
	src    string
	root   node
	idents []string
}

// Compile parses src into a Program.
func Compile(src string) (*Program, error) {
	if strings.TrimSpace(src) == "" {
		return nil, &SyntaxError{Pos: 0, Msg: "empty expression"}
	}

	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens, idents: make(map[string]struct{})}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, &SyntaxError{Pos: tok.pos, Msg: "unexpected " + tok.text}
	}

	idents := make([]string, 0, len(p.idents))
	for name := range p.idents {
		idents = append(idents, name)
	}
	sort.Strings(idents)

	return &Program{src: src, root: root, idents: idents}, nil
}

// Eval runs the program against vars. Referencing a name missing from vars
// fails with ErrUnknownIdentifier.
func (p *Program) Eval(vars map[string]string) (bool, error) {
	v, err := p.root.eval(vars)
	if err != nil {
		return false, err
	}
	return v.truthy(), nil
}

func (p *Program) Source() string { return p.src }

// Identifiers lists the variable names the program references.
func (p *Program) Identifiers() []string { return p.idents }
