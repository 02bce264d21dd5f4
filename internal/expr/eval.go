package expr

import (
	"fmt"
	"strconv"
	"strings"
)

type valueKind int

const (
	kindString valueKind = iota
	kindNumber
	kindBool
)

type value struct {
	kind valueKind
	s    string
	n    float64
	b    bool
}

func stringValue(s string) value  { return value{kind: kindString, s: s} }
func numberValue(n float64) value { return value{kind: kindNumber, n: n} }
func boolValue(b bool) value      { return value{kind: kindBool, b: b} }

func (v value) truthy() bool {
	switch v.kind {
	case kindBool:
		return v.b
	case kindNumber:
		return v.n != 0
	default:
		return v.s != ""
	}
}

// number reports the numeric reading of v. Strings qualify when they parse.
func (v value) number() (float64, bool) {
	switch v.kind {
	case kindNumber:
		return v.n, true
	case kindString:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func (v value) boolean() (bool, bool) {
	switch v.kind {
	case kindBool:
		return v.b, true
	case kindString:
		b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(v.s)))
		return b, err == nil
	default:
		return false, false
	}
}

func (v value) String() string {
	switch v.kind {
	case kindBool:
		return strconv.FormatBool(v.b)
	case kindNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	default:
		return v.s
	}
}

type node interface {
	eval(vars map[string]string) (value, error)
}

type literalNode struct {
	val value
}

func (n *literalNode) eval(map[string]string) (value, error) {
	return n.val, nil
}

type identNode struct {
	name string
}

func (n *identNode) eval(vars map[string]string) (value, error) {
	v, ok := vars[n.name]
	if !ok {
		return value{}, fmt.Errorf("%w: %s", ErrUnknownIdentifier, n.name)
	}
	return stringValue(v), nil
}

type notNode struct {
	operand node
}

func (n *notNode) eval(vars map[string]string) (value, error) {
	v, err := n.operand.eval(vars)
	if err != nil {
		return value{}, err
	}
	return boolValue(!v.truthy()), nil
}

type logicalNode struct {
	op          tokenKind
	left, right node
}

func (n *logicalNode) eval(vars map[string]string) (value, error) {
	left, err := n.left.eval(vars)
	if err != nil {
		return value{}, err
	}

	if n.op == tokAnd && !left.truthy() {
		return boolValue(false), nil
	}
	if n.op == tokOr && left.truthy() {
		return boolValue(true), nil
	}

	right, err := n.right.eval(vars)
	if err != nil {
		return value{}, err
	}
	return boolValue(right.truthy()), nil
}

type compareNode struct {
	op          tokenKind
	left, right node
}

func (n *compareNode) eval(vars map[string]string) (value, error) {
	left, err := n.left.eval(vars)
	if err != nil {
		return value{}, err
	}
	right, err := n.right.eval(vars)
	if err != nil {
		return value{}, err
	}

	if left.kind == kindBool || right.kind == kindBool {
		return compareBools(n.op, left, right)
	}

	if ln, ok := left.number(); ok {
		if rn, ok := right.number(); ok {
			return boolValue(compareOrdered(n.op, ln, rn)), nil
		}
	}

	return boolValue(compareOrdered(n.op, left.String(), right.String())), nil
}

func compareBools(op tokenKind, left, right value) (value, error) {
	lb, lok := left.boolean()
	rb, rok := right.boolean()
	if !lok || !rok {
		return value{}, fmt.Errorf("%w: cannot compare %q with %q as booleans", ErrType, left.String(), right.String())
	}

	switch op {
	case tokEq:
		return boolValue(lb == rb), nil
	case tokNeq:
		return boolValue(lb != rb), nil
	default:
		return value{}, fmt.Errorf("%w: booleans are not ordered", ErrType)
	}
}

func compareOrdered[T float64 | string](op tokenKind, a, b T) bool {
	switch op {
	case tokEq:
		return a == b
	case tokNeq:
		return a != b
	case tokLt:
		return a < b
	case tokLte:
		return a <= b
	case tokGt:
		return a > b
	case tokGte:
		return a >= b
	default:
		return false
	}
}
