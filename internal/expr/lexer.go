package expr

import "strings"

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokTrue
	tokFalse
	tokAnd
	tokOr
	tokNot
	tokEq
	tokNeq
	tokLt
	tokLte
	tokGt
	tokGte
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

var keywords = map[string]tokenKind{
	"and":   tokAnd,
	"or":    tokOr,
	"not":   tokNot,
	"true":  tokTrue,
	"false": tokFalse,
}

func tokenize(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == '=' || c == '!' || c == '<' || c == '>' || c == '&' || c == '|':
			tok, width, err := lexOperator(src, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			i += width
		case c == '"' || c == '\'':
			tok, width, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			i += width
		case isDigit(c) || (c == '-' && i+1 < len(src) && isDigit(src[i+1])):
			start := i
			i++
			for i < len(src) && (isDigit(src[i]) || src[i] == '.') {
				i++
			}
			tokens = append(tokens, token{kind: tokNumber, text: src[start:i], pos: start})
		case isIdentStart(c):
			start := i
			for i < len(src) && (isIdentStart(src[i]) || isDigit(src[i])) {
				i++
			}
			word := src[start:i]
			kind, ok := keywords[strings.ToLower(word)]
			if !ok {
				kind = tokIdent
			}
			tokens = append(tokens, token{kind: kind, text: word, pos: start})
		default:
			return nil, &SyntaxError{Pos: i, Msg: "unexpected character " + string(c)}
		}
	}

	return append(tokens, token{kind: tokEOF, pos: len(src)}), nil
}

func lexOperator(src string, i int) (token, int, error) {
	two := ""
	if i+1 < len(src) {
		two = src[i : i+2]
	}

	switch two {
	case "==":
		return token{kind: tokEq, text: two, pos: i}, 2, nil
	case "!=":
		return token{kind: tokNeq, text: two, pos: i}, 2, nil
	case "<=":
		return token{kind: tokLte, text: two, pos: i}, 2, nil
	case ">=":
		return token{kind: tokGte, text: two, pos: i}, 2, nil
	case "&&":
		return token{kind: tokAnd, text: two, pos: i}, 2, nil
	case "||":
		return token{kind: tokOr, text: two, pos: i}, 2, nil
	}

	switch src[i] {
	case '<':
		return token{kind: tokLt, text: "<", pos: i}, 1, nil
	case '>':
		return token{kind: tokGt, text: ">", pos: i}, 1, nil
	case '!':
		return token{kind: tokNot, text: "!", pos: i}, 1, nil
	}

	return token{}, 0, &SyntaxError{Pos: i, Msg: "unexpected operator " + string(src[i])}
}

func lexString(src string, i int) (token, int, error) {
	quote := src[i]
	var b strings.Builder
	j := i + 1
	for j < len(src) {
		c := src[j]
		if c == '\\' && j+1 < len(src) {
			b.WriteByte(src[j+1])
			j += 2
			continue
		}
		if c == quote {
			return token{kind: tokString, text: b.String(), pos: i}, j - i + 1, nil
		}
		b.WriteByte(c)
		j++
	}

	return token{}, 0, &SyntaxError{Pos: i, Msg: "unterminated string"}
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
