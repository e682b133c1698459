package query

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/udisondev/realmsync/internal/model"
)

// ErrSyntax is returned for any query that does not follow the grammar.
var ErrSyntax = errors.New("query syntax error")

// maxQueryLen bounds the accepted query text.
const maxQueryLen = 4096

// Parse compiles query text into a Filter.
func Parse(text string) (*Filter, error) {
	if len(text) > maxQueryLen {
		return nil, fmt.Errorf("%w: query longer than %d bytes", ErrSyntax, maxQueryLen)
	}
	toks, err := lex(text)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	return p.parse()
}

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokWord
	tokNumber
	tokHex
	tokString
	tokOp
	tokStar
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func lex(s string) ([]token, error) {
	toks := make([]token, 0, 24)
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '*':
			toks = append(toks, token{kind: tokStar, text: "*", pos: i})
			i++
		case c == '>' || c == '<' || c == '=' || c == '!':
			start := i
			i++
			if i < len(s) && s[i] == '=' {
				i++
			}
			op := s[start:i]
			if op == "!" {
				return nil, fmt.Errorf("%w: stray '!' at %d", ErrSyntax, start)
			}
			toks = append(toks, token{kind: tokOp, text: op, pos: start})
		case c == '\'':
			start := i
			i++
			for i < len(s) && s[i] != '\'' {
				if !isNameChar(s[i]) {
					return nil, fmt.Errorf("%w: invalid character %q in string at %d", ErrSyntax, s[i], i)
				}
				i++
			}
			if i >= len(s) {
				return nil, fmt.Errorf("%w: unterminated string at %d", ErrSyntax, start)
			}
			toks = append(toks, token{kind: tokString, text: s[start+1 : i], pos: start})
			i++
		case c == '0' && i+1 < len(s) && (s[i+1] == 'x' || s[i+1] == 'X'):
			start := i
			i += 2
			for i < len(s) && isAlnum(s[i]) {
				i++
			}
			toks = append(toks, token{kind: tokHex, text: s[start:i], pos: start})
		case isDigit(c) || c == '-' || c == '+' || c == '.':
			start := i
			i = scanNumber(s, i)
			if i == start {
				return nil, fmt.Errorf("%w: invalid number at %d", ErrSyntax, start)
			}
			toks = append(toks, token{kind: tokNumber, text: s[start:i], pos: start})
		case isLetter(c):
			start := i
			for i < len(s) && (isAlnum(s[i]) || s[i] == '_') {
				i++
			}
			toks = append(toks, token{kind: tokWord, text: s[start:i], pos: start})
		default:
			return nil, fmt.Errorf("%w: unexpected character %q at %d", ErrSyntax, c, i)
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(s)})
	return toks, nil
}

// scanNumber consumes [+-]?digits[.digits][(e|E)[+-]?digits] and returns
// the index after it, or start when nothing numeric was found.
func scanNumber(s string, start int) int {
	i := start
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		i++
	}
	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
			digits++
		}
	}
	if digits == 0 {
		return start
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '-' || s[j] == '+') {
			j++
		}
		expDigits := 0
		for j < len(s) && isDigit(s[j]) {
			j++
			expDigits++
		}
		if expDigits > 0 {
			i = j
		}
	}
	// A number glued to letters ("12abc") is not a number.
	if i < len(s) && (isLetter(s[i]) || s[i] == '_') {
		return start
	}
	return i
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) keyword(kw string) error {
	t := p.next()
	if t.kind != tokWord || !strings.EqualFold(t.text, kw) {
		return fmt.Errorf("%w: expected %s at %d", ErrSyntax, kw, t.pos)
	}
	return nil
}

func (p *parser) parse() (*Filter, error) {
	if err := p.keyword("SELECT"); err != nil {
		return nil, err
	}
	if t := p.next(); t.kind != tokStar {
		return nil, fmt.Errorf("%w: expected * at %d", ErrSyntax, t.pos)
	}
	if err := p.keyword("FROM"); err != nil {
		return nil, err
	}

	t := p.next()
	if t.kind != tokWord {
		return nil, fmt.Errorf("%w: expected table name at %d", ErrSyntax, t.pos)
	}
	table, err := model.ParseTable(strings.ToLower(t.text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}

	f := &Filter{Table: table}
	if p.peek().kind == tokEOF {
		return f, nil
	}
	if err := p.keyword("WHERE"); err != nil {
		return nil, err
	}

	for {
		c, err := p.cond()
		if err != nil {
			return nil, err
		}
		f.Conds = append(f.Conds, c)

		if p.peek().kind == tokEOF {
			return f, nil
		}
		if err := p.keyword("AND"); err != nil {
			return nil, err
		}
	}
}

func (p *parser) cond() (Cond, error) {
	t := p.next()
	if t.kind != tokWord {
		return Cond{}, fmt.Errorf("%w: expected column at %d", ErrSyntax, t.pos)
	}
	var col Column
	for c, name := range columnNames {
		if strings.EqualFold(name, t.text) {
			col = c
		}
	}
	if col == 0 {
		return Cond{}, fmt.Errorf("%w: unknown column %q", ErrSyntax, t.text)
	}

	t = p.next()
	if t.kind != tokOp {
		return Cond{}, fmt.Errorf("%w: expected operator at %d", ErrSyntax, t.pos)
	}
	var op Op
	for o, name := range opNames {
		if name == t.text {
			op = o
		}
	}
	if op == 0 {
		return Cond{}, fmt.Errorf("%w: unknown operator %q", ErrSyntax, t.text)
	}
	if !col.numeric() && op != OpEQ && op != OpNE {
		return Cond{}, fmt.Errorf("%w: column %s only supports = and !=", ErrSyntax, col)
	}

	lit := p.next()
	c := Cond{Col: col, Op: op}
	switch col {
	case ColX, ColY, ColID:
		if lit.kind != tokNumber {
			return Cond{}, fmt.Errorf("%w: column %s needs a number at %d", ErrSyntax, col, lit.pos)
		}
		v, err := strconv.ParseFloat(lit.text, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Cond{}, fmt.Errorf("%w: bad number %q", ErrSyntax, lit.text)
		}
		c.Num = v
	case ColIdentity:
		if lit.kind != tokHex {
			return Cond{}, fmt.Errorf("%w: identity needs a 0x hex literal at %d", ErrSyntax, lit.pos)
		}
		id, err := model.ParseIdentity(lit.text)
		if err != nil {
			return Cond{}, fmt.Errorf("%w: %v", ErrSyntax, err)
		}
		c.Str = string(id)
	case ColKind:
		if lit.kind != tokString || lit.text == "" {
			return Cond{}, fmt.Errorf("%w: kind needs a quoted name at %d", ErrSyntax, lit.pos)
		}
		c.Str = lit.text
	}
	return c, nil
}

func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isAlnum(c byte) bool  { return isDigit(c) || isLetter(c) }

func isNameChar(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'z') || c == '_' || c == '-'
}
