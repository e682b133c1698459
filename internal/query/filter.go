// Package query implements the declarative subscription predicate:
//
//	SELECT * FROM <table> [WHERE <cond> {AND <cond>}]
//
// Conditions compare a column (x, y, id, identity, kind) against a literal.
// Numeric columns only accept finite decimal numbers, identity only accepts
// 0x-prefixed hexadecimal and kind only accepts quoted [a-z0-9_-] names, so
// a filter built from untrusted coordinates or identities cannot smuggle in
// extra clauses.
package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/udisondev/realmsync/internal/model"
)

// Column is a filterable row attribute.
type Column uint8

const (
	ColX Column = iota + 1
	ColY
	ColID
	ColIdentity
	ColKind
)

var columnNames = map[Column]string{
	ColX:        "x",
	ColY:        "y",
	ColID:       "id",
	ColIdentity: "identity",
	ColKind:     "kind",
}

func (c Column) String() string {
	return columnNames[c]
}

func (c Column) numeric() bool {
	return c == ColX || c == ColY || c == ColID
}

// Op is a comparison operator.
type Op uint8

const (
	OpGE Op = iota + 1
	OpLE
	OpGT
	OpLT
	OpEQ
	OpNE
)

var opNames = map[Op]string{
	OpGE: ">=",
	OpLE: "<=",
	OpGT: ">",
	OpLT: "<",
	OpEQ: "=",
	OpNE: "!=",
}

func (o Op) String() string {
	return opNames[o]
}

// Cond is a single column/operator/literal comparison.
type Cond struct {
	Col Column
	Op  Op
	Num float64
	Str string
}

func (c Cond) String() string {
	switch c.Col {
	case ColIdentity:
		return fmt.Sprintf("%s %s 0x%s", c.Col, c.Op, c.Str)
	case ColKind:
		return fmt.Sprintf("%s %s '%s'", c.Col, c.Op, c.Str)
	}
	return fmt.Sprintf("%s %s %s", c.Col, c.Op, formatNum(c.Num))
}

// Filter is a compiled, immutable predicate over one table.
type Filter struct {
	Table model.Table
	Conds []Cond
}

// String renders the filter in canonical query form.
func (f *Filter) String() string {
	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(f.Table.String())
	for i, c := range f.Conds {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(c.String())
	}
	return b.String()
}

// Unfiltered reports whether the filter matches every row of its table.
func (f *Filter) Unfiltered() bool {
	return len(f.Conds) == 0
}

// Match reports whether row satisfies every condition. A nil row never matches.
func (f *Filter) Match(row model.Row) bool {
	if row == nil || row.Table() != f.Table {
		return false
	}
	for _, c := range f.Conds {
		if !c.match(row) {
			return false
		}
	}
	return true
}

// Bounds returns the rectangle implied by the x/y conditions.
// ok is false when either axis is unbounded.
func (f *Filter) Bounds() (r model.Rect, ok bool) {
	var haveMinX, haveMaxX, haveMinY, haveMaxY bool
	for _, c := range f.Conds {
		switch {
		case c.Col == ColX && (c.Op == OpGE || c.Op == OpGT):
			r.MinX, haveMinX = c.Num, true
		case c.Col == ColX && (c.Op == OpLE || c.Op == OpLT):
			r.MaxX, haveMaxX = c.Num, true
		case c.Col == ColY && (c.Op == OpGE || c.Op == OpGT):
			r.MinY, haveMinY = c.Num, true
		case c.Col == ColY && (c.Op == OpLE || c.Op == OpLT):
			r.MaxY, haveMaxY = c.Num, true
		case c.Col == ColX && c.Op == OpEQ:
			r.MinX, r.MaxX, haveMinX, haveMaxX = c.Num, c.Num, true, true
		case c.Col == ColY && c.Op == OpEQ:
			r.MinY, r.MaxY, haveMinY, haveMaxY = c.Num, c.Num, true, true
		}
	}
	return r, haveMinX && haveMaxX && haveMinY && haveMaxY
}

func (c Cond) match(row model.Row) bool {
	switch c.Col {
	case ColX, ColY:
		loc, ok := row.(model.Locatable)
		if !ok {
			return false
		}
		p := loc.Location()
		v := p.X
		if c.Col == ColY {
			v = p.Y
		}
		return compareNum(v, c.Op, c.Num)
	case ColID:
		return compareNum(float64(row.Key().ID), c.Op, c.Num)
	case ColIdentity:
		var id model.Identity
		if loc, ok := row.(model.Locatable); ok {
			id = loc.OwnerIdentity()
		}
		return compareStr(string(id), c.Op, c.Str)
	case ColKind:
		return compareStr(kindOf(row), c.Op, c.Str)
	}
	return false
}

func kindOf(row model.Row) string {
	switch r := row.(type) {
	case *model.Entity:
		return r.Kind
	case *model.Route:
		return r.Kind
	case *model.Player:
		return "player"
	}
	return ""
}

func compareNum(v float64, op Op, lit float64) bool {
	switch op {
	case OpGE:
		return v >= lit
	case OpLE:
		return v <= lit
	case OpGT:
		return v > lit
	case OpLT:
		return v < lit
	case OpEQ:
		return v == lit
	case OpNE:
		return v != lit
	}
	return false
}

func compareStr(v string, op Op, lit string) bool {
	switch op {
	case OpEQ:
		return v == lit
	case OpNE:
		return v != lit
	}
	return false
}

func formatNum(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
