package store

import "github.com/udisondev/realmsync/internal/model"

// Op is the kind of change a diff describes.
type Op uint8

const (
	OpInsert Op = iota + 1
	OpUpdate
	OpDelete
)

// String returns the wire name of the op.
func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Diff is one committed row change. Old is nil for inserts, New is nil for
// deletes. Rows carried by a diff are shared between subscribers and must
// be treated as read-only.
type Diff struct {
	Op    Op
	Table model.Table
	Old   model.Row
	New   model.Row
}

// Row returns the row the diff is about: New for insert/update, Old for delete.
func (d Diff) Row() model.Row {
	if d.New != nil {
		return d.New
	}
	return d.Old
}

// Handler receives diffs for one subscription. Callbacks run on the
// committing goroutine with delivery serialized across transactions; they
// must not block and must not call back into the Store or its
// subscriptions. Queue the diff and process it elsewhere.
type Handler interface {
	OnInsert(row model.Row)
	OnUpdate(oldRow, newRow model.Row)
	OnDelete(row model.Row)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Insert func(row model.Row)
	Update func(oldRow, newRow model.Row)
	Delete func(row model.Row)
}

// OnInsert implements Handler.
func (h HandlerFuncs) OnInsert(row model.Row) {
	if h.Insert != nil {
		h.Insert(row)
	}
}

// OnUpdate implements Handler.
func (h HandlerFuncs) OnUpdate(oldRow, newRow model.Row) {
	if h.Update != nil {
		h.Update(oldRow, newRow)
	}
}

// OnDelete implements Handler.
func (h HandlerFuncs) OnDelete(row model.Row) {
	if h.Delete != nil {
		h.Delete(row)
	}
}

// Dispatch calls the handler method matching d.Op.
func Dispatch(h Handler, d Diff) {
	switch d.Op {
	case OpInsert:
		h.OnInsert(d.New)
	case OpUpdate:
		h.OnUpdate(d.Old, d.New)
	case OpDelete:
		h.OnDelete(d.Old)
	}
}
