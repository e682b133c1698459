package client

import (
	"sync"

	"github.com/udisondev/realmsync/internal/model"
	"github.com/udisondev/realmsync/internal/store"
)

// Envelope is a diff tagged with the observer whose window received it.
type Envelope struct {
	Observer model.Identity
	Diff     store.Diff
}

// Inbox buffers diffs delivered asynchronously until the next frame.
// Push never blocks on I/O.
type Inbox struct {
	mu    sync.Mutex
	items []Envelope
	spare []Envelope
}

// Push appends one diff.
func (b *Inbox) Push(e Envelope) {
	b.mu.Lock()
	b.items = append(b.items, e)
	b.mu.Unlock()
}

// Drain returns every buffered diff in arrival order. The returned slice
// is valid until the next Drain.
func (b *Inbox) Drain() []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = b.spare[:0]
	b.spare = out
	return out
}

// Len returns the number of buffered diffs.
func (b *Inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Handler returns a store.Handler that queues diffs for observer.
func (b *Inbox) Handler(observer model.Identity) store.Handler {
	return store.HandlerFuncs{
		Insert: func(row model.Row) {
			b.Push(Envelope{Observer: observer, Diff: store.Diff{Op: store.OpInsert, Table: row.Table(), New: row}})
		},
		Update: func(oldRow, newRow model.Row) {
			b.Push(Envelope{Observer: observer, Diff: store.Diff{Op: store.OpUpdate, Table: newRow.Table(), Old: oldRow, New: newRow}})
		},
		Delete: func(row model.Row) {
			b.Push(Envelope{Observer: observer, Diff: store.Diff{Op: store.OpDelete, Table: row.Table(), Old: row}})
		},
	}
}
