package store

import (
	"slices"
	"sync/atomic"

	"github.com/udisondev/realmsync/internal/model"
	"github.com/udisondev/realmsync/internal/query"
	"github.com/udisondev/realmsync/internal/world"
)

// Subscription is a live filtered query. Created by Store.Subscribe.
type Subscription struct {
	id      uint64
	store   *Store
	handler Handler
	filter  *query.Filter // guarded by store.mu
	closed  atomic.Bool
}

// Subscribe compiles text into a filter, registers h and delivers a
// synthetic insert for every row in the initial match set before
// returning. Compile errors are returned without registering anything.
func (s *Store) Subscribe(text string, h Handler) (*Subscription, error) {
	f, err := s.compile(text)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.subSeq++
	sub := &Subscription{id: s.subSeq, store: s, handler: h, filter: f}
	s.subs[sub.id] = sub
	initial := s.matchSet(f)

	s.deliverMu.Lock()
	s.mu.Unlock()
	defer s.deliverMu.Unlock()

	s.logger.Debug("subscription opened", "sub", sub.id, "query", f.String(), "rows", len(initial))

	for _, row := range initial {
		if sub.closed.Load() {
			break
		}
		h.OnInsert(row)
	}
	return sub, nil
}

// ID returns the subscription id.
func (sub *Subscription) ID() uint64 {
	return sub.id
}

// Query returns the canonical text of the current filter.
func (sub *Subscription) Query() string {
	sub.store.mu.Lock()
	defer sub.store.mu.Unlock()
	return sub.filter.String()
}

// Replace swaps the filter atomically. Rows that leave the match set are
// delivered as deletes, rows that enter it as inserts; rows matched by both
// filters produce nothing. On a compile error the old filter stays active.
func (sub *Subscription) Replace(text string) error {
	s := sub.store
	f, err := s.compile(text)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if sub.closed.Load() {
		s.mu.Unlock()
		return ErrClosed
	}
	before := s.matchSet(sub.filter)
	after := s.matchSet(f)
	sub.filter = f

	s.deliverMu.Lock()
	s.mu.Unlock()
	defer s.deliverMu.Unlock()

	entered, left := diffSets(before, after)
	s.logger.Debug("subscription replaced",
		"sub", sub.id,
		"query", f.String(),
		"entered", len(entered),
		"left", len(left))

	for _, row := range left {
		if sub.closed.Load() {
			return nil
		}
		sub.handler.OnDelete(row)
	}
	for _, row := range entered {
		if sub.closed.Load() {
			return nil
		}
		sub.handler.OnInsert(row)
	}
	return nil
}

// Close stops delivery. After Close returns no handler call for this
// subscription is in flight or will start. Idempotent.
func (sub *Subscription) Close() error {
	if !sub.closed.CompareAndSwap(false, true) {
		return nil
	}
	s := sub.store
	s.mu.Lock()
	delete(s.subs, sub.id)
	s.mu.Unlock()

	// Barrier: wait for an in-flight delivery to observe the closed flag.
	s.deliverMu.Lock()
	s.deliverMu.Unlock() //nolint:staticcheck // empty critical section is the barrier

	s.logger.Debug("subscription closed", "sub", sub.id)
	return nil
}

// Closed reports whether Close was called.
func (sub *Subscription) Closed() bool {
	return sub.closed.Load()
}

// diffSets returns rows only in after (entered) and only in before (left),
// both ordered by key.
func diffSets(before, after []model.Row) (entered, left []model.Row) {
	inBefore := make(map[model.RowKey]struct{}, len(before))
	for _, r := range before {
		inBefore[r.Key()] = struct{}{}
	}
	inAfter := make(map[model.RowKey]struct{}, len(after))
	for _, r := range after {
		inAfter[r.Key()] = struct{}{}
		if _, ok := inBefore[r.Key()]; !ok {
			entered = append(entered, r)
		}
	}
	for _, r := range before {
		if _, ok := inAfter[r.Key()]; !ok {
			left = append(left, r)
		}
	}
	byKey := func(a, b model.Row) int { return world.CompareKeys(a.Key(), b.Key()) }
	slices.SortFunc(entered, byKey)
	slices.SortFunc(left, byKey)
	return entered, left
}
