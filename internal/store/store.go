// Package store is the authoritative world store: canonical rows, single
// writer transactions and filtered subscriptions that receive
// insert/update/delete diffs for the rows their filter matches.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/udisondev/realmsync/internal/model"
	"github.com/udisondev/realmsync/internal/query"
	"github.com/udisondev/realmsync/internal/world"
)

var (
	ErrNotFound     = errors.New("row not found")
	ErrExists       = errors.New("row already exists")
	ErrStaleVersion = errors.New("stale row version")
	ErrReadOnly     = errors.New("write in read-only transaction")
	ErrClosed       = errors.New("subscription closed")
	ErrInvalidRow   = errors.New("invalid row")
)

// Options configures a Store.
type Options struct {
	// CellSize of the spatial index (0 = world.DefaultCellSize).
	CellSize float64
	// Filters caches compiled subscription queries. Nil parses every time.
	Filters *query.Cache
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Debug enables per-transaction debug logging.
	Debug bool
}

// Stats are cumulative store counters.
type Stats struct {
	Commits uint64
	Aborts  uint64
	Diffs   uint64
	Rows    int
	Subs    int
}

// Store holds canonical rows. All mutations go through Update, which runs
// one transaction at a time; readers use View.
type Store struct {
	mu sync.Mutex // single writer, also guards readers

	// deliverMu serializes diff delivery across transactions. It is taken
	// before mu is released so subscribers observe commits in order.
	deliverMu sync.Mutex

	rows   map[model.Table]map[model.RowKey]model.Row
	index  *world.Index
	nextID map[model.Table]uint64
	subs   map[uint64]*Subscription
	subSeq uint64

	filters *query.Cache
	logger  *slog.Logger
	debug   bool

	commits atomic.Uint64
	aborts  atomic.Uint64
	diffs   atomic.Uint64
}

// New creates an empty store.
func New(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		rows:    make(map[model.Table]map[model.RowKey]model.Row, 4),
		index:   world.NewIndex(opts.CellSize),
		nextID:  make(map[model.Table]uint64, 4),
		subs:    make(map[uint64]*Subscription),
		filters: opts.Filters,
		logger:  logger,
		debug:   opts.Debug,
	}
	for _, t := range []model.Table{model.TableEntity, model.TablePlayer, model.TableRoute, model.TableDamage} {
		s.rows[t] = make(map[model.RowKey]model.Row, 256)
		s.nextID[t] = 1
	}
	return s
}

// Update runs fn as a single-writer transaction. When fn returns an error
// every staged write is discarded. On success the writes become visible
// atomically, every written row gets its version bumped and diffs are
// delivered to matching subscriptions before Update returns.
func (s *Store) Update(ctx context.Context, name string, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	batches, err := s.commitLocked(name, fn)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		return nil
	}
	defer s.deliverMu.Unlock()
	s.deliver(batches)
	return nil
}

// View runs fn against a consistent read-only snapshot.
func (s *Store) View(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(newTx(s, true))
}

// SubscriberCount returns the number of live subscriptions.
func (s *Store) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	rows := 0
	for _, t := range s.rows {
		rows += len(t)
	}
	subs := len(s.subs)
	s.mu.Unlock()

	return Stats{
		Commits: s.commits.Load(),
		Aborts:  s.aborts.Load(),
		Diffs:   s.diffs.Load(),
		Rows:    rows,
		Subs:    subs,
	}
}

// commitLocked runs fn under the write lock and applies its writes.
// On success with pending deliveries it returns holding deliverMu.
func (s *Store) commitLocked(name string, fn func(tx *Tx) error) (batches []batch, err error) {
	s.mu.Lock()
	locked := true
	defer func() {
		if locked {
			s.mu.Unlock()
		}
	}()

	tx := newTx(s, false)
	if err := fn(tx); err != nil {
		s.aborts.Add(1)
		if s.debug {
			s.logger.Debug("transaction aborted", "tx", name, "error", err)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	diffs := s.apply(tx)
	s.commits.Add(1)
	if s.debug && len(diffs) > 0 {
		s.logger.Debug("transaction committed", "tx", name, "diffs", len(diffs))
	}
	if len(diffs) == 0 {
		return nil, nil
	}

	batches = s.route(diffs)
	if len(batches) == 0 {
		return nil, nil
	}
	s.deliverMu.Lock()
	s.mu.Unlock()
	locked = false
	return batches, nil
}

// apply writes the staged rows into the tables in first-touch order and
// returns the coalesced diffs.
func (s *Store) apply(tx *Tx) []Diff {
	diffs := make([]Diff, 0, len(tx.order))

	for _, key := range tx.order {
		w := tx.writes[key]
		table := s.rows[key.Table]

		switch {
		case w.before == nil && w.after == nil:
			// inserted and deleted inside the same transaction

		case w.before == nil:
			w.after.(model.Versioned).SetRowVersion(1)
			table[key] = w.after
			s.indexPut(w.after)
			diffs = append(diffs, Diff{Op: OpInsert, Table: key.Table, New: w.after.CloneRow()})

		case w.after == nil:
			delete(table, key)
			s.index.Remove(key)
			diffs = append(diffs, Diff{Op: OpDelete, Table: key.Table, Old: w.before})

		default:
			if reflect.DeepEqual(w.before, w.after) {
				continue
			}
			w.after.(model.Versioned).SetRowVersion(w.before.RowVersion() + 1)
			table[key] = w.after
			s.indexPut(w.after)
			diffs = append(diffs, Diff{Op: OpUpdate, Table: key.Table, Old: w.before, New: w.after.CloneRow()})
		}
	}

	s.diffs.Add(uint64(len(diffs)))
	return diffs
}

func (s *Store) indexPut(row model.Row) {
	if loc, ok := row.(model.Locatable); ok {
		s.index.Put(row.Key(), loc.Location())
	}
}

type batch struct {
	sub   *Subscription
	diffs []Diff
}

// route computes, per subscription, the diffs its filter sees. A row that
// matched before but not after is delivered as a delete, and vice versa.
func (s *Store) route(diffs []Diff) []batch {
	if len(s.subs) == 0 {
		return nil
	}

	ids := make([]uint64, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	batches := make([]batch, 0, len(ids))
	for _, id := range ids {
		sub := s.subs[id]
		f := sub.filter
		var out []Diff

		for _, d := range diffs {
			if d.Table != f.Table {
				continue
			}
			was := d.Old != nil && f.Match(d.Old)
			is := d.New != nil && f.Match(d.New)
			switch {
			case was && is:
				out = append(out, Diff{Op: OpUpdate, Table: d.Table, Old: d.Old, New: d.New})
			case is:
				out = append(out, Diff{Op: OpInsert, Table: d.Table, New: d.New})
			case was:
				out = append(out, Diff{Op: OpDelete, Table: d.Table, Old: d.Old})
			}
		}
		if len(out) > 0 {
			batches = append(batches, batch{sub: sub, diffs: out})
		}
	}
	return batches
}

// deliver runs handlers. Caller holds deliverMu.
func (s *Store) deliver(batches []batch) {
	for _, b := range batches {
		for _, d := range b.diffs {
			if b.sub.closed.Load() {
				break
			}
			Dispatch(b.sub.handler, d)
		}
	}
}

// matchSet returns the rows matching f, ordered by key. Caller holds mu.
func (s *Store) matchSet(f *query.Filter) []model.Row {
	var keys []model.RowKey

	if r, ok := f.Bounds(); ok && (f.Table == model.TableEntity || f.Table == model.TablePlayer) {
		s.index.Query(r, func(k model.RowKey, _ model.Vec2) bool {
			if k.Table == f.Table {
				keys = append(keys, k)
			}
			return true
		})
	} else {
		for k := range s.rows[f.Table] {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, world.CompareKeys)

	rows := make([]model.Row, 0, len(keys))
	for _, k := range keys {
		row, ok := s.rows[f.Table][k]
		if !ok || !f.Match(row) {
			continue
		}
		rows = append(rows, row.CloneRow())
	}
	return rows
}

func (s *Store) compile(text string) (*query.Filter, error) {
	if s.filters != nil {
		return s.filters.Compile(text)
	}
	return query.Parse(text)
}
