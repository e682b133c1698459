// Package registry holds the client's local entity records: one per
// authoritative row currently visible to at least one observer window,
// plus records fading out after they left every window.
package registry

import (
	"log/slog"
	"slices"
	"time"

	"github.com/udisondev/realmsync/internal/mirror"
	"github.com/udisondev/realmsync/internal/model"
	"github.com/udisondev/realmsync/internal/reconcile"
	"github.com/udisondev/realmsync/internal/store"
	"github.com/udisondev/realmsync/internal/subscription"
	"github.com/udisondev/realmsync/internal/world"
)

// DefaultFade is the fade-out grace period of removed records.
const DefaultFade = 400 * time.Millisecond

// Record mirrors an authoritative row plus client-owned presentation state.
type Record struct {
	Key      model.RowKey
	Version  uint64
	Kind     string
	Name     string
	Position model.Vec2 // authoritative
	State    model.EntityState
	Since    time.Time // server time the current state was entered
	Facing   model.Facing
	HP       float64
	MaxHP    float64

	Track reconcile.Track
	Anim  mirror.State

	owners    map[model.Identity]struct{}
	fading    bool
	fadeStart time.Time
	last      model.Row
}

// View is the read-only triple exposed to the animation layer.
func (r *Record) View() (model.EntityState, model.Vec2, model.Facing) {
	return r.Anim.Render, r.Track.Rendered, r.Facing
}

// Fading reports whether the record is in its fade-out grace period.
func (r *Record) Fading() bool { return r.fading }

// OwnedBy reports whether observer currently sees the record.
func (r *Record) OwnedBy(observer model.Identity) bool {
	_, ok := r.owners[observer]
	return ok
}

// Owners returns the number of observers seeing the record.
func (r *Record) Owners() int { return len(r.owners) }

func (r *Record) merge(row model.Row) {
	r.Version = row.RowVersion()
	r.last = row
	switch v := row.(type) {
	case *model.Entity:
		r.Kind = v.Kind
		r.Position = v.Position
		r.State = v.State
		r.Since = v.StateSince
		r.Facing = v.Facing
		r.HP = v.CurrentHP
		r.MaxHP = v.MaxHP
	case *model.Player:
		r.Kind = "player"
		r.Name = v.Name
		r.Position = v.Position
		r.State = v.State
		r.Since = v.StateSince
		r.Facing = v.Facing
		r.HP = v.CurrentHP
		r.MaxHP = v.MaxHP
	}
}

// ChangeKind classifies what a diff did to the registry.
type ChangeKind uint8

const (
	ChangeNone ChangeKind = iota
	ChangeCreated
	ChangeUpdated
	ChangeFading
	ChangeRevived
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeNone:
		return "none"
	case ChangeCreated:
		return "created"
	case ChangeUpdated:
		return "updated"
	case ChangeFading:
		return "fading"
	case ChangeRevived:
		return "revived"
	}
	return "unknown"
}

// Change is the outcome of applying one diff.
type Change struct {
	Kind         ChangeKind
	Record       *Record
	PrevState    model.EntityState
	StateChanged bool
	// StateReentered is set when the state name is unchanged but the server
	// entered it again, e.g. a second attack or a repeated hit.
	StateReentered  bool
	PositionChanged bool
}

// Registry maps row keys to records. Not safe for concurrent use; it is
// driven from the client frame loop.
//
// Window queries are squares while windows are circles. Rows a window
// delivers outside its circle are kept as hidden candidates of that
// observer and become records once a window change brings them inside.
type Registry struct {
	records    map[model.RowKey]*Record
	windows    map[model.Identity]subscription.Event
	candidates map[model.Identity]map[model.RowKey]model.Row
	promoted   []Change
	fade       time.Duration
	logger     *slog.Logger
	debug      bool
}

// New creates a registry. A non-positive fade uses DefaultFade.
func New(fade time.Duration, logger *slog.Logger, debug bool) *Registry {
	if fade <= 0 {
		fade = DefaultFade
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		records:    make(map[model.RowKey]*Record, 256),
		windows:    make(map[model.Identity]subscription.Event),
		candidates: make(map[model.Identity]map[model.RowKey]model.Row),
		fade:       fade,
		logger:     logger,
		debug:      debug,
	}
}

// Apply dispatches one diff received by observer's window.
func (r *Registry) Apply(observer model.Identity, d store.Diff, now time.Time) Change {
	switch d.Op {
	case store.OpInsert:
		return r.Insert(observer, d.New, now)
	case store.OpUpdate:
		return r.Update(observer, d.New, now)
	case store.OpDelete:
		return r.Delete(observer, d.Old, now)
	}
	return Change{}
}

// Insert records row as visible to observer. A known row only gains the
// owner (and is revived if fading); newer data is merged.
func (r *Registry) Insert(observer model.Identity, row model.Row, now time.Time) Change {
	if !r.inWindow(observer, row) {
		r.hide(observer, row)
		if rec, ok := r.records[row.Key()]; ok {
			return r.release(rec, observer, now)
		}
		return Change{}
	}
	r.unhide(observer, row.Key())

	rec, ok := r.records[row.Key()]
	if !ok {
		rec = &Record{Key: row.Key(), owners: make(map[model.Identity]struct{}, 1)}
		rec.merge(row)
		rec.owners[observer] = struct{}{}
		r.records[rec.Key] = rec
		if r.debug {
			r.logger.Debug("record created", "key", rec.Key, "observer", observer.Short())
		}
		return Change{Kind: ChangeCreated, Record: rec, PrevState: rec.State, StateChanged: true, PositionChanged: true}
	}

	rec.owners[observer] = struct{}{}
	ch := r.mergeNewer(rec, row)
	if rec.fading {
		rec.fading = false
		rec.fadeStart = time.Time{}
		ch.Kind = ChangeRevived
	}
	return ch
}

// Update merges a newer version of row. Stale or duplicate versions are
// no-ops. An update for an unknown row is treated as an insert.
func (r *Registry) Update(observer model.Identity, row model.Row, now time.Time) Change {
	rec, ok := r.records[row.Key()]
	if !ok || !rec.OwnedBy(observer) || rec.fading {
		return r.Insert(observer, row, now)
	}
	if !r.inWindow(observer, row) {
		r.hide(observer, row)
		return r.release(rec, observer, now)
	}
	return r.mergeNewer(rec, row)
}

func (r *Registry) mergeNewer(rec *Record, row model.Row) Change {
	if row.RowVersion() <= rec.Version {
		return Change{Kind: ChangeNone, Record: rec, PrevState: rec.State}
	}
	prevState, prevSince, prevPos := rec.State, rec.Since, rec.Position
	rec.merge(row)
	return Change{
		Kind:            ChangeUpdated,
		Record:          rec,
		PrevState:       prevState,
		StateChanged:    prevState != rec.State,
		StateReentered:  prevState == rec.State && !prevSince.Equal(rec.Since),
		PositionChanged: prevPos != rec.Position,
	}
}

// Delete removes observer's ownership of row. The record starts fading
// once no observer owns it.
func (r *Registry) Delete(observer model.Identity, row model.Row, now time.Time) Change {
	r.unhide(observer, row.Key())
	rec, ok := r.records[row.Key()]
	if !ok {
		return Change{}
	}
	return r.release(rec, observer, now)
}

func (r *Registry) release(rec *Record, observer model.Identity, now time.Time) Change {
	if _, ok := rec.owners[observer]; !ok {
		return Change{Kind: ChangeNone, Record: rec, PrevState: rec.State}
	}
	delete(rec.owners, observer)
	if len(rec.owners) > 0 || rec.fading {
		return Change{Kind: ChangeNone, Record: rec, PrevState: rec.State}
	}
	rec.fading = true
	rec.fadeStart = now
	return Change{Kind: ChangeFading, Record: rec, PrevState: rec.State}
}

// OnWindowChanged is the subscription.Listener of observer windows. Records
// the observer owns but that lie outside the new window are released and
// kept as candidates; candidates now inside the window become records.
// The resulting changes are collected for TakePromoted.
func (r *Registry) OnWindowChanged(ev subscription.Event) {
	r.windows[ev.Observer] = ev
	released := 0
	for _, k := range r.Keys() {
		rec := r.records[k]
		if rec.OwnedBy(ev.Observer) && !ev.Contains(rec.Position) {
			r.hide(ev.Observer, rec.last)
			r.release(rec, ev.Observer, ev.At)
			released++
		}
	}

	hidden := r.candidates[ev.Observer]
	keys := make([]model.RowKey, 0, len(hidden))
	for k, row := range hidden {
		if loc, ok := row.(model.Locatable); ok && ev.Contains(loc.Location()) {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, world.CompareKeys)
	for _, k := range keys {
		if ch := r.Insert(ev.Observer, hidden[k], ev.At); ch.Kind != ChangeNone {
			r.promoted = append(r.promoted, ch)
		}
	}

	if r.debug {
		r.logger.Debug("window changed",
			"observer", ev.Observer.Short(),
			"center", ev.Center,
			"filtered", ev.Filtered,
			"released", released,
			"promoted", len(keys))
	}
}

// TakePromoted returns and clears the changes made by window changes since
// the last call.
func (r *Registry) TakePromoted() []Change {
	out := r.promoted
	r.promoted = nil
	return out
}

// Hidden returns the number of candidate rows held for observer.
func (r *Registry) Hidden(observer model.Identity) int {
	return len(r.candidates[observer])
}

func (r *Registry) hide(observer model.Identity, row model.Row) {
	if row == nil {
		return
	}
	m := r.candidates[observer]
	if m == nil {
		m = make(map[model.RowKey]model.Row)
		r.candidates[observer] = m
	}
	if old, ok := m[row.Key()]; ok && old.RowVersion() > row.RowVersion() {
		return
	}
	m[row.Key()] = row
}

func (r *Registry) unhide(observer model.Identity, key model.RowKey) {
	if m := r.candidates[observer]; m != nil {
		delete(m, key)
	}
}

// CloseObserver forgets observer's window and releases every record it
// owned. Records it owned alone start fading.
func (r *Registry) CloseObserver(observer model.Identity, now time.Time) int {
	delete(r.windows, observer)
	delete(r.candidates, observer)
	released := 0
	for _, rec := range r.records {
		if ch := r.release(rec, observer, now); ch.Kind == ChangeFading {
			released++
		}
	}
	return released
}

// Sweep drops records whose fade-out elapsed and returns their keys.
func (r *Registry) Sweep(now time.Time) []model.RowKey {
	var removed []model.RowKey
	for key, rec := range r.records {
		if rec.fading && now.Sub(rec.fadeStart) >= r.fade {
			delete(r.records, key)
			removed = append(removed, key)
		}
	}
	slices.SortFunc(removed, world.CompareKeys)
	return removed
}

// Get returns the record for key.
func (r *Registry) Get(key model.RowKey) (*Record, bool) {
	rec, ok := r.records[key]
	return rec, ok
}

// Len returns the number of records, fading ones included.
func (r *Registry) Len() int { return len(r.records) }

// Keys returns every record key in order.
func (r *Registry) Keys() []model.RowKey {
	keys := make([]model.RowKey, 0, len(r.records))
	for k := range r.records {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, world.CompareKeys)
	return keys
}

// Each calls fn for every record in key order.
func (r *Registry) Each(fn func(*Record)) {
	for _, k := range r.Keys() {
		fn(r.records[k])
	}
}

// inWindow reports whether row lies in observer's last known window.
// Rows are accepted while no window is known.
func (r *Registry) inWindow(observer model.Identity, row model.Row) bool {
	ev, ok := r.windows[observer]
	if !ok {
		return true
	}
	loc, ok := row.(model.Locatable)
	if !ok {
		return true
	}
	return ev.Contains(loc.Location())
}
