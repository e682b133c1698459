package store

import (
	"fmt"
	"slices"

	"github.com/udisondev/realmsync/internal/model"
	"github.com/udisondev/realmsync/internal/world"
)

type write struct {
	before model.Row // committed row, nil if the row did not exist
	after  model.Row // staged row, nil if deleted
}

// Tx is a transaction over the store. Reads see the transaction's own
// staged writes. Values returned by accessors are copies; write them back
// with the Update* methods.
//
// A Tx is only valid inside the Update/View callback that received it.
type Tx struct {
	s        *Store
	readOnly bool
	writes   map[model.RowKey]*write
	order    []model.RowKey
}

func newTx(s *Store, readOnly bool) *Tx {
	return &Tx{s: s, readOnly: readOnly, writes: make(map[model.RowKey]*write)}
}

func (tx *Tx) get(key model.RowKey) (model.Row, bool) {
	if w, ok := tx.writes[key]; ok {
		return w.after, w.after != nil
	}
	row, ok := tx.s.rows[key.Table][key]
	return row, ok
}

func (tx *Tx) stage(key model.RowKey, after model.Row) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	w, ok := tx.writes[key]
	if !ok {
		w = &write{before: tx.s.rows[key.Table][key]}
		tx.writes[key] = w
		tx.order = append(tx.order, key)
	}
	w.after = after
	return nil
}

// keys returns the keys of table visible to this transaction, ordered.
func (tx *Tx) keys(table model.Table) []model.RowKey {
	keys := make([]model.RowKey, 0, len(tx.s.rows[table]))
	for k := range tx.s.rows[table] {
		if w, ok := tx.writes[k]; ok && w.after == nil {
			continue
		}
		keys = append(keys, k)
	}
	for _, k := range tx.order {
		if k.Table != table {
			continue
		}
		w := tx.writes[k]
		if w.before == nil && w.after != nil {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, world.CompareKeys)
	return keys
}

func (tx *Tx) allocID(table model.Table) uint64 {
	id := tx.s.nextID[table]
	tx.s.nextID[table] = id + 1
	return id
}

func (tx *Tx) checkVersion(key model.RowKey, version uint64) (model.Row, error) {
	cur, ok := tx.get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if cur.RowVersion() != version {
		return nil, fmt.Errorf("%w: %s has version %d, write carries %d", ErrStaleVersion, key, cur.RowVersion(), version)
	}
	return cur, nil
}

// Entity returns a copy of entity id.
func (tx *Tx) Entity(id uint64) (model.Entity, bool) {
	row, ok := tx.get(model.RowKey{Table: model.TableEntity, ID: id})
	if !ok {
		return model.Entity{}, false
	}
	return *row.(*model.Entity), true
}

// Entities returns copies of every entity ordered by ID.
func (tx *Tx) Entities() []model.Entity {
	keys := tx.keys(model.TableEntity)
	out := make([]model.Entity, 0, len(keys))
	for _, k := range keys {
		row, _ := tx.get(k)
		out = append(out, *row.(*model.Entity))
	}
	return out
}

// EntitiesIn returns copies of the entities positioned inside r, ordered by ID.
func (tx *Tx) EntitiesIn(r model.Rect) []model.Entity {
	seen := make(map[model.RowKey]struct{}, 32)
	tx.s.index.Query(r, func(k model.RowKey, _ model.Vec2) bool {
		if k.Table == model.TableEntity {
			seen[k] = struct{}{}
		}
		return true
	})
	for _, k := range tx.order {
		if k.Table == model.TableEntity {
			seen[k] = struct{}{}
		}
	}

	keys := make([]model.RowKey, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, world.CompareKeys)

	out := make([]model.Entity, 0, len(keys))
	for _, k := range keys {
		row, ok := tx.get(k)
		if !ok {
			continue
		}
		e := row.(*model.Entity)
		if r.Contains(e.Position) {
			out = append(out, *e)
		}
	}
	return out
}

// InsertEntity stores e under a freshly assigned ID and returns the stored copy.
// IDs are never reused.
func (tx *Tx) InsertEntity(e model.Entity) (model.Entity, error) {
	if tx.readOnly {
		return model.Entity{}, ErrReadOnly
	}
	if !e.Position.IsFinite() || !e.State.Valid() {
		return model.Entity{}, fmt.Errorf("%w: entity %+v", ErrInvalidRow, e)
	}
	e.ID = tx.allocID(model.TableEntity)
	e.Version = 0
	if err := tx.stage(e.Key(), e.CloneRow()); err != nil {
		return model.Entity{}, err
	}
	return e, nil
}

// UpdateEntity replaces an existing entity. The version carried by e must
// match the stored one.
func (tx *Tx) UpdateEntity(e model.Entity) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	if !e.Position.IsFinite() || !e.State.Valid() {
		return fmt.Errorf("%w: entity %d", ErrInvalidRow, e.ID)
	}
	if _, err := tx.checkVersion(e.Key(), e.Version); err != nil {
		return err
	}
	return tx.stage(e.Key(), e.CloneRow())
}

// DeleteEntity removes entity id.
func (tx *Tx) DeleteEntity(id uint64) error {
	key := model.RowKey{Table: model.TableEntity, ID: id}
	if _, ok := tx.get(key); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return tx.stage(key, nil)
}

// Player returns a copy of player id.
func (tx *Tx) Player(id model.Identity) (model.Player, bool) {
	row, ok := tx.get(model.RowKey{Table: model.TablePlayer, Identity: id})
	if !ok {
		return model.Player{}, false
	}
	return *row.(*model.Player), true
}

// Players returns copies of every player ordered by identity.
func (tx *Tx) Players() []model.Player {
	keys := tx.keys(model.TablePlayer)
	out := make([]model.Player, 0, len(keys))
	for _, k := range keys {
		row, _ := tx.get(k)
		out = append(out, *row.(*model.Player))
	}
	return out
}

// InsertPlayer stores a new player row.
func (tx *Tx) InsertPlayer(p model.Player) (model.Player, error) {
	if tx.readOnly {
		return model.Player{}, ErrReadOnly
	}
	id, err := model.ParseIdentity(string(p.Identity))
	if err != nil {
		return model.Player{}, fmt.Errorf("%w: %v", ErrInvalidRow, err)
	}
	p.Identity = id
	if !p.Position.IsFinite() || !p.State.Valid() {
		return model.Player{}, fmt.Errorf("%w: player %s", ErrInvalidRow, id.Short())
	}
	if _, ok := tx.get(p.Key()); ok {
		return model.Player{}, fmt.Errorf("%w: %s", ErrExists, p.Key())
	}
	p.Version = 0
	if err := tx.stage(p.Key(), p.CloneRow()); err != nil {
		return model.Player{}, err
	}
	return p, nil
}

// UpdatePlayer replaces an existing player (version-checked).
func (tx *Tx) UpdatePlayer(p model.Player) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	if !p.Position.IsFinite() || !p.State.Valid() {
		return fmt.Errorf("%w: player %s", ErrInvalidRow, p.Identity.Short())
	}
	if _, err := tx.checkVersion(p.Key(), p.Version); err != nil {
		return err
	}
	return tx.stage(p.Key(), p.CloneRow())
}

// DeletePlayer removes player id.
func (tx *Tx) DeletePlayer(id model.Identity) error {
	key := model.RowKey{Table: model.TablePlayer, Identity: id}
	if _, ok := tx.get(key); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return tx.stage(key, nil)
}

// Route returns a copy of route id.
func (tx *Tx) Route(id uint64) (model.Route, bool) {
	row, ok := tx.get(model.RowKey{Table: model.TableRoute, ID: id})
	if !ok {
		return model.Route{}, false
	}
	return *row.(*model.Route), true
}

// Routes returns copies of every route ordered by ID.
func (tx *Tx) Routes() []model.Route {
	keys := tx.keys(model.TableRoute)
	out := make([]model.Route, 0, len(keys))
	for _, k := range keys {
		row, _ := tx.get(k)
		out = append(out, *row.(*model.Route))
	}
	return out
}

// InsertRoute stores a route. A zero ID is assigned by the store; an
// explicit ID (loaded from configuration or the database) is kept.
func (tx *Tx) InsertRoute(r model.Route) (model.Route, error) {
	if tx.readOnly {
		return model.Route{}, ErrReadOnly
	}
	if !r.SpawnArea.Valid() || r.MaxCount < 0 || r.SpawnInterval < 0 {
		return model.Route{}, fmt.Errorf("%w: route %d", ErrInvalidRow, r.ID)
	}
	if r.ID == 0 {
		r.ID = tx.allocID(model.TableRoute)
	} else if r.ID >= tx.s.nextID[model.TableRoute] {
		tx.s.nextID[model.TableRoute] = r.ID + 1
	}
	if _, ok := tx.get(r.Key()); ok {
		return model.Route{}, fmt.Errorf("%w: %s", ErrExists, r.Key())
	}
	r.Version = 0
	if err := tx.stage(r.Key(), r.CloneRow()); err != nil {
		return model.Route{}, err
	}
	return r, nil
}

// UpdateRoute replaces an existing route (version-checked).
func (tx *Tx) UpdateRoute(r model.Route) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	if _, err := tx.checkVersion(r.Key(), r.Version); err != nil {
		return err
	}
	return tx.stage(r.Key(), r.CloneRow())
}

// InsertDamage appends a damage event and returns it with its ID.
func (tx *Tx) InsertDamage(d model.DamageEvent) (model.DamageEvent, error) {
	if tx.readOnly {
		return model.DamageEvent{}, ErrReadOnly
	}
	d.ID = tx.allocID(model.TableDamage)
	d.Version = 0
	if err := tx.stage(d.Key(), d.CloneRow()); err != nil {
		return model.DamageEvent{}, err
	}
	return d, nil
}

// DamageFor returns the damage log of an entity in insertion order.
func (tx *Tx) DamageFor(entityID uint64) []model.DamageEvent {
	var out []model.DamageEvent
	for _, k := range tx.keys(model.TableDamage) {
		row, _ := tx.get(k)
		if d := row.(*model.DamageEvent); d.EntityID == entityID {
			out = append(out, *d)
		}
	}
	return out
}

// DeleteDamageFor removes the damage log of an entity and returns how
// many events were dropped.
func (tx *Tx) DeleteDamageFor(entityID uint64) (int, error) {
	events := tx.DamageFor(entityID)
	for _, d := range events {
		if err := tx.stage(d.Key(), nil); err != nil {
			return 0, err
		}
	}
	return len(events), nil
}
