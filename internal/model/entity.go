package model

import "time"

// Entity is a server-simulated creature (regular enemy or boss).
// Position and State are written only by the server.
type Entity struct {
	ID             uint64                `json:"id"`
	RouteID        uint64                `json:"route_id"`
	Kind           string                `json:"kind"`
	Position       Vec2                  `json:"position"`
	State          EntityState           `json:"state"`
	StateSince     time.Time             `json:"state_since"`
	Facing         Facing                `json:"facing"`
	CurrentHP      float64               `json:"current_hp"`
	MaxHP          float64               `json:"max_hp"`
	AggroTarget    Identity              `json:"aggro_target,omitempty"`
	AggroStartTime time.Time             `json:"aggro_start_time"`
	LastUpdated    time.Time             `json:"last_updated"`
	MovingRight    bool                  `json:"moving_right"`
	AttackReadyAt  [MaxAttacks]time.Time `json:"-"`
	Version        uint64                `json:"version"`
}

// Table implements Row.
func (e *Entity) Table() Table { return TableEntity }

// Key implements Row.
func (e *Entity) Key() RowKey { return RowKey{Table: TableEntity, ID: e.ID} }

// RowVersion implements Row.
func (e *Entity) RowVersion() uint64 { return e.Version }

// SetRowVersion implements Versioned.
func (e *Entity) SetRowVersion(v uint64) { e.Version = v }

// CloneRow implements Row. Entity holds no reference fields.
func (e *Entity) CloneRow() Row {
	c := *e
	return &c
}

// Location implements Locatable.
func (e *Entity) Location() Vec2 { return e.Position }

// OwnerIdentity implements Locatable. Entities belong to nobody.
func (e *Entity) OwnerIdentity() Identity { return "" }

// IsDead reports whether the entity is in the terminal state.
func (e *Entity) IsDead() bool { return e.State == StateDead }

// HasAggro reports whether the entity is bound to a player.
func (e *Entity) HasAggro() bool { return !e.AggroTarget.IsZero() }

// ClearAggro drops the aggro binding.
func (e *Entity) ClearAggro() {
	e.AggroTarget = ""
	e.AggroStartTime = time.Time{}
}

// SetAggro binds the entity to target. An entity holds at most one target.
func (e *Entity) SetAggro(target Identity, now time.Time) {
	e.AggroTarget = target
	e.AggroStartTime = now
}

// HPConsistent reports the HP-death invariant: CurrentHP <= 0 ⇔ Dead.
func (e *Entity) HPConsistent() bool {
	return (e.CurrentHP <= 0) == (e.State == StateDead)
}
