package model

import "time"

// DamageEvent records one hit on an entity. The log is scoped to the
// entity's lifetime and removed with it by cleanup.
type DamageEvent struct {
	ID       uint64    `json:"id"`
	EntityID uint64    `json:"entity_id"`
	Attacker Identity  `json:"attacker"`
	Amount   float64   `json:"amount"`
	At       time.Time `json:"at"`
	Version  uint64    `json:"version"`
}

// Table implements Row.
func (d *DamageEvent) Table() Table { return TableDamage }

// Key implements Row.
func (d *DamageEvent) Key() RowKey { return RowKey{Table: TableDamage, ID: d.ID} }

// RowVersion implements Row.
func (d *DamageEvent) RowVersion() uint64 { return d.Version }

// SetRowVersion implements Versioned.
func (d *DamageEvent) SetRowVersion(v uint64) { d.Version = v }

// CloneRow implements Row.
func (d *DamageEvent) CloneRow() Row {
	c := *d
	return &c
}
