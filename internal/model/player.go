package model

import "time"

// Player is an authoritative player avatar row.
type Player struct {
	Identity   Identity    `json:"identity"`
	Name       string      `json:"name"`
	Position   Vec2        `json:"position"`
	State      EntityState `json:"state"`
	StateSince time.Time   `json:"state_since"`
	Facing     Facing      `json:"facing"`
	CurrentHP  float64     `json:"current_hp"`
	MaxHP      float64     `json:"max_hp"`
	Level      int32       `json:"level"`
	Experience int64       `json:"experience"`
	Online     bool        `json:"online"`
	Version    uint64      `json:"version"`
}

// NewPlayer returns an online player with full HP at pos.
func NewPlayer(id Identity, name string, pos Vec2, maxHP float64, now time.Time) *Player {
	return &Player{
		Identity:   id,
		Name:       name,
		Position:   pos,
		State:      StateIdle,
		StateSince: now,
		Facing:     FacingRight,
		CurrentHP:  maxHP,
		MaxHP:      maxHP,
		Level:      1,
		Online:     true,
	}
}

// Table implements Row.
func (p *Player) Table() Table { return TablePlayer }

// Key implements Row.
func (p *Player) Key() RowKey { return RowKey{Table: TablePlayer, Identity: p.Identity} }

// RowVersion implements Row.
func (p *Player) RowVersion() uint64 { return p.Version }

// SetRowVersion implements Versioned.
func (p *Player) SetRowVersion(v uint64) { p.Version = v }

// CloneRow implements Row.
func (p *Player) CloneRow() Row {
	c := *p
	return &c
}

// Location implements Locatable.
func (p *Player) Location() Vec2 { return p.Position }

// OwnerIdentity implements Locatable.
func (p *Player) OwnerIdentity() Identity { return p.Identity }

// IsDead reports whether the player has no HP left.
func (p *Player) IsDead() bool {
	return p.CurrentHP <= 0 || p.State == StateDead
}

// Targetable reports whether the player may be selected as an aggro target.
// Dead and offline players never are.
func (p *Player) Targetable() bool {
	return p.Online && !p.IsDead()
}
