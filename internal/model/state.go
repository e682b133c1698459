package model

import (
	"fmt"
	"strings"
)

// EntityState is the discrete state every entity and player avatar obeys.
type EntityState uint8

const (
	StateIdle EntityState = iota
	StateWalk
	StateDamaged
	StateAttack1
	StateAttack2
	StateAttack3
	StateDead
)

// MaxAttacks is the number of attack slots (Attack1..Attack3).
const MaxAttacks = 3

var stateNames = [...]string{
	StateIdle:    "Idle",
	StateWalk:    "Walk",
	StateDamaged: "Damaged",
	StateAttack1: "Attack1",
	StateAttack2: "Attack2",
	StateAttack3: "Attack3",
	StateDead:    "Dead",
}

// String returns the wire name of the state.
func (s EntityState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("EntityState(%d)", s)
}

// Valid reports whether s is one of the closed set of states.
func (s EntityState) Valid() bool {
	return s <= StateDead
}

// IsAttack reports whether s is one of Attack1..Attack3.
func (s EntityState) IsAttack() bool {
	return s >= StateAttack1 && s <= StateAttack3
}

// AttackIndex returns the zero-based attack slot for an attack state, or -1.
func (s EntityState) AttackIndex() int {
	if !s.IsAttack() {
		return -1
	}
	return int(s - StateAttack1)
}

// AttackState returns the state for zero-based attack slot n.
func AttackState(n int) EntityState {
	if n < 0 || n >= MaxAttacks {
		panic(fmt.Sprintf("attack slot %d out of range", n))
	}
	return StateAttack1 + EntityState(n)
}

// ParseEntityState parses a wire name (case-insensitive).
func ParseEntityState(s string) (EntityState, error) {
	for i, name := range stateNames {
		if strings.EqualFold(name, s) {
			return EntityState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown entity state %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s EntityState) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid entity state %d", s)
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *EntityState) UnmarshalText(b []byte) error {
	v, err := ParseEntityState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Facing is the horizontal direction an avatar or creature looks at.
type Facing uint8

const (
	FacingRight Facing = iota
	FacingLeft
)

// String returns "left" or "right".
func (f Facing) String() string {
	if f == FacingLeft {
		return "left"
	}
	return "right"
}

// MarshalText implements encoding.TextMarshaler.
func (f Facing) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Facing) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "left":
		*f = FacingLeft
	case "right":
		*f = FacingRight
	default:
		return fmt.Errorf("unknown facing %q", b)
	}
	return nil
}

// FacingToward returns the facing that looks from `from` to `to`.
// Returns current when the points share the same X.
func FacingToward(from, to Vec2, current Facing) Facing {
	switch {
	case to.X > from.X:
		return FacingRight
	case to.X < from.X:
		return FacingLeft
	}
	return current
}

// FacingFor converts a patrol direction flag to a facing.
func FacingFor(movingRight bool) Facing {
	if movingRight {
		return FacingRight
	}
	return FacingLeft
}
