package model

import "errors"

var (
	// ErrEntityDead is returned for any transition requested on a Dead row.
	ErrEntityDead = errors.New("entity is dead")
	// ErrIllegalTransition is returned when the edge is not part of the state graph.
	ErrIllegalTransition = errors.New("illegal state transition")
)

// CanTransition reports whether from → to is an edge of the state graph.
//
//	Dead            → nothing (terminal)
//	any non-Dead    → Damaged, Dead
//	Idle           ↔  Walk
//	Idle, Walk      → Attack1..3
//	Attack1..3      → Idle
//	Damaged         → Idle
//
// Self-loops on non-Dead states are accepted as idempotent writes.
func CanTransition(from, to EntityState) bool {
	if !from.Valid() || !to.Valid() || from == StateDead {
		return false
	}
	if from == to {
		return true
	}

	switch to {
	case StateDamaged, StateDead:
		return true
	case StateWalk:
		return from == StateIdle
	case StateIdle:
		return from == StateWalk || from == StateDamaged || from.IsAttack()
	}

	if to.IsAttack() {
		return from == StateIdle || from == StateWalk
	}
	return false
}

// CheckTransition is CanTransition with a descriptive error.
func CheckTransition(from, to EntityState) error {
	if from == StateDead {
		return ErrEntityDead
	}
	if !CanTransition(from, to) {
		return ErrIllegalTransition
	}
	return nil
}
