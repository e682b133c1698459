package ai

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/udisondev/realmsync/internal/model"
)

// RecoveryWindow is how long an entity stays Damaged without further damage.
const RecoveryWindow = 500 * time.Millisecond

// ErrInvalidDamage is returned for non-positive or non-finite damage amounts.
var ErrInvalidDamage = errors.New("invalid damage amount")

// Machine applies the timed rules of the entity state graph. Every state
// write on the server goes through it, so rows never leave the graph.
type Machine struct {
	recovery time.Duration
}

// NewMachine returns a Machine with the default recovery window.
func NewMachine() *Machine {
	return &Machine{recovery: RecoveryWindow}
}

// Transition moves e to state to. Self-loops return changed=false.
func (m *Machine) Transition(e *model.Entity, to model.EntityState, now time.Time) (changed bool, err error) {
	if err := model.CheckTransition(e.State, to); err != nil {
		return false, fmt.Errorf("entity %d %s -> %s: %w", e.ID, e.State, to, err)
	}
	if e.State == to {
		return false, nil
	}
	e.State = to
	e.StateSince = now
	return true, nil
}

// ApplyDamage subtracts amount from e. The entity becomes Dead when its HP
// reaches zero and Damaged otherwise; a dead entity rejects the hit.
func (m *Machine) ApplyDamage(e *model.Entity, amount float64, now time.Time) (killed bool, err error) {
	if err := checkAmount(amount); err != nil {
		return false, err
	}
	if e.IsDead() {
		return false, fmt.Errorf("entity %d: %w", e.ID, model.ErrEntityDead)
	}

	e.CurrentHP -= amount
	e.LastUpdated = now
	if e.CurrentHP <= 0 {
		e.CurrentHP = 0
		e.State = model.StateDead
		e.StateSince = now
		e.ClearAggro()
		return true, nil
	}

	// Repeated hits restart the recovery window.
	e.State = model.StateDamaged
	e.StateSince = now
	return false, nil
}

// Expire ends timed states: Damaged after the recovery window, AttackN
// after the attack's configured duration. Returns true when e changed.
func (m *Machine) Expire(e *model.Entity, kind *model.KindConfig, now time.Time) bool {
	var hold time.Duration
	switch {
	case e.State == model.StateDamaged:
		hold = m.recovery
	case e.State.IsAttack():
		hold = m.recovery
		if kind != nil {
			if a, ok := kind.Attack(e.State.AttackIndex()); ok && a.Duration > 0 {
				hold = a.Duration
			}
		}
	default:
		return false
	}

	if now.Sub(e.StateSince) < hold {
		return false
	}
	e.State = model.StateIdle
	e.StateSince = now
	return true
}

// TransitionPlayer is Transition for player avatars.
func (m *Machine) TransitionPlayer(p *model.Player, to model.EntityState, now time.Time) (changed bool, err error) {
	if err := model.CheckTransition(p.State, to); err != nil {
		return false, fmt.Errorf("player %s %s -> %s: %w", p.Identity.Short(), p.State, to, err)
	}
	if p.State == to {
		return false, nil
	}
	p.State = to
	p.StateSince = now
	return true, nil
}

// DamagePlayer is ApplyDamage for player avatars.
func (m *Machine) DamagePlayer(p *model.Player, amount float64, now time.Time) (killed bool, err error) {
	if err := checkAmount(amount); err != nil {
		return false, err
	}
	if p.IsDead() {
		return false, fmt.Errorf("player %s: %w", p.Identity.Short(), model.ErrEntityDead)
	}

	p.CurrentHP -= amount
	p.StateSince = now
	if p.CurrentHP <= 0 {
		p.CurrentHP = 0
		p.State = model.StateDead
		return true, nil
	}
	p.State = model.StateDamaged
	return false, nil
}

// ExpirePlayer returns a Damaged player to Idle after the recovery window.
func (m *Machine) ExpirePlayer(p *model.Player, now time.Time) bool {
	if p.State != model.StateDamaged || now.Sub(p.StateSince) < m.recovery {
		return false
	}
	p.State = model.StateIdle
	p.StateSince = now
	return true
}

func checkAmount(amount float64) error {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidDamage, amount)
	}
	return nil
}
