package combat

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/udisondev/realmsync/internal/ai"
	"github.com/udisondev/realmsync/internal/model"
	"github.com/udisondev/realmsync/internal/store"
)

// HitResult describes the outcome of one applied hit.
type HitResult struct {
	Entity model.Entity
	Killed bool
	Shares []Share // set on kill
}

// Resolver applies player damage to entities through the state machine.
type Resolver struct {
	machine *ai.Machine
	kinds   model.KindCatalog
	logger  *slog.Logger
}

// NewResolver creates a resolver.
func NewResolver(machine *ai.Machine, kinds model.KindCatalog, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{machine: machine, kinds: kinds, logger: logger}
}

// Hit applies amount of damage from attacker to entity inside tx, records
// the damage event and, on kill, credits the apportioned reward to every
// contributing player still present in the store.
func (r *Resolver) Hit(tx *store.Tx, attacker model.Identity, entityID uint64, amount float64, now time.Time) (HitResult, error) {
	e, ok := tx.Entity(entityID)
	if !ok {
		return HitResult{}, fmt.Errorf("entity %d: %w", entityID, store.ErrNotFound)
	}

	killed, err := r.machine.ApplyDamage(&e, amount, now)
	if err != nil {
		return HitResult{}, err
	}
	if err := tx.UpdateEntity(e); err != nil {
		return HitResult{}, fmt.Errorf("write entity %d: %w", e.ID, err)
	}
	if _, err := tx.InsertDamage(model.DamageEvent{EntityID: e.ID, Attacker: attacker, Amount: amount, At: now}); err != nil {
		return HitResult{}, fmt.Errorf("record damage on %d: %w", e.ID, err)
	}

	res := HitResult{Entity: e, Killed: killed}
	if !killed {
		return res, nil
	}

	var reward int64
	if kind, ok := r.kinds.Get(e.Kind); ok {
		reward = kind.Reward
	}
	res.Shares = Apportion(tx.DamageFor(e.ID), reward)

	for _, s := range res.Shares {
		p, ok := tx.Player(s.Attacker)
		if !ok || s.Reward == 0 {
			continue
		}
		p.Experience += s.Reward
		if lvl := LevelFor(p.Experience); lvl > p.Level {
			p.Level = lvl
			if !p.IsDead() {
				p.CurrentHP = p.MaxHP
			}
			r.logger.Info("player level up", "player", p.Identity.Short(), "level", lvl)
		}
		if err := tx.UpdatePlayer(p); err != nil {
			return HitResult{}, fmt.Errorf("credit %s: %w", p.Identity.Short(), err)
		}
	}

	r.logger.Info("entity killed",
		"entity", e.ID,
		"kind", e.Kind,
		"contributors", len(res.Shares),
		"reward", reward)
	return res, nil
}

// ExperiencePerLevel is the flat experience step between levels.
const ExperiencePerLevel = 100

// LevelFor returns the level reached with exp experience.
func LevelFor(exp int64) int32 {
	if exp < 0 {
		return 1
	}
	return int32(exp/ExperiencePerLevel) + 1
}
