package ai

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/udisondev/realmsync/internal/model"
	"github.com/udisondev/realmsync/internal/store"
)

// Epsilon below which a position change is not written back.
const Epsilon = 1e-6

// PatrolStats summarizes one patrol tick.
type PatrolStats struct {
	Scanned       int
	Written       int
	AggroAcquired int
	AggroCleared  int
	Attacks       int
	PlayersKilled int
}

// Patroller runs the patrol/aggro tick: timed state expiry, aggro
// revalidation and acquisition, chase or bounce movement, and attacks.
type Patroller struct {
	machine *Machine
	kinds   model.KindCatalog
	logger  *slog.Logger
	debug   bool

	last PatrolStats
}

// NewPatroller creates a patroller over the given kind catalog.
func NewPatroller(machine *Machine, kinds model.KindCatalog, logger *slog.Logger, debug bool) *Patroller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Patroller{machine: machine, kinds: kinds, logger: logger, debug: debug}
}

// Name implements Task.
func (p *Patroller) Name() string { return "patrol" }

// LastStats returns the stats of the most recent tick. Not safe for
// concurrent use with Tick.
func (p *Patroller) LastStats() PatrolStats { return p.last }

// Tick advances every entity by dt inside tx.
func (p *Patroller) Tick(tx *store.Tx, now time.Time, dt time.Duration) error {
	var stats PatrolStats

	players := tx.Players()
	byID := make(map[model.Identity]*model.Player, len(players))
	for i := range players {
		pl := &players[i]
		byID[pl.Identity] = pl
		if p.machine.ExpirePlayer(pl, now) {
			if err := tx.UpdatePlayer(*pl); err != nil {
				return fmt.Errorf("write player %s: %w", pl.Identity.Short(), err)
			}
		}
	}

	for _, e := range tx.Entities() {
		stats.Scanned++

		kind, ok := p.kinds.Get(e.Kind)
		if !ok {
			if p.debug {
				p.logger.Debug("entity of unknown kind skipped", "entity", e.ID, "kind", e.Kind)
			}
			continue
		}
		route, ok := tx.Route(e.RouteID)
		if !ok {
			if p.debug {
				p.logger.Debug("entity without route skipped", "entity", e.ID, "route", e.RouteID)
			}
			continue
		}

		orig := e
		p.machine.Expire(&e, kind, now)

		if e.State != model.StateDamaged && !e.IsDead() {
			if err := p.step(tx, &e, kind, &route, players, byID, now, dt, &stats); err != nil {
				return err
			}
		}

		if !entityChanged(&orig, &e) {
			continue
		}
		if orig.Position.ApproxEqual(e.Position, Epsilon) {
			e.Position = orig.Position
		}
		e.LastUpdated = now
		if err := tx.UpdateEntity(e); err != nil {
			return fmt.Errorf("write entity %d: %w", e.ID, err)
		}
		stats.Written++
	}

	p.last = stats
	if p.debug && stats.Written > 0 {
		p.logger.Debug("patrol tick completed",
			"scanned", stats.Scanned,
			"written", stats.Written,
			"aggro_acquired", stats.AggroAcquired,
			"aggro_cleared", stats.AggroCleared,
			"attacks", stats.Attacks)
	}
	return nil
}

func (p *Patroller) step(
	tx *store.Tx,
	e *model.Entity,
	kind *model.KindConfig,
	route *model.Route,
	players []model.Player,
	byID map[model.Identity]*model.Player,
	now time.Time,
	dt time.Duration,
	stats *PatrolStats,
) error {
	// (a) revalidate aggro
	if e.HasAggro() {
		target, ok := byID[e.AggroTarget]
		if !ok || !target.Targetable() || (kind.LeashRange > 0 && e.Position.Distance(target.Position) > kind.LeashRange) {
			if p.debug {
				p.logger.Debug("aggro cleared", "entity", e.ID, "target", e.AggroTarget.Short())
			}
			e.ClearAggro()
			stats.AggroCleared++
		}
	}

	// (b) acquire the first targetable player in range
	if !e.HasAggro() && kind.Aggressive {
		for i := range players {
			pl := byID[players[i].Identity]
			if pl.Targetable() && e.Position.Distance(pl.Position) <= kind.AggroRange {
				e.SetAggro(pl.Identity, now)
				stats.AggroAcquired++
				break
			}
		}
	}

	if e.State.IsAttack() {
		return nil
	}

	// (d) attack when in range and off cooldown, otherwise (c) move
	if e.HasAggro() {
		target := byID[e.AggroTarget]
		if n, ok := readyAttack(e, kind, target.Position, now); ok {
			return p.attack(tx, e, kind, n, target, now, stats)
		}
		if inAnyRange(kind, e.Position.Distance(target.Position)) {
			e.Facing = model.FacingToward(e.Position, target.Position, e.Facing)
			p.settle(e, false, now)
			return nil
		}
		moved := chase(e, route.SpawnArea, target.Position, kind.ChaseSpeed*dt.Seconds())
		p.settle(e, moved, now)
		return nil
	}

	moved := patrol(e, route, kind.Speed*dt.Seconds())
	p.settle(e, moved, now)
	return nil
}

// settle keeps the discrete state in line with movement: Idle ↔ Walk.
func (p *Patroller) settle(e *model.Entity, moved bool, now time.Time) {
	to := model.StateIdle
	if moved {
		to = model.StateWalk
	}
	if e.State != model.StateIdle && e.State != model.StateWalk {
		return
	}
	if _, err := p.machine.Transition(e, to, now); err != nil && p.debug {
		p.logger.Debug("movement transition rejected", "entity", e.ID, "error", err)
	}
}

func (p *Patroller) attack(
	tx *store.Tx,
	e *model.Entity,
	kind *model.KindConfig,
	n int,
	target *model.Player,
	now time.Time,
	stats *PatrolStats,
) error {
	a, _ := kind.Attack(n)
	if _, err := p.machine.Transition(e, model.AttackState(n), now); err != nil {
		if p.debug {
			p.logger.Debug("attack rejected", "entity", e.ID, "error", err)
		}
		return nil
	}
	e.AttackReadyAt[n] = now.Add(a.Cooldown)
	e.Facing = model.FacingToward(e.Position, target.Position, e.Facing)
	stats.Attacks++

	if a.Damage <= 0 {
		return nil
	}
	killed, err := p.machine.DamagePlayer(target, a.Damage, now)
	switch {
	case errors.Is(err, model.ErrEntityDead):
		return nil
	case err != nil:
		return fmt.Errorf("entity %d attack: %w", e.ID, err)
	}
	if err := tx.UpdatePlayer(*target); err != nil {
		return fmt.Errorf("write player %s: %w", target.Identity.Short(), err)
	}
	if killed {
		stats.PlayersKilled++
		p.logger.Info("player killed", "player", target.Identity.Short(), "entity", e.ID, "kind", e.Kind)
	}
	return nil
}

// readyAttack returns the first attack slot whose range covers the target
// and whose cooldown has elapsed.
func readyAttack(e *model.Entity, kind *model.KindConfig, target model.Vec2, now time.Time) (int, bool) {
	dist := e.Position.Distance(target)
	for n, a := range kind.Attacks {
		if n >= model.MaxAttacks {
			break
		}
		if dist <= a.Range && !now.Before(e.AttackReadyAt[n]) {
			return n, true
		}
	}
	return 0, false
}

func inAnyRange(kind *model.KindConfig, dist float64) bool {
	for _, a := range kind.Attacks {
		if dist <= a.Range {
			return true
		}
	}
	return false
}

// chase moves e toward target by at most step, confined to area. When the
// boundary blocks direct approach it slides along the free axis, and when
// no axis makes progress it steps back toward the area's center.
// MovingRight is not touched; facing follows the chase direction.
func chase(e *model.Entity, area model.Rect, target model.Vec2, step float64) bool {
	if step <= 0 {
		return false
	}
	pos := e.Position
	delta := target.Sub(pos)
	if delta.Len() <= Epsilon {
		return false
	}
	if delta.Len() < step {
		step = delta.Len()
	}

	next := area.Clamp(pos.Add(delta.Normalize().Scale(step)))
	if next.ApproxEqual(pos, Epsilon) {
		next = slide(pos, delta, area, step)
	}
	if next.ApproxEqual(pos, Epsilon) && !area.Contains(target) {
		next = stepBack(pos, area, step)
	}
	if next.ApproxEqual(pos, Epsilon) {
		return false
	}

	e.Facing = model.FacingToward(pos, target, e.Facing)
	e.Position = next
	return true
}

func slide(pos, delta model.Vec2, area model.Rect, step float64) model.Vec2 {
	sx := math.Copysign(math.Min(step, math.Abs(delta.X)), delta.X)
	if next := area.Clamp(model.V(pos.X+sx, pos.Y)); !next.ApproxEqual(pos, Epsilon) {
		return next
	}
	sy := math.Copysign(math.Min(step, math.Abs(delta.Y)), delta.Y)
	return area.Clamp(model.V(pos.X, pos.Y+sy))
}

// stepBack retreats one step toward the center so the entity does not
// stay pinned against the boundary while its target is outside the area.
func stepBack(pos model.Vec2, area model.Rect, step float64) model.Vec2 {
	toCenter := area.Center().Sub(pos)
	if toCenter.Len() <= Epsilon {
		return pos
	}
	if toCenter.Len() < step {
		return area.Center()
	}
	return area.Clamp(pos.Add(toCenter.Normalize().Scale(step)))
}

// patrol bounces e between the route's left and right bounds, flipping
// MovingRight on contact and clamping to the bound.
func patrol(e *model.Entity, route *model.Route, step float64) bool {
	left, right := route.PatrolBounds()
	pos := route.SpawnArea.Clamp(e.Position)

	if step > 0 {
		if e.MovingRight {
			pos.X += step
		} else {
			pos.X -= step
		}
	}
	switch {
	case pos.X >= right:
		pos.X = right
		e.MovingRight = false
	case pos.X <= left:
		pos.X = left
		e.MovingRight = true
	}

	moved := !pos.ApproxEqual(e.Position, Epsilon)
	e.Position = pos
	e.Facing = model.FacingFor(e.MovingRight)
	return moved
}

func entityChanged(a, b *model.Entity) bool {
	return !a.Position.ApproxEqual(b.Position, Epsilon) ||
		a.State != b.State ||
		a.Facing != b.Facing ||
		a.MovingRight != b.MovingRight ||
		a.AggroTarget != b.AggroTarget ||
		a.CurrentHP != b.CurrentHP ||
		a.AttackReadyAt != b.AttackReadyAt
}
