package client

import (
	"time"

	"github.com/udisondev/realmsync/internal/model"
	"github.com/udisondev/realmsync/internal/reconcile"
	"github.com/udisondev/realmsync/internal/registry"
	"github.com/udisondev/realmsync/internal/store"
)

// Result is what the pipeline did with one diff.
type Result struct {
	Change    registry.Change
	Reconcile reconcile.Outcome
}

// Pipeline applies one received diff in a fixed order: registry, then
// state mirror, then position reconciliation.
type Pipeline struct {
	ctx          *Context
	onReconciled func(key model.RowKey, pos model.Vec2)
}

// NewPipeline creates a pipeline over the systems of ctx.
func NewPipeline(ctx *Context) *Pipeline {
	return &Pipeline{ctx: ctx}
}

// OnReconciled registers a callback for completed position corrections.
func (p *Pipeline) OnReconciled(fn func(key model.RowKey, pos model.Vec2)) {
	p.onReconciled = fn
}

// Apply runs d, received by observer's window, through the pipeline.
func (p *Pipeline) Apply(observer model.Identity, d store.Diff, now time.Time) Result {
	ch := p.ctx.Systems.Entities().Apply(observer, d, now)
	res := p.follow(ch, now)
	if ch.Record != nil && ch.Kind != registry.ChangeNone && p.ctx.Debug.Diffs {
		p.ctx.Logger.Debug("diff applied",
			"observer", observer.Short(),
			"op", d.Op,
			"key", ch.Record.Key,
			"change", ch.Kind,
			"reconcile", res.Reconcile)
	}
	return res
}

// Promote runs the records a window change brought into view through the
// mirror and reconciliation stages.
func (p *Pipeline) Promote(now time.Time) []Result {
	changes := p.ctx.Systems.Entities().TakePromoted()
	if len(changes) == 0 {
		return nil
	}
	out := make([]Result, 0, len(changes))
	for _, ch := range changes {
		out = append(out, p.follow(ch, now))
	}
	return out
}

func (p *Pipeline) follow(ch registry.Change, now time.Time) Result {
	sys := &p.ctx.Systems
	res := Result{Change: ch, Reconcile: reconcile.Ignored}

	rec := ch.Record
	if rec == nil || ch.Kind == registry.ChangeNone || ch.Kind == registry.ChangeFading {
		return res
	}

	if ch.StateChanged || ch.StateReentered || ch.Kind == registry.ChangeCreated {
		sys.Animation().OnState(rec.Key, &rec.Anim, rec.State, now)
	}

	dead := rec.State == model.StateDead
	if dead && ch.Kind == registry.ChangeCreated {
		// reconciliation is suspended for the dead, so first sight places here
		rec.Track.Place(rec.Position)
	}
	rec.Track.SetDead(dead)
	if ch.PositionChanged || ch.Kind == registry.ChangeCreated || ch.Kind == registry.ChangeRevived {
		res.Reconcile = sys.Reconciliation().CheckAndReconcile(&rec.Track, rec.Position, now, p.callback(rec.Key))
	}
	return res
}

func (p *Pipeline) callback(key model.RowKey) func(model.Vec2) {
	if p.onReconciled == nil {
		return nil
	}
	return func(pos model.Vec2) { p.onReconciled(key, pos) }
}

// Step advances per-record presentation state: reconciliation catch-up
// and mirror hold release.
func (p *Pipeline) Step(now time.Time) {
	sys := &p.ctx.Systems
	sys.Entities().Each(func(rec *registry.Record) {
		sys.Reconciliation().Step(&rec.Track, now)
		sys.Animation().Step(rec.Key, &rec.Anim, now)
	})
}
