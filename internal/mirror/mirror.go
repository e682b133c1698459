// Package mirror follows the server's entity states on the client and
// drives animation playback. It never originates a state.
package mirror

import (
	"time"

	"github.com/udisondev/realmsync/internal/model"
)

// DefaultHitFlash is how long the Damaged render state is held.
const DefaultHitFlash = 150 * time.Millisecond

// Clip names an animation.
type Clip string

const (
	ClipIdle    Clip = "idle"
	ClipWalk    Clip = "walk"
	ClipDamaged Clip = "damaged"
	ClipAttack1 Clip = "attack1"
	ClipAttack2 Clip = "attack2"
	ClipAttack3 Clip = "attack3"
	ClipDead    Clip = "dead"
)

// ClipFor maps an entity state to its clip.
func ClipFor(s model.EntityState) Clip {
	switch s {
	case model.StateWalk:
		return ClipWalk
	case model.StateDamaged:
		return ClipDamaged
	case model.StateAttack1:
		return ClipAttack1
	case model.StateAttack2:
		return ClipAttack2
	case model.StateAttack3:
		return ClipAttack3
	case model.StateDead:
		return ClipDead
	}
	return ClipIdle
}

// Animator is the animation layer collaborator. Play with loop=false
// plays the clip once and holds its last frame.
type Animator interface {
	Play(key model.RowKey, clip Clip, loop bool)
	Playing(key model.RowKey) bool
	Duration(clip Clip) time.Duration
}

// State is the per-entity mirror state.
type State struct {
	Server    model.EntityState // last authoritative state
	Render    model.EntityState // state currently shown
	HoldUntil time.Time         // render state is pinned until then
	Frozen    bool              // dead clip frozen on its last frame
	known     bool
}

// Mirror selects clips for state changes.
type Mirror struct {
	anim     Animator
	hitFlash time.Duration
	changes  func(key model.RowKey, from, to model.EntityState)
}

// New creates a Mirror. A non-positive hitFlash uses DefaultHitFlash.
func New(anim Animator, hitFlash time.Duration) *Mirror {
	if hitFlash <= 0 {
		hitFlash = DefaultHitFlash
	}
	return &Mirror{anim: anim, hitFlash: hitFlash}
}

// OnRenderChange registers the state-change notification of the
// collaborator boundary. It fires whenever the render state changes.
func (m *Mirror) OnRenderChange(fn func(key model.RowKey, from, to model.EntityState)) {
	m.changes = fn
}

// OnState applies an authoritative state for key.
func (m *Mirror) OnState(key model.RowKey, st *State, to model.EntityState, now time.Time) {
	prev := st.Server
	reentry := st.known && prev == to
	st.Server = to
	st.known = true

	switch {
	case to == model.StateDead:
		if st.Frozen {
			return
		}
		st.Frozen = true
		st.HoldUntil = time.Time{}
		m.show(key, st, to, false)

	case st.Frozen:
		// respawned row: leave the terminal clip
		st.Frozen = false
		st.HoldUntil = time.Time{}
		m.show(key, st, to, loops(to))

	case to.IsAttack():
		if reentry {
			if !m.anim.Playing(key) {
				m.anim.Play(key, ClipFor(to), false)
			}
			return
		}
		st.HoldUntil = now.Add(m.anim.Duration(ClipFor(to)))
		m.show(key, st, to, false)

	case to == model.StateDamaged:
		st.HoldUntil = now.Add(m.hitFlash)
		m.show(key, st, to, false)

	default:
		if reentry && st.Render == to {
			return
		}
		if now.Before(st.HoldUntil) {
			return
		}
		m.show(key, st, to, loops(to))
	}
}

// Step releases expired holds so the render state catches up with the
// server state.
func (m *Mirror) Step(key model.RowKey, st *State, now time.Time) {
	if !st.known || st.Frozen || st.Render == st.Server || now.Before(st.HoldUntil) {
		return
	}
	st.HoldUntil = time.Time{}
	m.show(key, st, st.Server, loops(st.Server))
}

func (m *Mirror) show(key model.RowKey, st *State, to model.EntityState, loop bool) {
	from := st.Render
	st.Render = to
	m.anim.Play(key, ClipFor(to), loop)
	if m.changes != nil && from != to {
		m.changes(key, from, to)
	}
}

func loops(s model.EntityState) bool {
	return s == model.StateIdle || s == model.StateWalk
}

// Forget releases animator state of a removed record when the animator
// keeps any.
func (m *Mirror) Forget(key model.RowKey) {
	if f, ok := m.anim.(interface{ Forget(model.RowKey) }); ok {
		f.Forget(key)
	}
}
