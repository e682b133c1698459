package mirror

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/udisondev/realmsync/internal/model"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func setup() (*Mirror, *TimedAnimator, *clock) {
	c := &clock{now: t0}
	anim := NewTimedAnimator(map[Clip]time.Duration{
		ClipAttack1: 400 * time.Millisecond,
		ClipDead:    600 * time.Millisecond,
	}, 300*time.Millisecond, c.Now)
	return New(anim, 0), anim, c
}

var key = model.RowKey{Table: model.TableEntity, ID: 1}

func current(t *testing.T, a *TimedAnimator) Clip {
	t.Helper()
	c, ok := a.Current(key)
	assert.True(t, ok)
	return c
}

func TestMirror_FollowsServerState(t *testing.T) {
	t.Parallel()

	m, anim, _ := setup()
	var st State

	m.OnState(key, &st, model.StateIdle, t0)
	assert.Equal(t, ClipIdle, current(t, anim))

	m.OnState(key, &st, model.StateWalk, t0)
	assert.Equal(t, ClipWalk, current(t, anim))
	assert.Equal(t, model.StateWalk, st.Render)

	plays := anim.Plays()
	m.OnState(key, &st, model.StateWalk, t0)
	assert.Equal(t, plays, anim.Plays(), "repeated state does not restart the clip")
}

func TestMirror_DeadFreezes(t *testing.T) {
	t.Parallel()

	m, anim, c := setup()
	var st State
	m.OnState(key, &st, model.StateWalk, t0)

	m.OnState(key, &st, model.StateDead, t0)
	assert.True(t, st.Frozen)
	assert.Equal(t, ClipDead, current(t, anim))
	plays := anim.Plays()

	c.now = t0.Add(time.Second)
	assert.False(t, anim.Playing(key), "dead clip plays once")
	m.OnState(key, &st, model.StateDead, c.now)
	m.Step(key, &st, c.now)
	assert.Equal(t, plays, anim.Plays(), "frozen on the last frame, never replayed")
}

func TestMirror_AttackReentryReplaysWhenStopped(t *testing.T) {
	t.Parallel()

	m, anim, c := setup()
	var st State

	m.OnState(key, &st, model.StateAttack1, t0)
	assert.Equal(t, ClipAttack1, current(t, anim))
	plays := anim.Plays()

	c.now = t0.Add(100 * time.Millisecond)
	m.OnState(key, &st, model.StateAttack1, c.now)
	assert.Equal(t, plays, anim.Plays(), "still playing, no restart")

	c.now = t0.Add(500 * time.Millisecond)
	m.OnState(key, &st, model.StateAttack1, c.now)
	assert.Equal(t, plays+1, anim.Plays(), "stopped clip replays on re-entry")
}

func TestMirror_HitFlashHold(t *testing.T) {
	t.Parallel()

	m, anim, _ := setup()
	var st State
	m.OnState(key, &st, model.StateWalk, t0)

	m.OnState(key, &st, model.StateDamaged, t0)
	m.OnState(key, &st, model.StateIdle, t0.Add(50*time.Millisecond))
	assert.Equal(t, model.StateDamaged, st.Render, "hit flash holds")
	assert.Equal(t, model.StateIdle, st.Server)
	assert.Equal(t, ClipDamaged, current(t, anim))

	m.Step(key, &st, t0.Add(100*time.Millisecond))
	assert.Equal(t, model.StateDamaged, st.Render)

	m.Step(key, &st, t0.Add(DefaultHitFlash))
	assert.Equal(t, model.StateIdle, st.Render)
	assert.Equal(t, ClipIdle, current(t, anim))
}

func TestMirror_AttackWindupHold(t *testing.T) {
	t.Parallel()

	m, _, _ := setup()
	var st State

	m.OnState(key, &st, model.StateAttack1, t0)
	m.OnState(key, &st, model.StateIdle, t0.Add(100*time.Millisecond))
	assert.Equal(t, model.StateAttack1, st.Render)

	m.Step(key, &st, t0.Add(400*time.Millisecond))
	assert.Equal(t, model.StateIdle, st.Render)
}

func TestMirror_DeadOverridesHold(t *testing.T) {
	t.Parallel()

	m, _, _ := setup()
	var st State
	m.OnState(key, &st, model.StateDamaged, t0)
	m.OnState(key, &st, model.StateDead, t0.Add(10*time.Millisecond))
	assert.Equal(t, model.StateDead, st.Render)
}

func TestMirror_RenderChangeNotification(t *testing.T) {
	t.Parallel()

	m, _, _ := setup()
	var got [][2]model.EntityState
	m.OnRenderChange(func(_ model.RowKey, from, to model.EntityState) {
		got = append(got, [2]model.EntityState{from, to})
	})

	var st State
	m.OnState(key, &st, model.StateWalk, t0)
	m.OnState(key, &st, model.StateDead, t0)
	assert.Equal(t, [][2]model.EntityState{
		{model.StateIdle, model.StateWalk},
		{model.StateWalk, model.StateDead},
	}, got)
}
