package action

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/realmsync/internal/ai"
	"github.com/udisondev/realmsync/internal/combat"
	"github.com/udisondev/realmsync/internal/model"
	"github.com/udisondev/realmsync/internal/store"
	"github.com/udisondev/realmsync/internal/testutil"
)

var t0 = testutil.T0

type fixture struct {
	st    *store.Store
	svc   *Service
	repo  *testutil.MemPlayers
	enemy uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kinds, err := model.NewKindCatalog([]model.KindConfig{{Name: "rat", MaxHP: 20, Reward: 10}})
	require.NoError(t, err)

	f := &fixture{
		st:   store.New(store.Options{}),
		repo: testutil.NewMemPlayers(),
	}
	machine := ai.NewMachine()
	f.svc = NewService(f.st, machine, combat.NewResolver(machine, kinds, nil), Config{
		SpawnPoint:  model.V(10, 10),
		PlayerMaxHP: 50,
		WorldBounds: model.Rect{MinX: -1000, MinY: -1000, MaxX: 1000, MaxY: 1000},
	}, WithPlayerRepository(f.repo), WithClock(func() time.Time { return t0 }))

	require.NoError(t, f.st.Update(context.Background(), "seed", func(tx *store.Tx) error {
		e, err := tx.InsertEntity(model.Entity{Kind: "rat", State: model.StateIdle, CurrentHP: 20, MaxHP: 20})
		f.enemy = e.ID
		return err
	}))
	return f
}

func (f *fixture) player(t *testing.T, id model.Identity) model.Player {
	t.Helper()
	var p model.Player
	require.NoError(t, f.st.View(func(tx *store.Tx) error {
		var ok bool
		p, ok = tx.Player(id)
		require.True(t, ok)
		return nil
	}))
	return p
}

func TestService_ConnectDisconnectRestoresProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Connect(ctx, "AA01", "hero")
	require.NoError(t, err)
	assert.Equal(t, model.Identity("aa01"), p.Identity)
	assert.True(t, p.Online)
	assert.Equal(t, model.V(10, 10), p.Position)
	assert.Equal(t, 50.0, p.CurrentHP)

	_, err = f.svc.DamageEntity(ctx, "aa01", f.enemy, 25)
	require.NoError(t, err)
	require.NoError(t, f.svc.Disconnect(ctx, "aa01"))
	assert.False(t, f.player(t, "aa01").Online)
	saved, ok, err := f.repo.Load(context.Background(), "aa01")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(10), saved.Experience)

	// a fresh server restores saved progress
	g := newFixture(t)
	g.repo = f.repo
	g.svc.players = f.repo
	p, err = g.svc.Connect(ctx, "aa01", "")
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.Experience)
	assert.Equal(t, "hero", p.Name)
}

func TestService_ConnectRejectsBadIdentity(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Connect(context.Background(), "xyz' OR 1=1", "x")
	assert.ErrorIs(t, err, model.ErrInvalidIdentity)
}

func TestService_MovePlayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Connect(ctx, "aa", "hero")
	require.NoError(t, err)

	require.NoError(t, f.svc.MovePlayer(ctx, "aa", model.V(20, 30), model.FacingLeft))
	p := f.player(t, "aa")
	assert.Equal(t, model.V(20, 30), p.Position)
	assert.Equal(t, model.FacingLeft, p.Facing)

	assert.ErrorIs(t, f.svc.MovePlayer(ctx, "aa", model.V(5000, 0), model.FacingLeft), ErrInvalidPosition)
	assert.ErrorIs(t, f.svc.MovePlayer(ctx, "bb", model.V(0, 0), model.FacingLeft), store.ErrNotFound)

	require.NoError(t, f.svc.Disconnect(ctx, "aa"))
	assert.ErrorIs(t, f.svc.MovePlayer(ctx, "aa", model.V(0, 0), model.FacingLeft), ErrOffline)
}

func TestService_SetPlayerState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Connect(ctx, "aa", "hero")
	require.NoError(t, err)

	require.NoError(t, f.svc.SetPlayerState(ctx, "aa", model.StateWalk))
	require.NoError(t, f.svc.SetPlayerState(ctx, "aa", model.StateAttack2))
	assert.ErrorIs(t, f.svc.SetPlayerState(ctx, "aa", model.StateWalk), model.ErrIllegalTransition)
	assert.ErrorIs(t, f.svc.SetPlayerState(ctx, "aa", model.StateDead), ErrServerOwnedState)
	assert.ErrorIs(t, f.svc.SetPlayerState(ctx, "aa", model.StateDamaged), ErrServerOwnedState)
	assert.Equal(t, model.StateAttack2, f.player(t, "aa").State)
}

func TestService_RespawnPlayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Connect(ctx, "aa", "hero")
	require.NoError(t, err)

	_, err = f.svc.RespawnPlayer(ctx, "aa")
	assert.ErrorIs(t, err, ErrNotDead)

	require.NoError(t, f.st.Update(ctx, "kill", func(tx *store.Tx) error {
		p, _ := tx.Player("aa")
		p.Position = model.V(900, 900)
		if _, err := ai.NewMachine().DamagePlayer(&p, 1000, t0); err != nil {
			return err
		}
		return tx.UpdatePlayer(p)
	}))
	assert.ErrorIs(t, f.svc.MovePlayer(ctx, "aa", model.V(0, 0), model.FacingLeft), model.ErrEntityDead)

	p, err := f.svc.RespawnPlayer(ctx, "aa")
	require.NoError(t, err)
	assert.Equal(t, model.StateIdle, p.State)
	assert.Equal(t, model.V(10, 10), p.Position)
	assert.Equal(t, p.MaxHP, p.CurrentHP)
}

func TestService_DamageEntity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Connect(ctx, "aa", "hero")
	require.NoError(t, err)

	res, err := f.svc.DamageEntity(ctx, "aa", f.enemy, 5)
	require.NoError(t, err)
	assert.Equal(t, model.StateDamaged, res.Entity.State)

	res, err = f.svc.DamageEntity(ctx, "aa", f.enemy, 15)
	require.NoError(t, err)
	assert.True(t, res.Killed)

	_, err = f.svc.DamageEntity(ctx, "aa", f.enemy, 1)
	assert.ErrorIs(t, err, model.ErrEntityDead)

	_, err = f.svc.DamageEntity(ctx, "bb", f.enemy, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
