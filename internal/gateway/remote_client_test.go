package gateway_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/realmsync/internal/action"
	"github.com/udisondev/realmsync/internal/ai"
	"github.com/udisondev/realmsync/internal/client"
	"github.com/udisondev/realmsync/internal/combat"
	"github.com/udisondev/realmsync/internal/gateway"
	"github.com/udisondev/realmsync/internal/mirror"
	"github.com/udisondev/realmsync/internal/model"
	"github.com/udisondev/realmsync/internal/store"
	"github.com/udisondev/realmsync/internal/subscription"
)

// A client session drives its window and avatar through a Remote exactly
// as it would through the in-process store.
func TestRemote_DrivesClientSession(t *testing.T) {
	kinds, err := model.NewKindCatalog([]model.KindConfig{{Name: "rat", MaxHP: 20}})
	require.NoError(t, err)
	st := store.New(store.Options{})
	machine := ai.NewMachine()
	svc := action.NewService(st, machine, combat.NewResolver(machine, kinds, nil), action.Config{
		SpawnPoint:  model.V(0, 0),
		PlayerMaxHP: 50,
	})

	var ratID uint64
	require.NoError(t, st.Update(context.Background(), "seed", func(tx *store.Tx) error {
		e, err := tx.InsertEntity(model.Entity{Kind: "rat", Position: model.V(100, 0), CurrentHP: 20, MaxHP: 20})
		ratID = e.ID
		return err
	}))

	hs := httptest.NewServer(gateway.NewServer(st, svc, gateway.Config{}, nil))
	t.Cleanup(hs.Close)

	remote, err := gateway.Dial(context.Background(), "ws"+strings.TrimPrefix(hs.URL, "http"), gateway.DialOptions{Token: "carol"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = remote.Close() })

	avatar := client.NewAvatar(remote.Identity(), remote)
	require.NoError(t, avatar.Follow(remote))
	_, known := avatar.Position()
	require.True(t, known, "own row arrives before the follow ack")

	ctx, err := client.NewContext(client.Options{Animator: mirror.NewTimedAnimator(nil, 100*time.Millisecond, nil)})
	require.NoError(t, err)
	sess := client.NewSession(ctx, remote, subscription.Config{Radius: 1000})
	_, err = sess.AddObserver(remote.Identity(), avatar)
	require.NoError(t, err)

	now := time.Now()
	stats := sess.Frame(now)
	assert.Equal(t, 1, stats.Refreshed)
	assert.Equal(t, 1, stats.Records, "the rat; own row is excluded from the window")

	require.NoError(t, st.Update(context.Background(), "move", func(tx *store.Tx) error {
		e, _ := tx.Entity(ratID)
		e.Position = model.V(150, 0)
		return tx.UpdateEntity(e)
	}))

	key := model.RowKey{Table: model.TableEntity, ID: ratID}
	require.Eventually(t, func() bool {
		now = now.Add(16 * time.Millisecond)
		sess.Frame(now)
		rec, ok := ctx.Systems.Entities().Get(key)
		return ok && rec.Position == model.V(150, 0)
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, avatar.MoveTo(context.Background(), model.V(40, 0)))
	require.NoError(t, avatar.RequestState(context.Background(), model.StateWalk))
	require.NoError(t, st.View(func(tx *store.Tx) error {
		p, ok := tx.Player(remote.Identity())
		require.True(t, ok)
		assert.Equal(t, model.V(40, 0), p.Position)
		assert.Equal(t, model.StateWalk, p.State)
		return nil
	}))

	require.NoError(t, sess.Close())
	require.NoError(t, avatar.Close())
}
