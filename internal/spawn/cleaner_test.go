package spawn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/realmsync/internal/model"
	"github.com/udisondev/realmsync/internal/store"
)

func TestCleaner_RemovesDeadAfterGrace(t *testing.T) {
	st := store.New(store.Options{})
	var dead, alive uint64
	require.NoError(t, st.Update(context.Background(), "seed", func(tx *store.Tx) error {
		e, err := tx.InsertEntity(model.Entity{Kind: "rat", State: model.StateDead, LastUpdated: t0})
		if err != nil {
			return err
		}
		dead = e.ID
		e, err = tx.InsertEntity(model.Entity{Kind: "rat", State: model.StateIdle, CurrentHP: 5, LastUpdated: t0})
		if err != nil {
			return err
		}
		alive = e.ID
		for _, amt := range []float64{60, 50} {
			if _, err := tx.InsertDamage(model.DamageEvent{EntityID: dead, Attacker: "aa", Amount: amt, At: t0}); err != nil {
				return err
			}
		}
		return nil
	}))

	c := NewCleaner(0, nil)

	runTick(t, st, c, t0.Add(4*time.Second))
	require.NoError(t, st.View(func(tx *store.Tx) error {
		_, ok := tx.Entity(dead)
		assert.True(t, ok, "still inside grace period")
		return nil
	}))

	runTick(t, st, c, t0.Add(DefaultGrace))
	require.NoError(t, st.View(func(tx *store.Tx) error {
		_, ok := tx.Entity(dead)
		assert.False(t, ok)
		_, ok = tx.Entity(alive)
		assert.True(t, ok)
		assert.Empty(t, tx.DamageFor(dead))
		return nil
	}))
}
