package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/realmsync/internal/model"
	"github.com/udisondev/realmsync/internal/query"
)

// recorder collects delivered diffs.
type recorder struct {
	diffs []Diff
}

func (r *recorder) OnInsert(row model.Row) {
	r.diffs = append(r.diffs, Diff{Op: OpInsert, Table: row.Table(), New: row})
}

func (r *recorder) OnUpdate(oldRow, newRow model.Row) {
	r.diffs = append(r.diffs, Diff{Op: OpUpdate, Table: newRow.Table(), Old: oldRow, New: newRow})
}

func (r *recorder) OnDelete(row model.Row) {
	r.diffs = append(r.diffs, Diff{Op: OpDelete, Table: row.Table(), Old: row})
}

func (r *recorder) ops() []string {
	out := make([]string, 0, len(r.diffs))
	for _, d := range r.diffs {
		out = append(out, fmt.Sprintf("%s %s", d.Op, d.Row().Key()))
	}
	return out
}

func (r *recorder) reset() {
	r.diffs = nil
}

func insertEntity(t *testing.T, s *Store, x, y float64) model.Entity {
	t.Helper()
	var out model.Entity
	err := s.Update(context.Background(), "insert", func(tx *Tx) error {
		var err error
		out, err = tx.InsertEntity(model.Entity{Kind: "rat", Position: model.V(x, y), CurrentHP: 10, MaxHP: 10})
		return err
	})
	require.NoError(t, err)
	return out
}

func moveEntity(t *testing.T, s *Store, id uint64, x, y float64) {
	t.Helper()
	err := s.Update(context.Background(), "move", func(tx *Tx) error {
		e, ok := tx.Entity(id)
		if !ok {
			return ErrNotFound
		}
		e.Position = model.V(x, y)
		return tx.UpdateEntity(e)
	})
	require.NoError(t, err)
}

func window(t *testing.T, minX, maxX float64) string {
	t.Helper()
	q, err := query.Window(model.TableEntity, model.Rect{MinX: minX, MinY: -1000, MaxX: maxX, MaxY: 1000}, "")
	require.NoError(t, err)
	return q
}

func TestStore_InsertAssignsIDsAndVersions(t *testing.T) {
	s := New(Options{})

	a := insertEntity(t, s, 0, 0)
	b := insertEntity(t, s, 1, 1)
	assert.Equal(t, uint64(1), a.ID)
	assert.Equal(t, uint64(2), b.ID)

	require.NoError(t, s.Update(context.Background(), "delete", func(tx *Tx) error {
		return tx.DeleteEntity(a.ID)
	}))
	c := insertEntity(t, s, 2, 2)
	assert.Equal(t, uint64(3), c.ID, "ids are never reused")

	require.NoError(t, s.View(func(tx *Tx) error {
		e, ok := tx.Entity(c.ID)
		require.True(t, ok)
		assert.Equal(t, uint64(1), e.Version)
		return nil
	}))

	moveEntity(t, s, c.ID, 5, 5)
	require.NoError(t, s.View(func(tx *Tx) error {
		e, _ := tx.Entity(c.ID)
		assert.Equal(t, uint64(2), e.Version, "update bumps version")
		return nil
	}))
}

func TestStore_AbortDiscardsEverything(t *testing.T) {
	s := New(Options{})
	e := insertEntity(t, s, 0, 0)

	rec := &recorder{}
	_, err := s.Subscribe(query.All(model.TableEntity), rec)
	require.NoError(t, err)
	rec.reset()

	boom := errors.New("boom")
	err = s.Update(context.Background(), "partial", func(tx *Tx) error {
		cur, _ := tx.Entity(e.ID)
		cur.Position = model.V(100, 100)
		if err := tx.UpdateEntity(cur); err != nil {
			return err
		}
		if _, err := tx.InsertEntity(model.Entity{Kind: "rat"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Empty(t, rec.diffs, "no partial writes are observable")
	require.NoError(t, s.View(func(tx *Tx) error {
		cur, _ := tx.Entity(e.ID)
		assert.Equal(t, model.V(0, 0), cur.Position)
		assert.Len(t, tx.Entities(), 1)
		return nil
	}))
	assert.Equal(t, uint64(1), s.Stats().Aborts)
}

func TestStore_StaleVersionRejected(t *testing.T) {
	s := New(Options{})
	e := insertEntity(t, s, 0, 0)
	moveEntity(t, s, e.ID, 1, 1)

	err := s.Update(context.Background(), "stale", func(tx *Tx) error {
		e.Position = model.V(9, 9) // e still carries version 1
		return tx.UpdateEntity(e)
	})
	assert.ErrorIs(t, err, ErrStaleVersion)
}

func TestStore_ReadOnlyView(t *testing.T) {
	s := New(Options{})
	err := s.View(func(tx *Tx) error {
		_, err := tx.InsertEntity(model.Entity{})
		return err
	})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestStore_CoalescesWritesInOneTransaction(t *testing.T) {
	s := New(Options{})
	e := insertEntity(t, s, 0, 0)

	rec := &recorder{}
	_, err := s.Subscribe(query.All(model.TableEntity), rec)
	require.NoError(t, err)
	rec.reset()

	require.NoError(t, s.Update(context.Background(), "tick", func(tx *Tx) error {
		for i := range 3 {
			cur, _ := tx.Entity(e.ID)
			cur.Position = model.V(float64(i+1), 0)
			if err := tx.UpdateEntity(cur); err != nil {
				return err
			}
		}
		tmp, err := tx.InsertEntity(model.Entity{Kind: "ghost"})
		if err != nil {
			return err
		}
		return tx.DeleteEntity(tmp.ID)
	}))

	require.Len(t, rec.diffs, 1)
	d := rec.diffs[0]
	assert.Equal(t, OpUpdate, d.Op)
	assert.Equal(t, model.V(0, 0), d.Old.(*model.Entity).Position)
	assert.Equal(t, model.V(3, 0), d.New.(*model.Entity).Position)
}

func TestStore_UnchangedWriteEmitsNothing(t *testing.T) {
	s := New(Options{})
	e := insertEntity(t, s, 0, 0)

	rec := &recorder{}
	_, err := s.Subscribe(query.All(model.TableEntity), rec)
	require.NoError(t, err)
	rec.reset()

	require.NoError(t, s.Update(context.Background(), "noop", func(tx *Tx) error {
		cur, _ := tx.Entity(e.ID)
		return tx.UpdateEntity(cur)
	}))
	assert.Empty(t, rec.diffs)
}

func TestSubscription_InitialMatchSetAndFilterTransitions(t *testing.T) {
	s := New(Options{})
	inside := insertEntity(t, s, 10, 0)
	outside := insertEntity(t, s, 500, 0)

	rec := &recorder{}
	sub, err := s.Subscribe(window(t, 0, 100), rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"insert enemy:1"}, rec.ops())
	rec.reset()

	// Row leaving the filter arrives as a delete, entering as an insert.
	moveEntity(t, s, inside.ID, 200, 0)
	moveEntity(t, s, outside.ID, 50, 0)
	moveEntity(t, s, outside.ID, 60, 0)
	assert.Equal(t, []string{
		"delete enemy:1",
		"insert enemy:2",
		"update enemy:2",
	}, rec.ops())

	assert.Equal(t, 1, s.SubscriberCount())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, s.SubscriberCount())
}

func TestSubscription_Replace(t *testing.T) {
	s := New(Options{})
	insertEntity(t, s, 10, 0)  // 1
	insertEntity(t, s, 150, 0) // 2
	insertEntity(t, s, 300, 0) // 3

	rec := &recorder{}
	sub, err := s.Subscribe(window(t, 0, 200), rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"insert enemy:1", "insert enemy:2"}, rec.ops())
	rec.reset()

	require.NoError(t, sub.Replace(window(t, 100, 400)))
	assert.Equal(t, []string{"delete enemy:1", "insert enemy:3"}, rec.ops())
	rec.reset()

	// Bad query keeps the previous filter.
	err = sub.Replace("SELECT * FROM enemy WHERE x >= evil")
	require.ErrorIs(t, err, query.ErrSyntax)
	moveEntity(t, s, 3, 350, 0)
	assert.Equal(t, []string{"update enemy:3"}, rec.ops())
}

func TestSubscription_BadQuery(t *testing.T) {
	s := New(Options{})
	_, err := s.Subscribe("SELECT * FROM enemy WHERE identity != 0xnothex", &recorder{})
	assert.ErrorIs(t, err, query.ErrSyntax)
	assert.Equal(t, 0, s.SubscriberCount())
}

func TestSubscription_ClosedReceivesNothing(t *testing.T) {
	s := New(Options{})
	rec := &recorder{}
	sub, err := s.Subscribe(query.All(model.TableEntity), rec)
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close(), "close is idempotent")

	insertEntity(t, s, 0, 0)
	assert.Empty(t, rec.diffs)
	assert.ErrorIs(t, sub.Replace(query.All(model.TableEntity)), ErrClosed)
}

func TestSubscription_ExcludesOwnIdentity(t *testing.T) {
	s := New(Options{})
	self := model.Identity("aa01")
	now := time.Now()
	require.NoError(t, s.Update(context.Background(), "players", func(tx *Tx) error {
		if _, err := tx.InsertPlayer(*model.NewPlayer(self, "me", model.V(0, 0), 100, now)); err != nil {
			return err
		}
		_, err := tx.InsertPlayer(*model.NewPlayer("bb02", "peer", model.V(5, 5), 100, now))
		return err
	}))

	q, err := query.Window(model.TablePlayer, model.Around(model.V(0, 0), 50), self)
	require.NoError(t, err)
	rec := &recorder{}
	_, err = s.Subscribe(q, rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"insert player:bb02"}, rec.ops())
}

func TestTx_EntitiesInSeesStagedWrites(t *testing.T) {
	s := New(Options{})
	a := insertEntity(t, s, 0, 0)
	insertEntity(t, s, 1000, 0)

	require.NoError(t, s.Update(context.Background(), "scan", func(tx *Tx) error {
		cur, _ := tx.Entity(a.ID)
		cur.Position = model.V(2000, 0)
		require.NoError(t, tx.UpdateEntity(cur))
		_, err := tx.InsertEntity(model.Entity{Kind: "rat", Position: model.V(1010, 0)})
		require.NoError(t, err)

		got := tx.EntitiesIn(model.Rect{MinX: 900, MinY: -10, MaxX: 2100, MaxY: 10})
		require.Len(t, got, 3)
		assert.Equal(t, []uint64{1, 2, 3}, []uint64{got[0].ID, got[1].ID, got[2].ID})

		got = tx.EntitiesIn(model.Rect{MinX: -10, MinY: -10, MaxX: 10, MaxY: 10})
		assert.Empty(t, got, "moved entity no longer at origin")
		return nil
	}))
}

func TestTx_DamageLog(t *testing.T) {
	s := New(Options{})
	require.NoError(t, s.Update(context.Background(), "damage", func(tx *Tx) error {
		for _, amt := range []float64{60, 50} {
			if _, err := tx.InsertDamage(model.DamageEvent{EntityID: 7, Attacker: "aa", Amount: amt}); err != nil {
				return err
			}
		}
		_, err := tx.InsertDamage(model.DamageEvent{EntityID: 8, Attacker: "bb", Amount: 1})
		return err
	}))

	require.NoError(t, s.Update(context.Background(), "cleanup", func(tx *Tx) error {
		assert.Len(t, tx.DamageFor(7), 2)
		n, err := tx.DeleteDamageFor(7)
		assert.Equal(t, 2, n)
		return err
	}))
	require.NoError(t, s.View(func(tx *Tx) error {
		assert.Empty(t, tx.DamageFor(7))
		assert.Len(t, tx.DamageFor(8), 1)
		return nil
	}))
}

func TestStore_UpdateHonorsContext(t *testing.T) {
	s := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Update(ctx, "cancelled", func(tx *Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_RouteExplicitIDs(t *testing.T) {
	s := New(Options{})
	require.NoError(t, s.Update(context.Background(), "routes", func(tx *Tx) error {
		area := model.Rect{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}
		if _, err := tx.InsertRoute(model.Route{ID: 5, SpawnArea: area, Kind: "rat", MaxCount: 1}); err != nil {
			return err
		}
		r, err := tx.InsertRoute(model.Route{SpawnArea: area, Kind: "rat", MaxCount: 1})
		assert.Equal(t, uint64(6), r.ID)
		if err != nil {
			return err
		}
		_, err = tx.InsertRoute(model.Route{ID: 5, SpawnArea: area})
		assert.ErrorIs(t, err, ErrExists)
		return nil
	}))
}

func TestStore_WritesWithoutSubscribers(t *testing.T) {
	t.Parallel()
	s := New(Options{})

	errCh := make(chan error, 1)
	go func() {
		var err error
		for _, x := range []float64{10, 20} {
			if err == nil {
				err = s.Update(context.Background(), "insert", func(tx *Tx) error {
					_, err := tx.InsertEntity(model.Entity{Kind: "rat", Position: model.V(x, 0), CurrentHP: 10, MaxHP: 10})
					return err
				})
			}
		}
		errCh <- err
	}()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("second write without subscribers did not return")
	}

	// a subscriber arriving later sees both rows and later writes
	rec := &recorder{}
	sub, err := s.Subscribe(window(t, -100, 100), rec)
	require.NoError(t, err)
	defer sub.Close()
	assert.Len(t, rec.diffs, 2)

	insertEntity(t, s, 30, 0)
	assert.Len(t, rec.diffs, 3)
}

func TestStore_WritesOutsideEverySubscription(t *testing.T) {
	t.Parallel()
	s := New(Options{})
	rec := &recorder{}
	sub, err := s.Subscribe(window(t, -100, 100), rec)
	require.NoError(t, err)
	defer sub.Close()

	insertEntity(t, s, 500, 0)
	insertEntity(t, s, 600, 0)
	assert.Empty(t, rec.diffs)

	insertEntity(t, s, 50, 0)
	assert.Equal(t, []string{"insert enemy:3"}, rec.ops())
}
