// Package testutil holds shared test fixtures: kind catalogs, a manual
// clock, an in-memory player repository and a Postgres testcontainer.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/udisondev/realmsync/internal/model"
	"github.com/udisondev/realmsync/internal/store"
)

// T0 is the fixed start time used across tests.
var T0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// Kinds returns a catalog with a passive enemy ("rat") and an aggressive
// boss ("ogre") with one attack.
func Kinds(tb testing.TB) model.KindCatalog {
	tb.Helper()
	kinds, err := model.NewKindCatalog([]model.KindConfig{
		{Name: "rat", MaxHP: 20, Speed: 50, Reward: 10},
		{
			Name: "ogre", MaxHP: 200, Speed: 30, ChaseSpeed: 60, Aggressive: true,
			AggroRange: 200, LeashRange: 600, Reward: 100, Boss: true,
			Attacks: []model.AttackConfig{{Range: 40, Damage: 15, Cooldown: time.Second, Duration: 400 * time.Millisecond}},
		},
	})
	if err != nil {
		tb.Fatalf("building kind catalog: %v", err)
	}
	return kinds
}

// SeedEntities inserts entities in one transaction and returns their ids.
func SeedEntities(tb testing.TB, st *store.Store, entities ...model.Entity) []uint64 {
	tb.Helper()
	ids := make([]uint64, 0, len(entities))
	err := st.Update(context.Background(), "seed entities", func(tx *store.Tx) error {
		for _, e := range entities {
			inserted, err := tx.InsertEntity(e)
			if err != nil {
				return err
			}
			ids = append(ids, inserted.ID)
		}
		return nil
	})
	if err != nil {
		tb.Fatalf("seeding entities: %v", err)
	}
	return ids
}

// Clock is a manually advanced clock, safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// MemPlayers is an in-memory player repository.
type MemPlayers struct {
	mu    sync.Mutex
	saved map[model.Identity]model.Player
	saves int
}

// NewMemPlayers returns an empty repository.
func NewMemPlayers() *MemPlayers {
	return &MemPlayers{saved: make(map[model.Identity]model.Player)}
}

// Load returns the saved player.
func (m *MemPlayers) Load(_ context.Context, id model.Identity) (model.Player, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.saved[id]
	return p, ok, nil
}

// Save stores p.
func (m *MemPlayers) Save(_ context.Context, p model.Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[p.Identity] = p
	m.saves++
	return nil
}

// Put preloads a saved player.
func (m *MemPlayers) Put(p model.Player) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[p.Identity] = p
}

// Saves returns how many times Save was called.
func (m *MemPlayers) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
