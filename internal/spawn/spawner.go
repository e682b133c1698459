package spawn

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/udisondev/realmsync/internal/model"
	"github.com/udisondev/realmsync/internal/store"
)

// RouteRepository loads configured spawn routes.
type RouteRepository interface {
	LoadAll(ctx context.Context) ([]model.Route, error)
}

// Spawner runs the spawn tick: every due route is topped up to its
// capacity with fresh entities at random points of its spawn area.
type Spawner struct {
	kinds  model.KindCatalog
	rng    *rand.Rand
	logger *slog.Logger
	debug  bool
}

// NewSpawner creates a spawner. A nil rng gets a randomly seeded PCG.
func NewSpawner(kinds model.KindCatalog, rng *rand.Rand, logger *slog.Logger, debug bool) *Spawner {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Spawner{kinds: kinds, rng: rng, logger: logger, debug: debug}
}

// Name implements ai.Task.
func (s *Spawner) Name() string { return "spawn" }

// Tick implements ai.Task. LastSpawnTime of a due route is advanced even
// when the route is already at capacity.
func (s *Spawner) Tick(tx *store.Tx, now time.Time, _ time.Duration) error {
	routes := tx.Routes()
	if len(routes) == 0 {
		return nil
	}

	live := make(map[uint64]int, len(routes))
	for _, e := range tx.Entities() {
		if !e.IsDead() {
			live[e.RouteID]++
		}
	}

	spawned := 0
	for _, r := range routes {
		if !r.Due(now) {
			continue
		}

		kind, ok := s.kinds.Get(r.Kind)
		if !ok {
			s.logger.Warn("route references unknown kind", "route", r.ID, "kind", r.Kind)
		} else {
			for n := live[r.ID]; n < r.MaxCount; n++ {
				if _, err := tx.InsertEntity(s.newEntity(&r, kind, now)); err != nil {
					return fmt.Errorf("spawn on route %d: %w", r.ID, err)
				}
				spawned++
			}
		}

		r.LastSpawnTime = now
		if err := tx.UpdateRoute(r); err != nil {
			return fmt.Errorf("advance route %d: %w", r.ID, err)
		}
	}

	if spawned > 0 {
		s.logger.Info("entities spawned", "count", spawned)
	}
	return nil
}

func (s *Spawner) newEntity(r *model.Route, kind *model.KindConfig, now time.Time) model.Entity {
	movingRight := s.rng.IntN(2) == 0
	return model.Entity{
		RouteID:     r.ID,
		Kind:        kind.Name,
		Position:    r.SpawnArea.RandomPoint(s.rng),
		State:       model.StateIdle,
		StateSince:  now,
		Facing:      model.FacingFor(movingRight),
		CurrentHP:   kind.MaxHP,
		MaxHP:       kind.MaxHP,
		LastUpdated: now,
		MovingRight: movingRight,
	}
}

// LoadRoutes inserts the routes from repo into the store in one
// transaction. Routes whose kind is unknown are rejected.
func (s *Spawner) LoadRoutes(ctx context.Context, st *store.Store, repo RouteRepository) (int, error) {
	routes, err := repo.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading routes: %w", err)
	}
	for _, r := range routes {
		if _, ok := s.kinds.Get(r.Kind); !ok {
			return 0, fmt.Errorf("route %d: unknown kind %q", r.ID, r.Kind)
		}
	}

	err = st.Update(ctx, "load routes", func(tx *store.Tx) error {
		for _, r := range routes {
			if _, err := tx.InsertRoute(r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("routes loaded", "count", len(routes))
	return len(routes), nil
}

// StaticRoutes serves a fixed route list, e.g. from the YAML config.
type StaticRoutes []model.Route

// LoadAll implements RouteRepository.
func (r StaticRoutes) LoadAll(context.Context) ([]model.Route, error) {
	out := make([]model.Route, len(r))
	copy(out, r)
	return out, nil
}
