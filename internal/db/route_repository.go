package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/realmsync/internal/model"
)

// RouteRepository loads and stores spawn routes. It implements
// spawn.RouteRepository.
type RouteRepository struct {
	pool *pgxpool.Pool
}

// NewRouteRepository creates a route repository.
func NewRouteRepository(pool *pgxpool.Pool) *RouteRepository {
	return &RouteRepository{pool: pool}
}

// LoadAll loads every route ordered by id.
func (r *RouteRepository) LoadAll(ctx context.Context) ([]model.Route, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, kind, min_x, min_y, max_x, max_y, max_count, spawn_interval_ms
		FROM routes
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("loading routes: %w", err)
	}
	defer rows.Close()

	routes := make([]model.Route, 0, 16)
	for rows.Next() {
		var (
			rt         model.Route
			id         int64
			maxCount   int32
			intervalMs int64
		)
		if err := rows.Scan(&id, &rt.Kind,
			&rt.SpawnArea.MinX, &rt.SpawnArea.MinY, &rt.SpawnArea.MaxX, &rt.SpawnArea.MaxY,
			&maxCount, &intervalMs); err != nil {
			return nil, fmt.Errorf("scanning route row: %w", err)
		}
		rt.ID = uint64(id)
		rt.MaxCount = int(maxCount)
		rt.SpawnInterval = time.Duration(intervalMs) * time.Millisecond
		routes = append(routes, rt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating route rows: %w", err)
	}
	return routes, nil
}

// Upsert inserts or replaces route rt. The id must be set.
func (r *RouteRepository) Upsert(ctx context.Context, rt model.Route) error {
	if rt.ID == 0 {
		return fmt.Errorf("upserting route: id is required")
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO routes (id, kind, min_x, min_y, max_x, max_y, max_count, spawn_interval_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			min_x = EXCLUDED.min_x, min_y = EXCLUDED.min_y,
			max_x = EXCLUDED.max_x, max_y = EXCLUDED.max_y,
			max_count = EXCLUDED.max_count,
			spawn_interval_ms = EXCLUDED.spawn_interval_ms`,
		int64(rt.ID), rt.Kind,
		rt.SpawnArea.MinX, rt.SpawnArea.MinY, rt.SpawnArea.MaxX, rt.SpawnArea.MaxY,
		int32(rt.MaxCount), rt.SpawnInterval.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("upserting route %d: %w", rt.ID, err)
	}
	return nil
}

// Delete removes the route with id.
func (r *RouteRepository) Delete(ctx context.Context, id uint64) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM routes WHERE id = $1`, int64(id)); err != nil {
		return fmt.Errorf("deleting route %d: %w", id, err)
	}
	return nil
}
