package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/realmsync/internal/model"
)

// PlayerRepository stores player progress between sessions: name, last
// position, level and experience. It implements action.PlayerRepository.
type PlayerRepository struct {
	pool *pgxpool.Pool
}

// NewPlayerRepository creates a player repository.
func NewPlayerRepository(pool *pgxpool.Pool) *PlayerRepository {
	return &PlayerRepository{pool: pool}
}

// Load returns the saved progress of id. ok is false when nothing was saved.
func (r *PlayerRepository) Load(ctx context.Context, id model.Identity) (p model.Player, ok bool, err error) {
	err = r.pool.QueryRow(ctx, `
		SELECT name, x, y, level, experience
		FROM players
		WHERE identity = $1`, string(id),
	).Scan(&p.Name, &p.Position.X, &p.Position.Y, &p.Level, &p.Experience)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Player{}, false, nil
	}
	if err != nil {
		return model.Player{}, false, fmt.Errorf("loading player %s: %w", id.Short(), err)
	}
	p.Identity = id
	return p, true, nil
}

// Save upserts the persistent part of p.
func (r *PlayerRepository) Save(ctx context.Context, p model.Player) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO players (identity, name, x, y, level, experience, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (identity) DO UPDATE SET
			name = EXCLUDED.name,
			x = EXCLUDED.x, y = EXCLUDED.y,
			level = EXCLUDED.level,
			experience = EXCLUDED.experience,
			updated_at = now()`,
		string(p.Identity), p.Name, p.Position.X, p.Position.Y, p.Level, p.Experience,
	)
	if err != nil {
		return fmt.Errorf("saving player %s: %w", p.Identity.Short(), err)
	}
	return nil
}
