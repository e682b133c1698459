// Package action holds the mutation entry points consumed from outside
// the simulation: player movement and state, damage, connect/disconnect
// and respawn. Each call is one store transaction validated against the
// entity state graph. Clients never write entity rows directly.
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/udisondev/realmsync/internal/ai"
	"github.com/udisondev/realmsync/internal/combat"
	"github.com/udisondev/realmsync/internal/model"
	"github.com/udisondev/realmsync/internal/store"
)

var (
	// ErrServerOwnedState is returned when a client requests Damaged or Dead.
	ErrServerOwnedState = errors.New("state is set by the server only")
	// ErrOffline is returned for actions of a disconnected player.
	ErrOffline = errors.New("player is offline")
	// ErrNotDead is returned when respawning a living player.
	ErrNotDead = errors.New("player is not dead")
	// ErrInvalidPosition is returned for non-finite or out-of-world positions.
	ErrInvalidPosition = errors.New("invalid position")
)

// PlayerRepository persists player progress between sessions.
type PlayerRepository interface {
	Load(ctx context.Context, id model.Identity) (model.Player, bool, error)
	Save(ctx context.Context, p model.Player) error
}

// Config configures player lifecycle defaults.
type Config struct {
	SpawnPoint  model.Vec2
	PlayerMaxHP float64
	// WorldBounds confines player positions. The zero Rect disables the check.
	WorldBounds model.Rect
}

// Service implements the mutation entry points.
type Service struct {
	store    *store.Store
	machine  *ai.Machine
	resolver *combat.Resolver
	players  PlayerRepository
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithPlayerRepository enables loading and saving player progress.
func WithPlayerRepository(repo PlayerRepository) Option {
	return func(s *Service) { s.players = repo }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service.
func NewService(st *store.Store, machine *ai.Machine, resolver *combat.Resolver, cfg Config, opts ...Option) *Service {
	if cfg.PlayerMaxHP <= 0 {
		cfg.PlayerMaxHP = 100
	}
	s := &Service{
		store:    st,
		machine:  machine,
		resolver: resolver,
		cfg:      cfg,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DamageEntity applies amount of damage from attacker to entity.
func (s *Service) DamageEntity(ctx context.Context, attacker model.Identity, entityID uint64, amount float64) (combat.HitResult, error) {
	var res combat.HitResult
	err := s.store.Update(ctx, "damage entity", func(tx *store.Tx) error {
		p, err := s.activePlayer(tx, attacker)
		if err != nil {
			return err
		}
		if p.IsDead() {
			return fmt.Errorf("attacker %s: %w", p.Identity.Short(), model.ErrEntityDead)
		}
		res, err = s.resolver.Hit(tx, attacker, entityID, amount, s.now())
		return err
	})
	return res, err
}

// MovePlayer writes the player's own position and facing.
func (s *Service) MovePlayer(ctx context.Context, id model.Identity, pos model.Vec2, facing model.Facing) error {
	if !pos.IsFinite() || (s.cfg.WorldBounds != model.Rect{} && !s.cfg.WorldBounds.Contains(pos)) {
		return fmt.Errorf("%w: %v", ErrInvalidPosition, pos)
	}
	return s.store.Update(ctx, "move player", func(tx *store.Tx) error {
		p, err := s.activePlayer(tx, id)
		if err != nil {
			return err
		}
		if p.IsDead() {
			return fmt.Errorf("player %s: %w", p.Identity.Short(), model.ErrEntityDead)
		}
		p.Position = pos
		p.Facing = facing
		return tx.UpdatePlayer(p)
	})
}

// SetPlayerState requests a discrete state change for the player's avatar.
// Damaged and Dead are reserved for the server's damage path.
func (s *Service) SetPlayerState(ctx context.Context, id model.Identity, state model.EntityState) error {
	if state == model.StateDamaged || state == model.StateDead {
		return fmt.Errorf("%w: %s", ErrServerOwnedState, state)
	}
	return s.store.Update(ctx, "set player state", func(tx *store.Tx) error {
		p, err := s.activePlayer(tx, id)
		if err != nil {
			return err
		}
		changed, err := s.machine.TransitionPlayer(&p, state, s.now())
		if err != nil || !changed {
			return err
		}
		return tx.UpdatePlayer(p)
	})
}

// Connect marks the player online, creating the row on first sight. Saved
// progress is restored when a repository is configured.
func (s *Service) Connect(ctx context.Context, id model.Identity, name string) (model.Player, error) {
	id, err := model.ParseIdentity(string(id))
	if err != nil {
		return model.Player{}, err
	}

	var saved model.Player
	var found bool
	if s.players != nil {
		saved, found, err = s.players.Load(ctx, id)
		if err != nil {
			return model.Player{}, fmt.Errorf("loading player %s: %w", id.Short(), err)
		}
	}

	var out model.Player
	err = s.store.Update(ctx, "connect", func(tx *store.Tx) error {
		now := s.now()
		if p, ok := tx.Player(id); ok {
			p.Online = true
			if name != "" {
				p.Name = name
			}
			out = p
			return tx.UpdatePlayer(p)
		}

		p := model.NewPlayer(id, name, s.cfg.SpawnPoint, s.cfg.PlayerMaxHP, now)
		if found {
			p.Level = saved.Level
			p.Experience = saved.Experience
			if saved.Position.IsFinite() {
				p.Position = saved.Position
			}
			if p.Name == "" {
				p.Name = saved.Name
			}
		}
		inserted, err := tx.InsertPlayer(*p)
		out = inserted
		return err
	})
	if err != nil {
		return model.Player{}, err
	}

	s.logger.Info("player connected", "player", id.Short(), "name", out.Name, "restored", found)
	return out, nil
}

// Disconnect marks the player offline and saves progress. Entities
// targeting the player drop aggro on their next patrol tick.
func (s *Service) Disconnect(ctx context.Context, id model.Identity) error {
	var out model.Player
	err := s.store.Update(ctx, "disconnect", func(tx *store.Tx) error {
		p, ok := tx.Player(id)
		if !ok {
			return fmt.Errorf("player %s: %w", id.Short(), store.ErrNotFound)
		}
		p.Online = false
		out = p
		return tx.UpdatePlayer(p)
	})
	if err != nil {
		return err
	}

	if s.players != nil {
		if err := s.players.Save(ctx, out); err != nil {
			return fmt.Errorf("saving player %s: %w", id.Short(), err)
		}
	}
	s.logger.Info("player disconnected", "player", id.Short())
	return nil
}

// RespawnPlayer revives a dead player at the spawn point with full HP.
// Respawn replaces the terminal row rather than walking the state graph.
func (s *Service) RespawnPlayer(ctx context.Context, id model.Identity) (model.Player, error) {
	var out model.Player
	err := s.store.Update(ctx, "respawn", func(tx *store.Tx) error {
		p, err := s.activePlayer(tx, id)
		if err != nil {
			return err
		}
		if !p.IsDead() {
			return fmt.Errorf("player %s: %w", id.Short(), ErrNotDead)
		}
		p.Position = s.cfg.SpawnPoint
		p.CurrentHP = p.MaxHP
		p.State = model.StateIdle
		p.StateSince = s.now()
		p.Facing = model.FacingRight
		out = p
		return tx.UpdatePlayer(p)
	})
	if err != nil {
		return model.Player{}, err
	}
	s.logger.Info("player respawned", "player", id.Short())
	return out, nil
}

func (s *Service) activePlayer(tx *store.Tx, id model.Identity) (model.Player, error) {
	p, ok := tx.Player(id)
	if !ok {
		return model.Player{}, fmt.Errorf("player %s: %w", id.Short(), store.ErrNotFound)
	}
	if !p.Online {
		return model.Player{}, fmt.Errorf("player %s: %w", id.Short(), ErrOffline)
	}
	return p, nil
}
