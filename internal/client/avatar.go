package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/udisondev/realmsync/internal/action"
	"github.com/udisondev/realmsync/internal/model"
	"github.com/udisondev/realmsync/internal/query"
	"github.com/udisondev/realmsync/internal/store"
	"github.com/udisondev/realmsync/internal/subscription"
)

// Mover writes the client's own avatar to the server.
type Mover interface {
	Move(ctx context.Context, pos model.Vec2, facing model.Facing) error
	SetState(ctx context.Context, state model.EntityState) error
}

// Avatar is the local player's own avatar. It mirrors the player's own
// row and guards state requests with the same graph the server enforces.
type Avatar struct {
	id    model.Identity
	mover Mover

	mu     sync.Mutex
	pos    model.Vec2
	facing model.Facing
	state  model.EntityState
	known  bool
	sub    subscription.Handle
}

// NewAvatar creates the avatar of id.
func NewAvatar(id model.Identity, mover Mover) *Avatar {
	return &Avatar{id: id, mover: mover}
}

// ID returns the avatar identity.
func (a *Avatar) ID() model.Identity { return a.id }

// Follow subscribes to the avatar's own row so position and state track
// the server.
func (a *Avatar) Follow(source subscription.Source) error {
	id, err := model.ParseIdentity(string(a.id))
	if err != nil {
		return fmt.Errorf("follow own row: %w", err)
	}
	q := (&query.Filter{
		Table: model.TablePlayer,
		Conds: []query.Cond{{Col: query.ColIdentity, Op: query.OpEQ, Str: string(id)}},
	}).String()
	h, err := source.Subscribe(q, store.HandlerFuncs{
		Insert: a.observe,
		Update: func(_, row model.Row) { a.observe(row) },
	})
	if err != nil {
		return fmt.Errorf("follow own row: %w", err)
	}
	a.mu.Lock()
	a.sub = h
	a.mu.Unlock()
	return nil
}

func (a *Avatar) observe(row model.Row) {
	p, ok := row.(*model.Player)
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pos = p.Position
	a.facing = p.Facing
	a.state = p.State
	a.known = true
}

// Position implements subscription.PositionProvider.
func (a *Avatar) Position() (model.Vec2, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pos, a.known
}

// State returns the last known own state.
func (a *Avatar) State() model.EntityState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// MoveTo writes a new own position; facing follows the move direction.
func (a *Avatar) MoveTo(ctx context.Context, pos model.Vec2) error {
	a.mu.Lock()
	if a.state == model.StateDead {
		a.mu.Unlock()
		return model.ErrEntityDead
	}
	facing := model.FacingToward(a.pos, pos, a.facing)
	a.mu.Unlock()

	if err := a.mover.Move(ctx, pos, facing); err != nil {
		return err
	}

	a.mu.Lock()
	a.pos, a.facing, a.known = pos, facing, true
	a.mu.Unlock()
	return nil
}

// RequestState asks the server for a discrete state change. Requests the
// server would reject are refused locally.
func (a *Avatar) RequestState(ctx context.Context, to model.EntityState) error {
	if to == model.StateDamaged || to == model.StateDead {
		return fmt.Errorf("%w: %s", action.ErrServerOwnedState, to)
	}
	a.mu.Lock()
	from := a.state
	a.mu.Unlock()
	if err := model.CheckTransition(from, to); err != nil {
		return fmt.Errorf("%s -> %s: %w", from, to, err)
	}

	if err := a.mover.SetState(ctx, to); err != nil {
		return err
	}
	a.mu.Lock()
	a.state = to
	a.mu.Unlock()
	return nil
}

// Close stops following the own row.
func (a *Avatar) Close() error {
	a.mu.Lock()
	h := a.sub
	a.sub = nil
	a.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Close()
}

// LocalMover writes through an in-process action service.
type LocalMover struct {
	Service *action.Service
	ID      model.Identity
}

// Move implements Mover.
func (m LocalMover) Move(ctx context.Context, pos model.Vec2, facing model.Facing) error {
	return m.Service.MovePlayer(ctx, m.ID, pos, facing)
}

// SetState implements Mover.
func (m LocalMover) SetState(ctx context.Context, state model.EntityState) error {
	return m.Service.SetPlayerState(ctx, m.ID, state)
}
