package client

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/udisondev/realmsync/internal/model"
	"github.com/udisondev/realmsync/internal/subscription"
)

// ErrObserverExists is returned when adding an observer twice.
var ErrObserverExists = errors.New("observer already exists")

// Observer is one viewpoint (local player or a followed peer) with its
// own subscription window.
type Observer struct {
	ID     model.Identity
	Window *subscription.Window
}

// FrameStats summarizes one frame.
type FrameStats struct {
	Refreshed int
	Applied   int
	Removed   int
	Records   int
}

// Session drives the client frame loop for any number of observers.
// Frame must be called from a single goroutine; diff delivery may happen
// on any goroutine.
type Session struct {
	ctx      *Context
	source   subscription.Source
	window   subscription.Config
	pipeline *Pipeline
	inbox    Inbox

	observers map[model.Identity]*Observer
	onRemoved func(model.RowKey)
}

// NewSession creates a session reading from source.
func NewSession(ctx *Context, source subscription.Source, window subscription.Config) *Session {
	return &Session{
		ctx:       ctx,
		source:    source,
		window:    window,
		pipeline:  NewPipeline(ctx),
		observers: make(map[model.Identity]*Observer),
	}
}

// Pipeline returns the session pipeline.
func (s *Session) Pipeline() *Pipeline { return s.pipeline }

// Context returns the client context.
func (s *Session) Context() *Context { return s.ctx }

// OnRemoved registers a callback for records dropped after fade-out.
func (s *Session) OnRemoved(fn func(model.RowKey)) { s.onRemoved = fn }

// AddObserver opens a window for id positioned by provider. The window
// subscribes on the next frame where the position is known.
func (s *Session) AddObserver(id model.Identity, provider subscription.PositionProvider) (*Observer, error) {
	if _, ok := s.observers[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrObserverExists, id.Short())
	}
	w := subscription.Open(s.source, id, provider, s.inbox.Handler(id), s.window, s.ctx.Logger)
	w.OnChange(s.ctx.Systems.Entities().OnWindowChanged)

	o := &Observer{ID: id, Window: w}
	s.observers[id] = o
	s.ctx.Logger.Info("observer added", "observer", id.Short())
	return o, nil
}

// RemoveObserver closes id's window and tears down the records it alone
// owned. No diff for the window is applied afterwards.
func (s *Session) RemoveObserver(id model.Identity, now time.Time) error {
	o, ok := s.observers[id]
	if !ok {
		return nil
	}
	delete(s.observers, id)
	err := o.Window.Close()

	// drop diffs the closed window queued before Close returned
	s.applyInbox(now)
	released := s.ctx.Systems.Entities().CloseObserver(id, now)
	s.ctx.Logger.Info("observer removed", "observer", id.Short(), "released", released)
	return err
}

// Observers returns the observer ids in order.
func (s *Session) Observers() []model.Identity {
	ids := make([]model.Identity, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Frame runs one client frame: window refresh checks, diff application,
// fade-out sweep, reconciliation catch-up and mirror hold release.
func (s *Session) Frame(now time.Time) FrameStats {
	var stats FrameStats

	for _, id := range s.Observers() {
		ok, err := s.observers[id].Window.MaybeRefresh(now)
		if err != nil && s.ctx.Debug.Windows {
			s.ctx.Logger.Debug("window refresh deferred", "observer", id.Short(), "error", err)
		}
		if ok {
			stats.Refreshed++
		}
	}

	stats.Applied = len(s.pipeline.Promote(now))
	stats.Applied += s.applyInbox(now)

	removed := s.ctx.Systems.Entities().Sweep(now)
	stats.Removed = len(removed)
	for _, k := range removed {
		s.ctx.Systems.Animation().Forget(k)
		if s.onRemoved != nil {
			s.onRemoved(k)
		}
	}

	s.pipeline.Step(now)
	stats.Records = s.ctx.Systems.Entities().Len()
	return stats
}

func (s *Session) applyInbox(now time.Time) int {
	n := 0
	for _, env := range s.inbox.Drain() {
		if _, live := s.observers[env.Observer]; !live {
			continue
		}
		s.pipeline.Apply(env.Observer, env.Diff, now)
		n++
	}
	return n
}

// Close closes every window.
func (s *Session) Close() error {
	var errs []error
	for _, id := range s.Observers() {
		if err := s.observers[id].Window.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(s.observers, id)
	}
	return errors.Join(errs...)
}
