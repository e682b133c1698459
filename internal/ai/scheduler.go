package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/realmsync/internal/store"
)

// Task is one periodic world tick. Tick runs inside a single store
// transaction; returning an error aborts that transaction only.
type Task interface {
	Name() string
	Tick(tx *store.Tx, now time.Time, dt time.Duration) error
}

// ObserverCounter reports how many observers are connected.
type ObserverCounter interface {
	ObserverCount() int
}

// ObserverFunc adapts a function to ObserverCounter.
type ObserverFunc func() int

// ObserverCount implements ObserverCounter.
func (f ObserverFunc) ObserverCount() int { return f() }

// Loop binds a task to its fixed interval.
type Loop struct {
	Task     Task
	Interval time.Duration
}

// Scheduler runs each loop on its own goroutine. Loops never overlap with
// themselves, and the store serializes their transactions.
type Scheduler struct {
	store     *store.Store
	observers ObserverCounter
	loops     []Loop
	logger    *slog.Logger
	debug     bool
	now       func() time.Time

	ticks   atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// WithDebug enables per-tick debug logs.
func WithDebug(debug bool) SchedulerOption {
	return func(s *Scheduler) { s.debug = debug }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a scheduler. Loops with a non-positive interval
// are rejected.
func NewScheduler(st *store.Store, observers ObserverCounter, loops []Loop, opts ...SchedulerOption) (*Scheduler, error) {
	for _, l := range loops {
		if l.Task == nil {
			return nil, errors.New("loop without task")
		}
		if l.Interval <= 0 {
			return nil, fmt.Errorf("loop %s: interval must be positive, got %s", l.Task.Name(), l.Interval)
		}
	}
	s := &Scheduler{
		store:     st,
		observers: observers,
		loops:     loops,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run starts every loop and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, l := range s.loops {
		g.Go(func() error {
			return s.runLoop(ctx, l)
		})
	}

	s.logger.Info("AI scheduler started", "loops", len(s.loops))
	err := g.Wait()
	s.logger.Info("AI scheduler stopped",
		"ticks", s.ticks.Load(),
		"skipped", s.skipped.Load(),
		"failed", s.failed.Load())
	return err
}

func (s *Scheduler) runLoop(ctx context.Context, l Loop) error {
	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.TickOnce(ctx, l)
		}
	}
}

// TickOnce runs one tick of l now. It is skipped when nobody observes
// the world. Tick errors are logged; the loop keeps running.
func (s *Scheduler) TickOnce(ctx context.Context, l Loop) bool {
	if s.observers != nil && s.observers.ObserverCount() == 0 {
		s.skipped.Add(1)
		return false
	}

	now := s.now()
	err := s.store.Update(ctx, l.Task.Name(), func(tx *store.Tx) error {
		return l.Task.Tick(tx, now, l.Interval)
	})
	if err != nil {
		if ctx.Err() == nil {
			s.failed.Add(1)
			s.logger.Warn("tick failed", "task", l.Task.Name(), "error", err)
		}
		return false
	}

	s.ticks.Add(1)
	if s.debug {
		s.logger.Debug("tick completed", "task", l.Task.Name(), "elapsed", s.now().Sub(now))
	}
	return true
}

// Stats returns counters of executed, skipped and failed ticks.
func (s *Scheduler) Stats() (ticks, skipped, failed uint64) {
	return s.ticks.Load(), s.skipped.Load(), s.failed.Load()
}
