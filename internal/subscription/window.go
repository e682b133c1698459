package subscription

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/udisondev/realmsync/internal/model"
	"github.com/udisondev/realmsync/internal/query"
	"github.com/udisondev/realmsync/internal/store"
)

// Defaults.
const (
	DefaultRadius          = 1000.0
	DefaultRefreshFraction = 0.25
)

// ErrClosed is returned by a closed window.
var ErrClosed = errors.New("window closed")

// PositionProvider reports the observer position. ok is false while the
// position is unknown, e.g. before the avatar spawned.
type PositionProvider interface {
	Position() (pos model.Vec2, ok bool)
}

// PositionFunc adapts a function to PositionProvider.
type PositionFunc func() (model.Vec2, bool)

// Position implements PositionProvider.
func (f PositionFunc) Position() (model.Vec2, bool) { return f() }

// Event announces a new window.
type Event struct {
	Observer model.Identity
	Center   model.Vec2
	Radius   float64
	Bounds   model.Rect
	Filtered bool // false when running on the unfiltered fallback
	At       time.Time
}

// Contains reports whether p lies within Radius of Center.
func (e Event) Contains(p model.Vec2) bool {
	return e.Center.DistanceSquared(p) <= e.Radius*e.Radius
}

// Listener receives window events. Listeners must not call back into the
// window.
type Listener func(Event)

// Config configures a Window.
type Config struct {
	Radius          float64       `yaml:"radius"`
	RefreshFraction float64       `yaml:"refresh_fraction"`
	Tables          []model.Table `yaml:"-"`
}

// Window is one observer's subscription window. Not safe for concurrent
// use; it is driven from the client frame loop.
type Window struct {
	source   Source
	observer model.Identity
	provider PositionProvider
	handler  store.Handler
	cfg      Config
	logger   *slog.Logger

	handles   map[model.Table]Handle
	opened    bool
	closed    bool
	filtered  bool
	center    model.Vec2 // center of the active query
	anchor    model.Vec2 // position of the last attempt
	lastIssue time.Time
	refreshes int
	failures  int

	listeners []Listener
}

// Open creates a window for observer. No subscription is issued until the
// first MaybeRefresh with a known position. Diffs of every table go to h.
func Open(source Source, observer model.Identity, provider PositionProvider, h store.Handler, cfg Config, logger *slog.Logger) *Window {
	if cfg.Radius <= 0 {
		cfg.Radius = DefaultRadius
	}
	if cfg.RefreshFraction <= 0 || cfg.RefreshFraction > 1 {
		cfg.RefreshFraction = DefaultRefreshFraction
	}
	if len(cfg.Tables) == 0 {
		cfg.Tables = []model.Table{model.TableEntity, model.TablePlayer}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Window{
		source:   source,
		observer: observer,
		provider: provider,
		handler:  h,
		cfg:      cfg,
		logger:   logger.With("observer", observer.Short()),
		handles:  make(map[model.Table]Handle, len(cfg.Tables)),
	}
}

// OnChange registers a listener for window events.
func (w *Window) OnChange(l Listener) {
	w.listeners = append(w.listeners, l)
}

// Observer returns the observer identity.
func (w *Window) Observer() model.Identity { return w.observer }

// Radius returns the window radius.
func (w *Window) Radius() float64 { return w.cfg.Radius }

// Current returns the active window, false before the first refresh.
func (w *Window) Current() (Event, bool) {
	if !w.opened {
		return Event{}, false
	}
	return w.event(w.lastIssue), true
}

// Refreshes returns how many times the window was (re)issued.
func (w *Window) Refreshes() int { return w.refreshes }

// Filtered reports whether the window runs on filtered queries.
func (w *Window) Filtered() bool { return w.filtered }

// MaybeRefresh issues the first subscription or re-issues the window when
// the observer has moved at least RefreshFraction × Radius since the last
// attempt. It reports whether a new window became active. A failed
// re-issue keeps the previous query and is retried only after the next
// qualifying move.
func (w *Window) MaybeRefresh(now time.Time) (bool, error) {
	if w.closed {
		return false, ErrClosed
	}
	pos, ok := w.provider.Position()
	if !ok || !pos.IsFinite() {
		return false, nil
	}

	if !w.opened {
		w.open(pos, now)
		return true, nil
	}

	if pos.Distance(w.anchor) < w.cfg.Radius*w.cfg.RefreshFraction {
		return false, nil
	}
	w.anchor = pos

	if err := w.replace(pos); err != nil {
		w.failures++
		w.logger.Warn("window refresh failed, keeping previous window",
			"center", w.center,
			"error", err)
		return false, err
	}

	w.center = pos
	w.lastIssue = now
	w.refreshes++
	w.emit(now)
	return true, nil
}

func (w *Window) open(pos model.Vec2, now time.Time) {
	filtered := true
	for _, table := range w.cfg.Tables {
		h, err := w.subscribeFiltered(table, pos)
		if err != nil {
			w.logger.Warn("filtered subscription failed, downgrading to unfiltered",
				"table", table,
				"error", err)
			filtered = false
			h, err = w.source.Subscribe(query.All(table), w.handler)
			if err != nil {
				w.logger.Error("unfiltered subscription failed", "table", table, "error", err)
				continue
			}
		}
		w.handles[table] = h
	}

	w.opened = true
	w.filtered = filtered
	w.center = pos
	w.anchor = pos
	w.lastIssue = now
	w.refreshes++
	w.emit(now)
}

func (w *Window) subscribeFiltered(table model.Table, pos model.Vec2) (Handle, error) {
	q, err := query.Window(table, model.Around(pos, w.cfg.Radius), w.observer)
	if err != nil {
		return nil, err
	}
	return w.source.Subscribe(q, w.handler)
}

// replace swaps every table's query to the window around pos. Tables
// without a handle (both subscribes failed at open) are retried too.
func (w *Window) replace(pos model.Vec2) error {
	bounds := model.Around(pos, w.cfg.Radius)
	var errs []error
	for _, table := range w.cfg.Tables {
		q, err := query.Window(table, bounds, w.observer)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		h, ok := w.handles[table]
		if !ok {
			h, err = w.source.Subscribe(q, w.handler)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", table, err))
				continue
			}
			w.handles[table] = h
			continue
		}
		if err := h.Replace(q); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", table, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if !w.filtered {
		w.logger.Info("window upgraded to filtered subscription")
	}
	w.filtered = true
	return nil
}

func (w *Window) event(at time.Time) Event {
	return Event{
		Observer: w.observer,
		Center:   w.center,
		Radius:   w.cfg.Radius,
		Bounds:   model.Around(w.center, w.cfg.Radius),
		Filtered: w.filtered,
		At:       at,
	}
}

func (w *Window) emit(now time.Time) {
	ev := w.event(now)
	for _, l := range w.listeners {
		l(ev)
	}
}

// Close stops delivery for every table. After Close returns no diff of
// this window is delivered.
func (w *Window) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	var errs []error
	for table, h := range w.handles {
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", table, err))
		}
	}
	clear(w.handles)
	return errors.Join(errs...)
}
