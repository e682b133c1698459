// Package reconcile corrects locally rendered positions toward the
// authoritative ones: small drift is ignored, moderate drift is smoothed
// over a short window, large jumps snap.
package reconcile

import (
	"time"

	"github.com/udisondev/realmsync/internal/model"
)

// Defaults.
const (
	DefaultDeadband     = 1.0
	DefaultSnapDistance = 256.0
	DefaultWindow       = 120 * time.Millisecond
)

// targetEpsilon decides whether two authoritative targets are the same.
const targetEpsilon = 1e-6

// Outcome of a reconciliation check.
type Outcome uint8

const (
	Ignored Outcome = iota
	Smoothed
	Snapped
	Suspended
)

func (o Outcome) String() string {
	switch o {
	case Ignored:
		return "ignored"
	case Smoothed:
		return "smoothed"
	case Snapped:
		return "snapped"
	case Suspended:
		return "suspended"
	}
	return "unknown"
}

// Config holds the reconciliation thresholds.
type Config struct {
	Deadband     float64       `yaml:"deadband"`
	SnapDistance float64       `yaml:"snap_distance"`
	Window       time.Duration `yaml:"window"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		Deadband:     DefaultDeadband,
		SnapDistance: DefaultSnapDistance,
		Window:       DefaultWindow,
	}
}

// Track is the per-entity reconciliation state.
type Track struct {
	Rendered model.Vec2

	from   model.Vec2
	target model.Vec2
	start  time.Time
	active bool
	placed bool
	dead   bool
	onDone func(model.Vec2)
}

// Place puts the track at pos with no correction in flight.
func (t *Track) Place(pos model.Vec2) {
	*t = Track{Rendered: pos, placed: true, dead: t.dead}
}

// SetDead suspends (or resumes) reconciliation. A suspended track drops
// its in-flight correction.
func (t *Track) SetDead(dead bool) {
	t.dead = dead
	if dead {
		t.active = false
		t.onDone = nil
	}
}

// Dead reports whether reconciliation is suspended.
func (t *Track) Dead() bool { return t.dead }

// Active reports whether a smooth correction is in flight.
func (t *Track) Active() bool { return t.active }

// Target returns the in-flight correction target.
func (t *Track) Target() (model.Vec2, bool) { return t.target, t.active }

// Service applies the thresholds of Config to tracks.
type Service struct {
	cfg Config
}

// New creates a Service. Zero fields of cfg fall back to the defaults.
func New(cfg Config) *Service {
	d := DefaultConfig()
	if cfg.Deadband <= 0 {
		cfg.Deadband = d.Deadband
	}
	if cfg.SnapDistance <= 0 {
		cfg.SnapDistance = d.SnapDistance
	}
	if cfg.Window <= 0 {
		cfg.Window = d.Window
	}
	return &Service{cfg: cfg}
}

// Config returns the effective thresholds.
func (s *Service) Config() Config { return s.cfg }

// CheckAndReconcile compares the rendered position of t with auth.
// onReconciled receives the final corrected position: immediately for a
// snap, once the smoothing window elapses (via Step) otherwise. Repeating
// the same authoritative position causes no further correction.
func (s *Service) CheckAndReconcile(t *Track, auth model.Vec2, now time.Time, onReconciled func(model.Vec2)) Outcome {
	if t.dead {
		return Suspended
	}
	if !t.placed {
		t.Place(auth)
		notify(onReconciled, auth)
		return Snapped
	}
	if t.active && t.target.ApproxEqual(auth, targetEpsilon) {
		return Ignored
	}

	dist := t.Rendered.Distance(auth)
	switch {
	case dist <= s.cfg.Deadband:
		t.active = false
		t.onDone = nil
		return Ignored

	case dist >= s.cfg.SnapDistance:
		t.Rendered = auth
		t.active = false
		t.onDone = nil
		notify(onReconciled, auth)
		return Snapped
	}

	t.from = t.Rendered
	t.target = auth
	t.start = now
	t.active = true
	t.onDone = onReconciled
	return Smoothed
}

// Step advances an in-flight correction to now and returns the rendered
// position.
func (s *Service) Step(t *Track, now time.Time) model.Vec2 {
	if !t.active || t.dead {
		return t.Rendered
	}
	k := float64(now.Sub(t.start)) / float64(s.cfg.Window)
	if k < 1 {
		t.Rendered = t.from.Lerp(t.target, k)
		return t.Rendered
	}

	t.Rendered = t.target
	t.active = false
	done := t.onDone
	t.onDone = nil
	notify(done, t.Rendered)
	return t.Rendered
}

func notify(fn func(model.Vec2), pos model.Vec2) {
	if fn != nil {
		fn(pos)
	}
}
