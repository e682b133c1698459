// Package client wires the client-side sync components: observer windows,
// the entity registry, the state mirror and position reconciliation.
package client

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/udisondev/realmsync/internal/mirror"
	"github.com/udisondev/realmsync/internal/reconcile"
	"github.com/udisondev/realmsync/internal/registry"
)

// Debug toggles per-component debug logging.
type Debug struct {
	Diffs     bool `yaml:"diffs"`
	Windows   bool `yaml:"windows"`
	Reconcile bool `yaml:"reconcile"`
}

// SystemKind enumerates the client systems.
type SystemKind uint8

const (
	SystemEntities SystemKind = iota
	SystemAnimation
	SystemReconciliation
	systemCount
)

func (k SystemKind) String() string {
	switch k {
	case SystemEntities:
		return "entities"
	case SystemAnimation:
		return "animation"
	case SystemReconciliation:
		return "reconciliation"
	}
	return fmt.Sprintf("system(%d)", uint8(k))
}

// Systems is the typed registry of client systems. Each kind has its own
// typed accessor; nothing is looked up by name.
type Systems struct {
	entities       *registry.Registry
	animation      *mirror.Mirror
	reconciliation *reconcile.Service
}

// Entities returns the entity registry.
func (s *Systems) Entities() *registry.Registry { return s.entities }

// Animation returns the state mirror.
func (s *Systems) Animation() *mirror.Mirror { return s.animation }

// Reconciliation returns the reconciliation service.
func (s *Systems) Reconciliation() *reconcile.Service { return s.reconciliation }

// Has reports whether the system of kind is installed.
func (s *Systems) Has(kind SystemKind) bool {
	switch kind {
	case SystemEntities:
		return s.entities != nil
	case SystemAnimation:
		return s.animation != nil
	case SystemReconciliation:
		return s.reconciliation != nil
	}
	return false
}

// Missing returns the kinds not installed.
func (s *Systems) Missing() []SystemKind {
	var out []SystemKind
	for k := range systemCount {
		if !s.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

// Context owns the client services and their lifecycle. It is constructed
// once and passed down explicitly.
type Context struct {
	Logger  *slog.Logger
	Debug   Debug
	Systems Systems
}

// Options configures NewContext.
type Options struct {
	Logger    *slog.Logger
	Debug     Debug
	Animator  mirror.Animator
	HitFlash  time.Duration // 0 = default
	Fade      time.Duration // 0 = default
	Reconcile reconcile.Config
}

// NewContext builds every client system.
func NewContext(opts Options) (*Context, error) {
	if opts.Animator == nil {
		return nil, fmt.Errorf("client context: animator is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Context{
		Logger: logger,
		Debug:  opts.Debug,
		Systems: Systems{
			entities:       registry.New(opts.Fade, logger.With("system", SystemEntities.String()), opts.Debug.Diffs || opts.Debug.Windows),
			animation:      mirror.New(opts.Animator, opts.HitFlash),
			reconciliation: reconcile.New(opts.Reconcile),
		},
	}
	if missing := c.Systems.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("client context: systems not installed: %v", missing)
	}
	return c, nil
}
