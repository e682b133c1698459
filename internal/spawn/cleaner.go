package spawn

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/udisondev/realmsync/internal/store"
)

// DefaultGrace is how long a Dead entity stays visible before removal.
const DefaultGrace = 5 * time.Second

// Cleaner runs the cleanup tick: Dead entities older than the grace
// period are deleted together with their damage log.
type Cleaner struct {
	grace  time.Duration
	logger *slog.Logger
}

// NewCleaner creates a cleaner. A non-positive grace uses DefaultGrace.
func NewCleaner(grace time.Duration, logger *slog.Logger) *Cleaner {
	if grace <= 0 {
		grace = DefaultGrace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{grace: grace, logger: logger}
}

// Name implements ai.Task.
func (c *Cleaner) Name() string { return "cleanup" }

// Tick implements ai.Task.
func (c *Cleaner) Tick(tx *store.Tx, now time.Time, _ time.Duration) error {
	removed, events := 0, 0
	for _, e := range tx.Entities() {
		if !e.IsDead() || now.Sub(e.LastUpdated) < c.grace {
			continue
		}
		n, err := tx.DeleteDamageFor(e.ID)
		if err != nil {
			return fmt.Errorf("drop damage log of %d: %w", e.ID, err)
		}
		if err := tx.DeleteEntity(e.ID); err != nil {
			return fmt.Errorf("delete entity %d: %w", e.ID, err)
		}
		removed++
		events += n
	}

	if removed > 0 {
		c.logger.Debug("dead entities removed", "entities", removed, "damage_events", events)
	}
	return nil
}
