package model

import (
	"fmt"
	"time"
)

// AttackConfig describes one attack slot of a kind.
type AttackConfig struct {
	Damage   float64       `yaml:"damage"`
	Range    float64       `yaml:"range"`
	Duration time.Duration `yaml:"duration"`
	Cooldown time.Duration `yaml:"cooldown"`
}

// KindConfig selects AI and visual configuration for an entity kind.
type KindConfig struct {
	Name       string         `yaml:"name"`
	MaxHP      float64        `yaml:"max_hp"`
	Speed      float64        `yaml:"speed"`       // patrol units per second
	ChaseSpeed float64        `yaml:"chase_speed"` // chase units per second
	Aggressive bool           `yaml:"aggressive"`
	AggroRange float64        `yaml:"aggro_range"`
	LeashRange float64        `yaml:"leash_range"`
	Boss       bool           `yaml:"boss"`
	Reward     int64          `yaml:"reward"`
	Attacks    []AttackConfig `yaml:"attacks"`
}

// Validate checks the invariants the AI relies on.
func (k *KindConfig) Validate() error {
	switch {
	case k.Name == "":
		return fmt.Errorf("kind without name")
	case k.MaxHP <= 0:
		return fmt.Errorf("kind %s: max_hp must be positive", k.Name)
	case k.Speed < 0 || k.ChaseSpeed < 0:
		return fmt.Errorf("kind %s: negative speed", k.Name)
	case len(k.Attacks) > MaxAttacks:
		return fmt.Errorf("kind %s: at most %d attacks, got %d", k.Name, MaxAttacks, len(k.Attacks))
	case k.Aggressive && k.LeashRange < k.AggroRange:
		return fmt.Errorf("kind %s: leash_range %.0f below aggro_range %.0f", k.Name, k.LeashRange, k.AggroRange)
	}
	return nil
}

// Attack returns attack slot n, or false when the kind does not define it.
func (k *KindConfig) Attack(n int) (AttackConfig, bool) {
	if n < 0 || n >= len(k.Attacks) {
		return AttackConfig{}, false
	}
	return k.Attacks[n], true
}

// KindCatalog maps kind names to their configuration.
type KindCatalog map[string]*KindConfig

// NewKindCatalog validates kinds and indexes them by name.
func NewKindCatalog(kinds []KindConfig) (KindCatalog, error) {
	c := make(KindCatalog, len(kinds))
	for i := range kinds {
		k := kinds[i]
		if err := k.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c[k.Name]; dup {
			return nil, fmt.Errorf("duplicate kind %q", k.Name)
		}
		c[k.Name] = &k
	}
	return c, nil
}

// Get returns the kind config, or false when unknown.
func (c KindCatalog) Get(name string) (*KindConfig, bool) {
	k, ok := c[name]
	return k, ok
}
