package config

import (
	"errors"
	"time"

	"github.com/udisondev/realmsync/internal/client"
	"github.com/udisondev/realmsync/internal/logging"
	"github.com/udisondev/realmsync/internal/mirror"
	"github.com/udisondev/realmsync/internal/reconcile"
	"github.com/udisondev/realmsync/internal/registry"
	"github.com/udisondev/realmsync/internal/subscription"
)

// Wander makes the observer's avatar walk back and forth so its window
// keeps refreshing. A zero Span keeps the avatar still.
type Wander struct {
	Span  float64       `yaml:"span"`
	Step  float64       `yaml:"step"`
	Every time.Duration `yaml:"every"`
}

// Observer holds all configuration of the headless observer client.
type Observer struct {
	ServerURL   string        `yaml:"server_url"`
	Token       string        `yaml:"token"`
	Name        string        `yaml:"name"`
	DialTimeout time.Duration `yaml:"dial_timeout"`

	Window    subscription.Config `yaml:"window"`
	Reconcile reconcile.Config    `yaml:"reconcile"`
	Fade      time.Duration       `yaml:"fade"`
	HitFlash  time.Duration       `yaml:"hit_flash"`

	// Clip durations keyed by clip name; unlisted clips use ClipFallback.
	Clips        map[string]time.Duration `yaml:"clips"`
	ClipFallback time.Duration            `yaml:"clip_fallback"`

	FrameInterval time.Duration `yaml:"frame_interval"`
	StatsInterval time.Duration `yaml:"stats_interval"`
	Wander        Wander        `yaml:"wander"`

	Debug client.Debug   `yaml:"debug"`
	Log   logging.Config `yaml:"log"`
}

// ClipDurations converts Clips to the animator's key type.
func (o Observer) ClipDurations() map[mirror.Clip]time.Duration {
	out := make(map[mirror.Clip]time.Duration, len(o.Clips))
	for name, d := range o.Clips {
		out[mirror.Clip(name)] = d
	}
	return out
}

// Validate checks the fields the observer cannot run without.
func (o Observer) Validate() error {
	if o.ServerURL == "" {
		return errors.New("server_url is required")
	}
	if o.Token == "" {
		return errors.New("token is required")
	}
	if o.FrameInterval <= 0 {
		return errors.New("frame_interval must be positive")
	}
	if o.Window.Radius < 0 || o.Window.RefreshFraction < 0 || o.Window.RefreshFraction > 1 {
		return errors.New("window radius and refresh_fraction out of range")
	}
	return nil
}

// DefaultObserver returns Observer config for a local server.
func DefaultObserver() Observer {
	return Observer{
		ServerURL:   "ws://127.0.0.1:7780/ws",
		Token:       "observer",
		Name:        "observer",
		DialTimeout: 5 * time.Second,
		Window: subscription.Config{
			Radius:          subscription.DefaultRadius,
			RefreshFraction: subscription.DefaultRefreshFraction,
		},
		Reconcile: reconcile.DefaultConfig(),
		Fade:      registry.DefaultFade,
		HitFlash:  mirror.DefaultHitFlash,
		Clips: map[string]time.Duration{
			string(mirror.ClipAttack1): 500 * time.Millisecond,
			string(mirror.ClipAttack2): 800 * time.Millisecond,
			string(mirror.ClipAttack3): 1200 * time.Millisecond,
			string(mirror.ClipDead):    900 * time.Millisecond,
			string(mirror.ClipDamaged): 300 * time.Millisecond,
		},
		ClipFallback:  time.Second,
		FrameInterval: 16 * time.Millisecond,
		StatsInterval: 10 * time.Second,
		Wander: Wander{
			Span:  600,
			Step:  20,
			Every: 100 * time.Millisecond,
		},
		Log: logging.DefaultConfig(),
	}
}

// LoadObserver loads observer config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadObserver(path string) (Observer, error) {
	cfg := DefaultObserver()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
