package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/udisondev/realmsync/internal/gateway"
	"github.com/udisondev/realmsync/internal/logging"
	"github.com/udisondev/realmsync/internal/model"
	"github.com/udisondev/realmsync/internal/spawn"
)

// Ticks holds the scheduler loop intervals.
type Ticks struct {
	Patrol       time.Duration `yaml:"patrol"`
	Spawn        time.Duration `yaml:"spawn"`
	Cleanup      time.Duration `yaml:"cleanup"`
	CleanupGrace time.Duration `yaml:"cleanup_grace"`
}

// PlayerConfig holds player lifecycle defaults.
type PlayerConfig struct {
	SpawnPoint  model.Vec2 `yaml:"spawn_point"`
	MaxHP       float64    `yaml:"max_hp"`
	WorldBounds model.Rect `yaml:"world_bounds"`
}

// ServerDebug toggles debug logging per server component.
type ServerDebug struct {
	Store bool `yaml:"store"`
	AI    bool `yaml:"ai"`
	Spawn bool `yaml:"spawn"`
}

// Server holds all configuration of the authoritative sync server.
type Server struct {
	// Network
	BindAddress string         `yaml:"bind_address"`
	Port        int            `yaml:"port"`
	Gateway     gateway.Config `yaml:"gateway"`

	Database DatabaseConfig `yaml:"database"`
	Log      logging.Config `yaml:"log"`
	Debug    ServerDebug    `yaml:"debug"`

	Ticks  Ticks        `yaml:"ticks"`
	Player PlayerConfig `yaml:"player"`

	// Store tuning
	CellSize       float64 `yaml:"cell_size"`
	QueryCacheSize int64   `yaml:"query_cache_size"`

	// Seed of the spawn point generator. Zero seeds from the clock.
	Seed uint64 `yaml:"seed"`

	Kinds  []model.KindConfig `yaml:"kinds"`
	Routes []model.Route      `yaml:"routes"`
}

// Addr returns the listen address.
func (s Server) Addr() string {
	return net.JoinHostPort(s.BindAddress, strconv.Itoa(s.Port))
}

// Catalog builds the kind catalog.
func (s Server) Catalog() (model.KindCatalog, error) {
	return model.NewKindCatalog(s.Kinds)
}

// Validate checks the kinds, the routes and the loop intervals.
func (s Server) Validate() error {
	kinds, err := s.Catalog()
	if err != nil {
		return fmt.Errorf("kinds: %w", err)
	}

	seen := make(map[uint64]struct{}, len(s.Routes))
	for i, r := range s.Routes {
		if r.ID == 0 {
			return fmt.Errorf("route #%d: id must be positive", i)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("route %d: duplicate id", r.ID)
		}
		seen[r.ID] = struct{}{}
		if _, ok := kinds.Get(r.Kind); !ok {
			return fmt.Errorf("route %d: unknown kind %q", r.ID, r.Kind)
		}
		if !r.SpawnArea.Valid() {
			return fmt.Errorf("route %d: invalid spawn area", r.ID)
		}
		if r.MaxCount <= 0 || r.SpawnInterval <= 0 {
			return fmt.Errorf("route %d: max_count and spawn_interval must be positive", r.ID)
		}
	}

	if s.Ticks.Patrol <= 0 || s.Ticks.Spawn <= 0 || s.Ticks.Cleanup <= 0 {
		return errors.New("tick intervals must be positive")
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("invalid port %d", s.Port)
	}
	return nil
}

// DefaultServer returns Server config with a small playable world.
func DefaultServer() Server {
	return Server{
		BindAddress: "0.0.0.0",
		Port:        7780,
		Gateway:     gateway.DefaultConfig(),
		Database:    DefaultDatabase(),
		Log:         logging.DefaultConfig(),
		Ticks: Ticks{
			Patrol:       100 * time.Millisecond,
			Spawn:        5 * time.Second,
			Cleanup:      time.Second,
			CleanupGrace: spawn.DefaultGrace,
		},
		Player: PlayerConfig{
			SpawnPoint:  model.Vec2{X: 0, Y: 0},
			MaxHP:       100,
			WorldBounds: model.Rect{MinX: -4000, MinY: -4000, MaxX: 4000, MaxY: 4000},
		},
		QueryCacheSize: 1024,
		Kinds: []model.KindConfig{
			{
				Name:   "rat",
				MaxHP:  50,
				Speed:  60,
				Reward: 5,
			},
			{
				Name:       "wolf",
				MaxHP:      80,
				Speed:      80,
				ChaseSpeed: 140,
				Aggressive: true,
				AggroRange: 250,
				LeashRange: 700,
				Reward:     12,
				Attacks: []model.AttackConfig{
					{Damage: 6, Range: 40, Duration: 400 * time.Millisecond, Cooldown: 1200 * time.Millisecond},
				},
			},
			{
				Name:       "ogre",
				MaxHP:      600,
				Speed:      40,
				ChaseSpeed: 90,
				Aggressive: true,
				AggroRange: 300,
				LeashRange: 900,
				Boss:       true,
				Reward:     200,
				Attacks: []model.AttackConfig{
					{Damage: 10, Range: 60, Duration: 500 * time.Millisecond, Cooldown: time.Second},
					{Damage: 18, Range: 90, Duration: 800 * time.Millisecond, Cooldown: 3 * time.Second},
					{Damage: 30, Range: 140, Duration: 1200 * time.Millisecond, Cooldown: 8 * time.Second},
				},
			},
		},
		Routes: []model.Route{
			{ID: 1, Kind: "rat", MaxCount: 6, SpawnInterval: 5 * time.Second,
				SpawnArea: model.Rect{MinX: 100, MinY: -100, MaxX: 500, MaxY: 100}},
			{ID: 2, Kind: "wolf", MaxCount: 3, SpawnInterval: 10 * time.Second,
				SpawnArea: model.Rect{MinX: -900, MinY: 300, MaxX: -300, MaxY: 600}},
			{ID: 3, Kind: "ogre", MaxCount: 1, SpawnInterval: 60 * time.Second,
				SpawnArea: model.Rect{MinX: 1200, MinY: 1200, MaxX: 1800, MaxY: 1500}},
		},
	}
}

// LoadServer loads server config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
