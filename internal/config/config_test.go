package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/realmsync/internal/mirror"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadServer_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadServer(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultServer(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoadServer_OverridesDefaults(t *testing.T) {
	path := writeFile(t, `
port: 9100
ticks:
  patrol: 50ms
  spawn: 2s
  cleanup: 500ms
database:
  enabled: true
  host: db
log:
  level: debug
kinds:
  - name: slime
    max_hp: 30
    speed: 20
    reward: 3
routes:
  - id: 7
    kind: slime
    max_count: 4
    spawn_interval: 3s
    spawn_area: {min_x: 100, min_y: 0, max_x: 500, max_y: 50}
`)
	cfg, err := LoadServer(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "0.0.0.0:9100", cfg.Addr())
	assert.Equal(t, 50*time.Millisecond, cfg.Ticks.Patrol)
	assert.Equal(t, 2*time.Second, cfg.Ticks.Spawn)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "postgres://realmsync:realmsync@db:5432/realmsync?sslmode=disable", cfg.Database.DSN())
	assert.Equal(t, "debug", cfg.Log.Level)

	require.Len(t, cfg.Kinds, 1)
	require.Len(t, cfg.Routes, 1)
	assert.Equal(t, uint64(7), cfg.Routes[0].ID)
	assert.Equal(t, 3*time.Second, cfg.Routes[0].SpawnInterval)
	assert.Equal(t, 500.0, cfg.Routes[0].SpawnArea.MaxX)

	// untouched sections keep their defaults
	assert.Equal(t, DefaultServer().Gateway, cfg.Gateway)
	require.NoError(t, cfg.Validate())
}

func TestLoadServer_BadYAML(t *testing.T) {
	_, err := LoadServer(writeFile(t, "port: [1, 2"))
	assert.ErrorContains(t, err, "parsing config")
}

func TestServer_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Server)
		want   string
	}{
		{"unknown route kind", func(s *Server) { s.Routes[0].Kind = "dragon" }, "unknown kind"},
		{"duplicate route", func(s *Server) { s.Routes[1].ID = s.Routes[0].ID }, "duplicate id"},
		{"zero route id", func(s *Server) { s.Routes[0].ID = 0 }, "id must be positive"},
		{"inverted area", func(s *Server) { s.Routes[0].SpawnArea.MinX = 1e6 }, "invalid spawn area"},
		{"zero capacity", func(s *Server) { s.Routes[0].MaxCount = 0 }, "max_count"},
		{"bad kind", func(s *Server) { s.Kinds[0].MaxHP = 0 }, "max_hp"},
		{"zero tick", func(s *Server) { s.Ticks.Patrol = 0 }, "tick intervals"},
		{"bad port", func(s *Server) { s.Port = 0 }, "invalid port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultServer()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestLoadObserver(t *testing.T) {
	path := writeFile(t, `
server_url: ws://sync.example:7780/ws
token: deadbeef
window:
  radius: 800
clips:
  attack1: 250ms
wander:
  span: 0
debug:
  windows: true
`)
	cfg, err := LoadObserver(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ws://sync.example:7780/ws", cfg.ServerURL)
	assert.Equal(t, 800.0, cfg.Window.Radius)
	assert.Equal(t, DefaultObserver().Window.RefreshFraction, cfg.Window.RefreshFraction)
	assert.Zero(t, cfg.Wander.Span)
	assert.True(t, cfg.Debug.Windows)

	clips := cfg.ClipDurations()
	assert.Equal(t, 250*time.Millisecond, clips[mirror.ClipAttack1])
	assert.Equal(t, 1200*time.Millisecond, clips[mirror.ClipAttack3])
}

func TestObserver_Validate(t *testing.T) {
	cfg := DefaultObserver()
	require.NoError(t, cfg.Validate())

	cfg.Token = ""
	assert.ErrorContains(t, cfg.Validate(), "token")

	cfg = DefaultObserver()
	cfg.Window.RefreshFraction = 2
	assert.Error(t, cfg.Validate())
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(ServerConfigEnv, "")
	assert.Equal(t, ServerConfigPath, PathFromEnv(ServerConfigEnv, ServerConfigPath))

	t.Setenv(ServerConfigEnv, "/etc/realmsync/server.yaml")
	assert.Equal(t, "/etc/realmsync/server.yaml", PathFromEnv(ServerConfigEnv, ServerConfigPath))
}
