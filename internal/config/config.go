// Package config loads the YAML configuration of the sync server and the
// observer client.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config file locations and the environment variables overriding them.
const (
	ServerConfigPath   = "config/syncserver.yaml"
	ObserverConfigPath = "config/syncobserver.yaml"

	ServerConfigEnv   = "REALMSYNC_SERVER_CONFIG"
	ObserverConfigEnv = "REALMSYNC_OBSERVER_CONFIG"
)

// PathFromEnv returns the value of env when set, def otherwise.
func PathFromEnv(env, def string) string {
	if p := os.Getenv(env); p != "" {
		return p
	}
	return def
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	// Enabled switches route and player persistence on. When off, routes
	// come from the config file and player progress lives in memory.
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// DefaultDatabase returns local development connection settings.
func DefaultDatabase() DatabaseConfig {
	return DatabaseConfig{
		Host:     "127.0.0.1",
		Port:     5432,
		User:     "realmsync",
		Password: "realmsync",
		DBName:   "realmsync",
		SSLMode:  "disable",
	}
}

// load decodes the YAML file at path over cfg. A missing file leaves cfg
// untouched.
func load(path string, cfg any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}
