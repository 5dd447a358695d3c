// Package config loads optional YAML configuration for the server.
// Values from a config file take precedence over command line defaults, so
// a deployment can be driven entirely from one file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written as "2s" or "10m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}

	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Server holds file-based configuration for the license server.
type Server struct {
	Listen      string   `yaml:"listen"`
	CORSOrigins []string `yaml:"cors_origins"`
	Store       Store    `yaml:"store"`
	Retry       Retry    `yaml:"retry"`
	Watchdog    Watchdog `yaml:"watchdog"`
}

// Store configures the license store backend.
type Store struct {
	Type        string `yaml:"type"` // memory or postgres
	ConnString  string `yaml:"conn_string"`
	MaxConns    int32  `yaml:"max_conns"`
	MinConns    int32  `yaml:"min_conns"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// Retry configures the store retry policy.
type Retry struct {
	MaxTries uint     `yaml:"max_tries"`
	Delay    Duration `yaml:"delay"`
}

// Watchdog configures the supervisor restart cadence.
type Watchdog struct {
	Interval Duration `yaml:"interval"`
	Grace    Duration `yaml:"grace"`
}

// Load reads a Server config from a YAML file.
func Load(path string) (*Server, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Server
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}
