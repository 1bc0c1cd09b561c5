// Package config loads prism settings from PRISM_* environment variables.
// Command-line flags override what is loaded here.
package config

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Backend kinds.
const (
	BackendSQLite = "sqlite"
	BackendFS     = "fs"
	BackendMemory = "memory"
)

var backends = []string{BackendSQLite, BackendFS, BackendMemory}

// Config holds store, engine, and telemetry settings.
type Config struct {
	Backend string `env:"PRISM_BACKEND" envDefault:"sqlite"`
	DBPath  string `env:"PRISM_DB"      envDefault:"./prism.db"`
	Dir     string `env:"PRISM_DIR"     envDefault:"./.prism"`

	MaxDepth    int `env:"PRISM_MAX_DEPTH"    envDefault:"3"`
	MaxNodes    int `env:"PRISM_MAX_NODES"    envDefault:"10000"`
	Concurrency int `env:"PRISM_CONCURRENCY"  envDefault:"8"`
	CacheSize   int `env:"PRISM_CACHE_SIZE"   envDefault:"128"`

	LogLevel string `env:"PRISM_LOG_LEVEL" envDefault:"info"`

	OTelEndpoint string `env:"PRISM_OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"PRISM_OTEL_ENABLED" envDefault:"true"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges. All problems are reported together.
func (c Config) Validate() error {
	var problems []string
	if !slices.Contains(backends, c.Backend) {
		problems = append(problems, fmt.Sprintf("backend %q must be one of %s", c.Backend, strings.Join(backends, ", ")))
	}
	if c.MaxDepth < 0 {
		problems = append(problems, fmt.Sprintf("max depth %d is negative", c.MaxDepth))
	}
	if c.MaxNodes < 0 {
		problems = append(problems, fmt.Sprintf("max nodes %d is negative", c.MaxNodes))
	}
	if c.Concurrency < 1 {
		problems = append(problems, fmt.Sprintf("concurrency %d must be at least 1", c.Concurrency))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", s, err)
	}
	return l, nil
}

// TracingEnabled reports whether spans should be exported.
func (c Config) TracingEnabled() bool {
	return c.OTelEnabled && c.OTelEndpoint != ""
}
