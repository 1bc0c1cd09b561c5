package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, "./prism.db", cfg.DBPath)
	assert.Equal(t, 3, cfg.MaxDepth)
	assert.Equal(t, 10000, cfg.MaxNodes)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, 128, cfg.CacheSize)
	assert.False(t, cfg.TracingEnabled())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PRISM_BACKEND", "fs")
	t.Setenv("PRISM_DIR", "/tmp/objects")
	t.Setenv("PRISM_MAX_DEPTH", "5")
	t.Setenv("PRISM_LOG_LEVEL", "debug")
	t.Setenv("PRISM_OTEL_ENDPOINT", "http://localhost:4318")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendFS, cfg.Backend)
	assert.Equal(t, "/tmp/objects", cfg.Dir)
	assert.Equal(t, 5, cfg.MaxDepth)
	assert.True(t, cfg.TracingEnabled())

	level, err := ParseLevel(cfg.LogLevel)
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_TracingDisabled(t *testing.T) {
	t.Setenv("PRISM_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("PRISM_OTEL_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.TracingEnabled())
}

func TestLoad_ParseError(t *testing.T) {
	t.Setenv("PRISM_MAX_NODES", "lots")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestValidate(t *testing.T) {
	base := Config{Backend: BackendMemory, Concurrency: 1, LogLevel: "info"}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.Backend = "postgres" }, `backend "postgres"`},
		{"negative depth", func(c *Config) { c.MaxDepth = -1 }, "max depth -1"},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, "concurrency 0"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, `log level "loud"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	require.NoError(t, base.Validate())
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Config{Backend: "x", Concurrency: 0, LogLevel: "info", MaxNodes: -1}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend")
	assert.Contains(t, err.Error(), "max nodes")
	assert.Contains(t, err.Error(), "concurrency")
}
