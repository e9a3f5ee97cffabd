package config

// TEST PLAN
// - defaults load when no config file exists
// - a config file overrides defaults
// - environment variables override the config file
// - duration fields accept strings like "2ms"
// - invalid values are rejected by validation
// - MetadataOptions carries the tuning into cache options

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, content string) {
	t.Helper()

	configDir := filepath.Join(dir, ".lumen")
	require.NoError(t, os.MkdirAll(configDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yml"), []byte(content), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadConfigFromDir(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
metadata:
  chunk_size: 50
  chunk_throttle: 2ms
coverage:
  workers: 8
log:
  level: debug
  pretty: true
`)

	cfg, err := LoadConfigFromDir(dir)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Metadata.ChunkSize)
	assert.Equal(t, 2*time.Millisecond, cfg.Metadata.ChunkThrottle)
	assert.Equal(t, 8, cfg.Coverage.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)

	// Untouched sections keep their defaults.
	assert.Equal(t, Default().Watch.Debounce, cfg.Watch.Debounce)
	assert.Equal(t, Default().Metadata.LockTimeout, cfg.Metadata.LockTimeout)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
metadata:
  chunk_size: 50
`)
	t.Setenv("LUMEN_METADATA_CHUNK_SIZE", "25")
	t.Setenv("LUMEN_LOG_LEVEL", "warn")

	cfg, err := LoadConfigFromDir(dir)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Metadata.ChunkSize)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero chunk size", func(c *Config) { c.Metadata.ChunkSize = 0 }},
		{"negative throttle", func(c *Config) { c.Metadata.ChunkThrottle = -time.Millisecond }},
		{"zero lock interval", func(c *Config) { c.Metadata.LockInterval = 0 }},
		{"timeout below interval", func(c *Config) {
			c.Metadata.LockInterval = time.Second
			c.Metadata.LockTimeout = time.Millisecond
		}},
		{"zero workers", func(c *Config) { c.Coverage.Workers = 0 }},
		{"zero debounce", func(c *Config) { c.Watch.Debounce = 0 }},
		{"unknown log level", func(c *Config) { c.Log.Level = "verbose" }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
metadata:
  chunk_size: -1
`)

	_, err := LoadConfigFromDir(dir)
	assert.Error(t, err)
}

func TestMetadataOptions(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Metadata.ChunkSize = 10
	cfg.Metadata.ChunkThrottle = 3 * time.Millisecond

	opts := cfg.MetadataOptions()
	assert.Equal(t, 10, opts.ChunkSize)
	assert.Equal(t, 3*time.Millisecond, opts.ChunkThrottle)
	assert.Equal(t, cfg.Metadata.LockTimeout, opts.LockTimeout)
}
