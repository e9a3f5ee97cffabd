package config

import (
	"time"

	"github.com/lumen-re/lumen/internal/metadata"
)

// Config represents the complete lumen configuration.
// It can be loaded from .lumen/config.yml with environment variable overrides.
type Config struct {
	Metadata MetadataConfig `yaml:"metadata" mapstructure:"metadata"`
	Coverage CoverageConfig `yaml:"coverage" mapstructure:"coverage"`
	Watch    WatchConfig    `yaml:"watch" mapstructure:"watch"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// MetadataConfig tunes the metadata cache and its refresh engine.
type MetadataConfig struct {
	ChunkSize     int           `yaml:"chunk_size" mapstructure:"chunk_size"`         // functions collected per refresh chunk
	ChunkThrottle time.Duration `yaml:"chunk_throttle" mapstructure:"chunk_throttle"` // pause between chunks
	LockInterval  time.Duration `yaml:"lock_interval" mapstructure:"lock_interval"`   // lock acquisition poll interval
	LockTimeout   time.Duration `yaml:"lock_timeout" mapstructure:"lock_timeout"`     // lock acquisition give-up deadline
}

// CoverageConfig tunes the coverage mapping layer.
type CoverageConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"` // function finalization fan-out
}

// WatchConfig tunes the snapshot file watcher.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce" mapstructure:"debounce"` // quiet period before reacting to a rewrite
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // trace, debug, info, warn, error
	Pretty bool   `yaml:"pretty" mapstructure:"pretty"` // human readable console output
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	opts := metadata.DefaultOptions()
	return &Config{
		Metadata: MetadataConfig{
			ChunkSize:     opts.ChunkSize,
			ChunkThrottle: opts.ChunkThrottle,
			LockInterval:  opts.LockInterval,
			LockTimeout:   opts.LockTimeout,
		},
		Coverage: CoverageConfig{
			Workers: 4,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: false,
		},
	}
}

// MetadataOptions converts the metadata section into cache options.
func (c *Config) MetadataOptions() metadata.Options {
	opts := metadata.DefaultOptions()
	opts.ChunkSize = c.Metadata.ChunkSize
	opts.ChunkThrottle = c.Metadata.ChunkThrottle
	opts.LockInterval = c.Metadata.LockInterval
	opts.LockTimeout = c.Metadata.LockTimeout
	return opts
}
