package config

import (
	"fmt"
)

// validLogLevels are the accepted values for log.level.
var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks a configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Metadata.ChunkSize <= 0 {
		return fmt.Errorf("metadata.chunk_size must be positive, got %d", cfg.Metadata.ChunkSize)
	}
	if cfg.Metadata.ChunkThrottle < 0 {
		return fmt.Errorf("metadata.chunk_throttle must not be negative, got %s", cfg.Metadata.ChunkThrottle)
	}
	if cfg.Metadata.LockInterval <= 0 {
		return fmt.Errorf("metadata.lock_interval must be positive, got %s", cfg.Metadata.LockInterval)
	}
	if cfg.Metadata.LockTimeout <= 0 {
		return fmt.Errorf("metadata.lock_timeout must be positive, got %s", cfg.Metadata.LockTimeout)
	}
	if cfg.Metadata.LockTimeout < cfg.Metadata.LockInterval {
		return fmt.Errorf("metadata.lock_timeout (%s) must not be shorter than metadata.lock_interval (%s)",
			cfg.Metadata.LockTimeout, cfg.Metadata.LockInterval)
	}

	if cfg.Coverage.Workers <= 0 {
		return fmt.Errorf("coverage.workers must be positive, got %d", cfg.Coverage.Workers)
	}

	if cfg.Watch.Debounce <= 0 {
		return fmt.Errorf("watch.debounce must be positive, got %s", cfg.Watch.Debounce)
	}

	if !validLogLevels[cfg.Log.Level] {
		return fmt.Errorf("log.level must be one of trace, debug, info, warn, error; got %q", cfg.Log.Level)
	}

	return nil
}
