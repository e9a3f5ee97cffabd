package metadata

import (
	"time"

	"github.com/rs/zerolog"
)

// Options contains tunables for a DatabaseMetadata instance.
type Options struct {
	// ChunkSize is the number of functions collected from the provider
	// per refresh chunk.
	ChunkSize int

	// ChunkThrottle is how long the refresh worker yields between
	// chunks so the provider's host is never starved. It is a
	// cooperative scheduling point, not a correctness requirement.
	ChunkThrottle time.Duration

	// LockInterval is the poll interval of the bounded lock wait.
	LockInterval time.Duration

	// LockTimeout is the hard ceiling of the bounded lock wait, after
	// which acquisition fails with ErrLockTimeout.
	LockTimeout time.Duration

	// Logger receives structured refresh and lookup diagnostics.
	Logger zerolog.Logger
}

// DefaultOptions returns the default metadata cache tunables.
func DefaultOptions() Options {
	return Options{
		ChunkSize:     150,
		ChunkThrottle: 1500 * time.Microsecond,
		LockInterval:  20 * time.Millisecond,
		LockTimeout:   60 * time.Second,
		Logger:        zerolog.Nop(),
	}
}

// normalize fills unset fields with their defaults.
func (o Options) normalize() Options {
	defaults := DefaultOptions()
	if o.ChunkSize <= 0 {
		o.ChunkSize = defaults.ChunkSize
	}
	if o.ChunkThrottle <= 0 {
		o.ChunkThrottle = defaults.ChunkThrottle
	}
	if o.LockInterval <= 0 {
		o.LockInterval = defaults.LockInterval
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = defaults.LockTimeout
	}
	return o
}
