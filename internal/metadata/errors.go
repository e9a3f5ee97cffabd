package metadata

import "errors"

var (
	// ErrAddressNotMapped is returned by node lookups when the queried
	// address does not fall within any known node (basic block). This is
	// a recoverable condition; callers typically treat the address as an
	// undefined region.
	ErrAddressNotMapped = errors.New("address does not fall within a known node")

	// ErrRefreshAlreadyRunning is returned when Refresh is called while a
	// collection worker is still active. At most one refresh may be in
	// flight per DatabaseMetadata instance; callers must wait on (or
	// abort) the active refresh first.
	ErrRefreshAlreadyRunning = errors.New("metadata refresh already running")

	// ErrLockTimeout is returned when the bounded lock-wait primitive
	// exhausts its ceiling. The process cannot make safe progress without
	// the resource, so callers should abort the enclosing operation
	// loudly rather than retry.
	ErrLockTimeout = errors.New("timed out waiting for metadata lock")
)
