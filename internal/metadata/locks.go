package metadata

import (
	"fmt"
	"sync"
	"time"
)

// awaitLock attempts to acquire the given mutex without blocking
// indefinitely. It polls TryLock at the given interval until the timeout
// ceiling is reached, at which point it fails with ErrLockTimeout.
//
// Failing is deliberate policy: if the lock cannot be acquired within
// the ceiling, something is wedged and crashing the operation loudly is
// better than deadlocking the host silently.
func awaitLock(mu *sync.Mutex, interval, timeout time.Duration) error {
	if mu.TryLock() {
		return nil
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		time.Sleep(interval)
		if mu.TryLock() {
			return nil
		}
	}

	return fmt.Errorf("%w after %s", ErrLockTimeout, timeout)
}
