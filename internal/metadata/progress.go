package metadata

// ProgressReporter receives refresh collection progress callbacks.
// Implementations can display progress bars, log messages, or remain
// silent. Callbacks are invoked from the refresh worker goroutine.
type ProgressReporter interface {
	// OnCollectionStart is called once before the first chunk is
	// collected, with the total number of functions to collect.
	OnCollectionStart(total int)

	// OnChunkCollected is called after each chunk has been merged.
	OnChunkCollected(completed, total int)

	// OnCollectionDone is called once when collection finishes, whether
	// it ran to completion or was aborted.
	OnCollectionDone(completed int, aborted bool)
}

// NoOpProgressReporter is a progress reporter that does nothing. Used
// when progress reporting is disabled.
type NoOpProgressReporter struct{}

func (n *NoOpProgressReporter) OnCollectionStart(total int)                {}
func (n *NoOpProgressReporter) OnChunkCollected(completed, total int)      {}
func (n *NoOpProgressReporter) OnCollectionDone(completed int, abort bool) {}
