package metadata

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// refreshState tracks the refresh engine lifecycle. Transitions are
// guarded by the DatabaseMetadata mutex.
type refreshState int

const (
	refreshIdle refreshState = iota
	refreshRunning
	refreshCancelling
)

// RefreshResult is the terminal outcome of one refresh, delivered on
// the channel returned by Refresh.
//
// Exactly one of the three shapes occurs: Metadata set (completed),
// Aborted set (cancelled at a chunk boundary), or Err set (a provider
// failure aborted collection). In the aborted and failed cases the
// cache remains valid and usable; merges are chunk-atomic, so it simply
// reflects however many chunks landed.
type RefreshResult struct {
	Metadata *DatabaseMetadata
	Aborted  bool
	Err      error
}

// Refresh rebuilds the metadata cache from the provider, asynchronously
// and in chunks. It returns a single-use channel that delivers the
// refresh outcome once collection finishes.
//
// If addresses is nil, the full function list is pulled from the
// provider and any cached function no longer present is dropped before
// collection begins. If a refresh is already in flight,
// ErrRefreshAlreadyRunning is returned; at most one refresh may run per
// instance.
func (m *DatabaseMetadata) Refresh(addresses []uint64, reporter ProgressReporter) (<-chan RefreshResult, error) {
	if reporter == nil {
		reporter = &NoOpProgressReporter{}
	}

	m.mu.Lock()
	if m.state != refreshIdle {
		m.mu.Unlock()
		return nil, ErrRefreshAlreadyRunning
	}
	// Reserve the engine before any provider call so a concurrent
	// Refresh cannot slip in while we list functions below.
	m.state = refreshRunning
	m.mu.Unlock()

	logger := m.opts.Logger.With().Str("refresh_id", uuid.NewString()).Logger()

	//
	// with no explicit address list, this is a complete refresh: pull
	// the live function list and synchronously drop any cached function
	// that has vanished from it. the deletion pass is not chunked and
	// runs before the async phase; it alone can leave the lookup index
	// stale.
	//

	if addresses == nil {
		fresh, err := m.provider.ListFunctions()
		if err != nil {
			m.mu.Lock()
			m.state = refreshIdle
			m.mu.Unlock()
			return nil, fmt.Errorf("failed to list functions: %w", err)
		}
		addresses = fresh

		current := make(map[uint64]struct{}, len(addresses))
		for _, address := range addresses {
			current[address] = struct{}{}
		}

		m.mu.Lock()
		removed := 0
		for address := range m.functions {
			if _, ok := current[address]; !ok {
				delete(m.functions, address)
				removed++
			}
		}
		if removed > 0 {
			m.staleLookup = true
		}
		m.mu.Unlock()

		if removed > 0 {
			logger.Debug().Int("removed", removed).Msg("dropped vanished functions")
		}
	}

	results := make(chan RefreshResult, 1)
	go m.collectWorker(addresses, reporter, logger, results)
	return results, nil
}

// AbortRefresh signals the active refresh worker to stop at the next
// chunk boundary. It is a no-op when no worker is running. It does not
// wait for the worker to stop; callers wanting that guarantee must wait
// on the channel returned by Refresh.
func (m *DatabaseMetadata) AbortRefresh() {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case refreshRunning:
		m.state = refreshCancelling
	case refreshCancelling:
		// Already signalled; the worker will observe it.
	default:
		// Idle: nothing to abort, and no cancellation left pending.
		m.state = refreshIdle
	}
}

// collectWorker is the asynchronous metadata collection loop. It
// partitions the target addresses into chunks, collects each chunk from
// the provider outside the lock, merges it under the lock, reports
// progress, and honors cancellation between chunks.
func (m *DatabaseMetadata) collectWorker(addresses []uint64, reporter ProgressReporter, logger zerolog.Logger, results chan<- RefreshResult) {
	total := len(addresses)
	completed := 0

	reporter.OnCollectionStart(total)
	logger.Debug().Int("functions", total).Int("chunk_size", m.opts.ChunkSize).Msg("metadata collection started")

	for start := 0; start < total; start += m.opts.ChunkSize {
		// Cancellation is cooperative and only observed here, at chunk
		// boundaries. An in-flight provider call is never interrupted.
		if m.cancelled() {
			m.finishRefresh(false)
			reporter.OnCollectionDone(completed, true)
			logger.Debug().Int("completed", completed).Msg("metadata collection aborted")
			results <- RefreshResult{Aborted: true}
			return
		}

		end := start + m.opts.ChunkSize
		if end > total {
			end = total
		}
		chunk := addresses[start:end]

		// Collect from the provider with the lock released, so readers
		// are not blocked for the duration of the (slow) provider call.
		fresh, err := CollectFunctions(m.provider, chunk)
		if err != nil {
			m.finishRefresh(false)
			reporter.OnCollectionDone(completed, true)
			results <- RefreshResult{Err: fmt.Errorf("metadata collection failed: %w", err)}
			return
		}

		m.mu.Lock()
		m.updateFunctions(fresh)
		m.mu.Unlock()

		completed += len(chunk)
		reporter.OnChunkCollected(completed, total)

		// Yield briefly so we don't choke the host between chunks.
		time.Sleep(m.opts.ChunkThrottle)
	}

	m.finishRefresh(true)
	reporter.OnCollectionDone(completed, false)
	logger.Debug().Int("completed", completed).Msg("metadata collection finished")
	results <- RefreshResult{Metadata: m}
}

// cancelled reports whether an abort has been signalled.
func (m *DatabaseMetadata) cancelled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == refreshCancelling
}

// finishRefresh returns the engine to idle. On natural completion the
// lookup index is rebuilt so the delivered snapshot is consistent.
func (m *DatabaseMetadata) finishRefresh(rebuildLookup bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rebuildLookup {
		m.refreshLookup()
	}
	m.state = refreshIdle
}

// updateFunctions merges freshly collected function metadata into the
// cache, skipping entries that are structurally identical to what is
// already held. It returns the map of functions that were actually new
// or changed. Callers must hold the mutex.
//
// The merge is additive overlay only: flattened node and instruction
// entries from replaced functions are not removed. This is safe because
// those keys are addresses that remain meaningful even if slightly
// stale, and the next full refresh converges them.
func (m *DatabaseMetadata) updateFunctions(fresh map[uint64]*Function) map[uint64]*Function {
	delta := make(map[uint64]*Function)

	// Identify what is truly new or different from the metadata we
	// already hold; unchanged functions are dropped on the floor.
	for address, newFunction := range fresh {
		if old, ok := m.functions[address]; ok && old.Equal(newFunction) {
			continue
		}
		delta[address] = newFunction
	}

	// Pre-merge counts let us cheaply tell afterwards whether anything
	// was added rather than just updated in place.
	nodeCount := len(m.nodes)
	functionCount := len(m.functions)

	for address, function := range delta {
		m.functions[address] = function
		for nodeAddress, node := range function.Nodes {
			m.nodes[nodeAddress] = node
			for instructionAddress, size := range node.Instructions {
				m.instructions[instructionAddress] = size
			}
		}
	}

	// A population change means the sorted lookup lists no longer match
	// the maps; schedule their lazy rebuild.
	if nodeCount != len(m.nodes) || functionCount != len(m.functions) {
		m.staleLookup = true
	}

	return delta
}
