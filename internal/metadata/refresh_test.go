package metadata

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TEST PLAN: RefreshEngine
//
// The refresh engine collects function metadata from the provider in
// fixed-size chunks on a worker goroutine, merging each chunk into the
// live cache with change-skipping. Key properties:
// - At most one refresh in flight; a second attempt fails
// - AbortRefresh is a no-op while idle and stops a running worker at
//   the next chunk boundary, delivering a distinct aborted result
// - Cancellation observed before any chunk completes leaves the cache
//   in its pre-refresh state
// - Merging identical data twice yields an empty delta the second time
// - A full refresh drops functions that vanished from the provider
// - Provider failures propagate through the result channel

// recordingReporter captures progress callbacks. The optional hooks run
// inline on the worker goroutine, giving tests deterministic control
// over chunk boundaries.
type recordingReporter struct {
	mu        sync.Mutex
	started   int
	chunks    [][2]int
	done      bool
	aborted   bool
	completed int

	onStart func()
	onChunk func(completed int)
}

func (r *recordingReporter) OnCollectionStart(total int) {
	r.mu.Lock()
	r.started = total
	r.mu.Unlock()
	if r.onStart != nil {
		r.onStart()
	}
}

func (r *recordingReporter) OnChunkCollected(completed, total int) {
	r.mu.Lock()
	r.chunks = append(r.chunks, [2]int{completed, total})
	r.mu.Unlock()
	if r.onChunk != nil {
		r.onChunk(completed)
	}
}

func (r *recordingReporter) OnCollectionDone(completed int, aborted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = true
	r.aborted = aborted
	r.completed = completed
}

func TestRefresh_CollectsAllFunctions(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.addFunction(0x1000, "alpha", BlockRange{Start: 0x1000, End: 0x1004})
	provider.addFunction(0x2000, "beta", BlockRange{Start: 0x2000, End: 0x2002})
	provider.addFunction(0x3000, "gamma", BlockRange{Start: 0x3000, End: 0x3001})

	m := buildMetadata(t, provider)

	functions, nodes, instructions := m.Stats()
	assert.Equal(t, 3, functions)
	assert.Equal(t, 3, nodes)
	assert.Equal(t, 7, instructions) // 4 + 2 + 1 single-byte steps
}

func TestRefresh_SecondRefreshWhileRunningFails(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.addFunction(0x1000, "alpha", BlockRange{Start: 0x1000, End: 0x1002})

	gate := make(chan struct{})
	provider.gate = gate

	m := New(provider, Options{})
	results, err := m.Refresh([]uint64{0x1000}, nil)
	require.NoError(t, err)

	_, err = m.Refresh([]uint64{0x1000}, nil)
	assert.ErrorIs(t, err, ErrRefreshAlreadyRunning)

	close(gate)
	result := <-results
	require.NoError(t, result.Err)

	// Once the worker has finished, a new refresh is allowed again.
	result = waitRefresh(t, m, []uint64{0x1000})
	require.NoError(t, result.Err)
}

func TestAbortRefresh_IdleIsNoOp(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.addFunction(0x1000, "alpha", BlockRange{Start: 0x1000, End: 0x1002})

	m := New(provider, Options{})
	m.AbortRefresh()

	// The stray abort must not poison the next refresh.
	result := waitRefresh(t, m, nil)
	require.NoError(t, result.Err)
	assert.False(t, result.Aborted)
}

func TestAbortRefresh_BeforeFirstChunkLeavesCacheUntouched(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.addFunction(0x1000, "alpha", BlockRange{Start: 0x1000, End: 0x1002})

	m := New(provider, Options{})

	// Signal the abort from the collection-start callback, which runs
	// on the worker before the first chunk boundary check.
	reporter := &recordingReporter{}
	reporter.onStart = func() { m.AbortRefresh() }

	results, err := m.Refresh([]uint64{0x1000}, reporter)
	require.NoError(t, err)
	result := <-results

	assert.True(t, result.Aborted)
	assert.Nil(t, result.Metadata)
	require.NoError(t, result.Err)

	functions, nodes, instructions := m.Stats()
	assert.Zero(t, functions)
	assert.Zero(t, nodes)
	assert.Zero(t, instructions)
}

func TestAbortRefresh_StopsAtChunkBoundary(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.addFunction(0x1000, "alpha", BlockRange{Start: 0x1000, End: 0x1002})
	provider.addFunction(0x2000, "beta", BlockRange{Start: 0x2000, End: 0x2002})
	provider.addFunction(0x3000, "gamma", BlockRange{Start: 0x3000, End: 0x3002})

	m := New(provider, Options{ChunkSize: 1})

	reporter := &recordingReporter{}
	reporter.onChunk = func(completed int) {
		if completed == 1 {
			m.AbortRefresh()
		}
	}

	results, err := m.Refresh([]uint64{0x1000, 0x2000, 0x3000}, reporter)
	require.NoError(t, err)
	result := <-results

	assert.True(t, result.Aborted)

	// The first chunk landed before the abort was observed; the cache
	// is partially refreshed but valid.
	functions, _, _ := m.Stats()
	assert.Equal(t, 1, functions)
	assert.Equal(t, 1, reporter.completed)
}

func TestUpdateFunctions_MergeIsIdempotent(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.addFunction(0x1000, "alpha", BlockRange{Start: 0x1000, End: 0x1004})
	provider.addFunction(0x2000, "beta", BlockRange{Start: 0x2000, End: 0x2002})

	m := New(provider, Options{})
	fresh, err := CollectFunctions(provider, []uint64{0x1000, 0x2000})
	require.NoError(t, err)

	m.mu.Lock()
	first := m.updateFunctions(fresh)
	m.mu.Unlock()
	assert.Len(t, first, 2)

	functions, nodes, instructions := m.Stats()

	// Collect the same data again: nothing is new, nothing moves.
	again, err := CollectFunctions(provider, []uint64{0x1000, 0x2000})
	require.NoError(t, err)

	m.mu.Lock()
	second := m.updateFunctions(again)
	m.mu.Unlock()
	assert.Empty(t, second)

	f2, n2, i2 := m.Stats()
	assert.Equal(t, functions, f2)
	assert.Equal(t, nodes, n2)
	assert.Equal(t, instructions, i2)
}

func TestRefresh_FullRefreshDropsVanishedFunctions(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.addFunction(0x1000, "alpha", BlockRange{Start: 0x1000, End: 0x1002})
	provider.addFunction(0x2000, "beta", BlockRange{Start: 0x2000, End: 0x2002})

	m := buildMetadata(t, provider)
	functions, _, _ := m.Stats()
	require.Equal(t, 2, functions)

	// beta disappears from the provider; a full refresh must drop it.
	provider.removeFunction(0x2000)
	result := waitRefresh(t, m, nil)
	require.NoError(t, result.Err)

	functions, _, _ = m.Stats()
	assert.Equal(t, 1, functions)
	_, ok := m.FunctionAt(0x2000)
	assert.False(t, ok)

	// An explicit address list performs no deletion pass.
	provider.addFunction(0x2000, "beta", BlockRange{Start: 0x2000, End: 0x2002})
	result = waitRefresh(t, m, []uint64{0x2000})
	require.NoError(t, result.Err)
	provider.removeFunction(0x2000)
	result = waitRefresh(t, m, []uint64{0x1000})
	require.NoError(t, result.Err)
	_, ok = m.FunctionAt(0x2000)
	assert.True(t, ok, "targeted refresh must not delete uncollected functions")
}

func TestRefresh_ProviderErrorPropagates(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.addFunction(0x1000, "alpha", BlockRange{Start: 0x1000, End: 0x1002})
	provider.nameErr = errors.New("database closed")

	m := New(provider, Options{})
	result := waitRefresh(t, m, []uint64{0x1000})
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "database closed")

	// A failed refresh releases the engine for the next attempt.
	provider.mu.Lock()
	provider.nameErr = nil
	provider.mu.Unlock()
	result = waitRefresh(t, m, []uint64{0x1000})
	require.NoError(t, result.Err)
}

func TestRefresh_ReportsChunkedProgress(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	addresses := make([]uint64, 0, 5)
	for i := uint64(0); i < 5; i++ {
		address := 0x1000 + i*0x100
		provider.addFunction(address, "f", BlockRange{Start: address, End: address + 2})
		addresses = append(addresses, address)
	}

	m := New(provider, Options{ChunkSize: 2})
	reporter := &recordingReporter{}

	results, err := m.Refresh(addresses, reporter)
	require.NoError(t, err)
	result := <-results
	require.NoError(t, result.Err)

	assert.Equal(t, 5, reporter.started)
	assert.Equal(t, [][2]int{{2, 5}, {4, 5}, {5, 5}}, reporter.chunks)
	assert.True(t, reporter.done)
	assert.False(t, reporter.aborted)
	assert.Equal(t, 5, reporter.completed)
}

func TestRefresh_AbortDoesNotBlock(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.addFunction(0x1000, "alpha", BlockRange{Start: 0x1000, End: 0x1002})

	gate := make(chan struct{})
	provider.gate = gate

	m := New(provider, Options{})
	results, err := m.Refresh([]uint64{0x1000}, nil)
	require.NoError(t, err)

	// AbortRefresh only signals; it returns while the worker is still
	// inside its provider call.
	start := time.Now()
	m.AbortRefresh()
	assert.Less(t, time.Since(start), time.Second)

	close(gate)
	result := <-results
	assert.True(t, result.Aborted || result.Err == nil)
}
