package metadata

import (
	"fmt"
	"sort"
	"sync"
)

// DatabaseMetadata is a fast, process-local cache of a program's static
// structure: its functions, nodes (basic blocks) and instructions.
//
// The cache is built once from a slow disassembly provider and then
// queried without touching that provider again. It trades perfect
// freshness for speed: it may drift from the live program and is
// corrected by an explicit, asynchronous Refresh.
//
// The flattened nodes and instructions maps are derived from the owned
// function map and kept consistent by the refresh merge step; they are
// never mutated independently. The sorted address slices are a derived
// lookup index, invalidated whenever the function or node population
// changes and lazily rebuilt on the next lookup.
type DatabaseMetadata struct {
	mu sync.Mutex

	// functions is the owned function map; nodes and instructions are
	// flattened views derived from it during merges.
	functions    map[uint64]*Function
	nodes        map[uint64]*Node
	instructions map[uint64]uint64

	// Sorted address caches for bisection lookups, plus the stale flag
	// that schedules their lazy rebuild.
	nodeAddresses     []uint64
	functionAddresses []uint64
	staleLookup       bool

	// Single-slot memo of the most recently resolved node.
	lastNode *Node

	// Refresh engine state, guarded by the same mutex.
	state refreshState

	provider Provider
	opts     Options
}

// New creates an empty metadata cache backed by the given provider.
func New(provider Provider, opts Options) *DatabaseMetadata {
	return &DatabaseMetadata{
		functions:    make(map[uint64]*Function),
		nodes:        make(map[uint64]*Node),
		instructions: make(map[uint64]uint64),
		provider:     provider,
		opts:         opts.normalize(),
	}
}

// GetNode returns the node (basic block) containing the given address.
//
// The lookup bisects the sorted node address list for the closest node
// at or below the target, then verifies containment against the node's
// size. The two-step design is required because blocks are variable
// length and addresses may fall in gaps that belong to no node; such
// addresses fail with ErrAddressNotMapped.
func (m *DatabaseMetadata) GetNode(address uint64) (*Node, error) {
	if err := awaitLock(&m.mu, m.opts.LockInterval, m.opts.LockTimeout); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	// Fast path, effectively an LRU cache of one.
	if m.lastNode != nil && m.lastNode.Contains(address) {
		return m.lastNode, nil
	}

	// Inline refresh of the lookup lists so the bisection below is
	// correct. Internally this is a no-op unless the lists are stale.
	m.refreshLookup()

	// Locate the index of the closest known node address, rounding down.
	index := sort.Search(len(m.nodeAddresses), func(i int) bool {
		return m.nodeAddresses[i] > address
	}) - 1
	if index < 0 {
		return nil, fmt.Errorf("%w: %#x", ErrAddressNotMapped, address)
	}

	// If the probed node does not contain the target address, there are
	// no second chances: the address is simply not part of any node.
	node := m.nodes[m.nodeAddresses[index]]
	if node == nil || !node.Contains(address) {
		return nil, fmt.Errorf("%w: %#x", ErrAddressNotMapped, address)
	}

	m.lastNode = node
	return node, nil
}

// FlattenBlocks converts a list of (address, size) basic blocks into the
// individual instruction addresses they span, in block order.
//
// Each block's byte range is walked in instruction-size steps using the
// cached instruction map. When no instruction is known at the current
// position, the position is treated as a single undefined byte and
// still contributes one output address.
func (m *DatabaseMetadata) FlattenBlocks(blocks []BasicBlock) ([]uint64, error) {
	if err := awaitLock(&m.mu, m.opts.LockInterval, m.opts.LockTimeout); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	var output []uint64
	for _, block := range blocks {
		end := block.Address + block.Size
		for address := block.Address; address < end; {
			output = append(output, address)

			step, ok := m.instructions[address]
			if !ok {
				step = 1
			}
			address += step
		}
	}
	return output, nil
}

// refreshLookup rebuilds the sorted address lists used for bisection.
// It only does work when the lists are known to be stale, so the call
// adds virtually no overhead to the hot lookup path.
// Callers must hold the mutex.
func (m *DatabaseMetadata) refreshLookup() bool {
	if !m.staleLookup {
		return false
	}

	m.nodeAddresses = sortedKeys(m.nodes)
	m.functionAddresses = sortedKeys(m.functions)
	m.staleLookup = false
	return true
}

// FunctionAt returns the function metadata at the exact given address.
func (m *DatabaseMetadata) FunctionAt(address uint64) (*Function, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	function, ok := m.functions[address]
	return function, ok
}

// NodeAt returns the node metadata at the exact given address.
func (m *DatabaseMetadata) NodeAt(address uint64) (*Node, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok := m.nodes[address]
	return node, ok
}

// Stats returns the current function, node and instruction counts.
func (m *DatabaseMetadata) Stats() (functions, nodes, instructions int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.functions), len(m.nodes), len(m.instructions)
}

// TotalInstructionCount returns the number of instructions across all
// defined functions.
func (m *DatabaseMetadata) TotalInstructionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, function := range m.functions {
		total += function.InstructionCount
	}
	return total
}

// FunctionAddresses returns the sorted addresses of all cached
// functions.
func (m *DatabaseMetadata) FunctionAddresses() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshLookup()

	addresses := make([]uint64, len(m.functionAddresses))
	copy(addresses, m.functionAddresses)
	return addresses
}

// Copy returns a deep copy of the cache's current contents: a snapshot
// that later refreshes of the source will not disturb. The copy shares
// no provider and cannot be refreshed; its purpose is delta computation
// against a future state of the source.
func (m *DatabaseMetadata) Copy() *DatabaseMetadata {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := &DatabaseMetadata{
		functions:    make(map[uint64]*Function, len(m.functions)),
		nodes:        make(map[uint64]*Node, len(m.nodes)),
		instructions: make(map[uint64]uint64, len(m.instructions)),
		staleLookup:  true,
		opts:         m.opts,
	}

	for address, function := range m.functions {
		copied := &Function{
			Address:          function.Address,
			Name:             function.Name,
			Nodes:            make(map[uint64]*Node, len(function.Nodes)),
			Size:             function.Size,
			NodeCount:        function.NodeCount,
			InstructionCount: function.InstructionCount,
		}
		for nodeAddress, node := range function.Nodes {
			instructions := make(map[uint64]uint64, len(node.Instructions))
			for ia, is := range node.Instructions {
				instructions[ia] = is
			}
			copiedNode := &Node{
				Address:          node.Address,
				Size:             node.Size,
				InstructionCount: node.InstructionCount,
				ID:               node.ID,
				FunctionAddress:  node.FunctionAddress,
				Instructions:     instructions,
			}
			copied.Nodes[nodeAddress] = copiedNode
			snapshot.nodes[nodeAddress] = copiedNode
		}
		snapshot.functions[address] = copied
	}
	for address, size := range m.instructions {
		snapshot.instructions[address] = size
	}

	return snapshot
}

// sortedKeys returns the sorted keys of an address-keyed map.
func sortedKeys[V any](entries map[uint64]V) []uint64 {
	keys := make([]uint64, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
