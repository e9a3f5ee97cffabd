package coverage

import (
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/lumen-re/lumen/internal/metadata"
)

// DatabaseCoverage maps raw runtime data (a hitmap) onto the metadata
// cache. The mapping buckets every hit address into the node (basic
// block) that contains it, then rolls the node mappings up into
// function-level coverage. Addresses that fall outside every defined
// node stay in an unmapped set, so the mapping can be rebuilt after the
// underlying metadata is refreshed.
type DatabaseCoverage struct {
	meta   *metadata.DatabaseMetadata
	hitmap Hitmap

	// Hash is a digest of the coverage address mask, used to compare
	// coverage sets cheaply without walking their hitmaps.
	Hash uint64

	// Nodes and Functions are the mapping products, keyed by entity
	// address. InstructionPercent is the database-wide coverage ratio.
	Nodes              map[uint64]*NodeCoverage
	Functions          map[uint64]*FunctionCoverage
	InstructionPercent float64

	unmapped map[uint64]struct{}
	workers  int
}

// Options contains coverage mapping tunables.
type Options struct {
	// Workers bounds the function finalization fan-out. Zero means a
	// modest default.
	Workers int
}

// New creates a coverage mapping over the given metadata cache from a
// list of executed addresses. Call Refresh to perform the mapping.
func New(meta *metadata.DatabaseMetadata, addresses []uint64, opts Options) *DatabaseCoverage {
	return fromHitmap(meta, BuildHitmap(addresses), opts)
}

func fromHitmap(meta *metadata.DatabaseMetadata, hitmap Hitmap, opts Options) *DatabaseCoverage {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}

	c := &DatabaseCoverage{
		meta:      meta,
		hitmap:    hitmap,
		Nodes:     make(map[uint64]*NodeCoverage),
		Functions: make(map[uint64]*FunctionCoverage),
		workers:   workers,
	}
	c.Hash = hitmap.hash()
	c.unmapAll()
	return c
}

// Data returns the underlying hitmap.
func (c *DatabaseCoverage) Data() Hitmap {
	return c.hitmap
}

// UnmappedAddresses returns the hit addresses that could not be bucketed
// into any node, in ascending order.
func (c *DatabaseCoverage) UnmappedAddresses() []uint64 {
	addresses := make([]uint64, 0, len(c.unmapped))
	for address := range c.unmapped {
		addresses = append(addresses, address)
	}
	sort.Slice(addresses, func(i, j int) bool { return addresses[i] < addresses[j] })
	return addresses
}

// Refresh rebuilds the mapping of the coverage data onto the metadata
// cache, consuming the unmapped set and finalizing the touched node and
// function coverage objects.
func (c *DatabaseCoverage) Refresh() error {
	dirtyNodes, err := c.mapNodes()
	if err != nil {
		return err
	}

	dirtyFunctions, err := c.mapFunctions(dirtyNodes)
	if err != nil {
		return err
	}

	if err := c.finalize(dirtyNodes, dirtyFunctions); err != nil {
		return err
	}

	c.Hash = c.hitmap.hash()
	return nil
}

// mapNodes buckets every unmapped hit address into the node containing
// it. Addresses belonging to no node remain unmapped; that is normal
// for hits landing outside defined functions.
func (c *DatabaseCoverage) mapNodes() (map[uint64]*NodeCoverage, error) {
	dirty := make(map[uint64]*NodeCoverage)

	for _, address := range c.UnmappedAddresses() {
		node, err := c.meta.GetNode(address)
		if err != nil {
			if errors.Is(err, metadata.ErrAddressNotMapped) {
				continue
			}
			// Lock timeouts and the like are fatal to the mapping.
			return nil, fmt.Errorf("coverage mapping failed at %#x: %w", address, err)
		}

		nodeCoverage, ok := c.Nodes[node.Address]
		if !ok {
			nodeCoverage = &NodeCoverage{
				Address:              node.Address,
				ExecutedInstructions: make(map[uint64]int),
			}
			c.Nodes[node.Address] = nodeCoverage
		}

		// Only real instruction starts are mapped; a hit landing inside
		// an instruction stays unmapped.
		if _, ok := node.Instructions[address]; ok {
			nodeCoverage.ExecutedInstructions[address] = c.hitmap[address]
			delete(c.unmapped, address)
		}

		dirty[node.Address] = nodeCoverage
	}

	return dirty, nil
}

// mapFunctions rolls dirty node coverage up into function coverage via
// each node's owner back-reference.
func (c *DatabaseCoverage) mapFunctions(dirtyNodes map[uint64]*NodeCoverage) (map[uint64]*FunctionCoverage, error) {
	dirty := make(map[uint64]*FunctionCoverage)

	for address, nodeCoverage := range dirtyNodes {
		node, ok := c.meta.NodeAt(address)
		if !ok {
			return nil, fmt.Errorf("no metadata for covered node %#x", address)
		}

		functionCoverage, ok := c.Functions[node.FunctionAddress]
		if !ok {
			functionCoverage = &FunctionCoverage{
				Address: node.FunctionAddress,
				Nodes:   make(map[uint64]*NodeCoverage),
			}
			c.Functions[node.FunctionAddress] = functionCoverage
		}

		functionCoverage.markNode(nodeCoverage)
		dirty[node.FunctionAddress] = functionCoverage
	}

	return dirty, nil
}

// finalize bakes the coverage metrics for every dirty node and
// function. Function finalization fans out across a bounded worker
// group; each worker only reads metadata and writes its own coverage
// object.
func (c *DatabaseCoverage) finalize(dirtyNodes map[uint64]*NodeCoverage, dirtyFunctions map[uint64]*FunctionCoverage) error {
	for _, nodeCoverage := range dirtyNodes {
		if err := nodeCoverage.finalize(c.meta); err != nil {
			return err
		}
	}

	var group errgroup.Group
	group.SetLimit(c.workers)
	for _, functionCoverage := range dirtyFunctions {
		functionCoverage := functionCoverage
		group.Go(func() error {
			return functionCoverage.finalize(c.meta)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	return c.finalizeInstructionPercent()
}

// finalizeInstructionPercent bakes the database-wide coverage ratio:
// instructions executed over instructions defined in all functions.
func (c *DatabaseCoverage) finalizeInstructionPercent() error {
	total := c.meta.TotalInstructionCount()
	if total == 0 {
		c.InstructionPercent = 0
		return nil
	}

	executed := 0
	for _, functionCoverage := range c.Functions {
		executed += functionCoverage.InstructionsExecuted()
	}

	c.InstructionPercent = float64(executed) / float64(total)
	return nil
}

// AddAddresses adds a list of executed addresses (a trace) to the
// mapping. The touched addresses become unmapped until the next
// Refresh.
func (c *DatabaseCoverage) AddAddresses(addresses []uint64) {
	for _, address := range addresses {
		c.hitmap[address]++
		c.unmapped[address] = struct{}{}
	}
	c.Hash = c.hitmap.hash()
}

// AddData merges another hitmap into this mapping.
func (c *DatabaseCoverage) AddData(data Hitmap) {
	for address, hits := range data {
		c.hitmap[address] += hits
		c.unmapped[address] = struct{}{}
	}
	c.Hash = c.hitmap.hash()
}

// SubtractData removes hit counts from this mapping. Addresses whose
// count drops to zero leave the coverage mask entirely. The whole
// mapping is unmapped afterwards; a complete re-map is simpler than
// surgically shrinking node coverage.
func (c *DatabaseCoverage) SubtractData(data Hitmap) {
	for address, hits := range data {
		c.hitmap[address] -= hits
		if c.hitmap[address] <= 0 {
			delete(c.hitmap, address)
		}
	}
	c.Hash = c.hitmap.hash()
	c.unmapAll()
}

// MaskData returns a new, unrefreshed coverage mapping containing only
// the hitmap entries whose address appears in the given mask.
func (c *DatabaseCoverage) MaskData(mask []uint64) *DatabaseCoverage {
	masked := make(Hitmap)
	for _, address := range mask {
		if hits, ok := c.hitmap[address]; ok {
			masked[address] = hits
		}
	}
	return fromHitmap(c.meta, masked, Options{Workers: c.workers})
}

// UnmapDelta surgically unmaps the node and function coverage touched
// by a metadata delta, so that only the stale pieces of the mapping are
// recomputed by the next Refresh.
func (c *DatabaseCoverage) UnmapDelta(delta *metadata.MetadataDelta) {
	c.unmapNodes(delta.NodesRemoved)
	c.unmapNodes(delta.NodesModified)
	for address := range delta.FunctionsRemoved {
		delete(c.Functions, address)
	}
}

func (c *DatabaseCoverage) unmapNodes(addresses metadata.AddressSet) {
	for address := range addresses {
		nodeCoverage, ok := c.Nodes[address]
		if !ok {
			continue
		}
		delete(c.Nodes, address)
		for instruction := range nodeCoverage.ExecutedInstructions {
			c.unmapped[instruction] = struct{}{}
		}
	}
}

// unmapAll resets the mapping so every hit address is unmapped again.
func (c *DatabaseCoverage) unmapAll() {
	c.unmapped = make(map[uint64]struct{}, len(c.hitmap))
	for address := range c.hitmap {
		c.unmapped[address] = struct{}{}
	}
	c.Nodes = make(map[uint64]*NodeCoverage)
	c.Functions = make(map[uint64]*FunctionCoverage)
}

// NodeCoverage is the coverage mapping of a single node (basic block).
type NodeCoverage struct {
	Address              uint64
	ExecutedInstructions map[uint64]int

	// Executions is the estimated number of times the block ran:
	// cumulative hits over the block's instruction count.
	Executions float64
}

// Hits returns the cumulative instruction executions in this node.
func (nc *NodeCoverage) Hits() int {
	hits := 0
	for _, count := range nc.ExecutedInstructions {
		hits += count
	}
	return hits
}

// InstructionsExecuted returns the number of unique instructions
// executed in this node.
func (nc *NodeCoverage) InstructionsExecuted() int {
	return len(nc.ExecutedInstructions)
}

func (nc *NodeCoverage) finalize(meta *metadata.DatabaseMetadata) error {
	node, ok := meta.NodeAt(nc.Address)
	if !ok {
		return fmt.Errorf("no metadata for covered node %#x", nc.Address)
	}
	nc.Executions = float64(nc.Hits()) / float64(node.InstructionCount)
	return nil
}

// FunctionCoverage is the coverage mapping of a single function,
// aggregated from its covered nodes.
type FunctionCoverage struct {
	Address uint64
	Nodes   map[uint64]*NodeCoverage

	// Baked metrics, computed by finalize.
	NodePercent        float64
	InstructionPercent float64
	Executions         float64
}

// Hits returns the cumulative instruction executions in this function.
func (fc *FunctionCoverage) Hits() int {
	hits := 0
	for _, nodeCoverage := range fc.Nodes {
		hits += nodeCoverage.Hits()
	}
	return hits
}

// NodesExecuted returns the number of nodes with coverage in this
// function.
func (fc *FunctionCoverage) NodesExecuted() int {
	return len(fc.Nodes)
}

// InstructionsExecuted returns the number of unique instructions
// executed in this function.
func (fc *FunctionCoverage) InstructionsExecuted() int {
	executed := 0
	for _, nodeCoverage := range fc.Nodes {
		executed += nodeCoverage.InstructionsExecuted()
	}
	return executed
}

func (fc *FunctionCoverage) markNode(nodeCoverage *NodeCoverage) {
	fc.Nodes[nodeCoverage.Address] = nodeCoverage
}

func (fc *FunctionCoverage) finalize(meta *metadata.DatabaseMetadata) error {
	function, ok := meta.FunctionAt(fc.Address)
	if !ok {
		return fmt.Errorf("no metadata for covered function %#x", fc.Address)
	}

	fc.NodePercent = float64(fc.NodesExecuted()) / float64(function.NodeCount)
	fc.InstructionPercent = float64(fc.InstructionsExecuted()) / float64(function.InstructionCount)

	// The estimated number of times the function ran: the mean of its
	// node execution counts over all nodes, covered or not.
	nodeSum := 0.0
	for _, nodeCoverage := range fc.Nodes {
		nodeSum += nodeCoverage.Executions
	}
	fc.Executions = nodeSum / float64(function.NodeCount)
	return nil
}
