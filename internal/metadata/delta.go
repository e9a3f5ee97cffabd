package metadata

// AddressSet is a set of entity addresses.
type AddressSet map[uint64]struct{}

// Add inserts an address into the set.
func (s AddressSet) Add(address uint64) {
	s[address] = struct{}{}
}

// Contains reports whether the set holds the given address.
func (s AddressSet) Contains(address uint64) bool {
	_, ok := s[address]
	return ok
}

// Sorted returns the set's addresses in ascending order.
func (s AddressSet) Sorted() []uint64 {
	return sortedKeys(s)
}

// MetadataDelta is the computed difference between two metadata
// snapshots, bucketed by entity kind and change type. It is a one-shot,
// immutable result: compute it, consume it, drop it.
type MetadataDelta struct {
	NodesAdded    AddressSet
	NodesRemoved  AddressSet
	NodesModified AddressSet

	FunctionsAdded    AddressSet
	FunctionsRemoved  AddressSet
	FunctionsModified AddressSet

	// dirtyFunctions is working state discovered during the node diff
	// and consumed by the function diff. It is cleared after computation.
	dirtyFunctions AddressSet
}

// Empty reports whether the delta holds no changes at all.
func (d *MetadataDelta) Empty() bool {
	return len(d.NodesAdded) == 0 && len(d.NodesRemoved) == 0 && len(d.NodesModified) == 0 &&
		len(d.FunctionsAdded) == 0 && len(d.FunctionsRemoved) == 0 && len(d.FunctionsModified) == 0
}

// ComputeDelta computes the precise set of added, removed and modified
// nodes and functions between two metadata snapshots. newMetadata is the
// later snapshot; oldMetadata the earlier one, and may be nil to signify
// "no baseline", in which case everything in newMetadata is classified
// as added.
//
// Neither snapshot may have a refresh in flight while the delta is
// computed.
//
// The function diff is driven entirely by the node diff: only functions
// owning a changed node are inspected. A function-level-only change
// that touches no node (a rename, say) will therefore never surface in
// FunctionsModified. Rename events are expected to be handled by the
// caller through other means.
func ComputeDelta(newMetadata, oldMetadata *DatabaseMetadata) *MetadataDelta {
	delta := &MetadataDelta{
		NodesAdded:        make(AddressSet),
		NodesRemoved:      make(AddressSet),
		NodesModified:     make(AddressSet),
		FunctionsAdded:    make(AddressSet),
		FunctionsRemoved:  make(AddressSet),
		FunctionsModified: make(AddressSet),
		dirtyFunctions:    make(AddressSet),
	}

	// With no baseline, everything that exists now must have been added.
	if oldMetadata == nil {
		for address := range newMetadata.nodes {
			delta.NodesAdded.Add(address)
		}
		for address := range newMetadata.functions {
			delta.FunctionsAdded.Add(address)
		}
		return delta
	}

	delta.computeNodeDelta(newMetadata.nodes, oldMetadata.nodes)
	delta.computeFunctionDelta(newMetadata.functions, oldMetadata.functions)
	return delta
}

// computeNodeDelta diffs the node maps over their full key union,
// marking the owning function of every changed node as dirty.
func (d *MetadataDelta) computeNodeDelta(newNodes, oldNodes map[uint64]*Node) {
	allAddresses := make(AddressSet, len(newNodes)+len(oldNodes))
	for address := range newNodes {
		allAddresses.Add(address)
	}
	for address := range oldNodes {
		allAddresses.Add(address)
	}

	for address := range allAddresses {
		newNode := newNodes[address]
		oldNode := oldNodes[address]

		// Only in the old snapshot: the node was removed.
		if newNode == nil {
			d.NodesRemoved.Add(address)
			d.dirtyFunctions.Add(oldNode.FunctionAddress)
			continue
		}

		// Only in the new snapshot: the node was added.
		if oldNode == nil {
			d.NodesAdded.Add(address)
			d.dirtyFunctions.Add(newNode.FunctionAddress)
			continue
		}

		// Present in both; structural equality decides. Shallow, per
		// Node.Equal.
		if newNode.Equal(oldNode) {
			continue
		}

		d.NodesModified.Add(address)
		d.dirtyFunctions.Add(newNode.FunctionAddress)
		d.dirtyFunctions.Add(oldNode.FunctionAddress)
	}
}

// computeFunctionDelta buckets the functions discovered dirty by the
// node diff. Functions are not independently re-diffed: a dirty
// function present in both snapshots is assumed modified, since its
// membership in the dirty set already implies a node-level change.
func (d *MetadataDelta) computeFunctionDelta(newFunctions, oldFunctions map[uint64]*Function) {
	for address := range d.dirtyFunctions {
		_, inNew := newFunctions[address]
		_, inOld := oldFunctions[address]

		switch {
		case !inNew:
			d.FunctionsRemoved.Add(address)
		case !inOld:
			d.FunctionsAdded.Add(address)
		default:
			d.FunctionsModified.Add(address)
		}
	}

	// The dirty set has served its purpose.
	d.dirtyFunctions = nil
}
