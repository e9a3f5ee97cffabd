package metadata

import "fmt"

// Function is the fast access metadata for a single function.
//
// A function exclusively owns its node map. The size, node count and
// instruction count aggregates are baked from the node map whenever it
// changes so that consumers never pay to recompute them.
type Function struct {
	// Address is the entry address of the function.
	Address uint64

	// Name is the function name as resolved by the provider.
	Name string

	// Nodes maps node address -> node metadata for every basic block in
	// the function.
	Nodes map[uint64]*Node

	// Baked aggregates, recomputed by finalize.
	Size             uint64
	NodeCount        int
	InstructionCount int
}

// Instructions returns the set of instruction addresses across all nodes
// of this function. The view is derived on demand and never cached.
func (f *Function) Instructions() map[uint64]struct{} {
	instructions := make(map[uint64]struct{}, f.InstructionCount)
	for _, node := range f.Nodes {
		for address := range node.Instructions {
			instructions[address] = struct{}{}
		}
	}
	return instructions
}

// Equal reports structural function equality: name, size, address, node
// count, instruction count, and the set of node addresses.
//
// The comparison is deliberately shallow. Node contents are not
// recursed into; two functions with identical node address sets and
// aggregates compare equal even if individual nodes differ internally.
func (f *Function) Equal(other *Function) bool {
	if other == nil {
		return false
	}
	if f.Name != other.Name ||
		f.Size != other.Size ||
		f.Address != other.Address ||
		f.NodeCount != other.NodeCount ||
		f.InstructionCount != other.InstructionCount {
		return false
	}
	if len(f.Nodes) != len(other.Nodes) {
		return false
	}
	for address := range f.Nodes {
		if _, ok := other.Nodes[address]; !ok {
			return false
		}
	}
	return true
}

// finalize recomputes the baked aggregates from the node map.
func (f *Function) finalize() {
	var size uint64
	instructions := 0
	for _, node := range f.Nodes {
		size += node.Size
		instructions += node.InstructionCount
	}
	f.Size = size
	f.NodeCount = len(f.Nodes)
	f.InstructionCount = instructions
}

// BuildFunction constructs function metadata for the function at the
// given address by querying the provider for its name, basic blocks and
// instruction lengths. The construction is pure given the provider's
// answers: nothing outside the returned value is mutated.
func BuildFunction(provider Provider, address uint64) (*Function, error) {
	name, err := provider.ResolveName(address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve name for function %#x: %w", address, err)
	}

	blocks, err := provider.GetBlocks(address)
	if err != nil {
		return nil, fmt.Errorf("failed to get blocks for function %#x: %w", address, err)
	}

	function := &Function{
		Address: address,
		Name:    name,
		Nodes:   make(map[uint64]*Node, len(blocks)),
	}

	for id, block := range blocks {
		// Zero-length ranges carry no instructions; skip them. Their
		// ordinal is still consumed so node IDs match provider order.
		if block.Start == block.End {
			continue
		}

		node, err := buildNode(provider, block, id, address)
		if err != nil {
			return nil, err
		}
		function.Nodes[node.Address] = node
	}

	function.finalize()
	return function, nil
}

// buildNode walks a block's byte range in provider-reported instruction
// length steps, recording an (address -> size) entry per instruction.
func buildNode(provider Provider, block BlockRange, id int, functionAddress uint64) (*Node, error) {
	node := &Node{
		Address:         block.Start,
		Size:            block.End - block.Start,
		ID:              id,
		FunctionAddress: functionAddress,
		Instructions:    make(map[uint64]uint64),
	}

	for current := block.Start; current < block.End; {
		length, err := provider.InstructionLength(current)
		if err != nil {
			return nil, fmt.Errorf("failed to get instruction length at %#x: %w", current, err)
		}
		if length == 0 {
			return nil, fmt.Errorf("provider reported zero-length instruction at %#x", current)
		}
		node.Instructions[current] = length
		current += length
	}

	node.InstructionCount = len(node.Instructions)
	return node, nil
}

// CollectFunctions builds function metadata for every given address.
// The provider is queried synchronously, one function at a time.
func CollectFunctions(provider Provider, addresses []uint64) (map[uint64]*Function, error) {
	fresh := make(map[uint64]*Function, len(addresses))
	for _, address := range addresses {
		function, err := BuildFunction(provider, address)
		if err != nil {
			return nil, err
		}
		fresh[address] = function
	}
	return fresh, nil
}
