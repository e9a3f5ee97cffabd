package metadata

// Node is the fast access metadata for a single node (basic block).
//
// A node holds a back-reference to its owning function as a plain
// address rather than a pointer. The relation is identity-only: it is
// resolved against the database function map when function-level data is
// needed, and never used to traverse ownership.
type Node struct {
	// Address is the start address of the basic block.
	Address uint64

	// Size is the length of the block in bytes. Invariant: Size equals
	// the sum of all entries in Instructions.
	Size uint64

	// InstructionCount is the number of instructions in the block.
	InstructionCount int

	// ID is the ordinal of this node in its function's flowchart, as
	// assigned by the provider. It is stable only within one collection
	// pass.
	ID int

	// FunctionAddress is the address of the owning function.
	FunctionAddress uint64

	// Instructions maps instruction address -> instruction size for
	// every instruction in the block.
	Instructions map[uint64]uint64
}

// Contains reports whether the given address falls within this node.
func (n *Node) Contains(address uint64) bool {
	return n.Address <= address && address < n.Address+n.Size
}

// Equal reports structural node equality: address, size, instruction
// count, owning function identity, and flowchart ordinal. Instruction
// map contents are not compared; the size/count pair already pins them.
func (n *Node) Equal(other *Node) bool {
	if other == nil {
		return false
	}
	return n.Address == other.Address &&
		n.Size == other.Size &&
		n.InstructionCount == other.InstructionCount &&
		n.FunctionAddress == other.FunctionAddress &&
		n.ID == other.ID
}
