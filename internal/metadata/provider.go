package metadata

// BlockRange is a half-open [Start, End) byte range describing one basic
// block as reported by a disassembly provider.
type BlockRange struct {
	Start uint64
	End   uint64
}

// BasicBlock is an (address, size) pair. It is the unit consumed by
// FlattenBlocks and produced by coverage log parsers.
type BasicBlock struct {
	Address uint64
	Size    uint64
}

// Provider is the external source of raw structural facts the metadata
// cache is built from: function addresses, names, basic block ranges,
// and instruction lengths.
//
// All methods are invoked from the refresh worker goroutine, one call at
// a time. Implementations backed by a single-threaded analysis host must
// marshal the call onto their required execution context themselves; the
// cache makes no assumption beyond "the call eventually returns".
type Provider interface {
	// ListFunctions returns the addresses of every defined function.
	ListFunctions() ([]uint64, error)

	// ResolveName returns the name of the function at the given address.
	ResolveName(address uint64) (string, error)

	// GetBlocks returns the basic block ranges of the function at the
	// given address, in flowchart order.
	GetBlocks(address uint64) ([]BlockRange, error)

	// InstructionLength returns the size in bytes of the instruction at
	// the given address. A size of 1 is expected for undefined bytes.
	InstructionLength(address uint64) (uint64, error)
}
