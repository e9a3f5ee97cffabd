package snapshot

import (
	"fmt"
	"sync"

	"github.com/lumen-re/lumen/internal/metadata"
)

// Provider serves a loaded snapshot through the metadata provider
// contract. It is safe for concurrent use; Reload swaps the backing
// snapshot atomically so an in-flight metadata refresh observes either
// the old or the new listing per call, never a mix within one call.
type Provider struct {
	mu   sync.RWMutex
	name string

	functions    map[uint64]FunctionRecord
	instructions map[uint64]uint64
}

var _ metadata.Provider = (*Provider)(nil)

// NewProvider creates a provider over the given snapshot.
func NewProvider(snap *Snapshot) *Provider {
	p := &Provider{}
	p.swap(snap)
	return p
}

// OpenProvider loads the snapshot at path and wraps it in a provider.
func OpenProvider(path string) (*Provider, error) {
	snap, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewProvider(snap), nil
}

// Name returns the snapshot's display name.
func (p *Provider) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

// Reload replaces the backing snapshot.
func (p *Provider) Reload(snap *Snapshot) {
	p.swap(snap)
}

// ReloadFile re-reads the snapshot at path and replaces the backing
// snapshot. The old snapshot stays in place on error.
func (p *Provider) ReloadFile(path string) error {
	snap, err := Load(path)
	if err != nil {
		return err
	}
	p.swap(snap)
	return nil
}

// ListFunctions returns the addresses of all functions in the snapshot.
func (p *Provider) ListFunctions() ([]uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	addresses := make([]uint64, 0, len(p.functions))
	for address := range p.functions {
		addresses = append(addresses, address)
	}
	return addresses, nil
}

// ResolveName returns the name of the function at the given address.
func (p *Provider) ResolveName(address uint64) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	function, ok := p.functions[address]
	if !ok {
		return "", fmt.Errorf("no function at %#x in snapshot", address)
	}
	return function.Name, nil
}

// GetBlocks returns the basic block ranges of the function at the given
// address, in snapshot order.
func (p *Provider) GetBlocks(address uint64) ([]metadata.BlockRange, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	function, ok := p.functions[address]
	if !ok {
		return nil, fmt.Errorf("no function at %#x in snapshot", address)
	}

	blocks := make([]metadata.BlockRange, len(function.Blocks))
	for i, block := range function.Blocks {
		blocks[i] = metadata.BlockRange{Start: block.Start, End: block.End}
	}
	return blocks, nil
}

// InstructionLength returns the size of the instruction defined at the
// given address.
func (p *Provider) InstructionLength(address uint64) (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	size, ok := p.instructions[address]
	if !ok {
		return 0, fmt.Errorf("no instruction at %#x in snapshot", address)
	}
	return size, nil
}

func (p *Provider) swap(snap *Snapshot) {
	functions := make(map[uint64]FunctionRecord, len(snap.Functions))
	for _, function := range snap.Functions {
		functions[function.Address] = function
	}
	instructions := make(map[uint64]uint64, len(snap.Instructions))
	for _, instruction := range snap.Instructions {
		instructions[instruction.Address] = instruction.Size
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.name = snap.Name
	p.functions = functions
	p.instructions = instructions
}
