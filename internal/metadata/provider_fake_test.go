package metadata

import (
	"fmt"
	"sync"
)

// fakeProvider is an in-memory Provider for tests. Instruction lengths
// default to 1 byte unless set explicitly, so block contents can be
// shaped per test.
type fakeProvider struct {
	mu      sync.Mutex
	names   map[uint64]string
	blocks  map[uint64][]BlockRange
	lengths map[uint64]uint64

	listErr error
	nameErr error

	// gate, when non-nil, blocks ResolveName until the channel closes.
	gate chan struct{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		names:   make(map[uint64]string),
		blocks:  make(map[uint64][]BlockRange),
		lengths: make(map[uint64]uint64),
	}
}

func (p *fakeProvider) addFunction(address uint64, name string, blocks ...BlockRange) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names[address] = name
	p.blocks[address] = blocks
}

func (p *fakeProvider) removeFunction(address uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.names, address)
	delete(p.blocks, address)
}

func (p *fakeProvider) setLength(address, size uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lengths[address] = size
}

func (p *fakeProvider) ListFunctions() ([]uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listErr != nil {
		return nil, p.listErr
	}
	return sortedKeys(p.names), nil
}

func (p *fakeProvider) ResolveName(address uint64) (string, error) {
	p.mu.Lock()
	gate := p.gate
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nameErr != nil {
		return "", p.nameErr
	}
	name, ok := p.names[address]
	if !ok {
		return "", fmt.Errorf("no function at %#x", address)
	}
	return name, nil
}

func (p *fakeProvider) GetBlocks(address uint64) ([]BlockRange, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	blocks, ok := p.blocks[address]
	if !ok {
		return nil, fmt.Errorf("no function at %#x", address)
	}
	return blocks, nil
}

func (p *fakeProvider) InstructionLength(address uint64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if size, ok := p.lengths[address]; ok {
		return size, nil
	}
	return 1, nil
}
