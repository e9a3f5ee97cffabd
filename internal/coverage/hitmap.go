package coverage

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/lumen-re/lumen/internal/metadata"
)

// Hitmap maps an instruction address to the number of times it was
// executed. It is the raw representation of any runtime data source
// (coverage logs, instruction traces, profiling samples).
type Hitmap map[uint64]int

// BuildHitmap builds a hitmap from a list of executed addresses.
func BuildHitmap(addresses []uint64) Hitmap {
	hitmap := make(Hitmap, len(addresses))
	for _, address := range addresses {
		hitmap[address]++
	}
	return hitmap
}

// Addresses returns the hitmap's address mask in ascending order.
func (h Hitmap) Addresses() []uint64 {
	addresses := make([]uint64, 0, len(h))
	for address := range h {
		addresses = append(addresses, address)
	}
	sort.Slice(addresses, func(i, j int) bool { return addresses[i] < addresses[j] })
	return addresses
}

// hash computes a digest over the hitmap's address mask. Hit counts are
// ignored: two hitmaps covering the same addresses hash identically,
// which is what coverage comparison wants.
func (h Hitmap) hash() uint64 {
	if len(h) == 0 {
		return 0
	}

	digest := xxhash.New()
	var buf [8]byte
	for _, address := range h.Addresses() {
		binary.LittleEndian.PutUint64(buf[:], address)
		digest.Write(buf[:])
	}
	return digest.Sum64()
}

// CoalesceBlocks merges a list of (address, size) blocks, combining
// any that touch or overlap. The input need not be sorted.
func CoalesceBlocks(blocks []metadata.BasicBlock) []metadata.BasicBlock {
	if len(blocks) <= 1 {
		return blocks
	}

	sorted := make([]metadata.BasicBlock, len(blocks))
	copy(sorted, blocks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })

	coalesced := []metadata.BasicBlock{sorted[0]}
	for _, block := range sorted[1:] {
		last := &coalesced[len(coalesced)-1]

		// Disjoint: start a new run.
		if last.Address+last.Size < block.Address {
			coalesced = append(coalesced, block)
			continue
		}

		// Touching or overlapping: extend the current run.
		end := block.Address + block.Size
		if end > last.Address+last.Size {
			last.Size = end - last.Address
		}
	}
	return coalesced
}

// RebaseBlocks shifts module-relative blocks to the given image base.
func RebaseBlocks(base uint64, blocks []metadata.BasicBlock) []metadata.BasicBlock {
	rebased := make([]metadata.BasicBlock, len(blocks))
	for i, block := range blocks {
		rebased[i] = metadata.BasicBlock{Address: base + block.Address, Size: block.Size}
	}
	return rebased
}
