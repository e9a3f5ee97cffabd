// Package snapshot persists a database disassembly listing as JSON and
// serves it back as a metadata provider. A snapshot is what an exporter
// dumps from a disassembler session: the function list, each function's
// basic blocks, and the instruction layout.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
)

// BlockRecord is one basic block of a function, as an [Start, End)
// address range.
type BlockRecord struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// FunctionRecord is one function in a snapshot.
type FunctionRecord struct {
	Address uint64        `json:"address"`
	Name    string        `json:"name"`
	Blocks  []BlockRecord `json:"blocks"`
}

// InstructionRecord is one defined instruction in a snapshot.
type InstructionRecord struct {
	Address uint64 `json:"address"`
	Size    uint64 `json:"size"`
}

// Snapshot is a serialized disassembly listing.
type Snapshot struct {
	Name         string              `json:"name"`
	Functions    []FunctionRecord    `json:"functions"`
	Instructions []InstructionRecord `json:"instructions"`
}

// Load reads and decodes a snapshot from the given path.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", path, err)
	}
	return &snap, nil
}

// Save encodes and writes a snapshot to the given path.
func Save(path string, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot %s: %w", path, err)
	}
	return nil
}
