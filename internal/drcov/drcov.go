// Package drcov parses DynamoRIO drcov coverage logs (version 2).
//
// A drcov log opens with two text header lines, followed by a text
// module table and a packed binary basic block table:
//
//	DRCOV VERSION: 2
//	DRCOV FLAVOR: drcov
//	Module Table: version 2, count 11
//	Columns: id, base, end, entry, checksum, timestamp, path
//	0, 0x400000, 0x4a2000, 0x401000, 0x0, 0x0, /usr/bin/ls
//	...
//	BB Table: 2792 bbs
//	<packed bb_entry_t records>
package drcov

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lumen-re/lumen/internal/metadata"
)

var (
	// ErrUnsupportedVersion is returned for any log version other than 2.
	ErrUnsupportedVersion = errors.New("drcov: unsupported log version")

	// ErrASCIITable is returned when the basic block table is ASCII
	// rather than binary. Only binary tables are supported.
	ErrASCIITable = errors.New("drcov: ascii basic block tables are not supported")

	// ErrModuleNotFound is returned by FilterByModule when no module in
	// the log matches the requested name.
	ErrModuleNotFound = errors.New("drcov: module not found in coverage log")
)

// Module describes one loaded image (EXE, DLL, ELF, MachO) from the
// module table of a drcov log.
type Module struct {
	ID        uint16
	Base      uint64
	End       uint64
	Entry     uint64
	Checksum  uint64
	Timestamp uint64
	Path      string
	Filename  string
}

// BasicBlock is one executed basic block record. Start is the offset of
// the block from its module's image base.
type BasicBlock struct {
	Start    uint32
	Size     uint16
	ModuleID uint16
}

// LogFile is a fully parsed drcov coverage log.
type LogFile struct {
	Version int
	Flavor  string

	ModuleTableVersion int
	Modules            []Module

	BasicBlocks []BasicBlock
}

// ParseFile parses the drcov log at the given path.
func ParseFile(path string) (*LogFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening drcov log: %w", err)
	}
	defer f.Close()

	log, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing drcov log %s: %w", path, err)
	}
	return log, nil
}

// Parse parses a drcov log from the given reader.
func Parse(r io.Reader) (*LogFile, error) {
	br := bufio.NewReader(r)
	log := &LogFile{}

	if err := log.parseHeader(br); err != nil {
		return nil, err
	}
	if err := log.parseModuleTable(br); err != nil {
		return nil, err
	}
	if err := log.parseBasicBlockTable(br); err != nil {
		return nil, err
	}

	return log, nil
}

// FilterByModule extracts the basic blocks belonging to the named
// module, as module-relative blocks. The name match is case insensitive
// and against the module's base filename.
func (l *LogFile) FilterByModule(name string) ([]metadata.BasicBlock, error) {
	module, ok := l.ModuleByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrModuleNotFound, name)
	}

	var blocks []metadata.BasicBlock
	for _, bb := range l.BasicBlocks {
		if bb.ModuleID == module.ID {
			blocks = append(blocks, metadata.BasicBlock{
				Address: uint64(bb.Start),
				Size:    uint64(bb.Size),
			})
		}
	}
	return blocks, nil
}

// ModuleByName finds a module by its base filename, case insensitively.
func (l *LogFile) ModuleByName(name string) (Module, bool) {
	for _, module := range l.Modules {
		if strings.EqualFold(module.Filename, name) {
			return module, true
		}
	}
	return Module{}, false
}

func (l *LogFile) parseHeader(br *bufio.Reader) error {
	// eg: DRCOV VERSION: 2
	versionLine, err := readLine(br)
	if err != nil {
		return fmt.Errorf("reading version line: %w", err)
	}
	versionField, err := lineField(versionLine)
	if err != nil {
		return fmt.Errorf("malformed version line %q", versionLine)
	}
	l.Version, err = strconv.Atoi(strings.TrimSpace(versionField))
	if err != nil {
		return fmt.Errorf("malformed version line %q", versionLine)
	}
	if l.Version != 2 {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, l.Version)
	}

	// eg: DRCOV FLAVOR: drcov
	flavorLine, err := readLine(br)
	if err != nil {
		return fmt.Errorf("reading flavor line: %w", err)
	}
	flavorField, err := lineField(flavorLine)
	if err != nil {
		return fmt.Errorf("malformed flavor line %q", flavorLine)
	}
	l.Flavor = strings.TrimSpace(flavorField)

	return nil
}

func (l *LogFile) parseModuleTable(br *bufio.Reader) error {
	count, err := l.parseModuleTableHeader(br)
	if err != nil {
		return err
	}

	// eg: Columns: id, base, end, entry, checksum, timestamp, path
	if _, err := readLine(br); err != nil {
		return fmt.Errorf("reading module table columns: %w", err)
	}

	l.Modules = make([]Module, 0, count)
	for i := 0; i < count; i++ {
		line, err := readLine(br)
		if err != nil {
			return fmt.Errorf("reading module %d: %w", i, err)
		}
		module, err := parseModule(line, l.ModuleTableVersion)
		if err != nil {
			return fmt.Errorf("parsing module %d: %w", i, err)
		}
		l.Modules = append(l.Modules, module)
	}

	return nil
}

func (l *LogFile) parseModuleTableHeader(br *bufio.Reader) (int, error) {
	// eg: Module Table: version 2, count 11
	header, err := readLine(br)
	if err != nil {
		return 0, fmt.Errorf("reading module table header: %w", err)
	}
	field, err := lineField(header)
	if err != nil {
		return 0, fmt.Errorf("malformed module table header %q", header)
	}

	versionPart, countPart, ok := strings.Cut(field, ", ")
	if !ok {
		return 0, fmt.Errorf("malformed module table header %q", header)
	}

	version, err := fieldValue(versionPart, "version")
	if err != nil {
		return 0, fmt.Errorf("malformed module table header %q", header)
	}
	l.ModuleTableVersion = version

	count, err := fieldValue(countPart, "count")
	if err != nil {
		return 0, fmt.Errorf("malformed module table header %q", header)
	}
	return count, nil
}

func (l *LogFile) parseBasicBlockTable(br *bufio.Reader) error {
	// eg: BB Table: 2792 bbs
	header, err := readLine(br)
	if err != nil {
		return fmt.Errorf("reading basic block table header: %w", err)
	}
	field, err := lineField(header)
	if err != nil {
		return fmt.Errorf("malformed basic block table header %q", header)
	}
	countPart, _, ok := strings.Cut(field, " ")
	if !ok {
		return fmt.Errorf("malformed basic block table header %q", header)
	}
	count, err := strconv.Atoi(countPart)
	if err != nil {
		return fmt.Errorf("malformed basic block table header %q", header)
	}

	// An ASCII table opens with the line "module id, start, size:".
	// Binary tables start immediately with packed records.
	peek, err := br.Peek(len("module id"))
	if err == nil && string(peek) == "module id" {
		return ErrASCIITable
	}

	l.BasicBlocks = make([]BasicBlock, count)
	if err := binary.Read(br, binary.LittleEndian, l.BasicBlocks); err != nil {
		return fmt.Errorf("reading %d basic block records: %w", count, err)
	}

	return nil
}

func parseModule(line string, version int) (Module, error) {
	if version != 2 {
		return Module{}, fmt.Errorf("unknown module table format (v%d)", version)
	}

	// Split into exactly 7 fields so paths containing ", " survive.
	fields := strings.SplitN(line, ", ", 7)
	if len(fields) != 7 {
		return Module{}, fmt.Errorf("malformed module line %q", line)
	}

	id, err := strconv.ParseUint(fields[0], 10, 16)
	if err != nil {
		return Module{}, fmt.Errorf("malformed module id %q", fields[0])
	}

	numeric := make([]uint64, 5)
	for i, field := range fields[1:6] {
		value, err := strconv.ParseUint(strings.TrimPrefix(field, "0x"), 16, 64)
		if err != nil {
			return Module{}, fmt.Errorf("malformed module field %q", field)
		}
		numeric[i] = value
	}

	path := fields[6]
	return Module{
		ID:        uint16(id),
		Base:      numeric[0],
		End:       numeric[1],
		Entry:     numeric[2],
		Checksum:  numeric[3],
		Timestamp: numeric[4],
		Path:      path,
		Filename:  filepath.Base(path),
	}, nil
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// lineField returns the payload after the "Name: " prefix of a header
// line.
func lineField(line string) (string, error) {
	_, field, ok := strings.Cut(line, ": ")
	if !ok {
		return "", fmt.Errorf("missing field separator in %q", line)
	}
	return field, nil
}

// fieldValue parses "name N" into N, checking the name.
func fieldValue(field, name string) (int, error) {
	gotName, value, ok := strings.Cut(field, " ")
	if !ok || gotName != name {
		return 0, fmt.Errorf("expected %q field in %q", name, field)
	}
	return strconv.Atoi(value)
}
