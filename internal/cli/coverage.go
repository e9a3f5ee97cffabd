package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lumen-re/lumen/internal/coverage"
	"github.com/lumen-re/lumen/internal/drcov"
	"github.com/lumen-re/lumen/internal/metadata"
)

var (
	coverageModule string
	coverageBase   string
)

// coverageCmd represents the coverage command
var coverageCmd = &cobra.Command{
	Use:   "coverage <snapshot.json> <coverage.log>",
	Short: "Map a drcov coverage log onto a snapshot",
	Long: `Coverage parses a DynamoRIO drcov log, extracts the basic blocks of the
chosen module, and maps them onto the snapshot's metadata. It prints
per-function block and instruction coverage.

drcov records block offsets relative to the module's load base. Use
--base to rebase them onto the snapshot's image base when the snapshot
was exported at a different address.

Examples:
  lumen coverage target.json trace.drcov --module target
  lumen coverage target.json trace.drcov --module target --base 0x400000
`,
	Args: cobra.ExactArgs(2),
	RunE: runCoverage,
}

func init() {
	rootCmd.AddCommand(coverageCmd)
	coverageCmd.Flags().StringVarP(&coverageModule, "module", "m", "", "Module filename to extract coverage for (required)")
	coverageCmd.Flags().StringVar(&coverageBase, "base", "0", "Image base to rebase block offsets onto (hex or decimal)")
	coverageCmd.MarkFlagRequired("module")
}

func runCoverage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg, "coverage")

	base, err := parseAddress(coverageBase)
	if err != nil {
		return fmt.Errorf("invalid --base %q: %w", coverageBase, err)
	}

	_, meta, err := openMetadata(args[0], cfg, log, &metadata.NoOpProgressReporter{})
	if err != nil {
		return err
	}

	logFile, err := drcov.ParseFile(args[1])
	if err != nil {
		return err
	}
	blocks, err := logFile.FilterByModule(coverageModule)
	if err != nil {
		return err
	}
	log.Info().Int("blocks", len(blocks)).Str("module", coverageModule).Msg("extracted coverage blocks")

	blocks = coverage.CoalesceBlocks(blocks)
	if base != 0 {
		blocks = coverage.RebaseBlocks(base, blocks)
	}

	addresses, err := meta.FlattenBlocks(blocks)
	if err != nil {
		return err
	}

	cov := coverage.New(meta, addresses, coverage.Options{Workers: cfg.Coverage.Workers})
	if err := cov.Refresh(); err != nil {
		return err
	}

	printCoverage(meta, cov)
	return nil
}

func printCoverage(meta *metadata.DatabaseMetadata, cov *coverage.DatabaseCoverage) {
	fmt.Printf("Instruction coverage: %.2f%%\n", cov.InstructionPercent*100)
	if unmapped := cov.UnmappedAddresses(); len(unmapped) > 0 {
		fmt.Printf("Unmapped addresses:   %d\n", len(unmapped))
	}
	fmt.Println()

	covered := make([]uint64, 0, len(cov.Functions))
	for address := range cov.Functions {
		covered = append(covered, address)
	}
	sort.Slice(covered, func(i, j int) bool { return covered[i] < covered[j] })

	fmt.Printf("%-30s %-12s %8s %8s\n", "FUNCTION", "ADDRESS", "NODES", "INSTR")
	for _, address := range covered {
		functionCoverage := cov.Functions[address]
		name := fmt.Sprintf("sub_%x", address)
		if function, ok := meta.FunctionAt(address); ok {
			name = function.Name
		}
		fmt.Printf("%-30s 0x%-10X %7.1f%% %7.1f%%\n",
			name, address,
			functionCoverage.NodePercent*100,
			functionCoverage.InstructionPercent*100)
	}
}

// parseAddress parses a hex (0x prefixed) or decimal address.
func parseAddress(s string) (uint64, error) {
	if rest, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		return strconv.ParseUint(rest, 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}
