package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lumen-re/lumen/internal/metadata"
)

// diffCmd represents the diff command
var diffCmd = &cobra.Command{
	Use:   "diff <old-snapshot.json> <new-snapshot.json>",
	Short: "Diff the metadata of two snapshots",
	Long: `Diff builds a metadata cache from each snapshot and computes the delta
between them: the functions and basic blocks that were added, removed,
or modified between the two program versions.

Examples:
  lumen diff target-v1.json target-v2.json
`,
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func init() {
	rootCmd.AddCommand(diffCmd)
}

func runDiff(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg, "diff")
	reporter := &metadata.NoOpProgressReporter{}

	_, oldMeta, err := openMetadata(args[0], cfg, log, reporter)
	if err != nil {
		return err
	}
	_, newMeta, err := openMetadata(args[1], cfg, log, reporter)
	if err != nil {
		return err
	}

	delta := metadata.ComputeDelta(newMeta, oldMeta)
	if delta.Empty() {
		fmt.Println("Snapshots are identical")
		return nil
	}

	printDelta(delta)
	return nil
}

func printDelta(delta *metadata.MetadataDelta) {
	printSet := func(label string, set metadata.AddressSet) {
		if len(set) == 0 {
			return
		}
		fmt.Printf("%-20s %s\n", label+":", hexList(set.Sorted()))
	}

	printSet("Functions added", delta.FunctionsAdded)
	printSet("Functions removed", delta.FunctionsRemoved)
	printSet("Functions modified", delta.FunctionsModified)
	printSet("Nodes added", delta.NodesAdded)
	printSet("Nodes removed", delta.NodesRemoved)
	printSet("Nodes modified", delta.NodesModified)
}
