package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var refreshQuiet bool

// refreshCmd represents the refresh command
var refreshCmd = &cobra.Command{
	Use:   "refresh <snapshot.json>",
	Short: "Build the metadata cache from a snapshot",
	Long: `Refresh loads a disassembly snapshot and collects its metadata in
throttled chunks, then prints a summary of the cached entities.

Examples:
  # Build the cache for a snapshot
  lumen refresh target.json

  # Build without the progress bar
  lumen refresh --quiet target.json
`,
	Args: cobra.ExactArgs(1),
	RunE: runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
	refreshCmd.Flags().BoolVarP(&refreshQuiet, "quiet", "q", false, "Disable the progress bar")
}

func runRefresh(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg, "refresh")

	provider, meta, err := openMetadata(args[0], cfg, log, NewCLIProgressReporter(refreshQuiet))
	if err != nil {
		return err
	}

	functions, nodes, instructions := meta.Stats()
	fmt.Printf("Snapshot:     %s\n", provider.Name())
	fmt.Printf("Functions:    %d\n", functions)
	fmt.Printf("Nodes:        %d\n", nodes)
	fmt.Printf("Instructions: %d\n", instructions)
	return nil
}
