package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lumen-re/lumen/internal/metadata"
	"github.com/lumen-re/lumen/internal/snapshot"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch <snapshot.json>",
	Short: "Watch a snapshot and report metadata changes",
	Long: `Watch builds the metadata cache from a snapshot, then monitors the
snapshot file on disk. Whenever an exporter rewrites it, the cache is
refreshed and the delta against the previous cache generation is
printed.

Stop with Ctrl+C.

Examples:
  lumen watch target.json
`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg, "watch")
	path := args[0]

	// Handle interrupt signals gracefully
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		fmt.Println("\nInterrupted! Stopping watch...")
		cancel()
	}()

	reporter := &metadata.NoOpProgressReporter{}
	provider, meta, err := openMetadata(path, cfg, log, reporter)
	if err != nil {
		return err
	}
	functions, nodes, instructions := meta.Stats()
	log.Info().
		Str("snapshot", provider.Name()).
		Int("functions", functions).
		Int("nodes", nodes).
		Int("instructions", instructions).
		Msg("initial cache built, watching for changes")

	watcher, err := snapshot.NewWatcher(path, cfg.Watch.Debounce, log)
	if err != nil {
		return err
	}
	defer watcher.Stop()

	err = watcher.Start(ctx, func() {
		previous := meta.Copy()

		if err := provider.ReloadFile(path); err != nil {
			log.Warn().Err(err).Msg("snapshot reload failed, keeping current cache")
			return
		}
		if err := refreshAndWait(meta, reporter); err != nil {
			log.Error().Err(err).Msg("cache refresh failed")
			return
		}

		delta := metadata.ComputeDelta(meta, previous)
		if delta.Empty() {
			log.Info().Msg("snapshot rewritten, no metadata changes")
			return
		}

		log.Info().
			Int("functions_added", len(delta.FunctionsAdded)).
			Int("functions_removed", len(delta.FunctionsRemoved)).
			Int("functions_modified", len(delta.FunctionsModified)).
			Msg("cache refreshed")
		printDelta(delta)
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}
