package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lumen-re/lumen/internal/config"
	"github.com/lumen-re/lumen/internal/logging"
)

var (
	rootDir   string
	logLevel  string
	logPretty bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lumen",
	Short: "Lumen - binary metadata and coverage explorer",
	Long: `Lumen builds a fast metadata cache over a disassembly snapshot and maps
runtime coverage data onto it.

A snapshot is a JSON listing exported from a disassembler session: the
function list, each function's basic blocks, and the instruction layout.
Lumen refreshes its cache from the snapshot, diffs cache generations,
and buckets drcov coverage logs into functions and basic blocks.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootDir, "dir", "", "project root containing .lumen/config.yml (default is the working directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "pretty", false, "human readable log output")
}

// loadConfig loads the project configuration, honoring the global flags.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if rootDir != "" {
		cfg, err = config.LoadConfigFromDir(rootDir)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logPretty {
		cfg.Log.Pretty = true
	}
	return cfg, nil
}

// newLogger builds the process logger from the loaded configuration.
func newLogger(cfg *config.Config, component string) zerolog.Logger {
	return logging.NewWithComponent(logging.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
	}, component)
}
