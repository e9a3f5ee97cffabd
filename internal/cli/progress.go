package cli

import (
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
)

// CLIProgressReporter implements metadata.ProgressReporter with a
// terminal progress bar.
type CLIProgressReporter struct {
	quiet bool
	bar   *progressbar.ProgressBar
}

// NewCLIProgressReporter creates a new CLI progress reporter.
func NewCLIProgressReporter(quiet bool) *CLIProgressReporter {
	return &CLIProgressReporter{quiet: quiet}
}

func (c *CLIProgressReporter) OnCollectionStart(total int) {
	if c.quiet {
		return
	}
	c.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Collecting functions"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("funcs/s"),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() {
			fmt.Println()
		}),
	)
}

func (c *CLIProgressReporter) OnChunkCollected(completed, total int) {
	if c.quiet || c.bar == nil {
		return
	}
	c.bar.Set(completed)
}

func (c *CLIProgressReporter) OnCollectionDone(completed int, aborted bool) {
	if c.quiet || c.bar == nil {
		return
	}
	if aborted {
		fmt.Printf("\nCollection aborted after %d functions\n", completed)
		return
	}
	c.bar.Finish()
}
