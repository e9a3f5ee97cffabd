package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lumen-re/lumen/internal/config"
	"github.com/lumen-re/lumen/internal/metadata"
	"github.com/lumen-re/lumen/internal/snapshot"
)

// openMetadata loads the snapshot at path and builds a fully refreshed
// metadata cache over it.
func openMetadata(path string, cfg *config.Config, log zerolog.Logger, reporter metadata.ProgressReporter) (*snapshot.Provider, *metadata.DatabaseMetadata, error) {
	provider, err := snapshot.OpenProvider(path)
	if err != nil {
		return nil, nil, err
	}

	opts := cfg.MetadataOptions()
	opts.Logger = log

	meta := metadata.New(provider, opts)
	if err := refreshAndWait(meta, reporter); err != nil {
		return nil, nil, fmt.Errorf("refreshing metadata from %s: %w", path, err)
	}
	return provider, meta, nil
}

// refreshAndWait runs one full cache refresh to completion.
func refreshAndWait(meta *metadata.DatabaseMetadata, reporter metadata.ProgressReporter) error {
	results, err := meta.Refresh(nil, reporter)
	if err != nil {
		return err
	}

	result := <-results
	if result.Err != nil {
		return result.Err
	}
	if result.Aborted {
		return errors.New("refresh was aborted")
	}
	return nil
}

// hexList renders a list of addresses as "[0x00001000, 0x00002000]".
func hexList(addresses []uint64) string {
	parts := make([]string, len(addresses))
	for i, address := range addresses {
		parts[i] = fmt.Sprintf("0x%08X", address)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
