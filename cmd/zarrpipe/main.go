// Package main is the entry point for the zarrpipe converter and store server.
package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/celldive/zarrpipe/internal/logging"
)

// errRegionsFailed makes the process exit non-zero after a run in which at
// least one region failed. The per-region errors are already logged.
var errRegionsFailed = errors.New("one or more regions failed")

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "zarrpipe",
		Short:         "Convert CellDIVE multiplexed exports into OME-Zarr stores",
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newConvertCommand(), newServeCommand())
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, errRegionsFailed) {
			log := logging.New(logging.Options{})
			log.Error().Err(err).Msg("zarrpipe")
		}
		os.Exit(1)
	}
}
