// File: cmd/wlprobe/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// wlprobe connects to a Wayland display and exercises the client core:
// roundtrips, registry listing and a state dump.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	var flags globalFlags
	rootCmd := &cobra.Command{
		Use:   "wlprobe",
		Short: "Probe a Wayland display connection",
		Long: `wlprobe opens a client connection to a Wayland compositor and
drives it through the multi-reader dispatch core.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.bind(rootCmd)

	rootCmd.AddCommand(
		roundtripCmd(&flags),
		globalsCmd(&flags),
		stateCmd(&flags),
		versionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
