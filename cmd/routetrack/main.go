// Command routetrack records GPS routes from fix logs and administers the
// track store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configDir string

	root := &cobra.Command{
		Use:           "routetrack",
		Short:         "Record GPS routes and manage recorded tracks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configDir, "config", "c", ".",
		"directory containing routetrack.cfg.json")

	cfg := func() string { return configDir }
	root.AddCommand(
		newReplayCmd(cfg),
		newTracksCmd(cfg),
		newDBCmd(cfg),
		newStatusCmd(cfg),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
