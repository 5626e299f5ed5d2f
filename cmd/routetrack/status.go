package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/heidestein/routetrack/internal/registry"
	"github.com/heidestein/routetrack/pkg/core"
	"github.com/spf13/cobra"
)

func newStatusCmd(configDir func() string) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the active session record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openStore(cmd.Context(), configDir())
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if !follow {
				rec, err := a.Registry.Read()
				printStatus(out, rec, err)
				return nil
			}
			return a.Registry.Watch(cmd.Context(), func(rec *core.ActiveSession, err error) {
				printStatus(out, rec, err)
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing the record as it changes")
	return cmd
}

func printStatus(w io.Writer, rec *core.ActiveSession, err error) {
	switch {
	case errors.Is(err, registry.ErrCorrupt):
		fmt.Fprintln(w, "active session record is corrupt")
	case err != nil:
		fmt.Fprintln(w, "error:", err)
	case rec == nil:
		fmt.Fprintln(w, "idle")
	default:
		fmt.Fprintf(w, "%s track=%s segment=%d writer=%s\n", rec.Mode, rec.TrackID, rec.SegmentIndex, rec.Writer)
	}
}
