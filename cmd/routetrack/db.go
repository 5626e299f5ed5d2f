package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDBCmd(configDir func() string) *cobra.Command {
	db := &cobra.Command{
		Use:   "db",
		Short: "Export or import the whole track store",
	}

	export := &cobra.Command{
		Use:   "export <path>",
		Short: "Write every track, label and point to a SQLite file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStore(cmd.Context(), configDir())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Store.Export(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported to %s\n", args[0])
			return nil
		},
	}

	imp := &cobra.Command{
		Use:   "import <path>",
		Short: "Merge a previously exported SQLite file into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStore(cmd.Context(), configDir())
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.Store.Import(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d track(s), %d label(s), %d point(s)\n",
				stats.Tracks, stats.Labels, stats.Points)
			return nil
		},
	}

	db.AddCommand(export, imp)
	return db
}
