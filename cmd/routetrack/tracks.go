package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/heidestein/routetrack/internal/app"
	"github.com/heidestein/routetrack/internal/controller"
	"github.com/heidestein/routetrack/internal/geo"
	"github.com/heidestein/routetrack/internal/route"
	"github.com/heidestein/routetrack/internal/storage"
	"github.com/spf13/cobra"
)

func newTracksCmd(configDir func() string) *cobra.Command {
	tracks := &cobra.Command{
		Use:   "tracks",
		Short: "List and manage recorded tracks",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List tracks, active first, then newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openStore(cmd.Context(), configDir())
			if err != nil {
				return err
			}
			defer a.Close()

			tracks, err := a.Store.ListTracks(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(tracks) == 0 {
				fmt.Fprintln(out, "no tracks")
				return nil
			}
			u := units()
			fmt.Fprintf(out, "%-26s %-10s %-21s %-10s %s\n", "ID", "STATUS", "STARTED", "DISTANCE", "LABEL")
			for _, t := range tracks {
				status, distance := "finished", route.Placeholder
				if t.Active() {
					status = "recording"
				}
				if t.Distance != nil {
					distance = route.FormatDistance(*t.Distance, u)
				}
				label := ""
				if t.Label != nil {
					label = *t.Label
				}
				fmt.Fprintf(out, "%-26s %-10s %-21s %-10s %s\n",
					t.ID, status, formatTime(t.StartedAt), distance, label)
			}
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show the figures of one track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStore(cmd.Context(), configDir())
			if err != nil {
				return err
			}
			defer a.Close()

			meta, err := a.Store.GetTrackMeta(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if meta == nil {
				return fmt.Errorf("track %s not found", args[0])
			}
			segs, err := a.Store.LoadPoints(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), *meta, segs)
			return nil
		},
	}

	label := &cobra.Command{
		Use:   "label <id> [text]",
		Short: "Set or, without text, clear a track label",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStore(cmd.Context(), configDir())
			if err != nil {
				return err
			}
			defer a.Close()

			err = a.Store.SetLabel(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if errors.Is(err, storage.ErrTrackNotFound) {
				return fmt.Errorf("track %s not found", args[0])
			}
			return err
		},
	}

	resume := &cobra.Command{
		Use:   "resume <id>",
		Short: "Reopen a finished track and continue recording it in a new segment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), app.Options{ConfigDir: configDir()})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Controller.ResumeTrack(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, controller.ErrTrackNotFound) {
					return fmt.Errorf("track %s not found", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resumed %s segment %d\n", args[0], a.Controller.Segment())
			return nil
		},
	}

	stop := &cobra.Command{
		Use:   "stop",
		Short: "Finish the track that is being recorded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(cmd.Context(), app.Options{ConfigDir: configDir()})
			if err != nil {
				return err
			}
			defer a.Close()

			ok, err := a.Controller.RestoreIfActive(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !ok {
				fmt.Fprintln(out, "no active session")
				return nil
			}
			id := a.Controller.TrackID()
			if err := a.Controller.Stop(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(out, "stopped %s\n", id)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a track, ending its session if it is being recorded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), app.Options{ConfigDir: configDir()})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Controller.SafeDelete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}

	var (
		mercator bool
		output   string
	)
	geojson := &cobra.Command{
		Use:   "geojson <id>",
		Short: "Export a track as a GeoJSON Feature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStore(cmd.Context(), configDir())
			if err != nil {
				return err
			}
			defer a.Close()

			meta, err := a.Store.GetTrackMeta(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if meta == nil {
				return fmt.Errorf("track %s not found", args[0])
			}
			segs, err := a.Store.LoadPoints(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			data, err := geo.RouteFeature(*meta, segs, mercator)
			if err != nil {
				return err
			}
			if output != "" {
				return os.WriteFile(output, append(data, '\n'), 0o644)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
	geojson.Flags().BoolVar(&mercator, "mercator", false, "project coordinates to Web Mercator (EPSG:3857)")
	geojson.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")

	tracks.AddCommand(list, show, label, resume, stop, del, geojson)
	return tracks
}
