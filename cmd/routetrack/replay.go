package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/heidestein/routetrack/internal/app"
	"github.com/heidestein/routetrack/internal/location"
	"github.com/heidestein/routetrack/pkg/core"
	"github.com/spf13/cobra"
)

const settleTimeout = 30 * time.Second

type replayOptions struct {
	background bool
	keep       bool
}

func newReplayCmd(configDir func() string) *cobra.Command {
	var opts replayOptions
	cmd := &cobra.Command{
		Use:   "replay <fixes.ndjson>",
		Short: "Record a new track from a fix log",
		Long: `Replays a newline-delimited JSON fix log through the location pipeline
as a new track. Lines {"control":"pause"} and {"control":"resume"} pause
and resume the session at that point of the log.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, configDir(), args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.background, "background", false,
		"deliver fixes through the background service instead of the foreground watcher")
	cmd.Flags().BoolVar(&opts.keep, "keep", false,
		"leave the session active instead of stopping the track at the end")
	return cmd
}

// replayer feeds one context and waits for its pipeline to catch up.
type replayer struct {
	a          *app.App
	background bool
	target     *location.Pipeline
	base       uint64
	sent       uint64
	skipped    int
}

func (r *replayer) emit(fix core.Fix) {
	var delivered bool
	if r.background {
		delivered = r.a.Service.Emit(fix)
	} else {
		delivered = r.a.Feed.Emit(fix) > 0
	}
	if delivered {
		r.sent++
	} else {
		r.skipped++
	}
}

func (r *replayer) settle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()
	return r.target.AwaitHandled(ctx, r.base+r.sent)
}

func (r *replayer) control(ctx context.Context, action string) error {
	if err := r.settle(ctx); err != nil {
		return err
	}
	ctrl := r.a.Controller
	switch action {
	case location.ControlPause:
		return ctrl.Pause(ctx)
	case location.ControlResume:
		if err := ctrl.Resume(ctx); err != nil {
			return err
		}
		if r.background {
			ctrl.Blur(ctx)
		}
	}
	return nil
}

func runReplay(cmd *cobra.Command, configDir, path string, opts replayOptions) error {
	ctx := cmd.Context()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	a, err := app.New(ctx, app.Options{ConfigDir: configDir, StartCooldown: -1})
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.background && a.Service == nil {
		return errors.New(`--background needs platform "service"`)
	}

	id, err := a.Controller.Start(ctx)
	if err != nil {
		return err
	}

	r := &replayer{a: a, background: opts.background, target: a.Foreground}
	if opts.background {
		r.target = a.Background
		a.Controller.Blur(ctx)
	}
	r.base = r.target.Handled()

	err = location.ReadFixes(f, func(e location.Entry) error {
		if e.Control != "" {
			return r.control(ctx, e.Control)
		}
		r.emit(*e.Fix)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := r.settle(ctx); err != nil {
		return err
	}

	if opts.background {
		// coming to the foreground reloads what the service recorded
		if err := a.Controller.Focus(ctx); err != nil {
			return err
		}
	}
	if !opts.keep {
		if err := a.Controller.Stop(ctx); err != nil {
			return err
		}
	}

	meta, err := a.Store.GetTrackMeta(ctx, id)
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("track %s vanished", id)
	}
	segs, err := a.Store.LoadPoints(ctx, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printSummary(out, *meta, segs)
	if r.skipped > 0 {
		fmt.Fprintf(out, "skipped   %d fix(es) while no watcher was running\n", r.skipped)
	}
	return nil
}
