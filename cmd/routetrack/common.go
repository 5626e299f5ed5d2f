package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/heidestein/routetrack/internal/app"
	"github.com/heidestein/routetrack/internal/config"
	"github.com/heidestein/routetrack/internal/geo"
	"github.com/heidestein/routetrack/internal/route"
	"github.com/heidestein/routetrack/pkg/core"
)

// openStore builds an App without the location stack.
func openStore(ctx context.Context, configDir string) (*app.App, error) {
	return app.New(ctx, app.Options{ConfigDir: configDir, StoreOnly: true})
}

func units() route.UnitSystem {
	if config.GetString("units") == string(route.Imperial) {
		return route.Imperial
	}
	return route.Metric
}

func formatTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func pointCount(segs []core.Segment) int {
	n := 0
	for _, s := range segs {
		n += len(s)
	}
	return n
}

// printSummary writes the figures of a stored track.
func printSummary(w io.Writer, meta core.TrackSummary, segs []core.Segment) {
	u := units()
	distance := geo.RouteLength(segs)
	d := route.Duration(segs, route.Timing{
		Now:       time.Now(),
		StartedAt: meta.StartedAt,
		EndedAt:   meta.EndedAt,
		Live:      meta.Active(),
	})

	label := route.Placeholder
	if meta.Label != nil {
		label = *meta.Label
	}
	status := "finished"
	if meta.Active() {
		status = "recording"
	}

	fmt.Fprintf(w, "track     %s\n", meta.ID)
	fmt.Fprintf(w, "label     %s\n", label)
	fmt.Fprintf(w, "status    %s\n", status)
	fmt.Fprintf(w, "started   %s\n", formatTime(meta.StartedAt))
	if meta.EndedAt != nil {
		fmt.Fprintf(w, "ended     %s\n", formatTime(*meta.EndedAt))
	}
	fmt.Fprintf(w, "points    %d in %d segment(s)\n", pointCount(segs), len(segs))
	fmt.Fprintf(w, "distance  %s\n", route.FormatDistance(distance, u))
	fmt.Fprintf(w, "duration  %s\n", route.FormatDuration(d))
	fmt.Fprintf(w, "speed     %s\n", route.FormatSpeed(route.AvgSpeed(distance, d), u))
	fmt.Fprintf(w, "pace      %s\n", route.FormatPace(distance, d, u))
}
