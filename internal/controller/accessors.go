package controller

import (
	"log/slog"
	"time"

	"github.com/heidestein/routetrack/internal/filter"
	"github.com/heidestein/routetrack/internal/route"
	"github.com/heidestein/routetrack/pkg/core"
)

// Metrics are the live figures of the current route.
type Metrics struct {
	Distance      float64
	Duration      time.Duration
	AvgSpeed      float64
	Stage         filter.Stage
	WarmRemaining int
	// LastSpeed is the reported speed of the latest point, if any.
	LastSpeed *float64
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// TrackID returns the id of the current track, empty when idle.
func (c *Controller) TrackID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.trackID
}

// Segment returns the segment currently being recorded.
func (c *Controller) Segment() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.segment
}

// Segments returns a copy of the in-memory route.
func (c *Controller) Segments() []core.Segment {
	return c.buffer.Segments()
}

// Metrics computes distance, duration and speed of the current route.
func (c *Controller) Metrics() Metrics {
	c.mu.RLock()
	live := c.state == Tracking
	startedAt := c.startedAt
	c.mu.RUnlock()

	segs := c.buffer.Segments()
	distance := c.buffer.Distance()
	d := route.Duration(segs, route.Timing{Now: c.now(), StartedAt: startedAt, Live: live})

	m := Metrics{
		Distance:      distance,
		Duration:      d,
		AvgSpeed:      route.AvgSpeed(distance, d),
		Stage:         c.filter.Stage(),
		WarmRemaining: c.filter.WarmRemaining(),
	}
	if p, ok := c.buffer.LastPoint(); ok {
		m.LastSpeed = p.Speed
	}
	return m
}

// LogAttrs returns the attributes identifying the current session, for
// log records.
func (c *Controller) LogAttrs() []slog.Attr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == Idle {
		return nil
	}
	return []slog.Attr{
		slog.String("trackId", c.trackID),
		slog.Int("segment", c.segment),
	}
}
