package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/heidestein/routetrack/internal/filter"
	"github.com/heidestein/routetrack/pkg/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Source identifies the execution context a pipeline runs in.
type Source string

const (
	SourceForeground Source = "fg"
	SourceBackground Source = "bg"
	// SourceSingle is used when one process both displays and persists.
	SourceSingle Source = ""
)

// Outcome is what happened to a fix.
type Outcome int

const (
	// OutcomeNoSession means no session was active.
	OutcomeNoSession Outcome = iota
	// OutcomeDisplayOnly means the session is paused.
	OutcomeDisplayOnly
	// OutcomeFiltered means the filter did not forward the fix.
	OutcomeFiltered
	// OutcomeForwarded means the fix passed the filter but another context owns writes.
	OutcomeForwarded
	// OutcomePersisted means the fix was written to the store.
	OutcomePersisted
	// OutcomeFailed means the store rejected the point.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoSession:
		return "no-session"
	case OutcomeDisplayOnly:
		return "display-only"
	case OutcomeFiltered:
		return "filtered"
	case OutcomeForwarded:
		return "forwarded"
	case OutcomePersisted:
		return "persisted"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Delivery describes a processed fix to display listeners.
type Delivery struct {
	Source       Source
	TrackID      string
	SegmentIndex int
	Fix          core.Fix
	// Point is set when the fix passed the filter.
	Point    *core.Point
	Decision filter.Decision
	Outcome  Outcome
}

// SessionReader reads the active-session record.
type SessionReader interface {
	Read() (*core.ActiveSession, error)
}

// PointAppender persists points.
type PointAppender interface {
	AppendPoint(ctx context.Context, trackID string, segmentIndex int, p core.Point) error
}

// PointObserver is told about every persisted point.
type PointObserver interface {
	ObservePoint(trackID string, segmentIndex int, p core.Point)
}

// PipelineDeps holds the collaborators of a Pipeline.
type PipelineDeps struct {
	Source   Source
	Registry SessionReader
	Store    PointAppender
	Filter   *filter.Filter
	Observer PointObserver
	Logger   *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

type sessionKey struct {
	trackID string
	seg     int
}

// Pipeline turns raw fixes into persisted points for one execution context.
type Pipeline struct {
	source   Source
	reg      SessionReader
	store    PointAppender
	filter   *filter.Filter
	observer PointObserver
	log      *slog.Logger
	now      func() time.Time

	fixes   metric.Int64Counter
	handled atomic.Uint64

	// serializes Handle so fixes are processed in order
	mu        sync.Mutex
	key       sessionKey
	hasKey    bool
	listeners subscribersOf[Delivery]
}

// NewPipeline creates a Pipeline. A nil filter gets the default configuration.
func NewPipeline(deps PipelineDeps) (*Pipeline, error) {
	if deps.Registry == nil || deps.Store == nil {
		return nil, errors.New("pipeline needs a registry and a store")
	}
	p := &Pipeline{
		source:   deps.Source,
		reg:      deps.Registry,
		store:    deps.Store,
		filter:   deps.Filter,
		observer: deps.Observer,
		log:      deps.Logger,
		now:      deps.Now,
	}
	if p.filter == nil {
		p.filter = filter.New(filter.DefaultConfig())
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}

	var err error
	p.fixes, err = meter().Int64Counter(
		"location.fixes",
		metric.WithDescription("Fixes processed by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating fixes counter: %w", err)
	}
	return p, nil
}

// Source returns the pipeline's execution context.
func (p *Pipeline) Source() Source { return p.source }

// Filter returns the pipeline's filter.
func (p *Pipeline) Filter() *filter.Filter { return p.filter }

// Reset clears the filter and forgets the current session.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filter.Reset()
	p.hasKey = false
}

// OnForward registers fn for fixes that reach display: paused fixes and
// fixes that passed the filter.
func (p *Pipeline) OnForward(fn func(Delivery)) (cancel func()) {
	return p.listeners.add(fn)
}

// Handle processes one fix.
func (p *Pipeline) Handle(ctx context.Context, fix core.Fix) Delivery {
	p.mu.Lock()
	d := p.handle(ctx, fix)
	p.mu.Unlock()

	p.fixes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", sourceName(p.source)),
		attribute.String("outcome", d.Outcome.String()),
	))

	switch d.Outcome {
	case OutcomeDisplayOnly, OutcomeForwarded, OutcomePersisted:
		p.listeners.emit(d)
	}
	p.handled.Add(1)
	return d
}

// Handled returns the number of fixes processed so far.
func (p *Pipeline) Handled() uint64 {
	return p.handled.Load()
}

// AwaitHandled blocks until at least n fixes have been processed.
func (p *Pipeline) AwaitHandled(ctx context.Context, n uint64) error {
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for p.handled.Load() < n {
		select {
		case <-ctx.Done():
			return fmt.Errorf("awaiting %d fixes, handled %d: %w", n, p.handled.Load(), ctx.Err())
		case <-tick.C:
		}
	}
	return nil
}

func (p *Pipeline) handle(ctx context.Context, fix core.Fix) Delivery {
	d := Delivery{Source: p.source, Fix: fix}

	rec, err := p.reg.Read()
	if err != nil {
		p.log.Warn("Dropping fix, active session unreadable", "source", sourceName(p.source), "error", err)
		return d
	}
	if rec == nil {
		return d
	}
	d.TrackID = rec.TrackID
	d.SegmentIndex = rec.SegmentIndex

	// a new track or segment means the other context started or resumed
	key := sessionKey{trackID: rec.TrackID, seg: rec.SegmentIndex}
	if !p.hasKey || key != p.key {
		p.filter.Reset()
		p.key = key
		p.hasKey = true
	}

	if rec.Mode == core.ModePaused {
		d.Outcome = OutcomeDisplayOnly
		return d
	}

	d.Decision = p.filter.Process(fix)
	if !d.Decision.Forward {
		d.Outcome = OutcomeFiltered
		return d
	}

	pt := core.PointFromFix(fix, p.now())
	d.Point = &pt

	if !p.owns(rec.Writer) {
		d.Outcome = OutcomeForwarded
		return d
	}

	if err := p.store.AppendPoint(ctx, rec.TrackID, rec.SegmentIndex, pt); err != nil {
		p.log.Warn("Dropping fix, append failed",
			"source", sourceName(p.source), "trackId", rec.TrackID, "segment", rec.SegmentIndex, "error", err)
		d.Outcome = OutcomeFailed
		return d
	}
	d.Outcome = OutcomePersisted

	if p.observer != nil {
		p.observer.ObservePoint(rec.TrackID, rec.SegmentIndex, pt)
	}
	return d
}

// owns reports whether this context may persist while w holds authority.
func (p *Pipeline) owns(w core.Writer) bool {
	switch p.source {
	case SourceForeground:
		return w == core.WriterForeground
	case SourceBackground:
		return w != core.WriterForeground
	default:
		return true
	}
}

func sourceName(s Source) string {
	if s == SourceSingle {
		return "single"
	}
	return string(s)
}
