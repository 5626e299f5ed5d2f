package location

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/heidestein/routetrack/internal/filter"
	"github.com/heidestein/routetrack/pkg/core"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memRegistry is an in-memory SessionRegistry.
type memRegistry struct {
	mu       sync.Mutex
	rec      *core.ActiveSession
	readErr  error
	clearErr error
}

func (r *memRegistry) Read() (*core.ActiveSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readErr != nil {
		return nil, r.readErr
	}
	if r.rec == nil {
		return nil, nil
	}
	cp := *r.rec
	return &cp, nil
}

func (r *memRegistry) SetActiveMeta(trackID string, seg int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec == nil {
		r.rec = &core.ActiveSession{Mode: core.ModeTracking, Writer: core.WriterBackground}
	}
	r.rec.TrackID = trackID
	r.rec.SegmentIndex = seg
	return nil
}

func (r *memRegistry) SetMode(m core.Mode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec != nil {
		r.rec.Mode = m
	}
	return nil
}

func (r *memRegistry) SetWriter(w core.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec != nil {
		r.rec.Writer = w
	}
	return nil
}

func (r *memRegistry) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clearErr != nil {
		return r.clearErr
	}
	r.rec = nil
	return nil
}

type storedPoint struct {
	trackID string
	seg     int
	point   core.Point
}

// memStore records appended points, keeping the first write per key.
type memStore struct {
	mu     sync.Mutex
	points []storedPoint
	err    error
}

func (s *memStore) AppendPoint(_ context.Context, trackID string, seg int, p core.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	for _, sp := range s.points {
		if sp.trackID == trackID && sp.seg == seg && sp.point.Ts == p.Ts {
			return nil
		}
	}
	s.points = append(s.points, storedPoint{trackID: trackID, seg: seg, point: p})
	return nil
}

func (s *memStore) all() []storedPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storedPoint(nil), s.points...)
}

type recordingObserver struct {
	mu     sync.Mutex
	points []core.Point
}

func (o *recordingObserver) ObservePoint(_ string, _ int, p core.Point) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.points = append(o.points, p)
}

var errBoom = errors.New("boom")

var testNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func goodFix(ts int64) core.Fix {
	return core.Fix{
		Latitude:  52.52 + float64(ts)*1e-6,
		Longitude: 13.40,
		Accuracy:  core.Float(5),
		Speed:     core.Float(1.5),
		Timestamp: ts,
	}
}

func newTestPipeline(t *testing.T, src Source, reg SessionReader, store PointAppender) *Pipeline {
	t.Helper()
	p, err := NewPipeline(PipelineDeps{
		Source:   src,
		Registry: reg,
		Store:    store,
		Filter:   filter.New(filter.DefaultConfig()),
		Logger:   discardLogger(),
		Now:      func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return p
}

func activeRegistry(mode core.Mode, w core.Writer) *memRegistry {
	return &memRegistry{rec: &core.ActiveSession{TrackID: "t1", SegmentIndex: 0, Mode: mode, Writer: w}}
}
