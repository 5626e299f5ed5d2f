package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/heidestein/routetrack/internal/database"
	"github.com/heidestein/routetrack/internal/filter"
	"github.com/heidestein/routetrack/internal/geo"
	"github.com/heidestein/routetrack/internal/location"
	"github.com/heidestein/routetrack/internal/registry"
	gormstorage "github.com/heidestein/routetrack/internal/storage/gorm"
	"github.com/heidestein/routetrack/pkg/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = time.UnixMilli(ms).UTC()
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type denyAll struct{}

func (denyAll) RequestLocation(context.Context) (bool, error) { return false, nil }

type trackRecorder struct {
	mu     sync.Mutex
	tracks []core.TrackSummary
}

func (r *trackRecorder) ObserveTrack(_ context.Context, t core.TrackSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracks = append(r.tracks, t)
}

// fixture wires a controller the way a two-context host does: a simulated
// background service feeding a bg pipeline, and a foreground feed whose fixes
// go through an fg pipeline into the controller.
type fixture struct {
	ctrl     *Controller
	store    *gormstorage.Backend
	reg      *registry.Registry
	svc      *location.SimulatedService
	bg       *location.Pipeline
	feed     *location.Feed
	clock    *clock
	observer *trackRecorder
	deps     Deps
}

func newFixture(t *testing.T, mutate ...func(*Deps)) *fixture {
	t.Helper()
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	clk := &clock{}
	clk.Set(1_714_557_600_000)

	db, err := database.OpenSQLite("", zerolog.Nop())
	require.NoError(t, err)
	store := gormstorage.New(gormstorage.Dependencies{DB: db, Logger: log, Now: clk.Now})
	require.NoError(t, store.Init(ctx))
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New(filepath.Join(t.TempDir(), "active.json"), log)

	svc := location.NewSimulatedService(16)
	bgPipe, err := location.NewPipeline(location.PipelineDeps{
		Source: location.SourceBackground, Registry: reg, Store: store, Logger: log, Now: clk.Now,
	})
	require.NoError(t, err)
	service := location.NewServiceBackend(svc)
	service.Subscribe(func(f core.Fix) { bgPipe.Handle(ctx, f) })
	coord, err := location.NewCoordinator(location.CoordinatorDeps{
		Backend:  service,
		Registry: reg,
		Pipeline: bgPipe,
		Logger:   log,
	})
	require.NoError(t, err)

	feed := location.NewFeed()
	watcher := location.NewForegroundBackend(feed)
	fgFilter := filter.New(filter.DefaultConfig())
	fgPipe, err := location.NewPipeline(location.PipelineDeps{
		Source: location.SourceForeground, Registry: reg, Store: store, Filter: fgFilter, Logger: log, Now: clk.Now,
	})
	require.NoError(t, err)
	watcher.Subscribe(func(f core.Fix) { fgPipe.Handle(ctx, f) })

	observer := &trackRecorder{}
	deps := Deps{
		Store:         store,
		Registry:      reg,
		Coordinator:   coord,
		Filter:        fgFilter,
		Watcher:       watcher,
		Observer:      observer,
		Logger:        log,
		StartCooldown: -1,
		Now:           clk.Now,
	}
	for _, m := range mutate {
		m(&deps)
	}
	ctrl, err := New(deps)
	require.NoError(t, err)
	fgPipe.OnForward(ctrl.OnDelivery)

	t.Cleanup(func() { _ = coord.StopSession(context.Background()) })

	return &fixture{
		ctrl: ctrl, store: store, reg: reg, svc: svc, bg: bgPipe, feed: feed,
		clock: clk, observer: observer, deps: deps,
	}
}

// fresh returns a second controller over the same store and registry, as a
// relaunched foreground process would have.
func (f *fixture) fresh(t *testing.T) *Controller {
	t.Helper()
	feed := location.NewFeed()
	deps := f.deps
	deps.Watcher = location.NewForegroundBackend(feed)
	deps.Filter = filter.New(filter.DefaultConfig())
	c, err := New(deps)
	require.NoError(t, err)
	return c
}

func fixAt(ts int64, lat float64) core.Fix {
	return core.Fix{
		Latitude:  lat,
		Longitude: 13.4,
		Accuracy:  core.Float(5),
		Speed:     core.Float(1.4),
		Timestamp: ts,
	}
}

func (f *fixture) emit(ts int64, lat float64) {
	f.clock.Set(ts)
	f.feed.Emit(fixAt(ts, lat))
}

func (f *fixture) active(t *testing.T) core.ActiveSession {
	t.Helper()
	rec, err := f.reg.Read()
	require.NoError(t, err)
	require.NotNil(t, rec)
	return *rec
}

func TestStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.ctrl.Start(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	assert.Equal(t, Tracking, f.ctrl.State())
	assert.Equal(t, id, f.ctrl.TrackID())
	assert.Equal(t, []core.Segment{{}}, f.ctrl.Segments())
	assert.Equal(t, core.ActiveSession{
		TrackID: id, SegmentIndex: 0, Mode: core.ModeTracking, Writer: core.WriterForeground,
	}, f.active(t))

	assert.True(t, f.svc.Running())
	assert.Equal(t, location.TitleTracking, f.svc.Options().Title)
	assert.Equal(t, 1, f.feed.Watching())

	meta, err := f.store.GetTrackMeta(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.True(t, meta.Active())
}

func TestStart_WhileActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ctrl.Start(ctx)
	require.NoError(t, err)

	_, err = f.ctrl.Start(ctx)
	assert.ErrorIs(t, err, ErrSessionActive)
}

func TestStart_GuardHeldForCooldown(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.StartCooldown = 100 * time.Millisecond })
	ctx := context.Background()

	_, err := f.ctrl.Start(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, f.ctrl.Pause(ctx), ErrBusy)
	_, err = f.ctrl.Start(ctx)
	assert.ErrorIs(t, err, ErrBusy)

	assert.Eventually(t, func() bool {
		return f.ctrl.Pause(ctx) == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, Paused, f.ctrl.State())
}

func TestStart_PermissionDenied(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Permissions = denyAll{} })
	ctx := context.Background()

	_, err := f.ctrl.Start(ctx)
	require.ErrorIs(t, err, ErrPermissionDenied)

	assert.Equal(t, Idle, f.ctrl.State())
	tracks, err := f.store.ListTracks(ctx)
	require.NoError(t, err)
	assert.Empty(t, tracks)
	rec, err := f.reg.Read()
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.False(t, f.svc.Running())
}

func TestRecording_ForegroundWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.ctrl.Start(ctx)
	require.NoError(t, err)

	base := f.clock.Now().UnixMilli()
	f.emit(base+1000, 52.5200) // seeding streak, dropped
	f.emit(base+2000, 52.5201)
	f.emit(base+3000, 52.5202)

	segs := f.ctrl.Segments()
	require.Len(t, segs, 1)
	assert.Len(t, segs[0], 2)

	stored, err := f.store.LoadPoints(ctx, id)
	require.NoError(t, err)
	assert.Len(t, stored[0], 2)

	m := f.ctrl.Metrics()
	assert.InDelta(t, 11.1, m.Distance, 0.5)
	assert.Equal(t, filter.WarmingUp, m.Stage)
	require.NotNil(t, m.LastSpeed)
	assert.Equal(t, 1.4, *m.LastSpeed)
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.ctrl.Start(ctx)
	require.NoError(t, err)

	base := f.clock.Now().UnixMilli()
	f.emit(base+1000, 52.5200)
	f.emit(base+2000, 52.5201)

	require.NoError(t, f.ctrl.Pause(ctx))
	assert.Equal(t, Paused, f.ctrl.State())
	rec := f.active(t)
	assert.Equal(t, core.ModePaused, rec.Mode)
	assert.Equal(t, core.WriterBackground, rec.Writer)
	assert.Zero(t, f.feed.Watching())
	assert.True(t, f.svc.Options().Paused)

	require.NoError(t, f.ctrl.Pause(ctx), "pausing twice is a no-op")

	require.NoError(t, f.ctrl.Resume(ctx))
	assert.Equal(t, Tracking, f.ctrl.State())
	rec = f.active(t)
	assert.Equal(t, 1, rec.SegmentIndex)
	assert.Equal(t, core.ModeTracking, rec.Mode)
	assert.Equal(t, core.WriterForeground, rec.Writer)
	assert.Equal(t, 1, f.feed.Watching())
	assert.Equal(t, 2, len(f.ctrl.Segments()))

	f.emit(base+60_000, 52.5300) // re-seeding
	f.emit(base+61_000, 52.5301)

	stored, err := f.store.LoadPoints(ctx, id)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Len(t, stored[0], 1)
	assert.Len(t, stored[1], 1)

	require.NoError(t, f.ctrl.Resume(ctx), "resuming while tracking is a no-op")
}

func TestResume_ReusesEmptySegment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ctrl.Start(ctx)
	require.NoError(t, err)

	require.NoError(t, f.ctrl.Pause(ctx))
	require.NoError(t, f.ctrl.Resume(ctx))

	assert.Equal(t, 0, f.active(t).SegmentIndex)
	assert.Len(t, f.ctrl.Segments(), 1)
}

// Points at 0 s and 10 s, pause, resume 60 s later and record at 70 s:
// only the first segment's span counts.
func TestMetrics_PauseGapExcluded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.clock.Set(0)
	_, err := f.ctrl.Start(ctx)
	require.NoError(t, err)

	f.emit(-1000, 52.5200) // seeding streak
	f.emit(0, 52.5201)
	f.emit(10_000, 52.5202)
	require.NoError(t, f.ctrl.Pause(ctx))

	f.clock.Set(60_000)
	require.NoError(t, f.ctrl.Resume(ctx))
	f.emit(69_000, 52.5300)
	f.emit(70_000, 52.5301)

	segs := f.ctrl.Segments()
	require.Len(t, segs, 2)
	require.Len(t, segs[1], 1)

	assert.Equal(t, 10*time.Second, f.ctrl.Metrics().Duration)
}

func TestStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.ctrl.Start(ctx)
	require.NoError(t, err)

	base := f.clock.Now().UnixMilli()
	f.emit(base+1000, 52.5200)
	f.emit(base+2000, 52.5201)
	f.emit(base+3000, 52.5210)
	distance := f.ctrl.Metrics().Distance
	require.Greater(t, distance, 0.0)

	require.NoError(t, f.ctrl.Stop(ctx))

	assert.Equal(t, Idle, f.ctrl.State())
	assert.Empty(t, f.ctrl.TrackID())
	assert.Equal(t, []core.Segment{{}}, f.ctrl.Segments())
	assert.False(t, f.svc.Running())
	assert.Zero(t, f.feed.Watching())

	rec, err := f.reg.Read()
	require.NoError(t, err)
	assert.Nil(t, rec)

	meta, err := f.store.GetTrackMeta(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.False(t, meta.Active())
	require.NotNil(t, meta.Distance)
	assert.InDelta(t, distance, *meta.Distance, 1e-9)

	require.Len(t, f.observer.tracks, 1)
	assert.Equal(t, id, f.observer.tracks[0].ID)

	require.NoError(t, f.ctrl.Stop(ctx), "stopping when idle is a no-op")
}

func TestRestoreIfActive_NoSession(t *testing.T) {
	f := newFixture(t)

	ok, err := f.ctrl.RestoreIfActive(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Idle, f.ctrl.State())
}

func TestRestoreIfActive_Tracking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.ctrl.Start(ctx)
	require.NoError(t, err)

	base := f.clock.Now().UnixMilli()
	f.emit(base+1000, 52.5200)
	f.emit(base+2000, 52.5201)
	require.NoError(t, f.ctrl.Pause(ctx))
	require.NoError(t, f.ctrl.Resume(ctx)) // segment 1, no points yet

	relaunched := f.fresh(t)
	for range 3 {
		ok, err := relaunched.RestoreIfActive(ctx)
		require.NoError(t, err)
		require.True(t, ok)
	}

	assert.Equal(t, Tracking, relaunched.State())
	assert.Equal(t, id, relaunched.TrackID())
	assert.Equal(t, 1, relaunched.Segment())
	segs := relaunched.Segments()
	require.Len(t, segs, 2, "restore never stacks empty segments")
	assert.Len(t, segs[0], 1)
	assert.Empty(t, segs[1])
	assert.Equal(t, core.WriterForeground, f.active(t).Writer)
}

func TestRestoreIfActive_Paused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ctrl.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, f.ctrl.Pause(ctx))

	relaunched := f.fresh(t)
	ok, err := relaunched.RestoreIfActive(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, Paused, relaunched.State())
	assert.Equal(t, core.WriterBackground, f.active(t).Writer)
	assert.True(t, f.svc.Options().Paused)
	assert.Len(t, relaunched.Segments(), 1)
}

func TestRestoreIfActive_Corrupt(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(f.reg.Path(), []byte("{not json"), 0o644))

	ok, err := f.ctrl.RestoreIfActive(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Idle, f.ctrl.State())

	_, statErr := os.Stat(f.reg.Path())
	assert.True(t, os.IsNotExist(statErr), "corrupt record cleared")
}

func TestRestoreIfActive_StaleTrack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.ctrl.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, f.store.FinalizeTrack(ctx, id, 0))

	ok, err := f.fresh(t).RestoreIfActive(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	rec, err := f.reg.Read()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRestoreIfActive_MissingTrack(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.SetActiveMeta("gone", 0))

	ok, err := f.ctrl.RestoreIfActive(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	rec, err := f.reg.Read()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestFocusBlur(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ctrl.Start(ctx)
	require.NoError(t, err)

	f.ctrl.Blur(ctx)
	assert.False(t, f.ctrl.Focused())
	assert.Equal(t, core.WriterBackground, f.active(t).Writer)

	require.NoError(t, f.ctrl.Focus(ctx))
	assert.True(t, f.ctrl.Focused())
	assert.Equal(t, core.WriterForeground, f.active(t).Writer)
	assert.Equal(t, Tracking, f.ctrl.State())
}

func TestFocus_IdleDoesNotCreateRecord(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.ctrl.Focus(context.Background()))

	rec, err := f.reg.Read()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSafeDelete_ActiveTrack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.ctrl.Start(ctx)
	require.NoError(t, err)
	base := f.clock.Now().UnixMilli()
	f.emit(base+1000, 52.5200)
	f.emit(base+2000, 52.5201)

	require.NoError(t, f.ctrl.SafeDelete(ctx, id))

	assert.Equal(t, Idle, f.ctrl.State())
	assert.False(t, f.svc.Running())
	rec, err := f.reg.Read()
	require.NoError(t, err)
	assert.Nil(t, rec)
	meta, err := f.store.GetTrackMeta(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, meta)
	assert.Empty(t, f.observer.tracks, "deleted tracks are not finalized")
}

func TestSafeDelete_OtherTrackKeepsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old, err := f.store.CreateTrack(ctx, "old")
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	id, err := f.ctrl.Start(ctx)
	require.NoError(t, err)

	require.NoError(t, f.ctrl.SafeDelete(ctx, old))

	assert.Equal(t, Tracking, f.ctrl.State())
	assert.Equal(t, id, f.active(t).TrackID)
	meta, err := f.store.GetTrackMeta(ctx, old)
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestLogAttrs(t *testing.T) {
	f := newFixture(t)
	assert.Nil(t, f.ctrl.LogAttrs())

	id, err := f.ctrl.Start(context.Background())
	require.NoError(t, err)

	attrs := f.ctrl.LogAttrs()
	require.Len(t, attrs, 2)
	assert.Equal(t, id, attrs[0].Value.String())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "restoring", Restoring.String())
	assert.Equal(t, "unknown", State(42).String())
}

type failingFinalize struct {
	*gormstorage.Backend
}

func (failingFinalize) FinalizeTrack(context.Context, string, float64) error {
	return errors.New("disk full")
}

func TestStop_CountsBackgroundPoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.ctrl.Start(ctx)
	require.NoError(t, err)
	f.ctrl.Blur(ctx)
	require.Equal(t, core.WriterBackground, f.active(t).Writer)

	base := f.clock.Now().UnixMilli()
	for i := range 6 {
		ts := base + int64(i+1)*1000
		f.clock.Set(ts)
		require.True(t, f.svc.Emit(fixAt(ts, 52.5200+float64(i)*0.001)))
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.bg.AwaitHandled(waitCtx, 6))

	require.NoError(t, f.ctrl.Stop(ctx))

	segs, err := f.store.LoadPoints(ctx, id)
	require.NoError(t, err)
	stored := geo.RouteLength(segs)
	require.Greater(t, stored, 0.0, "background fixes were persisted")

	meta, err := f.store.GetTrackMeta(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, meta)
	require.NotNil(t, meta.Distance)
	assert.InDelta(t, stored, *meta.Distance, 1e-9)
}

func TestStop_FinalizeFailureKeepsSession(t *testing.T) {
	var real *gormstorage.Backend
	f := newFixture(t, func(d *Deps) {
		real = d.Store.(*gormstorage.Backend)
		d.Store = failingFinalize{real}
	})
	ctx := context.Background()
	id, err := f.ctrl.Start(ctx)
	require.NoError(t, err)

	err = f.ctrl.Stop(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, Idle, f.ctrl.State())
	assert.False(t, f.svc.Running())
	assert.Empty(t, f.observer.tracks)

	assert.Equal(t, id, f.active(t).TrackID, "record kept for a later stop")
	meta, err := real.GetTrackMeta(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.True(t, meta.Active())

	deps := f.deps
	deps.Store = real
	deps.Watcher = location.NewForegroundBackend(location.NewFeed())
	deps.Filter = filter.New(filter.DefaultConfig())
	relaunched, err := New(deps)
	require.NoError(t, err)
	ok, err := relaunched.RestoreIfActive(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, relaunched.Stop(ctx))

	meta, err = real.GetTrackMeta(ctx, id)
	require.NoError(t, err)
	assert.False(t, meta.Active())
	rec, err := f.reg.Read()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestResumeTrack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.ctrl.Start(ctx)
	require.NoError(t, err)

	base := f.clock.Now().UnixMilli()
	f.emit(base+1000, 52.5200)
	f.emit(base+2000, 52.5201)
	require.NoError(t, f.ctrl.Stop(ctx))

	meta, err := f.store.GetTrackMeta(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, meta.EndedAt)
	firstEnd := *meta.EndedAt

	f.clock.Advance(time.Hour)
	require.NoError(t, f.ctrl.ResumeTrack(ctx, id))

	assert.Equal(t, Tracking, f.ctrl.State())
	assert.Equal(t, id, f.ctrl.TrackID())
	assert.Equal(t, 1, f.ctrl.Segment())
	assert.True(t, f.svc.Running())
	rec := f.active(t)
	assert.True(t, rec.Resumed)
	assert.Equal(t, 1, rec.SegmentIndex)
	assert.Equal(t, core.ModeTracking, rec.Mode)
	assert.Equal(t, core.WriterForeground, rec.Writer)

	relaunched := f.fresh(t)
	ok, err := relaunched.RestoreIfActive(ctx)
	require.NoError(t, err)
	require.True(t, ok, "a resumed track survives a relaunch")
	assert.Equal(t, 1, relaunched.Segment())
	require.Len(t, relaunched.Segments(), 2)

	base = f.clock.Now().UnixMilli()
	f.clock.Set(base + 1000)
	f.feed.Emit(fixAt(base+1000, 52.5300))
	f.clock.Set(base + 2000)
	f.feed.Emit(fixAt(base+2000, 52.5301))

	require.NoError(t, relaunched.Stop(ctx))

	meta, err = f.store.GetTrackMeta(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, meta.EndedAt)
	assert.Greater(t, *meta.EndedAt, firstEnd, "stop stamps a new end time")

	segs, err := f.store.LoadPoints(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, meta.Distance)
	assert.InDelta(t, geo.RouteLength(segs), *meta.Distance, 1e-9)

	rec2, err := f.reg.Read()
	require.NoError(t, err)
	assert.Nil(t, rec2)
}

func TestResumeTrack_UnknownTrack(t *testing.T) {
	f := newFixture(t)

	err := f.ctrl.ResumeTrack(context.Background(), "nope")
	require.ErrorIs(t, err, ErrTrackNotFound)
	assert.Equal(t, Idle, f.ctrl.State())

	rec, err := f.reg.Read()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestResumeTrack_WhileActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.ctrl.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, f.ctrl.Stop(ctx))
	second, err := f.ctrl.Start(ctx)
	require.NoError(t, err)

	err = f.ctrl.ResumeTrack(ctx, first)
	require.ErrorIs(t, err, ErrSessionActive)
	assert.Equal(t, second, f.active(t).TrackID)

	// another process owning the record is refused as well
	err = f.fresh(t).ResumeTrack(ctx, first)
	require.ErrorIs(t, err, ErrSessionActive)
	assert.Equal(t, second, f.active(t).TrackID)
	assert.Equal(t, Tracking, f.ctrl.State())
}
