// Package controller owns the lifecycle of a tracking session: start, pause,
// resume, stop and restoring a session that outlived the foreground process.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/heidestein/routetrack/internal/filter"
	"github.com/heidestein/routetrack/internal/geo"
	"github.com/heidestein/routetrack/internal/location"
	"github.com/heidestein/routetrack/internal/registry"
	"github.com/heidestein/routetrack/internal/route"
	"github.com/heidestein/routetrack/pkg/core"
	"golang.org/x/sync/semaphore"
)

// DefaultStartCooldown keeps the guard held briefly after Start so a double
// tap cannot start two tracks.
const DefaultStartCooldown = 300 * time.Millisecond

var (
	// ErrBusy is returned when another lifecycle action is in progress.
	ErrBusy = errors.New("session action already in progress")
	// ErrPermissionDenied is returned when location access was refused.
	ErrPermissionDenied = errors.New("location permission denied")
	// ErrSessionActive is returned by Start and ResumeTrack while a session is running.
	ErrSessionActive = errors.New("session already active")
	// ErrTrackNotFound is returned by ResumeTrack for an unknown id.
	ErrTrackNotFound = errors.New("track not found")
)

// State is the controller state.
type State int

const (
	Idle State = iota
	Tracking
	Paused
	Restoring
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Tracking:
		return "tracking"
	case Paused:
		return "paused"
	case Restoring:
		return "restoring"
	default:
		return "unknown"
	}
}

// Store is the part of the track store the controller uses.
type Store interface {
	CreateTrack(ctx context.Context, id string) (string, error)
	FinalizeTrack(ctx context.Context, id string, distance float64) error
	GetTrackMeta(ctx context.Context, id string) (*core.TrackSummary, error)
	NextSegmentIndex(ctx context.Context, id string) (int, error)
	LoadPoints(ctx context.Context, id string) ([]core.Segment, error)
	DeleteTrack(ctx context.Context, id string) error
}

// Registry is the part of the active-session registry the controller uses.
type Registry interface {
	Read() (*core.ActiveSession, error)
	SetActiveMeta(trackID string, segmentIndex int) error
	SetResumed(trackID string, segmentIndex int) error
	SetWriter(w core.Writer) error
	Clear() error
}

// Coordinator manages the location backend for the session.
type Coordinator interface {
	StartSession(ctx context.Context, trackID string, segmentIndex int, mode core.Mode) error
	SwitchProfile(ctx context.Context, mode core.Mode)
	SetForegroundStatus(ctx context.Context, mode core.Mode)
	// Halt stops the backend and keeps the registry record.
	Halt(ctx context.Context)
	StopSession(ctx context.Context) error
}

// Permissions asks for location access.
type Permissions interface {
	RequestLocation(ctx context.Context) (bool, error)
}

// TrackObserver is told about every finished track.
type TrackObserver interface {
	ObserveTrack(ctx context.Context, track core.TrackSummary)
}

// Deps holds the collaborators of a Controller.
type Deps struct {
	Store       Store
	Registry    Registry
	Coordinator Coordinator
	// Filter is the filter of the pipeline that feeds OnDelivery.
	Filter *filter.Filter
	// Watcher is the foreground location watch, nil when the coordinator's
	// backend already runs in this process.
	Watcher     location.Backend
	Profiles    location.Profiles
	Permissions Permissions
	Observer    TrackObserver
	Logger      *slog.Logger
	// StartCooldown defaults to DefaultStartCooldown. Negative disables it.
	StartCooldown time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Controller drives a tracking session. Lifecycle actions are serialized by a
// guard; a second action while one runs fails with ErrBusy.
type Controller struct {
	store    Store
	reg      Registry
	coord    Coordinator
	filter   *filter.Filter
	watcher  location.Backend
	profiles location.Profiles
	perms    Permissions
	observer TrackObserver
	log      *slog.Logger
	cooldown time.Duration
	now      func() time.Time

	guard  *semaphore.Weighted
	buffer *route.Buffer

	mu        sync.RWMutex
	state     State
	trackID   string
	segment   int
	startedAt int64
	focused   bool
}

// New creates an idle Controller.
func New(deps Deps) (*Controller, error) {
	if deps.Store == nil || deps.Registry == nil || deps.Coordinator == nil {
		return nil, errors.New("controller needs a store, a registry and a coordinator")
	}
	c := &Controller{
		store:    deps.Store,
		reg:      deps.Registry,
		coord:    deps.Coordinator,
		filter:   deps.Filter,
		watcher:  deps.Watcher,
		profiles: deps.Profiles,
		perms:    deps.Permissions,
		observer: deps.Observer,
		log:      deps.Logger,
		cooldown: deps.StartCooldown,
		now:      deps.Now,
		guard:    semaphore.NewWeighted(1),
		buffer:   route.NewBuffer(),
	}
	if c.filter == nil {
		c.filter = filter.New(filter.DefaultConfig())
	}
	if c.profiles == (location.Profiles{}) {
		c.profiles = location.DefaultProfiles()
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.cooldown == 0 {
		c.cooldown = DefaultStartCooldown
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

func (c *Controller) acquire() error {
	if !c.guard.TryAcquire(1) {
		return ErrBusy
	}
	return nil
}

func (c *Controller) release() {
	c.guard.Release(1)
}

// Start creates a new track and begins recording it.
func (c *Controller) Start(ctx context.Context) (string, error) {
	if err := c.acquire(); err != nil {
		return "", err
	}
	defer func() {
		if c.cooldown > 0 {
			time.AfterFunc(c.cooldown, c.release)
			return
		}
		c.release()
	}()

	if st := c.State(); st != Idle {
		return "", fmt.Errorf("start: %w (%s)", ErrSessionActive, st)
	}

	if err := c.requestPermission(ctx); err != nil {
		return "", fmt.Errorf("start: %w", err)
	}

	c.filter.Reset()

	id, err := c.store.CreateTrack(ctx, "")
	if err != nil {
		return "", fmt.Errorf("start: %w", err)
	}
	seg, err := c.store.NextSegmentIndex(ctx, id)
	if err != nil {
		return "", c.abandon(ctx, id, err)
	}
	meta, err := c.store.GetTrackMeta(ctx, id)
	if err != nil {
		return "", c.abandon(ctx, id, err)
	}
	if meta == nil {
		return "", c.abandon(ctx, id, errors.New("created track not found"))
	}

	c.buffer.Reset(nil)
	c.buffer.OpenSegment(seg)

	if err := c.coord.StartSession(ctx, id, seg, core.ModeTracking); err != nil {
		return "", c.abandon(ctx, id, err)
	}

	c.mu.Lock()
	c.state = Tracking
	c.trackID = id
	c.segment = seg
	c.startedAt = meta.StartedAt
	c.mu.Unlock()

	c.startWatcher(ctx)
	c.coord.SetForegroundStatus(ctx, core.ModeTracking)
	c.setWriter(core.WriterForeground)

	c.log.Info("Tracking started", "trackId", id, "segment", seg)
	return id, nil
}

func (c *Controller) requestPermission(ctx context.Context) error {
	if c.perms == nil {
		return nil
	}
	ok, err := c.perms.RequestLocation(ctx)
	if err != nil {
		return fmt.Errorf("request permission: %w", err)
	}
	if !ok {
		return ErrPermissionDenied
	}
	return nil
}

// abandon removes a track whose start failed half way.
func (c *Controller) abandon(ctx context.Context, id string, cause error) error {
	errs := []error{fmt.Errorf("start: %w", cause)}
	if err := c.coord.StopSession(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.store.DeleteTrack(ctx, id); err != nil {
		errs = append(errs, err)
	}
	c.buffer.Reset(nil)
	return errors.Join(errs...)
}

// Pause stops recording points until Resume. It is a no-op unless tracking.
func (c *Controller) Pause(ctx context.Context) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	if c.State() != Tracking {
		return nil
	}

	c.coord.SwitchProfile(ctx, core.ModePaused)
	c.coord.SetForegroundStatus(ctx, core.ModePaused)
	c.stopWatcher(ctx)
	c.setWriter(core.WriterBackground)

	c.mu.Lock()
	c.state = Paused
	c.mu.Unlock()

	c.log.Info("Tracking paused", "trackId", c.TrackID())
	return nil
}

// Resume opens a new segment and continues recording. It is a no-op unless paused.
func (c *Controller) Resume(ctx context.Context) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	if c.State() != Paused {
		return nil
	}
	id := c.TrackID()

	seg, err := c.store.NextSegmentIndex(ctx, id)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	if err := c.reg.SetActiveMeta(id, seg); err != nil {
		return fmt.Errorf("resume: %w", err)
	}

	c.buffer.OpenSegment(seg)
	c.filter.Reset()

	c.mu.Lock()
	c.state = Tracking
	c.segment = seg
	c.mu.Unlock()

	c.setWriter(core.WriterForeground)
	c.startWatcher(ctx)
	c.coord.SetForegroundStatus(ctx, core.ModeTracking)
	c.coord.SwitchProfile(ctx, core.ModeTracking)

	c.log.Info("Tracking resumed", "trackId", id, "segment", seg)
	return nil
}

// Stop finalizes the track with the length of its stored route. When the
// track cannot be finalized the registry record is kept, so a later restore
// finds the session and it can be stopped again.
func (c *Controller) Stop(ctx context.Context) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	if c.State() == Idle {
		return nil
	}
	id := c.TrackID()

	var errs []error
	if err := c.stopWatcher(ctx); err != nil {
		errs = append(errs, err)
	}
	c.coord.Halt(ctx)

	distance := c.routeDistance(ctx, id)
	if err := c.store.FinalizeTrack(ctx, id, distance); err != nil {
		c.log.Warn("Failed to finalize track, keeping session for restore", "trackId", id, "error", err)
		c.resetLocal()
		errs = append(errs, fmt.Errorf("finalize: %w", err))
		return errors.Join(errs...)
	}
	if err := c.coord.StopSession(ctx); err != nil {
		errs = append(errs, err)
	}

	c.resetLocal()

	if c.observer != nil {
		meta, err := c.store.GetTrackMeta(ctx, id)
		switch {
		case err != nil:
			errs = append(errs, err)
		case meta != nil:
			c.observer.ObserveTrack(ctx, *meta)
		}
	}

	c.log.Info("Tracking stopped", "trackId", id, "distance", distance)
	return errors.Join(errs...)
}

// routeDistance measures the stored route. The buffer only holds what this
// process displayed, so it is used only when the store cannot be read.
func (c *Controller) routeDistance(ctx context.Context, id string) float64 {
	segs, err := c.store.LoadPoints(ctx, id)
	if err != nil {
		c.log.Warn("Failed to load route, using buffered distance", "trackId", id, "error", err)
		return c.buffer.Distance()
	}
	return geo.RouteLength(segs)
}

// RestoreIfActive rebuilds the session from the registry and the store. It
// reports whether a session is active afterwards. Repeated calls do not add
// segments.
func (c *Controller) RestoreIfActive(ctx context.Context) (bool, error) {
	if err := c.acquire(); err != nil {
		return false, err
	}
	defer c.release()
	return c.restore(ctx)
}

// ResumeTrack reopens a finished track in a new segment and records it
// until Stop, which finalizes it again.
func (c *Controller) ResumeTrack(ctx context.Context, id string) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	if st := c.State(); st != Idle {
		return fmt.Errorf("resume track: %w (%s)", ErrSessionActive, st)
	}
	// a corrupt record is replaced by SetResumed
	if rec, err := c.reg.Read(); err == nil && rec != nil {
		return fmt.Errorf("resume track: %w (%s)", ErrSessionActive, rec.TrackID)
	}
	if err := c.requestPermission(ctx); err != nil {
		return fmt.Errorf("resume track: %w", err)
	}

	meta, err := c.store.GetTrackMeta(ctx, id)
	if err != nil {
		return fmt.Errorf("resume track: %w", err)
	}
	if meta == nil {
		return fmt.Errorf("resume track %s: %w", id, ErrTrackNotFound)
	}
	seg, err := c.store.NextSegmentIndex(ctx, id)
	if err != nil {
		return fmt.Errorf("resume track: %w", err)
	}

	if err := c.reg.SetResumed(id, seg); err != nil {
		if errors.Is(err, registry.ErrSessionActive) {
			return fmt.Errorf("resume track: %w: %w", ErrSessionActive, err)
		}
		return fmt.Errorf("resume track: %w", err)
	}

	ok, err := c.restore(ctx)
	if err != nil || !ok {
		c.discard(ctx)
		if err == nil {
			err = errors.New("session was not restored")
		}
		return fmt.Errorf("resume track %s: %w", id, err)
	}
	c.coord.SetForegroundStatus(ctx, core.ModeTracking)

	c.log.Info("Track resumed", "trackId", id, "segment", seg)
	return nil
}

func (c *Controller) restore(ctx context.Context) (bool, error) {
	rec, err := c.reg.Read()
	if errors.Is(err, registry.ErrCorrupt) {
		c.log.Warn("Discarding corrupt active session", "error", err)
		c.discard(ctx)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("restore: %w", err)
	}
	if rec == nil {
		if c.State() != Idle {
			c.stopWatcher(ctx) //nolint:errcheck // logged
			c.resetLocal()
		}
		return false, nil
	}

	meta, err := c.store.GetTrackMeta(ctx, rec.TrackID)
	if err != nil {
		return false, fmt.Errorf("restore: %w", err)
	}
	if meta == nil || (!meta.Active() && !rec.Resumed) {
		c.log.Warn("Discarding stale active session", "trackId", rec.TrackID)
		c.discard(ctx)
		return false, nil
	}

	c.mu.Lock()
	c.state = Restoring
	c.mu.Unlock()

	loaded, err := c.store.LoadPoints(ctx, rec.TrackID)
	if err != nil {
		c.resetLocal()
		return false, fmt.Errorf("restore: %w", err)
	}
	c.buffer.Reset(loaded)

	if rec.Mode == core.ModeTracking {
		if rec.SegmentIndex >= len(loaded) {
			c.buffer.OpenSegment(rec.SegmentIndex)
		}
		c.filter.Reset()
	}

	if err := c.coord.StartSession(ctx, rec.TrackID, rec.SegmentIndex, rec.Mode); err != nil {
		c.resetLocal()
		return false, fmt.Errorf("restore: %w", err)
	}

	c.mu.Lock()
	c.trackID = rec.TrackID
	c.segment = rec.SegmentIndex
	c.startedAt = meta.StartedAt
	if rec.Mode == core.ModeTracking {
		c.state = Tracking
	} else {
		c.state = Paused
	}
	c.mu.Unlock()

	if rec.Mode == core.ModeTracking {
		c.startWatcher(ctx)
		c.setWriter(core.WriterForeground)
	} else {
		c.stopWatcher(ctx) //nolint:errcheck // logged
		c.setWriter(core.WriterBackground)
	}

	c.log.Info("Session restored", "trackId", rec.TrackID, "segment", rec.SegmentIndex, "mode", rec.Mode)
	return true, nil
}

// discard drops a session that cannot be restored.
func (c *Controller) discard(ctx context.Context) {
	c.stopWatcher(ctx) //nolint:errcheck // logged
	if err := c.reg.Clear(); err != nil {
		c.log.Warn("Failed to clear active session", "error", err)
	}
	c.resetLocal()
}

// Focus claims write authority for this process and restores any session.
func (c *Controller) Focus(ctx context.Context) error {
	c.mu.Lock()
	c.focused = true
	c.mu.Unlock()

	c.setWriter(core.WriterForeground)

	_, err := c.RestoreIfActive(ctx)
	if errors.Is(err, ErrBusy) {
		return nil
	}
	return err
}

// Blur hands write authority to the background context.
func (c *Controller) Blur(context.Context) {
	c.mu.Lock()
	c.focused = false
	c.mu.Unlock()

	c.setWriter(core.WriterBackground)
}

// Focused reports whether the foreground currently has focus.
func (c *Controller) Focused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.focused
}

// SafeDelete deletes a track. When it is the track being recorded, the
// session is stopped first without finalizing it.
func (c *Controller) SafeDelete(ctx context.Context, id string) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	var errs []error
	if c.State() != Idle && c.TrackID() == id {
		if err := c.stopWatcher(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := c.coord.StopSession(ctx); err != nil {
			errs = append(errs, err)
		}
		c.resetLocal()
	}

	rec, err := c.reg.Read()
	if errors.Is(err, registry.ErrCorrupt) || (err == nil && rec != nil && rec.TrackID == id) {
		if err := c.reg.Clear(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := c.store.DeleteTrack(ctx, id); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// OnDelivery appends forwarded fixes of the current session to the route.
func (c *Controller) OnDelivery(d location.Delivery) {
	if d.Point == nil {
		return
	}
	c.mu.RLock()
	ok := c.state == Tracking && d.TrackID == c.trackID
	c.mu.RUnlock()
	if ok {
		c.buffer.Append(d.SegmentIndex, *d.Point)
	}
}

func (c *Controller) resetLocal() {
	c.buffer.Reset(nil)
	c.filter.Reset()

	c.mu.Lock()
	c.state = Idle
	c.trackID = ""
	c.segment = 0
	c.startedAt = 0
	c.mu.Unlock()
}

func (c *Controller) startWatcher(ctx context.Context) {
	if c.watcher == nil {
		return
	}
	if err := c.watcher.Start(ctx, c.profiles.OptionsFor(core.ModeTracking)); err != nil {
		c.log.Warn("Failed to start foreground watcher", "error", err)
	}
}

func (c *Controller) stopWatcher(ctx context.Context) error {
	if c.watcher == nil {
		return nil
	}
	if err := c.watcher.Stop(ctx); err != nil {
		c.log.Warn("Failed to stop foreground watcher", "error", err)
		return fmt.Errorf("stop watcher: %w", err)
	}
	return nil
}

func (c *Controller) setWriter(w core.Writer) {
	if err := c.reg.SetWriter(w); err != nil {
		c.log.Warn("Failed to set writer", "writer", w, "error", err)
	}
}
