package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/heidestein/routetrack/pkg/core"
	"golang.org/x/time/rate"
)

// DefaultSwitchDebounce is the minimum time between live profile changes.
const DefaultSwitchDebounce = 10 * time.Second

// SessionRegistry is the part of the active-session registry the coordinator writes.
type SessionRegistry interface {
	SessionReader
	SetActiveMeta(trackID string, segmentIndex int) error
	SetMode(m core.Mode) error
	Clear() error
}

// CoordinatorDeps holds the collaborators of a Coordinator.
type CoordinatorDeps struct {
	Backend  Backend
	Registry SessionRegistry
	Pipeline *Pipeline
	Profiles Profiles
	// SwitchDebounce limits backend reconfiguration. Zero disables the limit.
	SwitchDebounce time.Duration
	Logger         *slog.Logger
}

// Coordinator owns the location backend for the active session and keeps its
// cadence in step with the session mode.
type Coordinator struct {
	backend  Backend
	reg      SessionRegistry
	pipeline *Pipeline
	profiles Profiles
	debounce time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	active  bool
	applied core.Mode
	limiter *rate.Limiter
	pending *core.Mode
	timer   *time.Timer
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(deps CoordinatorDeps) (*Coordinator, error) {
	if deps.Backend == nil || deps.Registry == nil || deps.Pipeline == nil {
		return nil, errors.New("coordinator needs a backend, a registry and a pipeline")
	}
	c := &Coordinator{
		backend:  deps.Backend,
		reg:      deps.Registry,
		pipeline: deps.Pipeline,
		profiles: deps.Profiles,
		debounce: deps.SwitchDebounce,
		log:      deps.Logger,
	}
	if c.profiles == (Profiles{}) {
		c.profiles = DefaultProfiles()
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.limiter = c.newLimiter()
	return c, nil
}

func (c *Coordinator) newLimiter() *rate.Limiter {
	if c.debounce <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(c.debounce), 1)
}

// Backend returns the managed backend.
func (c *Coordinator) Backend() Backend { return c.backend }

// Pipeline returns the pipeline fed by the backend.
func (c *Coordinator) Pipeline() *Pipeline { return c.pipeline }

// Active reports whether a session is running.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Mode returns the profile currently applied to the backend.
func (c *Coordinator) Mode() core.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applied
}

// OnForward registers a display listener on the pipeline.
func (c *Coordinator) OnForward(fn func(Delivery)) (cancel func()) {
	return c.pipeline.OnForward(fn)
}

// StartSession records the session and starts the backend at the cadence of mode.
func (c *Coordinator) StartSession(ctx context.Context, trackID string, segmentIndex int, mode core.Mode) error {
	if err := c.reg.SetActiveMeta(trackID, segmentIndex); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	if err := c.reg.SetMode(mode); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	c.pipeline.Reset()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelPendingLocked()
	if c.active {
		c.stopBackend(ctx)
	}
	c.startBackend(ctx, mode)
	c.active = true
	c.applied = mode
	c.limiter = c.newLimiter()

	c.log.Info("Location session started",
		"backend", c.backend.Name(), "trackId", trackID, "segment", segmentIndex, "mode", mode)
	return nil
}

// SwitchProfile records mode in the registry and moves the backend to its
// cadence. Backend changes closer together than the debounce window are
// deferred, and only the latest deferred mode is applied.
func (c *Coordinator) SwitchProfile(ctx context.Context, mode core.Mode) {
	if err := c.reg.SetMode(mode); err != nil {
		c.log.Warn("Failed to record mode", "mode", mode, "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return
	}

	if c.pending != nil {
		c.pending = &mode
		return
	}

	r := c.limiter.Reserve()
	delay := r.Delay()
	if delay == 0 {
		c.applyLocked(ctx, mode)
		return
	}

	c.pending = &mode
	c.log.Debug("Profile switch deferred", "mode", mode, "delay", delay)
	c.timer = time.AfterFunc(delay, c.applyPending)
}

func (c *Coordinator) applyPending() {
	c.mu.Lock()
	defer c.mu.Unlock()

	mode := c.pending
	c.pending = nil
	c.timer = nil
	if mode == nil || !c.active {
		return
	}
	c.applyLocked(context.Background(), *mode)
}

func (c *Coordinator) cancelPendingLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = nil
}

func (c *Coordinator) applyLocked(ctx context.Context, mode core.Mode) {
	if mode == c.applied {
		return
	}

	opts := c.profiles.OptionsFor(mode)
	patch := OptionsPatch{
		Title:    &opts.Title,
		Interval: &opts.Interval,
		Distance: &opts.Distance,
		Paused:   &opts.Paused,
	}

	err := c.backend.UpdateOptions(ctx, patch)
	if err != nil {
		if !errors.Is(err, ErrReconfigureUnsupported) {
			c.log.Warn("Backend reconfigure failed, restarting", "backend", c.backend.Name(), "error", err)
		}
		c.stopBackend(ctx)
		c.startBackend(ctx, mode)
	}
	c.applied = mode
	c.log.Debug("Profile applied", "mode", mode, "interval", opts.Interval, "distance", opts.Distance)
}

// SetForegroundStatus updates the backend status text and paused flag.
func (c *Coordinator) SetForegroundStatus(ctx context.Context, mode core.Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return
	}

	title := StatusTitle(mode)
	paused := mode == core.ModePaused
	err := c.backend.UpdateOptions(ctx, OptionsPatch{Title: &title, Paused: &paused})
	switch {
	case errors.Is(err, ErrReconfigureUnsupported):
		c.log.Debug("Backend has no status text", "backend", c.backend.Name())
	case err != nil:
		c.log.Warn("Failed to update status", "backend", c.backend.Name(), "error", err)
	}
}

// Halt stops the backend and drops a deferred profile switch. The registry
// record is left in place, so the session can still be restored.
func (c *Coordinator) Halt(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelPendingLocked()
	if c.active {
		c.stopBackend(ctx)
	}
	c.active = false
	c.applied = ""
}

// StopSession stops the backend and clears the registry. The registry is
// cleared even when the backend fails to stop.
func (c *Coordinator) StopSession(ctx context.Context) error {
	c.Halt(ctx)

	if err := c.reg.Clear(); err != nil {
		return fmt.Errorf("stop session: %w", err)
	}
	c.log.Info("Location session stopped", "backend", c.backend.Name())
	return nil
}

func (c *Coordinator) startBackend(ctx context.Context, mode core.Mode) {
	if err := c.backend.Start(ctx, c.profiles.OptionsFor(mode)); err != nil {
		c.log.Warn("Failed to start backend", "backend", c.backend.Name(), "mode", mode, "error", err)
	}
}

func (c *Coordinator) stopBackend(ctx context.Context) {
	if err := c.backend.Stop(ctx); err != nil {
		c.log.Warn("Failed to stop backend", "backend", c.backend.Name(), "error", err)
	}
}
