// Package app wires the components into a running process and tears them
// down again. Nothing here is global: each App owns its store handle,
// registry, dispatcher and session controller.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/heidestein/routetrack/internal/config"
	"github.com/heidestein/routetrack/internal/controller"
	"github.com/heidestein/routetrack/internal/database"
	"github.com/heidestein/routetrack/internal/dispatcher"
	"github.com/heidestein/routetrack/internal/filter"
	"github.com/heidestein/routetrack/internal/influx"
	"github.com/heidestein/routetrack/internal/location"
	"github.com/heidestein/routetrack/internal/logging"
	"github.com/heidestein/routetrack/internal/monitor"
	intOtel "github.com/heidestein/routetrack/internal/otel"
	"github.com/heidestein/routetrack/internal/registry"
	gormstorage "github.com/heidestein/routetrack/internal/storage/gorm"
	"github.com/rs/zerolog"
)

// Name prefixes log files and identifies the process to Graylog and OTel.
const Name = "routetrack"

// Options adjust how New builds the App.
type Options struct {
	// ConfigDir holds routetrack.cfg.json. A missing file keeps the defaults.
	ConfigDir string
	// StoreOnly skips the location stack, for commands that only read or
	// administer the store.
	StoreOnly bool
	// LogFile overrides the session log file, mostly for tests.
	LogFile io.Writer
	// StartCooldown overrides controller.startCooldown when non-zero.
	StartCooldown time.Duration
	Permissions   controller.Permissions
	Now           func() time.Time
}

// App is the process root.
type App struct {
	Logger *slog.Logger
	Store  *gormstorage.Backend
	// Registry is the active-session record shared by both contexts.
	Registry *registry.Registry

	// Set unless StoreOnly.
	Dispatcher  *dispatcher.Dispatcher
	Coordinator *location.Coordinator
	Controller  *controller.Controller
	// Feed delivers foreground fixes.
	Feed *location.Feed
	// Service is the background location service, nil on the foreground platform.
	Service *location.SimulatedService
	// Foreground and Background are the per-context pipelines. On the
	// foreground platform both point at the single pipeline.
	Foreground *location.Pipeline
	Background *location.Pipeline
	// Monitor is set when monitor.enabled.
	Monitor *monitor.Service

	slog     *logging.SlogManager
	zlog     zerolog.Logger
	session  atomic.Pointer[controller.Controller]
	closers  []func() error
	unroutes []func()
}

// New loads configuration and builds the App. On error everything opened
// so far is closed again.
func New(ctx context.Context, opts Options) (a *App, err error) {
	a = &App{slog: logging.NewSlogManager()}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	cfgErr := config.Load(opts.ConfigDir)

	if err := a.setupLogging(opts); err != nil {
		return a, err
	}
	if cfgErr != nil {
		a.Logger.Warn("Failed to load config, using defaults!", "error", cfgErr)
	}

	if err := a.setupOTel(); err != nil {
		return a, err
	}
	if err := a.setupStore(ctx, opts); err != nil {
		return a, err
	}
	a.Registry = registry.New(config.GetString("registry.path"), a.Logger)

	if opts.StoreOnly {
		return a, nil
	}
	if err := a.setupLocation(ctx, opts); err != nil {
		return a, err
	}
	return a, nil
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *App) setupLogging(opts Options) error {
	level := config.GetString("logLevel")

	out := opts.LogFile
	if out == nil {
		f, err := logging.OpenLogFile(config.GetString("logsDir"), Name, time.Now())
		if err != nil {
			return err
		}
		a.onClose(f.Close)
		out = f
	}

	var extra []slog.Handler
	gl, err := config.GetGraylogConfig()
	if err != nil {
		return err
	}
	if gl.Enabled {
		h, closer, err := logging.NewGELFHandler(gl.Address, Name, level)
		if err != nil {
			return err
		}
		a.onClose(closer.Close)
		extra = append(extra, h)
	}

	a.slog.Setup(out, level, a.sessionAttrs, extra...)
	a.Logger = a.slog.Logger()
	a.zlog = logging.NewZerolog(out, level)
	return nil
}

// sessionAttrs stamps log records with the controller's active session.
func (a *App) sessionAttrs() []slog.Attr {
	if c := a.session.Load(); c != nil {
		return c.LogAttrs()
	}
	return nil
}

func (a *App) setupOTel() error {
	cfg, err := config.GetOTelConfig()
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0o755); err != nil {
		return fmt.Errorf("creating metrics dir: %w", err)
	}
	f, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening metrics file: %w", err)
	}
	a.onClose(f.Close)

	p, err := intOtel.New(intOtel.Config{
		Enabled:        true,
		ServiceName:    cfg.ServiceName,
		ExportInterval: cfg.ExportInterval,
		MetricWriter:   f,
	})
	if err != nil {
		return err
	}
	a.onClose(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return p.Shutdown(ctx)
	})
	a.Logger.Info("OTel provider initialized", "file", cfg.OutputFile)
	return nil
}

func (a *App) setupStore(ctx context.Context, opts Options) error {
	cfg, err := config.GetStorageConfig()
	if err != nil {
		return err
	}

	db, err := database.Open(database.Config{
		Driver: cfg.Driver,
		SQLite: database.SQLiteConfig{Path: cfg.SQLite.Path},
		Postgres: database.PostgresConfig{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Username: cfg.Postgres.Username,
			Password: cfg.Postgres.Password,
			Database: cfg.Postgres.Database,
			SSLMode:  cfg.Postgres.SSLMode,
		},
	}, a.zlog)
	if err != nil {
		return err
	}

	store := gormstorage.New(gormstorage.Dependencies{DB: db, Logger: a.Logger, Now: opts.Now})
	a.onClose(store.Close)
	if err := store.Init(ctx); err != nil {
		return err
	}
	a.Store = store
	a.Logger.Info("Track store ready", "driver", cfg.Driver)
	return nil
}

func filterConfig(cfg config.FilterConfig) filter.Config {
	return filter.Config{
		SeedAccuracyMax:      cfg.SeedAccuracyMax,
		SeedStreak:           cfg.SeedStreak,
		WarmCountAccuracyMax: cfg.WarmCountAccuracyMax,
		WarmAccepts:          cfg.WarmAccepts,
		SpeedGating:          cfg.SpeedGating,
		OutlierGate: filter.GateConfig{
			Enabled:           cfg.OutlierGate.Enabled,
			ProcessNoise:      cfg.OutlierGate.ProcessNoise,
			GateMahalanobisSq: cfg.OutlierGate.GateMahalanobisSq,
			DefaultAccuracy:   cfg.OutlierGate.DefaultAccuracy,
		},
	}
}

func profiles(cfg config.CadencesConfig) location.Profiles {
	return location.Profiles{
		Tracking: location.Cadence{Interval: cfg.Tracking.Interval, Distance: cfg.Tracking.Distance},
		Paused:   location.Cadence{Interval: cfg.Paused.Interval, Distance: cfg.Paused.Distance},
	}
}

// observers returns the influx sink as both observer kinds, or nils.
func (a *App) observers(ctx context.Context) (location.PointObserver, controller.TrackObserver, error) {
	cfg, err := config.GetInfluxConfig()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Enabled {
		return nil, nil, nil
	}
	sink, err := influx.Connect(ctx, cfg, a.zlog)
	if err != nil {
		return nil, nil, err
	}
	a.onClose(sink.Close)
	return sink, sink, nil
}

func (a *App) setupLocation(ctx context.Context, opts Options) error {
	fcfg, err := config.GetFilterConfig()
	if err != nil {
		return err
	}
	ccfg, err := config.GetCadenceConfig()
	if err != nil {
		return err
	}
	coordCfg, err := config.GetCoordinatorConfig()
	if err != nil {
		return err
	}
	ctrlCfg, err := config.GetControllerConfig()
	if err != nil {
		return err
	}
	pointObs, trackObs, err := a.observers(ctx)
	if err != nil {
		return err
	}

	a.Dispatcher, err = dispatcher.New(logging.NewDispatcherLogger(a.zlog))
	if err != nil {
		return err
	}
	a.onClose(func() error {
		a.Dispatcher.Close()
		return nil
	})

	var routeOpts []dispatcher.Option
	if coordCfg.QueueSize > 0 {
		routeOpts = append(routeOpts, dispatcher.Buffered(coordCfg.QueueSize), dispatcher.Blocking())
	}
	routeOpts = append(routeOpts, dispatcher.Logged())

	newPipeline := func(src location.Source, f *filter.Filter) (*location.Pipeline, error) {
		return location.NewPipeline(location.PipelineDeps{
			Source:   src,
			Registry: a.Registry,
			Store:    a.Store,
			Filter:   f,
			Observer: pointObs,
			Logger:   a.Logger.With("source", string(src)),
			Now:      opts.Now,
		})
	}

	a.Feed = location.NewFeed()
	fgFilter := filter.New(filterConfig(fcfg))

	var (
		backend location.Backend
		watcher location.Backend
	)
	switch config.GetString("platform") {
	case config.PlatformForeground:
		single, err := newPipeline(location.SourceSingle, fgFilter)
		if err != nil {
			return err
		}
		backend = location.NewForegroundBackend(a.Feed)
		a.Foreground, a.Background = single, single
		a.unroutes = append(a.unroutes,
			location.Route(a.Dispatcher, dispatcher.CommandForegroundFix, backend, single, routeOpts...))

	case config.PlatformService:
		a.Service = location.NewSimulatedService(max(coordCfg.QueueSize, 1))
		backend = location.NewServiceBackend(a.Service)
		bg, err := newPipeline(location.SourceBackground, filter.New(filterConfig(fcfg)))
		if err != nil {
			return err
		}
		// the service pump must never wait on a handler, or Stop blocks on it
		bgOpts := append([]dispatcher.Option{dispatcher.Buffered(max(coordCfg.QueueSize, 1)), dispatcher.Blocking()}, dispatcher.Logged())
		a.unroutes = append(a.unroutes,
			location.Route(a.Dispatcher, dispatcher.CommandBackgroundFix, backend, bg, bgOpts...))

		fg, err := newPipeline(location.SourceForeground, fgFilter)
		if err != nil {
			return err
		}
		watcher = location.NewForegroundBackend(a.Feed)
		a.unroutes = append(a.unroutes,
			location.Route(a.Dispatcher, dispatcher.CommandForegroundFix, watcher, fg, routeOpts...))
		a.Foreground, a.Background = fg, bg

	default:
		return fmt.Errorf("unknown platform: %s", config.GetString("platform"))
	}

	a.Coordinator, err = location.NewCoordinator(location.CoordinatorDeps{
		Backend:        backend,
		Registry:       a.Registry,
		Pipeline:       a.Background,
		Profiles:       profiles(ccfg),
		SwitchDebounce: coordCfg.SwitchDebounce,
		Logger:         a.Logger.With("component", "coordinator"),
	})
	if err != nil {
		return err
	}

	cooldown := ctrlCfg.StartCooldown
	if opts.StartCooldown != 0 {
		cooldown = opts.StartCooldown
	}
	deps := controller.Deps{
		Store:         a.Store,
		Registry:      a.Registry,
		Coordinator:   a.Coordinator,
		Filter:        fgFilter,
		Profiles:      profiles(ccfg),
		Permissions:   opts.Permissions,
		Logger:        a.Logger.With("component", "controller"),
		StartCooldown: cooldown,
		Now:           opts.Now,
	}
	if watcher != nil {
		deps.Watcher = watcher
	}
	if trackObs != nil {
		deps.Observer = trackObs
	}
	a.Controller, err = controller.New(deps)
	if err != nil {
		return err
	}

	// buffer updates come from whichever pipeline feeds the display
	a.Foreground.OnForward(a.Controller.OnDelivery)
	a.session.Store(a.Controller)

	if err := a.setupMonitor(); err != nil {
		return err
	}

	a.Logger.Info("Location stack ready",
		"platform", config.GetString("platform"),
		"queueSize", coordCfg.QueueSize,
		"switchDebounce", coordCfg.SwitchDebounce)
	return nil
}

func (a *App) setupMonitor() error {
	cfg, err := config.GetMonitorConfig()
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		return nil
	}

	pipelines := map[string]monitor.Counter{"fg": a.Foreground, "bg": a.Background}
	if a.Foreground == a.Background {
		pipelines = map[string]monitor.Counter{"single": a.Foreground}
	}
	a.Monitor = monitor.NewService(monitor.Dependencies{
		Session:    a.Controller,
		Pipelines:  pipelines,
		Queues:     a.Dispatcher,
		StatusFile: cfg.StatusFile,
		Interval:   cfg.Interval,
		Logger:     a.Logger.With("component", "monitor"),
	})
	if err := a.Monitor.Start(); err != nil {
		return err
	}
	a.onClose(func() error {
		a.Monitor.Stop()
		return nil
	})
	return nil
}

// Close stops an active location watch without ending the session, drains
// the dispatcher and releases everything New opened, newest first.
func (a *App) Close() error {
	var errs []error
	if a.Controller != nil && a.Controller.State() != controller.Idle {
		a.Controller.Blur(context.Background())
	}
	if a.Coordinator != nil && a.Coordinator.Active() {
		if err := a.Coordinator.Backend().Stop(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	for _, unroute := range a.unroutes {
		unroute()
	}
	a.unroutes = nil

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
