// Package filter decides which raw location fixes are trusted enough to seed
// a track and which count toward declaring tracking warmed up.
package filter

import (
	"math"
	"sync"

	"github.com/heidestein/routetrack/internal/geo"
	"github.com/heidestein/routetrack/pkg/core"
)

// Stage is the warm-up state of a tracking session.
type Stage int

const (
	Unseeded Stage = iota
	WarmingUp
	Steady
)

func (s Stage) String() string {
	switch s {
	case Unseeded:
		return "unseeded"
	case WarmingUp:
		return "warming-up"
	case Steady:
		return "steady"
	default:
		return "unknown"
	}
}

// Config holds filter thresholds. Accuracy values are meters.
type Config struct {
	SeedAccuracyMax      float64
	SeedStreak           int
	WarmCountAccuracyMax float64
	WarmAccepts          int
	SpeedGating          bool
	OutlierGate          GateConfig
}

// DefaultConfig returns the thresholds used when none are configured.
func DefaultConfig() Config {
	return Config{
		SeedAccuracyMax:      35,
		SeedStreak:           2,
		WarmCountAccuracyMax: 45,
		WarmAccepts:          12,
		SpeedGating:          true,
		OutlierGate:          DefaultGateConfig(),
	}
}

// Decision is the outcome of processing one fix.
type Decision struct {
	// Forward is true when the fix should be persisted.
	Forward bool
	// Seeded is true when this fix became the track origin.
	Seeded bool
	// Counted is true when this fix counted toward warm-up.
	Counted bool
	// Rejected is true when the outlier gate dropped a seeded fix.
	Rejected bool
	Stage    Stage
}

// Filter is the per-session warm-up state machine.
type Filter struct {
	cfg Config

	mu            sync.RWMutex
	stage         Stage
	streak        int
	warmRemaining int
	origin        *core.LatLng
	gate          *Kalman
	lastTs        int64
}

// New creates a filter in the Unseeded stage.
func New(cfg Config) *Filter {
	if cfg.SeedStreak < 1 {
		cfg.SeedStreak = 1
	}
	return &Filter{cfg: cfg}
}

// Reset returns the filter to Unseeded. It is called on every session start
// and every resume since GPS has to reacquire lock.
func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stage = Unseeded
	f.streak = 0
	f.warmRemaining = 0
	f.origin = nil
	f.gate = nil
	f.lastTs = 0
}

// Process runs one fix through the state machine.
func (f *Filter) Process(fix core.Fix) Decision {
	f.mu.Lock()
	defer f.mu.Unlock()

	acc := accuracyOf(fix)

	if f.stage == Unseeded {
		if acc > f.cfg.SeedAccuracyMax {
			f.streak = 0
			return Decision{Stage: f.stage}
		}
		f.streak++
		if f.streak < f.cfg.SeedStreak {
			return Decision{Stage: f.stage}
		}

		origin := fix.LatLng()
		f.origin = &origin
		f.warmRemaining = f.cfg.WarmAccepts
		f.stage = WarmingUp
		if f.warmRemaining <= 0 {
			f.stage = Steady
		}
		if f.cfg.OutlierGate.Enabled {
			f.gate = NewKalman(f.cfg.OutlierGate)
			f.gate.Init(0, 0)
		}
		f.lastTs = fix.Timestamp
		return Decision{Forward: true, Seeded: true, Stage: f.stage}
	}

	if f.gate != nil && !f.admit(fix, acc) {
		return Decision{Rejected: true, Stage: f.stage}
	}

	d := Decision{Forward: true}
	if f.stage == WarmingUp && acc <= f.cfg.WarmCountAccuracyMax && (!f.cfg.SpeedGating || moving(fix)) {
		f.warmRemaining--
		d.Counted = true
		if f.warmRemaining <= 0 {
			f.warmRemaining = 0
			f.stage = Steady
		}
	}
	d.Stage = f.stage
	return d
}

// admit runs the outlier gate for a seeded fix.
func (f *Filter) admit(fix core.Fix, acc float64) bool {
	dt := 1.0
	if fix.Timestamp > 0 && f.lastTs > 0 {
		dt = float64(fix.Timestamp-f.lastTs) / 1000
	}
	if fix.Timestamp > 0 {
		f.lastTs = fix.Timestamp
	}

	std := acc
	if math.IsInf(std, 1) || std <= 0 {
		std = f.cfg.OutlierGate.DefaultAccuracy
	}

	x, y := geo.ToLocal(*f.origin, fix.LatLng())
	f.gate.Predict(dt)
	return f.gate.Update(x, y, std)
}

// Stage returns the current warm-up stage.
func (f *Filter) Stage() Stage {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.stage
}

// WarmRemaining returns how many qualifying fixes are still needed to reach Steady.
func (f *Filter) WarmRemaining() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.warmRemaining
}

// Origin returns the seeded origin, if any.
func (f *Filter) Origin() (core.LatLng, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.origin == nil {
		return core.LatLng{}, false
	}
	return *f.origin, true
}

// accuracyOf treats a missing accuracy as infinitely bad.
func accuracyOf(fix core.Fix) float64 {
	if fix.Accuracy == nil || math.IsNaN(*fix.Accuracy) {
		return math.Inf(1)
	}
	return *fix.Accuracy
}

func moving(fix core.Fix) bool {
	return fix.Speed != nil && *fix.Speed > 0
}
