// Package location runs the location stream behind a tracking session. A
// Backend delivers raw fixes, a Pipeline decides which of them are persisted,
// and the Coordinator manages the backend across cadence profiles.
package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/heidestein/routetrack/pkg/core"
)

// ErrReconfigureUnsupported is returned by backends that cannot change their
// options while running. Callers restart them instead.
var ErrReconfigureUnsupported = errors.New("backend cannot be reconfigured in place")

// Options configures a location stream.
type Options struct {
	// Title is the status text shown while the stream runs in the background.
	Title string
	// Interval is the desired time between fixes.
	Interval time.Duration
	// Distance is the minimum movement in meters between fixes.
	Distance float64
	Paused   bool
}

// OptionsPatch changes the non-nil fields of Options.
type OptionsPatch struct {
	Title    *string
	Interval *time.Duration
	Distance *float64
	Paused   *bool
}

// Apply returns o with the patch applied.
func (p OptionsPatch) Apply(o Options) Options {
	if p.Title != nil {
		o.Title = *p.Title
	}
	if p.Interval != nil {
		o.Interval = *p.Interval
	}
	if p.Distance != nil {
		o.Distance = *p.Distance
	}
	if p.Paused != nil {
		o.Paused = *p.Paused
	}
	return o
}

// Backend is a platform location stream.
type Backend interface {
	Name() string
	Start(ctx context.Context, opts Options) error
	UpdateOptions(ctx context.Context, patch OptionsPatch) error
	Stop(ctx context.Context) error
	// Subscribe registers fn for every delivered fix until cancel is called.
	Subscribe(fn func(core.Fix)) (cancel func())
}

// Cadence is the sampling profile for one mode.
type Cadence struct {
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
	Distance float64       `mapstructure:"distance" validate:"gte=0"`
}

// Profiles maps each mode to its cadence.
type Profiles struct {
	Tracking Cadence `mapstructure:"tracking"`
	Paused   Cadence `mapstructure:"paused"`
}

// DefaultProfiles samples often while tracking and sparsely while paused,
// enough to keep the platform service alive.
func DefaultProfiles() Profiles {
	return Profiles{
		Tracking: Cadence{Interval: 5 * time.Second, Distance: 6},
		Paused:   Cadence{Interval: 60 * time.Second, Distance: 50},
	}
}

// For returns the cadence for m.
func (p Profiles) For(m core.Mode) Cadence {
	if m == core.ModePaused {
		return p.Paused
	}
	return p.Tracking
}

// Status titles shown by the background service.
const (
	TitleTracking = "Recording your movement in the background"
	TitlePaused   = "Paused, keeping service alive"
)

// StatusTitle returns the background status text for m.
func StatusTitle(m core.Mode) string {
	if m == core.ModePaused {
		return TitlePaused
	}
	return TitleTracking
}

// OptionsFor builds the stream options for mode m.
func (p Profiles) OptionsFor(m core.Mode) Options {
	c := p.For(m)
	return Options{
		Title:    StatusTitle(m),
		Interval: c.Interval,
		Distance: c.Distance,
		Paused:   m == core.ModePaused,
	}
}

// subscribersOf is a set of callbacks.
type subscribersOf[T any] struct {
	mu   sync.RWMutex
	next int
	fns  map[int]func(T)
}

func (s *subscribersOf[T]) add(fn func(T)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(T))
	}
	id := s.next
	s.next++
	s.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.fns, id)
			s.mu.Unlock()
		})
	}
}

func (s *subscribersOf[T]) emit(v T) {
	s.mu.RLock()
	fns := make([]func(T), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}
