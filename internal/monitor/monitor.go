// Package monitor periodically snapshots the running session into a status
// file that other tools can poll.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/heidestein/routetrack/internal/controller"
)

// Session is the read side of the session controller.
type Session interface {
	State() controller.State
	TrackID() string
	Segment() int
	Metrics() controller.Metrics
}

// Counter reports how many fixes a pipeline has processed.
type Counter interface {
	Handled() uint64
}

// QueueReporter reports pending deliveries per command.
type QueueReporter interface {
	QueueLengths() map[string]int
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Session Session
	// Pipelines are keyed by execution context.
	Pipelines  map[string]Counter
	Queues     QueueReporter
	StatusFile string
	Interval   time.Duration
	Logger     *slog.Logger
	Now        func() time.Time
}

// Status is one snapshot of the session.
type Status struct {
	Time          time.Time         `json:"time"`
	State         string            `json:"state"`
	TrackID       string            `json:"trackId,omitempty"`
	Segment       int               `json:"segment"`
	DistanceM     float64           `json:"distanceM"`
	DurationMs    int64             `json:"durationMs"`
	AvgSpeed      float64           `json:"avgSpeed"`
	Stage         string            `json:"stage"`
	WarmRemaining int               `json:"warmRemaining"`
	Handled       map[string]uint64 `json:"handled,omitempty"`
	Queues        map[string]int    `json:"queues,omitempty"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetStatus returns the current session status.
func (s *Service) GetStatus() Status {
	m := s.deps.Session.Metrics()
	st := Status{
		Time:          s.deps.Now().UTC(),
		State:         s.deps.Session.State().String(),
		TrackID:       s.deps.Session.TrackID(),
		Segment:       s.deps.Session.Segment(),
		DistanceM:     m.Distance,
		DurationMs:    m.Duration.Milliseconds(),
		AvgSpeed:      m.AvgSpeed,
		Stage:         m.Stage.String(),
		WarmRemaining: m.WarmRemaining,
	}
	if len(s.deps.Pipelines) > 0 {
		st.Handled = make(map[string]uint64, len(s.deps.Pipelines))
		for name, p := range s.deps.Pipelines {
			st.Handled[name] = p.Handled()
		}
	}
	if s.deps.Queues != nil {
		st.Queues = s.deps.Queues.QueueLengths()
	}
	return st
}

// WriteStatus writes one snapshot to the status file, replacing the old one.
func (s *Service) WriteStatus() error {
	data, err := json.MarshalIndent(s.GetStatus(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}

	// rename so readers never see a half-written file
	tmp := s.deps.StatusFile + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing status: %w", err)
	}
	if err := os.Rename(tmp, s.deps.StatusFile); err != nil {
		return fmt.Errorf("writing status: %w", err)
	}
	return nil
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.deps.StatusFile), 0o755); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("creating status dir: %w", err)
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)

		logger := s.deps.Logger
		logger.Debug("Starting status monitor", "file", s.deps.StatusFile, "interval", s.deps.Interval)

		tick := time.NewTicker(s.deps.Interval)
		defer tick.Stop()

		wasIdle := true
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
			}

			// an idle process leaves the last snapshot alone
			idle := s.deps.Session.State() == controller.Idle
			if idle && wasIdle {
				continue
			}
			wasIdle = idle

			if err := s.WriteStatus(); err != nil {
				logger.Error("Error writing status file", "error", err)
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}
