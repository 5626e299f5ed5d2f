package location

import (
	"context"
	"errors"
	"sync"

	"github.com/heidestein/routetrack/pkg/core"
)

// Feed is a Provider whose fixes are pushed by the host, for replaying logs
// and for tests.
type Feed struct {
	mu      sync.Mutex
	next    int
	watches map[int]feedWatch
	last    *Options
}

type feedWatch struct {
	opts Options
	fn   func(core.Fix)
}

var _ Provider = (*Feed)(nil)

// NewFeed returns an idle Feed.
func NewFeed() *Feed {
	return &Feed{watches: make(map[int]feedWatch)}
}

func (f *Feed) Watch(_ context.Context, opts Options, fn func(core.Fix)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.next
	f.next++
	f.watches[id] = feedWatch{opts: opts, fn: fn}
	f.last = &opts

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.watches, id)
			f.mu.Unlock()
		})
	}, nil
}

// Emit delivers fix to every active watch and returns how many received it.
func (f *Feed) Emit(fix core.Fix) int {
	f.mu.Lock()
	fns := make([]func(core.Fix), 0, len(f.watches))
	for _, w := range f.watches {
		fns = append(fns, w.fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(fix)
	}
	return len(fns)
}

// Watching returns the number of active watches.
func (f *Feed) Watching() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watches)
}

// LastOptions returns the options of the most recent watch.
func (f *Feed) LastOptions() (Options, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return Options{}, false
	}
	return *f.last, true
}

var errServiceNotRunning = errors.New("location service not running")

// SimulatedService is an in-process ServiceClient. Fixes pushed with Emit are
// delivered only while the service runs.
type SimulatedService struct {
	events chan core.Fix

	mu      sync.Mutex
	running bool
	opts    Options
	calls   []string
	fail    map[string]error
}

var _ ServiceClient = (*SimulatedService)(nil)

// NewSimulatedService returns a stopped service with an event queue of the given size.
func NewSimulatedService(queue int) *SimulatedService {
	return &SimulatedService{
		events: make(chan core.Fix, queue),
		fail:   make(map[string]error),
	}
}

// begin records a call and returns the error injected for it, if any.
func (s *SimulatedService) begin(op string) error {
	s.calls = append(s.calls, op)
	if err, ok := s.fail[op]; ok {
		delete(s.fail, op)
		return err
	}
	return nil
}

func (s *SimulatedService) Start(_ context.Context, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("start"); err != nil {
		return err
	}
	s.running = true
	s.opts = opts
	return nil
}

func (s *SimulatedService) Update(_ context.Context, patch OptionsPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("update"); err != nil {
		return err
	}
	if !s.running {
		return errServiceNotRunning
	}
	s.opts = patch.Apply(s.opts)
	return nil
}

func (s *SimulatedService) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("stop"); err != nil {
		return err
	}
	s.running = false
	return nil
}

func (s *SimulatedService) Events() <-chan core.Fix {
	return s.events
}

// Emit queues fix for delivery. It reports false when the service is stopped.
func (s *SimulatedService) Emit(fix core.Fix) bool {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return false
	}
	s.events <- fix
	return true
}

// FailNext makes the next call to op ("start", "update" or "stop") return err.
func (s *SimulatedService) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op] = err
}

// Running reports whether the service is started.
func (s *SimulatedService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Options returns the current service options.
func (s *SimulatedService) Options() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

// Calls returns the operations invoked so far, in order.
func (s *SimulatedService) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}
