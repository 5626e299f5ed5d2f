package location

import (
	"context"
	"fmt"
	"sync"

	"github.com/heidestein/routetrack/pkg/core"
)

// Provider is an in-process position watcher.
type Provider interface {
	// Watch calls fn for each fix until stop is called.
	Watch(ctx context.Context, opts Options, fn func(core.Fix)) (stop func(), err error)
}

// ForegroundBackend runs a Provider watch in the current process. It has no
// in-place reconfiguration.
type ForegroundBackend struct {
	provider Provider
	subs     subscribersOf[core.Fix]

	mu   sync.Mutex
	stop func()
}

var _ Backend = (*ForegroundBackend)(nil)

// NewForegroundBackend wraps p.
func NewForegroundBackend(p Provider) *ForegroundBackend {
	return &ForegroundBackend{provider: p}
}

func (b *ForegroundBackend) Name() string { return "foreground" }

// Start begins watching, replacing a watch that is already running.
func (b *ForegroundBackend) Start(ctx context.Context, opts Options) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stop != nil {
		b.stop()
		b.stop = nil
	}

	stop, err := b.provider.Watch(ctx, opts, b.subs.emit)
	if err != nil {
		return fmt.Errorf("start foreground watch: %w", err)
	}
	b.stop = stop
	return nil
}

func (b *ForegroundBackend) UpdateOptions(context.Context, OptionsPatch) error {
	return ErrReconfigureUnsupported
}

func (b *ForegroundBackend) Stop(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stop != nil {
		b.stop()
		b.stop = nil
	}
	return nil
}

// Running reports whether a watch is active.
func (b *ForegroundBackend) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stop != nil
}

func (b *ForegroundBackend) Subscribe(fn func(core.Fix)) func() {
	return b.subs.add(fn)
}
