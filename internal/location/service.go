package location

import (
	"context"
	"fmt"
	"sync"

	"github.com/heidestein/routetrack/pkg/core"
)

// ServiceClient controls a location service that keeps running outside the
// foreground, delivering fixes on its event channel.
type ServiceClient interface {
	Start(ctx context.Context, opts Options) error
	Update(ctx context.Context, patch OptionsPatch) error
	Stop(ctx context.Context) error
	Events() <-chan core.Fix
}

// ServiceBackend adapts a ServiceClient to Backend. While started, a pump
// goroutine forwards service events to subscribers.
type ServiceBackend struct {
	client ServiceClient
	subs   subscribersOf[core.Fix]

	mu         sync.Mutex
	cancelPump context.CancelFunc
	pumpDone   chan struct{}
}

var _ Backend = (*ServiceBackend)(nil)

// NewServiceBackend wraps c.
func NewServiceBackend(c ServiceClient) *ServiceBackend {
	return &ServiceBackend{client: c}
}

func (b *ServiceBackend) Name() string { return "service" }

func (b *ServiceBackend) Start(ctx context.Context, opts Options) error {
	if err := b.client.Start(ctx, opts); err != nil {
		return fmt.Errorf("start location service: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelPump != nil {
		return nil
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.cancelPump = cancel
	b.pumpDone = done
	go b.pump(pumpCtx, done)
	return nil
}

func (b *ServiceBackend) pump(ctx context.Context, done chan struct{}) {
	defer close(done)
	events := b.client.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-events:
			if !ok {
				return
			}
			b.subs.emit(f)
		}
	}
}

func (b *ServiceBackend) UpdateOptions(ctx context.Context, patch OptionsPatch) error {
	if err := b.client.Update(ctx, patch); err != nil {
		return fmt.Errorf("update location service: %w", err)
	}
	return nil
}

// Stop stops the service and waits for the pump to exit. The pump is stopped
// even when the service reports an error.
func (b *ServiceBackend) Stop(ctx context.Context) error {
	err := b.client.Stop(ctx)

	b.mu.Lock()
	cancel, done := b.cancelPump, b.pumpDone
	b.cancelPump, b.pumpDone = nil, nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	if err != nil {
		return fmt.Errorf("stop location service: %w", err)
	}
	return nil
}

func (b *ServiceBackend) Subscribe(fn func(core.Fix)) func() {
	return b.subs.add(fn)
}
