package location

import (
	"context"

	"github.com/heidestein/routetrack/internal/dispatcher"
	"github.com/heidestein/routetrack/pkg/core"
)

// Route registers p as the handler for command and posts every fix from b
// through d. The returned cancel unsubscribes from b.
func Route(d *dispatcher.Dispatcher, command string, b Backend, p *Pipeline, opts ...dispatcher.Option) (cancel func()) {
	d.Register(command, func(e dispatcher.Event) (any, error) {
		return p.Handle(context.Background(), e.Fix).Outcome, nil
	}, opts...)

	return b.Subscribe(func(f core.Fix) {
		d.Dispatch(dispatcher.Event{Command: command, Fix: f}) //nolint:errcheck // full queue is counted as dropped
	})
}
