package messaging

import (
	"context"
	"log/slog"
)

// HandleFunc processes one inbound message. It is the seam between the
// transport layer and the conversation orchestrator.
type HandleFunc func(ctx context.Context, msg InboundMessage) error

// Dispatcher drains a Service's inbound channel into a HandleFunc, one
// goroutine per dispatcher. Per-conversation ordering is enforced by the
// orchestrator, not here.
type Dispatcher struct {
	service Service
	handle  HandleFunc
}

// NewDispatcher creates a Dispatcher for the given service and handler.
func NewDispatcher(service Service, handle HandleFunc) *Dispatcher {
	return &Dispatcher{service: service, handle: handle}
}

// Start begins draining inbound messages. It returns immediately; processing
// continues until the channel closes or the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	slog.Info("Dispatcher starting inbound processing")

	go func() {
		defer slog.Info("Dispatcher stopped inbound processing")

		for {
			select {
			case msg, ok := <-d.service.Inbound():
				if !ok {
					slog.Debug("Dispatcher inbound channel closed")
					return
				}
				if err := d.handle(ctx, msg); err != nil {
					slog.Error("Dispatcher failed to handle inbound message", "error", err, "from", msg.From, "messageID", msg.MessageID)
				}

			case <-ctx.Done():
				slog.Debug("Dispatcher stopping due to context cancellation")
				return
			}
		}
	}()
}
