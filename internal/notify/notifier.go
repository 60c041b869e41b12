// Package notify bridges successful placements to the background
// notification pipeline. Delivery is fire-and-forget: a full queue or a
// redis outage is logged and otherwise ignored, so the reservation
// transaction outcome never depends on it.
package notify

import (
	"context"
	"log/slog"

	"github.com/terralot/terralot/internal/reservation"
	"github.com/terralot/terralot/jobs"
)

// QueueNotifier enqueues placement events as asynq tasks.
type QueueNotifier struct {
	client *jobs.Client
	logger *slog.Logger
}

// NewQueueNotifier constructs a QueueNotifier.
func NewQueueNotifier(client *jobs.Client, logger *slog.Logger) *QueueNotifier {
	return &QueueNotifier{client: client, logger: logger}
}

// OptionPlaced enqueues the event. Errors are swallowed after logging.
func (n *QueueNotifier) OptionPlaced(ctx context.Context, event reservation.PlacedEvent) {
	if n == nil || n.client == nil {
		return
	}
	if _, err := n.client.EnqueueOptionPlaced(ctx, event); err != nil {
		n.logger.Warn("enqueue option placed notification",
			slog.String("option_id", event.OptionID),
			slog.Any("error", err),
		)
	}
}
