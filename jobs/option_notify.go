package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/terralot/terralot/internal/jobs"
	"github.com/terralot/terralot/internal/reservation"
)

// NotifyChannel is the redis pub/sub channel carrying placement events.
const NotifyChannel = "terralot.options"

// OptionPlacedJob publishes placement notifications to subscribers.
type OptionPlacedJob struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewOptionPlacedJob constructs the job.
func NewOptionPlacedJob(client *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *OptionPlacedJob {
	return &OptionPlacedJob{redis: client, logger: logger, metrics: metrics}
}

// Handle processes TaskOptionPlacedNotify tasks.
func (j *OptionPlacedJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track(TaskOptionPlacedNotify)
	var event reservation.PlacedEvent
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		_ = tracker.End(err)
		return asynq.SkipRetry
	}

	j.logger.Info("option placed",
		slog.String("option_id", event.OptionID),
		slog.String("lot_reference", event.LotReference),
		slog.String("partner_id", event.PartnerID),
	)

	if j.redis == nil {
		return tracker.End(nil)
	}
	return tracker.End(j.redis.Publish(ctx, NotifyChannel, t.Payload()).Err())
}
