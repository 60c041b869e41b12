package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/terralot/terralot/internal/jobs"
)

// Sweeper expires stale options. Implemented by the reservation service.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// OptionSweepJob runs the periodic expiry sweep.
type OptionSweepJob struct {
	sweeper Sweeper
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewOptionSweepJob constructs the job.
func NewOptionSweepJob(sweeper Sweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *OptionSweepJob {
	return &OptionSweepJob{sweeper: sweeper, logger: logger, metrics: metrics}
}

// Handle processes TaskOptionSweep tasks. A transient failure is returned so
// asynq retries; the scheduler also re-enqueues on the next tick either way.
func (j *OptionSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track(TaskOptionSweep)
	expired, err := j.sweeper.SweepExpired(ctx)
	if err != nil {
		j.logger.Warn("option sweep", slog.Any("error", err))
		return tracker.End(fmt.Errorf("option sweep: %w", err))
	}
	if expired > 0 {
		j.logger.Info("option sweep", slog.Int("expired", expired))
	}
	return tracker.End(nil)
}
