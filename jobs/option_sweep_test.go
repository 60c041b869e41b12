package jobs

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/terralot/terralot/internal/reservation"
)

type stubSweeper struct {
	expired int
	err     error
	calls   int
}

func (s *stubSweeper) SweepExpired(ctx context.Context) (int, error) {
	s.calls++
	return s.expired, s.err
}

func TestOptionSweepHandle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	t.Run("sweeps and succeeds", func(t *testing.T) {
		sweeper := &stubSweeper{expired: 3}
		job := NewOptionSweepJob(sweeper, logger, nil)

		require.NoError(t, job.Handle(ctx, NewOptionSweepTask()))
		require.Equal(t, 1, sweeper.calls)
	})

	t.Run("propagates sweep failures for retry", func(t *testing.T) {
		sweeper := &stubSweeper{err: errors.New("db down")}
		job := NewOptionSweepJob(sweeper, logger, nil)

		require.Error(t, job.Handle(ctx, NewOptionSweepTask()))
	})
}

func TestOptionPlacedHandle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	t.Run("handles a placement event without redis", func(t *testing.T) {
		task, err := NewOptionPlacedTask(reservation.PlacedEvent{
			OptionID:     "opt-1",
			LotReference: "L001",
			PartnerID:    "partner-1",
			ExpiresAt:    time.Now().Add(5 * 24 * time.Hour),
		})
		require.NoError(t, err)

		job := NewOptionPlacedJob(nil, logger, nil)
		require.NoError(t, job.Handle(ctx, task))
	})

	t.Run("malformed payload is not retried", func(t *testing.T) {
		job := NewOptionPlacedJob(nil, logger, nil)
		err := job.Handle(ctx, asynq.NewTask(TaskOptionPlacedNotify, []byte("{")))
		require.ErrorIs(t, err, asynq.SkipRetry)
	})
}
