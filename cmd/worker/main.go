package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/terralot/terralot/internal/app"
	"github.com/terralot/terralot/internal/catalog"
	jobmetrics "github.com/terralot/terralot/internal/jobs"
	"github.com/terralot/terralot/internal/notify"
	"github.com/terralot/terralot/internal/partners"
	"github.com/terralot/terralot/internal/platform/cache"
	"github.com/terralot/terralot/internal/platform/db"
	"github.com/terralot/terralot/internal/reservation"
	"github.com/terralot/terralot/internal/shared"
	"github.com/terralot/terralot/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	cursor := catalog.NewChangeCursor(redisClient, logger)
	partnerService := partners.NewService(partners.NewRepository(pool))
	reservationService := reservation.NewService(reservation.NewRepository(pool), partnerService, logger, reservation.ServiceConfig{
		Notifier: notify.NewQueueNotifier(jobClient, logger),
		Audit:    shared.NewAuditLogger(pool),
		Marker:   cursor,
	})

	metrics := jobmetrics.NewMetrics(nil)
	sweepJob := jobs.NewOptionSweepJob(reservationService, logger, metrics)
	notifyJob := jobs.NewOptionPlacedJob(redisClient, logger, metrics)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskOptionSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskOptionPlacedNotify, Handler: notifyJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{
				Spec:    fmt.Sprintf("@every %s", cfg.SweepInterval),
				Task:    jobs.NewOptionSweepTask(),
				Options: []asynq.Option{asynq.MaxRetry(1)},
			},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
