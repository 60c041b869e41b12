package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/terralot/terralot/internal/app"
	"github.com/terralot/terralot/internal/catalog"
	"github.com/terralot/terralot/internal/notify"
	"github.com/terralot/terralot/internal/observability"
	"github.com/terralot/terralot/internal/partners"
	"github.com/terralot/terralot/internal/platform/cache"
	"github.com/terralot/terralot/internal/platform/db"
	"github.com/terralot/terralot/internal/reservation"
	"github.com/terralot/terralot/internal/shared"
	"github.com/terralot/terralot/jobs"
	"github.com/terralot/terralot/migrations"
)

func main() {
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

	if err := migrations.Apply(ctx, pool); err != nil {
		logger.Error("apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

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

	metrics := observability.NewMetrics()
	cursor := catalog.NewChangeCursor(redisClient, logger)

	partnerRepo := partners.NewRepository(pool)
	partnerService := partners.NewService(partnerRepo)
	actorMiddleware := partners.NewActorMiddleware(logger, partnerService, cfg.AdminToken)

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo, cursor)
	catalogHandler := catalog.NewHandler(logger, catalogService)

	reservationRepo := reservation.NewRepository(pool)
	reservationService := reservation.NewService(reservationRepo, partnerService, logger, reservation.ServiceConfig{
		Notifier: notify.NewQueueNotifier(jobClient, logger),
		Audit:    shared.NewAuditLogger(pool),
		Metrics:  metrics,
		Marker:   cursor,
	})
	reservationHandler := reservation.NewHandler(logger, reservationService)

	jobHandler := jobs.NewHandler(asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr}), logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Actor:              actorMiddleware,
		CatalogHandler:     catalogHandler,
		ReservationHandler: reservationHandler,
		JobHandler:         jobHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
