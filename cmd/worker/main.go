package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-freight/odyssey-freight/internal/app"
	jobmetrics "github.com/odyssey-freight/odyssey-freight/internal/jobs"
	"github.com/odyssey-freight/odyssey-freight/internal/platform/cache"
	"github.com/odyssey-freight/odyssey-freight/internal/shared"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/aggregation"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/putaway"
	"github.com/odyssey-freight/odyssey-freight/jobs"
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
	if cfg.RedisAddr == "" {
		slog.Default().Error("worker requires REDIS_ADDR")
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("open backend", slog.Any("error", err))
		os.Exit(1)
	}
	defer backend.Close()

	summaryCache := cache.NewVersioned(backend.Redis, cfg.SummaryCacheTTL, shared.SummaryVersionKey)
	aggregationService := aggregation.NewService(backend.Store, summaryCache, nil, logger)
	putawayService := putaway.NewService(backend.Store,
		putaway.Config{QtyTolerance: cfg.PutAwayQtyTolerance, Concurrency: cfg.BulkConcurrency},
		putaway.Deps{
			Invalidator: aggregationService,
			Audit:       backend.Audit,
			Logger:      logger,
		})

	metrics := jobmetrics.NewMetrics(nil)
	reconcileJob := jobs.NewPutAwayReconcileJob(putawayService, logger, metrics)

	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   app.RedisOpt(cfg),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPutAwayReconcile, Handler: reconcileJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: jobs.IdempotencyCleanupHandler(backend.Idempotency, logger, metrics)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "45 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.Int("concurrency", cfg.WorkerConcurrency))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
