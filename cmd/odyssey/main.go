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

	"github.com/odyssey-freight/odyssey-freight/internal/app"
	"github.com/odyssey-freight/odyssey-freight/internal/observability"
	"github.com/odyssey-freight/odyssey-freight/internal/platform/cache"
	"github.com/odyssey-freight/odyssey-freight/internal/platform/lock"
	"github.com/odyssey-freight/odyssey-freight/internal/shared"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/aggregation"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/allocation"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/availability"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/putaway"
	"github.com/odyssey-freight/odyssey-freight/jobs"
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
	slog.SetDefault(logger)

	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("open backend", slog.Any("error", err))
		os.Exit(1)
	}
	defer backend.Close()

	metrics := observability.NewMetrics()

	summaryCache := cache.NewVersioned(backend.Redis, cfg.SummaryCacheTTL, shared.SummaryVersionKey)
	aggregationService := aggregation.NewService(backend.Store, summaryCache, metrics, logger)
	availabilityService := availability.NewService(backend.Store, logger)
	allocationService := allocation.NewService(backend.Store, availabilityService,
		allocation.Config{BulkConcurrency: cfg.BulkConcurrency},
		allocation.Deps{
			Locker:      lock.NewLocker(backend.Redis, cfg.AllocationLockTTL, cfg.AllocationLockWait),
			Invalidator: aggregationService,
			Audit:       backend.Audit,
			Metrics:     metrics,
			Logger:      logger,
		})

	putawayDeps := putaway.Deps{
		Idempotency: backend.Idempotency,
		Invalidator: aggregationService,
		Audit:       backend.Audit,
		Metrics:     metrics,
		Logger:      logger,
	}
	var jobHandler *jobs.Handler
	if backend.Redis != nil {
		client := jobs.NewClient(app.RedisOpt(cfg))
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("asynq client close", slog.Any("error", err))
			}
		}()
		putawayDeps.Enqueuer = client

		inspector := asynq.NewInspector(app.RedisOpt(cfg))
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	} else {
		jobHandler = jobs.NewHandler(nil, logger)
	}
	putawayService := putaway.NewService(backend.Store,
		putaway.Config{QtyTolerance: cfg.PutAwayQtyTolerance, Concurrency: cfg.BulkConcurrency},
		putawayDeps)

	router := app.NewRouter(app.RouterParams{
		Logger: logger,
		Config: cfg,
		Warehouse: warehouse.Handlers{
			Availability: availability.NewHandler(logger, availabilityService),
			Allocation:   allocation.NewHandler(logger, allocationService),
			PutAway:      putaway.NewHandler(logger, putawayService),
			Aggregation:  aggregation.NewHandler(logger, aggregationService),
		},
		JobHandler: jobHandler,
		Metrics:    metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
