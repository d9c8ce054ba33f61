package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-freight/odyssey-freight/internal/jobs"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/putaway"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/stock"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Reconciler re-runs put-away completion for a container.
type Reconciler interface {
	Reconcile(ctx context.Context, tenantID, containerID string) (putaway.ReconcileResult, error)
}

// PutAwayReconcileJob handles TaskPutAwayReconcile.
type PutAwayReconcileJob struct {
	Reconciler Reconciler
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	Timeout    time.Duration
}

// NewPutAwayReconcileJob wires dependencies for the reconcile handler.
func NewPutAwayReconcileJob(reconciler Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *PutAwayReconcileJob {
	return &PutAwayReconcileJob{Reconciler: reconciler, Logger: logger, Metrics: metrics, Timeout: 30 * time.Second}
}

// Handle processes reconcile tasks.
func (j *PutAwayReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Reconciler == nil {
		return errors.New("putaway reconcile: handler not configured")
	}
	var payload PutAwayReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.TenantID == "" || payload.ContainerID == "" {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskPutAwayReconcile)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(
		slog.String("tenant_id", payload.TenantID),
		slog.String("container_id", payload.ContainerID))

	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}
	res, err := j.Reconciler.Reconcile(ctx, payload.TenantID, payload.ContainerID)
	if err != nil {
		if errors.Is(err, stock.ErrNotFound) {
			logger.Warn("container vanished before reconcile")
			return asynq.SkipRetry
		}
		resultErr = err
		logger.Error("reconcile put-away", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddAdvanced(string(stock.StagePutAway), len(res.Advanced))
	logger.Info("reconciled put-away",
		slog.Int("checked", res.Checked),
		slog.Int("advanced", len(res.Advanced)),
		slog.String("container_status", string(res.ContainerStatus)))
	return resultErr
}

func (j *PutAwayReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPutAwayReconcile))
	}
	return slog.Default().With(slog.String("job", TaskPutAwayReconcile))
}

func (j *PutAwayReconcileJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

// KeyCleaner drops idempotency keys older than a retention window.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupHandler returns the handler for TaskIdempotencyCleanup.
func IdempotencyCleanupHandler(cleaner KeyCleaner, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IdempotencyCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.Retention <= 0 {
			return asynq.SkipRetry
		}
		tracker := metrics.Track(TaskIdempotencyCleanup)
		err := cleaner.Cleanup(ctx, payload.Retention)
		if err != nil && logger != nil {
			logger.Error("idempotency cleanup", slog.Any("error", err))
		}
		return tracker.End(err)
	}
}
