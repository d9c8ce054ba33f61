package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPutAwayReconcile re-checks put-away completion for one container.
	TaskPutAwayReconcile = "warehouse:putaway:reconcile"
	// TaskIdempotencyCleanup purges expired put-away idempotency keys.
	TaskIdempotencyCleanup = "warehouse:idempotency:cleanup"
)

// PutAwayReconcilePayload identifies the container to reconcile.
type PutAwayReconcilePayload struct {
	TenantID    string `json:"tenant_id"`
	ContainerID string `json:"container_id"`
}

// NewPutAwayReconcileTask constructs an Asynq task. Tasks for the same
// container are deduplicated for a minute.
func NewPutAwayReconcileTask(payload PutAwayReconcilePayload) (*asynq.Task, error) {
	if payload.TenantID == "" || payload.ContainerID == "" {
		return nil, fmt.Errorf("jobs: tenant and container required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPutAwayReconcile, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(5),
		asynq.Unique(time.Minute),
	), nil
}

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
