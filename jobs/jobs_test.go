package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-freight/odyssey-freight/internal/jobs"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/putaway"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/stock"
)

type fakeReconciler struct {
	calls []string
	res   putaway.ReconcileResult
	err   error
}

func (f *fakeReconciler) Reconcile(_ context.Context, tenantID, containerID string) (putaway.ReconcileResult, error) {
	f.calls = append(f.calls, tenantID+"/"+containerID)
	return f.res, f.err
}

func counter(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	next:
		for _, m := range fam.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestNewPutAwayReconcileTask(t *testing.T) {
	task, err := NewPutAwayReconcileTask(PutAwayReconcilePayload{TenantID: "t1", ContainerID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, TaskPutAwayReconcile, task.Type())

	var payload PutAwayReconcilePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "c1", payload.ContainerID)

	_, err = NewPutAwayReconcileTask(PutAwayReconcilePayload{TenantID: "t1"})
	require.Error(t, err)
}

func TestPutAwayReconcileJobHandle(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	rec := &fakeReconciler{res: putaway.ReconcileResult{Checked: 2, Advanced: []string{"a1"}, ContainerStatus: stock.ContainerPutAway}}
	job := NewPutAwayReconcileJob(rec, nil, metrics)

	task, err := NewPutAwayReconcileTask(PutAwayReconcilePayload{TenantID: "t1", ContainerID: "c1"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	assert.Equal(t, []string{"t1/c1"}, rec.calls)
	assert.Equal(t, 1.0, counter(t, reg, "odyssey_warehouse_allocations_advanced_total", map[string]string{"stage": "put_away"}))
	assert.Equal(t, 1.0, counter(t, reg, "odyssey_jobs_total", map[string]string{"job": TaskPutAwayReconcile, "status": "success"}))
}

func TestPutAwayReconcileJobFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := &fakeReconciler{err: errors.New("db down")}
	job := NewPutAwayReconcileJob(rec, nil, jobmetrics.NewMetrics(reg))
	task, err := NewPutAwayReconcileTask(PutAwayReconcilePayload{TenantID: "t1", ContainerID: "c1"})
	require.NoError(t, err)

	require.EqualError(t, job.Handle(context.Background(), task), "db down")
	assert.Equal(t, 1.0, counter(t, reg, "odyssey_jobs_failures_total", map[string]string{"job": TaskPutAwayReconcile}))

	rec.err = stock.ErrNotFound
	require.ErrorIs(t, job.Handle(context.Background(), task), asynq.SkipRetry)

	bad := asynq.NewTask(TaskPutAwayReconcile, []byte("{"))
	require.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)
}

type fakeCleaner struct{ retention time.Duration }

func (f *fakeCleaner) Cleanup(_ context.Context, olderThan time.Duration) error {
	f.retention = olderThan
	return nil
}

func TestIdempotencyCleanupHandler(t *testing.T) {
	cleaner := &fakeCleaner{}
	handler := IdempotencyCleanupHandler(cleaner, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewIdempotencyCleanupTask(72 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), task))
	assert.Equal(t, 72*time.Hour, cleaner.retention)
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return f.info, f.err }

func TestJobsHealth(t *testing.T) {
	serve := func(h *Handler) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		h.MountRoutes(r)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		return rec
	}

	rec := serve(NewHandler(nil, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"queue":"default","pending":0,"active":0,"retry":0}`, rec.Body.String())

	rec = serve(NewHandler(fakeInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 3}}, nil))
	assert.Contains(t, rec.Body.String(), `"pending":3`)

	rec = serve(NewHandler(fakeInspector{err: errors.New("redis down")}, nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
