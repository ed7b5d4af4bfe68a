package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/campusledger/campusledger/internal/jobs"
	"github.com/campusledger/campusledger/internal/shared"
)

type capturingEnqueuer struct {
	tasks []*asynq.Task
}

func (c *capturingEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	c.tasks = append(c.tasks, task)
	return &asynq.TaskInfo{Type: task.Type(), Queue: QueueDefault}, nil
}

type recordingNotifier struct {
	got []shared.Notification
	err error
}

func (r *recordingNotifier) Notify(ctx context.Context, n shared.Notification) error {
	r.got = append(r.got, n)
	return r.err
}

type stubCleaner struct {
	retention time.Duration
	removed   int64
	err       error
}

func (s *stubCleaner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.retention = olderThan
	return s.removed, s.err
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestQueueNotifierRoundTrip(t *testing.T) {
	enq := &capturingEnqueuer{}
	n := shared.Notification{Title: "Promotion failed", Description: "procedure failed", Variant: shared.VariantDestructive}
	require.NoError(t, NewQueueNotifier(enq).Notify(context.Background(), n))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TaskNotify, enq.tasks[0].Type())

	var decoded shared.Notification
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &decoded))
	require.Equal(t, n, decoded)

	delivery := &recordingNotifier{}
	job := &NotifyJob{Delivery: delivery, Logger: quietLogger(), Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry())}
	require.NoError(t, job.Handle(context.Background(), enq.tasks[0]))
	require.Equal(t, []shared.Notification{n}, delivery.got)
}

func TestNotifyJobRejectsMalformedPayload(t *testing.T) {
	job := &NotifyJob{Delivery: &recordingNotifier{}}
	err := job.Handle(context.Background(), asynq.NewTask(TaskNotify, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestNotifyJobSurfacesDeliveryError(t *testing.T) {
	boom := errors.New("smtp down")
	task, err := NewNotifyTask(shared.Notification{Title: "x"})
	require.NoError(t, err)
	job := &NotifyJob{Delivery: &recordingNotifier{err: boom}, Logger: quietLogger()}
	require.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

func TestIdempotencyCleanupRetention(t *testing.T) {
	cleaner := &stubCleaner{removed: 4}
	job := &IdempotencyCleanupJob{Store: cleaner, Retention: 48 * time.Hour, Logger: quietLogger(), Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry())}

	task, err := NewIdempotencyCleanupTask(IdempotencyCleanupPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 48*time.Hour, cleaner.retention)

	task, err = NewIdempotencyCleanupTask(IdempotencyCleanupPayload{Retention: time.Hour})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, time.Hour, cleaner.retention)

	cleaner.err = errors.New("db gone")
	require.Error(t, job.Handle(context.Background(), task))
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(nil, quietLogger()).MountRoutes)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"queue":"default","pending":0,"retry":0,"archived":0}`, rr.Body.String())
}
