package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/campusledger/campusledger/internal/jobs"
	"github.com/campusledger/campusledger/internal/shared"
)

// Enqueuer is the subset of the asynq client the notifier needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueNotifier hands notifications to the worker instead of delivering inline.
type QueueNotifier struct {
	client Enqueuer
}

// NewQueueNotifier constructs a QueueNotifier.
func NewQueueNotifier(client Enqueuer) *QueueNotifier {
	return &QueueNotifier{client: client}
}

// Notify implements shared.Notifier.
func (q *QueueNotifier) Notify(ctx context.Context, n shared.Notification) error {
	task, err := NewNotifyTask(n)
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}

// NotifyJob delivers queued notifications.
type NotifyJob struct {
	Delivery shared.Notifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// Handle processes TaskNotify tasks.
func (j *NotifyJob) Handle(ctx context.Context, t *asynq.Task) error {
	var n shared.Notification
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		return asynq.SkipRetry
	}
	if n.Variant == "" {
		n.Variant = shared.VariantDefault
	}
	tracker := j.Metrics.Track("notify")
	err := j.Delivery.Notify(ctx, n)
	if err != nil && j.Logger != nil {
		j.Logger.Error("deliver notification", slog.String("title", n.Title), slog.Any("error", err))
	}
	if err == nil {
		j.Metrics.AddItems("notify", 1)
	}
	return tracker.End(err)
}
