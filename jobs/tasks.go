package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/campusledger/campusledger/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskNotify delivers an operator notification.
	TaskNotify = "notify:send"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// IdempotencyCleanupPayload overrides the configured retention when set.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention,omitempty"`
}

// NewNotifyTask constructs a notification task.
func NewNotifyTask(n shared.Notification) (*asynq.Task, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotify, data, asynq.MaxRetry(3)), nil
}

// NewIdempotencyCleanupTask constructs the retention task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
