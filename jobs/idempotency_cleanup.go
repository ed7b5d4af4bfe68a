package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/campusledger/campusledger/internal/jobs"
)

// KeyCleaner removes idempotency keys older than a cutoff.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob purges claimed keys past retention.
type IdempotencyCleanupJob struct {
	Store     KeyCleaner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload IdempotencyCleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	retention := j.Retention
	if payload.Retention > 0 {
		retention = payload.Retention
	}
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}

	tracker := j.Metrics.Track("idempotency_cleanup")
	removed, err := j.Store.Cleanup(ctx, retention)
	if err != nil {
		if j.Logger != nil {
			j.Logger.Error("idempotency cleanup", slog.Any("error", err))
		}
		return tracker.End(err)
	}
	j.Metrics.AddItems("idempotency_cleanup", removed)
	if j.Logger != nil {
		j.Logger.Info("idempotency cleanup", slog.Int64("removed", removed), slog.Duration("retention", retention))
	}
	return tracker.End(nil)
}
