package shared

import (
	"context"
	"log/slog"
)

// Variant selects how a notification is presented.
type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

// Notification is a fire-and-forget operator message.
type Notification struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Variant     Variant `json:"variant"`
}

// Notifier delivers notifications. Callers log failures and move on.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(ctx context.Context, msg Notification) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if msg.Variant == VariantDestructive {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "notification", slog.String("title", msg.Title), slog.String("description", msg.Description))
	return nil
}
