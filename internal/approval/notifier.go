package approval

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// TaskTypeNotify is the asynq task type carrying workflow events to the
// dispatch worker.
const TaskTypeNotify = "notify:dispatch"

// NotifyQueue is the asynq queue notifications ride on.
const NotifyQueue = "notifications"

const (
	notifyMaxRetry = 3
	notifyTimeout  = 30 * time.Second
)

// QueueNotifier hands events to the asynq-backed dispatch worker.
// Enqueue failures are logged and swallowed; delivery trouble never
// blocks or reverses the approval decision itself.
type QueueNotifier struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewQueueNotifier constructs a QueueNotifier.
func NewQueueNotifier(client *asynq.Client, logger *slog.Logger) *QueueNotifier {
	return &QueueNotifier{client: client, logger: logger}
}

// Notify enqueues the event for asynchronous delivery.
func (n *QueueNotifier) Notify(ctx context.Context, e Event) {
	if n == nil || n.client == nil {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		if n.logger != nil {
			n.logger.Warn("encode notification", slog.Any("error", err))
		}
		return
	}
	task := asynq.NewTask(TaskTypeNotify, payload)
	_, err = n.client.EnqueueContext(ctx, task,
		asynq.Queue(NotifyQueue),
		asynq.MaxRetry(notifyMaxRetry),
		asynq.Timeout(notifyTimeout),
	)
	if err != nil {
		if n.logger != nil {
			n.logger.Warn("enqueue notification",
				slog.String("kind", string(e.Kind)),
				slog.String("request_id", e.RequestID),
				slog.Any("error", err))
		}
	}
}
