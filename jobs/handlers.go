package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	"github.com/toolgate/toolgate/internal/approval"
)

// Sweeper expires past-due approvals. *approval.Service satisfies it.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// Pruner removes aged audit entries. *audit.Repository satisfies it.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// Maintainer performs policy-store upkeep. *db.Maintenance satisfies it.
type Maintainer interface {
	Checkpoint(ctx context.Context) error
	Vacuum(ctx context.Context, tables ...string) error
	IntegrityCheck(ctx context.Context) error
}

// Handlers binds the task types to their dependencies.
type Handlers struct {
	Approvals     Sweeper
	Audit         Pruner
	Store         Maintainer
	Lock          *Lock
	WebhookURL    string
	RetentionDays int
	Logger        *slog.Logger

	httpClient *http.Client
}

// HandleApprovalSweep expires past-due pending approvals. The redis
// lease keeps multiple workers from sweeping at once; a failed lease
// read just lets the sweep run anyway.
func (h *Handlers) HandleApprovalSweep(ctx context.Context, t *asynq.Task) error {
	var payload SweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if h.Lock != nil {
		ok, err := h.Lock.Acquire(ctx, TaskApprovalSweep, time.Minute)
		if err != nil {
			h.Logger.Warn("jobs: sweep lock unavailable, sweeping anyway", slog.Any("error", err))
		} else if !ok {
			return nil
		} else {
			defer func() { _ = h.Lock.Release(ctx, TaskApprovalSweep) }()
		}
	}
	n, err := h.Approvals.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("jobs: sweep expired approvals: %w", err)
	}
	if n > 0 {
		h.Logger.Info("jobs: expired approvals swept", slog.Int("count", n))
	}
	return nil
}

// HandleAuditPrune removes audit entries older than the retention
// window.
func (h *Handlers) HandleAuditPrune(ctx context.Context, t *asynq.Task) error {
	var payload PrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	days := payload.RetentionDays
	if days <= 0 {
		days = h.RetentionDays
	}
	if days <= 0 {
		return asynq.SkipRetry
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	removed, err := h.Audit.Prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("jobs: prune audit log: %w", err)
	}
	if removed > 0 {
		h.Logger.Info("jobs: audit entries pruned",
			slog.Int64("removed", removed),
			slog.Time("cutoff", cutoff))
	}
	return nil
}

// HandleStoreMaintain checkpoints the write-ahead log, vacuums the
// high-churn tables, and verifies the core tables still answer. Held
// leases skip the run the same way the sweep does.
func (h *Handlers) HandleStoreMaintain(ctx context.Context, t *asynq.Task) error {
	var payload MaintainPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if h.Store == nil {
		return asynq.SkipRetry
	}
	if h.Lock != nil {
		ok, err := h.Lock.Acquire(ctx, TaskStoreMaintain, 5*time.Minute)
		if err != nil {
			h.Logger.Warn("jobs: maintain lock unavailable, running anyway", slog.Any("error", err))
		} else if !ok {
			return nil
		} else {
			defer func() { _ = h.Lock.Release(ctx, TaskStoreMaintain) }()
		}
	}
	if err := h.Store.Checkpoint(ctx); err != nil {
		return fmt.Errorf("jobs: store maintain: %w", err)
	}
	if err := h.Store.Vacuum(ctx, "audit_logs", "approval_requests"); err != nil {
		return fmt.Errorf("jobs: store maintain: %w", err)
	}
	if err := h.Store.IntegrityCheck(ctx); err != nil {
		return fmt.Errorf("jobs: store maintain: %w", err)
	}
	h.Logger.Info("jobs: store maintenance complete")
	return nil
}

// HandleNotifyDispatch delivers one approval event. Without a webhook
// configured the event is logged and considered delivered. Delivery
// failures return an error so asynq retries up to the task's MaxRetry.
func (h *Handlers) HandleNotifyDispatch(ctx context.Context, t *asynq.Task) error {
	var event approval.Event
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		return asynq.SkipRetry
	}
	if h.WebhookURL == "" {
		h.Logger.Info("jobs: approval notification",
			slog.String("kind", string(event.Kind)),
			slog.String("request_id", event.RequestID),
			slog.String("user", event.UserID),
			slog.String("tool", event.Tool))
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return asynq.SkipRetry
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return asynq.SkipRetry
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client().Do(req)
	if err != nil {
		return fmt.Errorf("jobs: deliver notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("jobs: deliver notification: status %d", resp.StatusCode)
	}
	return nil
}

func (h *Handlers) client() *http.Client {
	if h.httpClient == nil {
		h.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return h.httpClient
}
