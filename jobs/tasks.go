// Package jobs owns the background work: the approval expiry sweep,
// audit retention pruning, and notification dispatch, all running on
// asynq.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the queue for maintenance jobs.
	QueueDefault = "default"
	// TaskApprovalSweep expires past-due pending approvals.
	TaskApprovalSweep = "approval:sweep_expired"
	// TaskAuditPrune removes audit entries past retention.
	TaskAuditPrune = "audit:prune"
	// TaskStoreMaintain checkpoints and vacuums the policy store.
	TaskStoreMaintain = "store:maintain"
)

// SweepPayload carries scheduling metadata for the expiry sweep.
type SweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewApprovalSweepTask constructs the sweep task.
func NewApprovalSweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskApprovalSweep, body, asynq.Queue(QueueDefault)), nil
}

// PrunePayload configures one retention pass.
type PrunePayload struct {
	ScheduledFor  time.Time `json:"scheduled_for"`
	RetentionDays int       `json:"retention_days"`
}

// NewAuditPruneTask constructs the retention task.
func NewAuditPruneTask(at time.Time, retentionDays int) (*asynq.Task, error) {
	body, err := json.Marshal(PrunePayload{ScheduledFor: at, RetentionDays: retentionDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditPrune, body, asynq.Queue(QueueDefault)), nil
}

// MaintainPayload carries scheduling metadata for store upkeep.
type MaintainPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewStoreMaintainTask constructs the store upkeep task.
func NewStoreMaintainTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(MaintainPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStoreMaintain, body, asynq.Queue(QueueDefault)), nil
}
