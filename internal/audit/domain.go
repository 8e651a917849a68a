package audit

import (
	"encoding/json"
	"time"
)

// Status enumerates the terminal classification of an audited decision.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusDenied   Status = "denied"
	StatusError    Status = "error"
	StatusTimeout  Status = "timeout"
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Entry is one append-only audit record. Entries are never updated after
// insert; retention pruning is the only delete path.
type Entry struct {
	ID         int64
	At         time.Time
	UserID     string
	Tool       string
	Action     string
	Status     Status
	Error  string
	// DurationMS is meaningful only when HasDuration is set. A measured
	// zero and an absent measurement are different records.
	DurationMS  int64
	HasDuration bool
	Payload     json.RawMessage
}

// Canonical entry shapes. Every enforcement decision maps to exactly one
// of these, so the log stays queryable by shape.

// Denied records a refusal with its machine-readable reason.
func Denied(user, tool, reason string) Entry {
	return Entry{UserID: user, Tool: tool, Action: "invoke", Status: StatusDenied, Error: reason}
}

// Success records a completed execution with its duration.
func Success(user, tool string, duration time.Duration, payload json.RawMessage) Entry {
	return Entry{UserID: user, Tool: tool, Action: "invoke", Status: StatusSuccess, DurationMS: duration.Milliseconds(), HasDuration: true, Payload: payload}
}

// RateLimited records a throttled invocation.
func RateLimited(user, tool, reason string) Entry {
	return Entry{UserID: user, Tool: tool, Action: "invoke", Status: StatusDenied, Error: reason}
}

// Errored records an execution that failed for non-policy reasons.
func Errored(user, tool, message string, duration time.Duration) Entry {
	return Entry{UserID: user, Tool: tool, Action: "invoke", Status: StatusError, Error: message, DurationMS: duration.Milliseconds(), HasDuration: true}
}

// ExecutionTimeout records a sandbox run killed at its deadline.
func ExecutionTimeout(user, tool string, duration time.Duration) Entry {
	return Entry{UserID: user, Tool: tool, Action: "invoke", Status: StatusTimeout, DurationMS: duration.Milliseconds(), HasDuration: true}
}

// ApprovalRequested records the creation of a pending approval.
func ApprovalRequested(user, tool, requestID string) Entry {
	return Entry{UserID: user, Tool: tool, Action: "approval:" + requestID, Status: StatusPending}
}

// ApprovalGranted records a granted approval.
func ApprovalGranted(responder, tool, requestID string) Entry {
	return Entry{UserID: responder, Tool: tool, Action: "approval:" + requestID, Status: StatusApproved}
}

// ApprovalRejected records a rejected approval.
func ApprovalRejected(responder, tool, requestID string) Entry {
	return Entry{UserID: responder, Tool: tool, Action: "approval:" + requestID, Status: StatusRejected}
}

// ApprovalTimeout records an approval that expired unanswered.
func ApprovalTimeout(user, tool, requestID string) Entry {
	return Entry{UserID: user, Tool: tool, Action: "approval:" + requestID, Status: StatusTimeout}
}
