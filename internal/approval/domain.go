// Package approval implements the human sign-off workflow for tools whose
// tier requires it: pending requests, one-way terminal transitions, a
// bounded await loop, and an expiry sweep.
package approval

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status enumerates request states. pending is the only non-terminal one;
// transitions out of it are one-way and first-write-wins.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Terminal reports whether the status accepts no further transitions.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// Request is one approval record.
type Request struct {
	ID          uuid.UUID
	UserID      string
	Tool        string
	Role        string // role held at request time
	Args        json.RawMessage
	Status      Status
	RequestedAt time.Time
	ExpiresAt   time.Time
	Responder   string
	Reason      string
	RespondedAt *time.Time
}

// ErrNotFound indicates the request id is unknown.
var ErrNotFound = errors.New("approval: request not found")

// AlreadyResolvedError reports a lost race: the request had already
// reached a terminal status when the caller tried to resolve it.
type AlreadyResolvedError struct {
	Status Status
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("approval: request already %s", e.Status)
}

// EventKind classifies notification events.
type EventKind string

const (
	EventRequested EventKind = "requested"
	EventApproved  EventKind = "approved"
	EventRejected  EventKind = "rejected"
	EventTimeout   EventKind = "timeout"
)

// Event is a notification emitted by the workflow. Delivery is
// best-effort and never blocks or reverses the decision it describes.
type Event struct {
	Kind      EventKind `json:"kind"`
	RequestID string    `json:"request_id"`
	UserID    string    `json:"user_id"`
	Tool      string    `json:"tool"`
	Responder string    `json:"responder,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}
