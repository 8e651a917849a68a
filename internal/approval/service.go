package approval

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/toolgate/toolgate/internal/audit"
)

// Store is the persistence surface the workflow needs. *Repository
// satisfies it; tests substitute an in-memory implementation.
type Store interface {
	Insert(ctx context.Context, r Request) error
	Get(ctx context.Context, id uuid.UUID) (Request, error)
	Resolve(ctx context.Context, id uuid.UUID, to Status, responder, reason string) error
	MarkExpired(ctx context.Context, now time.Time) ([]Request, error)
	List(ctx context.Context, status Status, limit int) ([]Request, error)
}

// Notifier delivers workflow events. Implementations are best-effort.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// Auditor records workflow decisions. *audit.Logger satisfies it.
type Auditor interface {
	Log(e audit.Entry)
}

// Config tunes the workflow.
type Config struct {
	// Timeout is how long a request stays pending before it expires.
	Timeout time.Duration
	// PollInterval is how often Await re-reads the request status.
	PollInterval time.Duration
}

// Service coordinates the approval workflow.
type Service struct {
	store    Store
	notifier Notifier
	auditor  Auditor
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the workflow service.
func NewService(store Store, notifier Notifier, auditor Auditor, cfg Config, logger *slog.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Service{
		store:    store,
		notifier: notifier,
		auditor:  auditor,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Request creates a pending approval and returns it. The caller then
// polls or blocks on Await.
func (s *Service) Request(ctx context.Context, user, role, tool string, args json.RawMessage) (Request, error) {
	r := Request{
		ID:          uuid.New(),
		UserID:      user,
		Tool:        tool,
		Role:        role,
		Args:        args,
		Status:      StatusPending,
		RequestedAt: s.now().UTC(),
	}
	r.ExpiresAt = r.RequestedAt.Add(s.cfg.Timeout)
	if err := s.store.Insert(ctx, r); err != nil {
		return Request{}, err
	}
	s.notify(ctx, Event{Kind: EventRequested, RequestID: r.ID.String(), UserID: user, Tool: tool})
	s.record(audit.ApprovalRequested(user, tool, r.ID.String()))
	return r, nil
}

// Approve transitions the request to approved. Exactly one terminal
// transition is accepted; later attempts surface AlreadyResolvedError.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, responder, reason string) error {
	return s.resolve(ctx, id, StatusApproved, responder, reason)
}

// Reject transitions the request to rejected.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, responder, reason string) error {
	return s.resolve(ctx, id, StatusRejected, responder, reason)
}

func (s *Service) resolve(ctx context.Context, id uuid.UUID, to Status, responder, reason string) error {
	if err := s.store.Resolve(ctx, id, to, responder, reason); err != nil {
		return err
	}
	r, err := s.store.Get(ctx, id)
	if err != nil {
		// The transition itself committed; losing the read does not undo it.
		r = Request{ID: id}
	}
	kind := EventApproved
	if to == StatusRejected {
		kind = EventRejected
	}
	s.notify(ctx, Event{Kind: kind, RequestID: id.String(), UserID: r.UserID, Tool: r.Tool, Responder: responder, Reason: reason})
	if to == StatusApproved {
		s.record(audit.ApprovalGranted(responder, r.Tool, id.String()))
	} else {
		s.record(audit.ApprovalRejected(responder, r.Tool, id.String()))
	}
	return nil
}

// Get fetches one request.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Request, error) {
	return s.store.Get(ctx, id)
}

// List returns requests for the admin surface.
func (s *Service) List(ctx context.Context, status Status, limit int) ([]Request, error) {
	return s.store.List(ctx, status, limit)
}

// Await blocks in a bounded poll loop until the request reaches a
// terminal state or its expiry passes. The expiry transition itself is
// owned by the sweep; Await merely observes it.
func (s *Service) Await(ctx context.Context, id uuid.UUID) (Request, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if r.Status.Terminal() {
		return r, nil
	}

	deadline := r.ExpiresAt.Add(s.cfg.PollInterval)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return r, ctx.Err()
		case <-ticker.C:
			r, err = s.store.Get(ctx, id)
			if err != nil {
				return Request{}, err
			}
			if r.Status.Terminal() {
				return r, nil
			}
			if s.now().After(deadline) {
				// Get reports past-due pending rows as expired, so this
				// only fires if clocks disagree badly.
				r.Status = StatusExpired
				return r, nil
			}
		}
	}
}

// SweepExpired transitions every past-due pending request to expired and
// emits timeout notifications and audit entries. Run periodically by the
// worker so the deadline transition happens even with no waiter attached.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.store.MarkExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	for _, r := range expired {
		s.notify(ctx, Event{Kind: EventTimeout, RequestID: r.ID.String(), UserID: r.UserID, Tool: r.Tool})
		s.record(audit.ApprovalTimeout(r.UserID, r.Tool, r.ID.String()))
	}
	return len(expired), nil
}

func (s *Service) notify(ctx context.Context, e Event) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, e)
}

func (s *Service) record(e audit.Entry) {
	if s.auditor != nil {
		s.auditor.Log(e)
	}
}

// IsAlreadyResolved reports whether err is a lost resolution race and
// returns the status that won.
func IsAlreadyResolved(err error) (Status, bool) {
	var resolved *AlreadyResolvedError
	if errors.As(err, &resolved) {
		return resolved.Status, true
	}
	return "", false
}
