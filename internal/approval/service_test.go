package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/internal/audit"
)

// memStore reproduces the repository's conditional-update semantics in
// memory, including first-terminal-write-wins.
type memStore struct {
	mu       sync.Mutex
	requests map[uuid.UUID]Request
	now      func() time.Time
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{requests: make(map[uuid.UUID]Request), now: now}
}

func (m *memStore) Insert(ctx context.Context, r Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = r
	return nil
}

func (m *memStore) Get(ctx context.Context, id uuid.UUID) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	if r.Status == StatusPending && m.now().After(r.ExpiresAt) {
		r.Status = StatusExpired
	}
	return r, nil
}

func (m *memStore) Resolve(ctx context.Context, id uuid.UUID, to Status, responder, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status != StatusPending || !m.now().Before(r.ExpiresAt) {
		status := r.Status
		if status == StatusPending {
			status = StatusExpired
		}
		return &AlreadyResolvedError{Status: status}
	}
	now := m.now()
	r.Status = to
	r.Responder = responder
	r.Reason = reason
	r.RespondedAt = &now
	m.requests[id] = r
	return nil
}

func (m *memStore) MarkExpired(ctx context.Context, now time.Time) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []Request
	for id, r := range m.requests {
		if r.Status == StatusPending && !r.ExpiresAt.After(now) {
			r.Status = StatusExpired
			respondedAt := now
			r.RespondedAt = &respondedAt
			m.requests[id] = r
			expired = append(expired, r)
		}
	}
	return expired, nil
}

func (m *memStore) List(ctx context.Context, status Status, limit int) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, r := range m.requests {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

type captureNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *captureNotifier) Notify(ctx context.Context, e Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *captureNotifier) kinds() []EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]EventKind, len(n.events))
	for i, e := range n.events {
		out[i] = e.Kind
	}
	return out
}

type captureAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *captureAuditor) Log(e audit.Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

type fixture struct {
	svc      *Service
	store    *memStore
	notifier *captureNotifier
	auditor  *captureAuditor
	now      time.Time
	mu       sync.Mutex
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		notifier: &captureNotifier{},
		auditor:  &captureAuditor{},
		now:      time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.now
	}
	f.store = newMemStore(clock)
	f.svc = NewService(f.store, f.notifier, f.auditor, cfg, nil)
	f.svc.now = clock
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestRequestCreatesPendingWithExpiry(t *testing.T) {
	f := newFixture(t, Config{Timeout: 10 * time.Minute})

	r, err := f.svc.Request(context.Background(), "dev", "developer", "run_shell", []byte(`{"cmd":"ls"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, r.Status)
	assert.Equal(t, r.RequestedAt.Add(10*time.Minute), r.ExpiresAt)
	assert.Equal(t, []EventKind{EventRequested}, f.notifier.kinds())

	require.Len(t, f.auditor.entries, 1)
	assert.Equal(t, audit.StatusPending, f.auditor.entries[0].Status)
}

func TestApproveIsTerminalAndOneWay(t *testing.T) {
	f := newFixture(t, Config{Timeout: 10 * time.Minute})
	r, err := f.svc.Request(context.Background(), "dev", "developer", "run_shell", nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.Approve(context.Background(), r.ID, "admin", "ok"))

	got, err := f.svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
	assert.Equal(t, "admin", got.Responder)

	// A second resolution of either kind loses.
	err = f.svc.Reject(context.Background(), r.ID, "admin2", "no")
	status, ok := IsAlreadyResolved(err)
	require.True(t, ok)
	assert.Equal(t, StatusApproved, status)

	err = f.svc.Approve(context.Background(), r.ID, "admin2", "again")
	_, ok = IsAlreadyResolved(err)
	assert.True(t, ok)

	// The stored record is untouched by the losing attempts.
	got, err = f.svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, "admin", got.Responder)
	assert.Equal(t, "ok", got.Reason)
}

func TestConcurrentResolutionExactlyOneWins(t *testing.T) {
	f := newFixture(t, Config{Timeout: 10 * time.Minute})
	r, err := f.svc.Request(context.Background(), "dev", "developer", "run_shell", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0] = f.svc.Approve(context.Background(), r.ID, "admin-a", "yes")
	}()
	go func() {
		defer wg.Done()
		results[1] = f.svc.Reject(context.Background(), r.ID, "admin-b", "no")
	}()
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			_, ok := IsAlreadyResolved(err)
			assert.True(t, ok, "loser must observe already-resolved, got %v", err)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestExpiryVisibleOnReadBeforeSweep(t *testing.T) {
	f := newFixture(t, Config{Timeout: time.Minute})
	r, err := f.svc.Request(context.Background(), "dev", "developer", "run_shell", nil)
	require.NoError(t, err)

	f.advance(2 * time.Minute)

	got, err := f.svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)

	// Approving a past-due request fails as expired.
	err = f.svc.Approve(context.Background(), r.ID, "admin", "late")
	status, ok := IsAlreadyResolved(err)
	require.True(t, ok)
	assert.Equal(t, StatusExpired, status)
}

func TestSweepExpiresAndNotifies(t *testing.T) {
	f := newFixture(t, Config{Timeout: time.Minute})
	_, err := f.svc.Request(context.Background(), "dev", "developer", "run_shell", nil)
	require.NoError(t, err)
	_, err = f.svc.Request(context.Background(), "ops", "operator", "delete_file", nil)
	require.NoError(t, err)

	f.advance(2 * time.Minute)

	n, err := f.svc.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	kinds := f.notifier.kinds()
	timeouts := 0
	for _, k := range kinds {
		if k == EventTimeout {
			timeouts++
		}
	}
	assert.Equal(t, 2, timeouts)

	// Sweep is idempotent.
	n, err = f.svc.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAwaitReturnsOnApproval(t *testing.T) {
	f := newFixture(t, Config{Timeout: time.Minute, PollInterval: 5 * time.Millisecond})
	r, err := f.svc.Request(context.Background(), "dev", "developer", "run_shell", nil)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = f.svc.Approve(context.Background(), r.ID, "admin", "ok")
	}()

	got, err := f.svc.Await(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
}

func TestAwaitObservesExpiry(t *testing.T) {
	f := newFixture(t, Config{Timeout: time.Minute, PollInterval: 5 * time.Millisecond})
	r, err := f.svc.Request(context.Background(), "dev", "developer", "run_shell", nil)
	require.NoError(t, err)

	go func() {
		time.Sleep(15 * time.Millisecond)
		f.advance(2 * time.Minute)
	}()

	got, err := f.svc.Await(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)
}

func TestAwaitHonorsContextCancellation(t *testing.T) {
	f := newFixture(t, Config{Timeout: time.Hour, PollInterval: 5 * time.Millisecond})
	r, err := f.svc.Request(context.Background(), "dev", "developer", "run_shell", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = f.svc.Await(ctx, r.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNotifierFailureNeverBlocksDecision(t *testing.T) {
	f := newFixture(t, Config{Timeout: time.Minute})
	f.svc.notifier = nil // no notifier wired at all

	r, err := f.svc.Request(context.Background(), "dev", "developer", "run_shell", nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.Approve(context.Background(), r.ID, "admin", "ok"))

	got, err := f.svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
}
