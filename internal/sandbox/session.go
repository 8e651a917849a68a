package sandbox

import (
	"errors"
	"sync"
)

var (
	// ErrSessionLimit means the session already runs its maximum of
	// concurrent executions.
	ErrSessionLimit = errors.New("sandbox: session concurrency limit reached")
	// ErrSessionTerminated means the session exceeded its violation
	// budget and was torn down.
	ErrSessionTerminated = errors.New("sandbox: session terminated after repeated violations")
)

type session struct {
	running    int
	violations int
	terminated bool
}

// sessionRegistry tracks per-session execution and violation counts.
type sessionRegistry struct {
	mu            sync.Mutex
	sessions      map[string]*session
	maxConcurrent int
	maxViolations int
}

func newSessionRegistry(maxConcurrent, maxViolations int) *sessionRegistry {
	return &sessionRegistry{
		sessions:      make(map[string]*session),
		maxConcurrent: maxConcurrent,
		maxViolations: maxViolations,
	}
}

func (r *sessionRegistry) acquire(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		s = &session{}
		r.sessions[id] = s
	}
	if s.terminated {
		return ErrSessionTerminated
	}
	if s.running >= r.maxConcurrent {
		return ErrSessionLimit
	}
	s.running++
	return nil
}

func (r *sessionRegistry) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok && s.running > 0 {
		s.running--
	}
}

// recordViolation increments the session's violation count and reports
// whether the session crossed its budget and is now terminated.
func (r *sessionRegistry) recordViolation(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		s = &session{}
		r.sessions[id] = s
	}
	s.violations++
	if s.violations >= r.maxViolations {
		s.terminated = true
	}
	return s.terminated
}

func (r *sessionRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}
