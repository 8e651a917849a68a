// Package enforce is the composition point of the security core. Every
// tool invocation passes through Invoke, which strings together RBAC,
// tier access, rate and concurrency limits, the approval gate, per-tool
// validation and sandboxed execution, with an audit event at every
// decision point.
package enforce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/toolgate/toolgate/internal/accesspolicy"
	"github.com/toolgate/toolgate/internal/approval"
	"github.com/toolgate/toolgate/internal/audit"
	"github.com/toolgate/toolgate/internal/codepolicy"
	"github.com/toolgate/toolgate/internal/pathguard"
	"github.com/toolgate/toolgate/internal/ratelimit"
	"github.com/toolgate/toolgate/internal/rbac"
	"github.com/toolgate/toolgate/internal/sandbox"
	"github.com/toolgate/toolgate/internal/shared"
)

// Denial reasons surfaced to callers. Machine-readable, never a stack
// trace.
const (
	ReasonToolNotFound       = "unknown tool"
	ReasonPermissionDenied   = "permission denied"
	ReasonApprovalRejected   = "approval rejected"
	ReasonApprovalTimeout    = "approval timed out"
	ReasonSessionTerminated  = "session terminated"
	ReasonConcurrencyLimited = "concurrency limit reached"
)

// PermissionChecker is the RBAC surface Invoke needs. *rbac.Manager
// satisfies it.
type PermissionChecker interface {
	CheckPermission(ctx context.Context, user, tool string) rbac.Decision
}

// ApprovalGate is the approval workflow surface. *approval.Service
// satisfies it.
type ApprovalGate interface {
	Request(ctx context.Context, user, role, tool string, args json.RawMessage) (approval.Request, error)
	Await(ctx context.Context, id uuid.UUID) (approval.Request, error)
}

// CodeRunner is the sandbox surface. *sandbox.Executor satisfies it.
type CodeRunner interface {
	Execute(ctx context.Context, req sandbox.Request) (sandbox.Result, error)
	RecordViolation(sessionID string) bool
}

// Auditor records decisions. *audit.Logger satisfies it.
type Auditor interface {
	Log(e audit.Entry)
}

// RoleLookup resolves a caller's current role name for approval
// records. Optional.
type RoleLookup interface {
	RoleOf(ctx context.Context, user string) string
}

// Request is one tool invocation.
type Request struct {
	Tool      string `json:"tool"`
	User      string `json:"-"`
	SessionID string `json:"session_id"`
	Args      Args   `json:"args"`
}

// Args carries the per-kind argument set. Which fields matter depends
// on the tool's kind.
type Args struct {
	Code       string `json:"code,omitempty"`
	Path       string `json:"path,omitempty"`
	Content    string `json:"content,omitempty"`
	Command    string `json:"command,omitempty"`
	URL        string `json:"url,omitempty"`
	Method     string `json:"method,omitempty"`
	Body       string `json:"body,omitempty"`
	WorkingDir string `json:"working_dir,omitempty"`
	TimeoutSec int    `json:"timeout_sec,omitempty"`
}

// Response is the structured outcome of an invocation.
type Response struct {
	Allowed       bool            `json:"allowed"`
	Result        *sandbox.Result `json:"result,omitempty"`
	Output        string          `json:"output,omitempty"`
	DenialReason  string          `json:"denial_reason,omitempty"`
	RetryAfterSec int             `json:"retry_after_seconds,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
}

// Metrics receives enforcement counters. The app wires the prometheus
// implementation; tests leave it nil.
type Metrics interface {
	PermissionCheck(allowed bool)
	RateLimited()
	ApprovalOutcome(status string)
	SandboxTimeout()
}

// Config tunes the service.
type Config struct {
	// SecurityLevel selects the code validation level.
	SecurityLevel codepolicy.Level
	// MaxOutputBytes caps file and API tool output.
	MaxOutputBytes int
}

// Service runs the enforcement pipeline.
type Service struct {
	cfg       Config
	registry  *Registry
	rbac      PermissionChecker
	access    *accesspolicy.Policy
	limiter   *ratelimit.Limiter
	approvals ApprovalGate
	guard     *pathguard.Guard
	code      *codepolicy.Validator
	runner    CodeRunner
	auditor   Auditor
	roles     RoleLookup
	metrics   Metrics
	logger    *slog.Logger
	client    apiClient
}

// NewService wires the pipeline. roles and metrics may be nil.
func NewService(
	cfg Config,
	registry *Registry,
	checker PermissionChecker,
	access *accesspolicy.Policy,
	limiter *ratelimit.Limiter,
	approvals ApprovalGate,
	guard *pathguard.Guard,
	runner CodeRunner,
	auditor Auditor,
	roles RoleLookup,
	metrics Metrics,
	logger *slog.Logger,
) *Service {
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 256 * 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:       cfg,
		registry:  registry,
		rbac:      checker,
		access:    access,
		limiter:   limiter,
		approvals: approvals,
		guard:     guard,
		code:      codepolicy.NewValidator(),
		runner:    runner,
		auditor:   auditor,
		roles:     roles,
		metrics:   metrics,
		logger:    logger,
		client:    newAPIClient(cfg.MaxOutputBytes),
	}
}

// Invoke runs one tool call through the full pipeline. The returned
// error covers infrastructure failures only; every policy outcome is a
// Response.
func (s *Service) Invoke(ctx context.Context, req Request) (Response, error) {
	user := req.User
	if user == "" {
		// Absent identity downgrades to the guest identity, it never
		// bypasses the checks below.
		user = shared.GuestIdentity
	}
	if req.SessionID == "" {
		req.SessionID = user
	}

	tool, ok := s.registry.Lookup(req.Tool)
	if !ok {
		return s.deny(user, req.Tool, ReasonToolNotFound), nil
	}

	decision := s.rbac.CheckPermission(ctx, user, tool.Name)
	if s.metrics != nil {
		s.metrics.PermissionCheck(decision.Allowed)
	}
	if !decision.Allowed {
		return s.deny(user, tool.Name, decision.Reason), nil
	}

	if access := s.access.CheckAccess(tool.Name, user); !access.Allowed {
		return s.deny(user, tool.Name, access.Reason), nil
	}

	if verdict := s.limiter.Allow(tool.Name, user); !verdict.Allowed {
		if s.metrics != nil {
			s.metrics.RateLimited()
		}
		s.record(audit.RateLimited(user, tool.Name, verdict.Reason))
		return Response{
			DenialReason:  verdict.Reason,
			RetryAfterSec: int(verdict.RetryAfter.Round(time.Second) / time.Second),
		}, nil
	}

	var requestID string
	if s.access.RequiresApproval(tool.Name) {
		id, outcome, err := s.awaitApproval(ctx, user, tool.Name, req)
		if err != nil {
			return Response{}, err
		}
		requestID = id
		if outcome != "" {
			return Response{DenialReason: outcome, RequestID: requestID}, nil
		}
	}

	// The concurrency slot is taken only once the call is cleared to
	// run. A request parked in the approval queue holds nothing.
	if verdict := s.limiter.StartExecution(tool.Name, user); !verdict.Allowed {
		if s.metrics != nil {
			s.metrics.RateLimited()
		}
		s.record(audit.RateLimited(user, tool.Name, verdict.Reason))
		return Response{DenialReason: ReasonConcurrencyLimited, RequestID: requestID}, nil
	}
	defer s.limiter.EndExecution(tool.Name, user)

	resp, err := s.execute(ctx, user, tool, req)
	if err != nil {
		return Response{}, err
	}
	resp.RequestID = requestID
	return resp, nil
}

func (s *Service) awaitApproval(ctx context.Context, user, tool string, req Request) (id, denial string, err error) {
	role := ""
	if s.roles != nil {
		role = s.roles.RoleOf(ctx, user)
	}
	args, _ := json.Marshal(req.Args)
	pending, err := s.approvals.Request(ctx, user, role, tool, args)
	if err != nil {
		return "", "", fmt.Errorf("enforce: request approval: %w", err)
	}
	final, err := s.approvals.Await(ctx, pending.ID)
	if err != nil {
		return pending.ID.String(), "", fmt.Errorf("enforce: await approval: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ApprovalOutcome(string(final.Status))
	}
	switch final.Status {
	case approval.StatusApproved:
		return pending.ID.String(), "", nil
	case approval.StatusRejected:
		return pending.ID.String(), ReasonApprovalRejected, nil
	default:
		return pending.ID.String(), ReasonApprovalTimeout, nil
	}
}

func (s *Service) execute(ctx context.Context, user string, tool Tool, req Request) (Response, error) {
	switch tool.Kind {
	case KindCode:
		return s.executeCode(ctx, user, tool.Name, req)
	case KindShell:
		return s.executeShell(ctx, user, tool.Name, req)
	case KindFile:
		return s.executeFile(ctx, user, tool.Name, req)
	case KindAPI:
		return s.executeAPI(ctx, user, tool.Name, req)
	default:
		return s.deny(user, tool.Name, ReasonToolNotFound), nil
	}
}

func (s *Service) executeCode(ctx context.Context, user, tool string, req Request) (Response, error) {
	if req.Args.Code == "" {
		return s.deny(user, tool, "missing code argument"), nil
	}
	verdict := s.code.Validate(req.Args.Code, s.cfg.SecurityLevel)
	if !verdict.Allowed {
		if terminated := s.runner.RecordViolation(req.SessionID); terminated {
			s.logger.Warn("enforce: session torn down after repeated violations",
				slog.String("session", req.SessionID),
				slog.String("user", user))
		}
		return s.deny(user, tool, verdict.Reason), nil
	}
	workDir, denied, err := s.sandboxWorkDir(user, tool, req)
	if err != nil {
		return Response{}, err
	}
	if denied != nil {
		return *denied, nil
	}
	return s.runSandbox(ctx, user, tool, sandbox.Request{
		Code:       req.Args.Code,
		SessionID:  req.SessionID,
		WorkingDir: workDir,
		Timeout:    time.Duration(req.Args.TimeoutSec) * time.Second,
	})
}

func (s *Service) executeShell(ctx context.Context, user, tool string, req Request) (Response, error) {
	if req.Args.Command == "" {
		return s.deny(user, tool, "missing command argument"), nil
	}
	workDir, denied, err := s.sandboxWorkDir(user, tool, req)
	if err != nil {
		return Response{}, err
	}
	if denied != nil {
		return *denied, nil
	}
	return s.runSandbox(ctx, user, tool, sandbox.Request{
		Code:       req.Args.Command,
		SessionID:  req.SessionID,
		WorkingDir: workDir,
		Timeout:    time.Duration(req.Args.TimeoutSec) * time.Second,
		Shell:      true,
	})
}

// sandboxWorkDir bounds a requested working directory through the path
// guard before the sandbox chdirs into it. An empty request keeps the
// sandbox's own scratch directory.
func (s *Service) sandboxWorkDir(user, tool string, req Request) (string, *Response, error) {
	if req.Args.WorkingDir == "" {
		return "", nil, nil
	}
	resolved, err := s.guard.Resolve(req.Args.WorkingDir, "")
	if err != nil {
		var violation *pathguard.ViolationError
		if errors.As(err, &violation) {
			if terminated := s.runner.RecordViolation(req.SessionID); terminated {
				s.logger.Warn("enforce: session torn down after repeated violations",
					slog.String("session", req.SessionID),
					slog.String("user", user))
			}
			denied := s.deny(user, tool, violation.Reason)
			return "", &denied, nil
		}
		return "", nil, fmt.Errorf("enforce: resolve working dir: %w", err)
	}
	return resolved, nil, nil
}

func (s *Service) runSandbox(ctx context.Context, user, tool string, sreq sandbox.Request) (Response, error) {
	start := time.Now()
	result, err := s.runner.Execute(ctx, sreq)
	if err != nil {
		s.record(audit.Errored(user, tool, err.Error(), time.Since(start)))
		return Response{DenialReason: sandboxDenial(err)}, nil
	}
	switch {
	case result.TimedOut:
		if s.metrics != nil {
			s.metrics.SandboxTimeout()
		}
		s.record(audit.ExecutionTimeout(user, tool, result.Duration))
	case result.Success:
		s.record(audit.Success(user, tool, result.Duration, nil))
	default:
		s.record(audit.Errored(user, tool, "exit code "+fmt.Sprint(result.ExitCode), result.Duration))
	}
	return Response{Allowed: true, Result: &result}, nil
}

func sandboxDenial(err error) string {
	switch {
	case errors.Is(err, sandbox.ErrSessionTerminated):
		return ReasonSessionTerminated
	case errors.Is(err, sandbox.ErrSessionLimit):
		return ReasonConcurrencyLimited
	default:
		return "execution unavailable"
	}
}

func (s *Service) deny(user, tool, reason string) Response {
	s.record(audit.Denied(user, tool, reason))
	return Response{DenialReason: reason}
}

func (s *Service) record(e audit.Entry) {
	if s.auditor != nil {
		s.auditor.Log(e)
	}
}
