// Package sandbox runs already-validated code under resource limits.
// The preferred isolation is a disposable hardened container; when the
// container runtime is unavailable it falls back to a plain process
// with a scrubbed environment.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// IsolationKind names the mechanism a call ran under.
type IsolationKind string

const (
	IsolationContainer IsolationKind = "container"
	IsolationProcess   IsolationKind = "process"
)

// Exit code reported when the wall-clock timeout kills the run.
const timeoutExitCode = 124

// Config tunes the executor.
type Config struct {
	// Interpreter executes submitted code via its -c flag.
	Interpreter string
	// ShellInterpreter executes shell requests via its -c flag.
	ShellInterpreter string
	// Image is the container image used for container isolation.
	Image string
	// MemoryMB caps the container's memory.
	MemoryMB int
	// CPUs caps the container's CPU share.
	CPUs float64
	// PidsLimit caps the container's process count.
	PidsLimit int
	// MaxOutputBytes caps captured stdout and stderr, each.
	MaxOutputBytes int
	// DefaultTimeout applies when the request carries none.
	DefaultTimeout time.Duration
	// MaxTimeout is the hard ceiling on any requested timeout.
	MaxTimeout time.Duration
	// MaxSessionConcurrent caps simultaneous runs per session.
	MaxSessionConcurrent int
	// MaxViolations tears a session down once exceeded.
	MaxViolations int
	// ProcessOnly skips the container runtime probe and always runs in
	// a plain process.
	ProcessOnly bool
}

func (c *Config) defaults() {
	if c.Interpreter == "" {
		c.Interpreter = "python3"
	}
	if c.ShellInterpreter == "" {
		c.ShellInterpreter = "sh"
	}
	if c.Image == "" {
		c.Image = "python:3.12-alpine"
	}
	if c.MemoryMB <= 0 {
		c.MemoryMB = 256
	}
	if c.CPUs <= 0 {
		c.CPUs = 1
	}
	if c.PidsLimit <= 0 {
		c.PidsLimit = 64
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = 64 * 1024
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.MaxTimeout <= 0 {
		c.MaxTimeout = 5 * time.Minute
	}
	if c.MaxSessionConcurrent <= 0 {
		c.MaxSessionConcurrent = 2
	}
	if c.MaxViolations <= 0 {
		c.MaxViolations = 3
	}
}

// Request is one execution. Shell selects the shell interpreter
// instead of the code interpreter; the resource limits are identical.
type Request struct {
	Code       string
	SessionID  string
	WorkingDir string
	Timeout    time.Duration
	Shell      bool
}

// Result is the outcome of one execution. Timeouts and truncation are
// results, not errors.
type Result struct {
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	ExitCode  int           `json:"exit_code"`
	Success   bool          `json:"success"`
	Isolation IsolationKind `json:"isolation"`
	Duration  time.Duration `json:"duration"`
	TimedOut  bool          `json:"timed_out"`
	Truncated bool          `json:"truncated"`
}

// Executor runs code for sessions.
type Executor struct {
	cfg      Config
	logger   *slog.Logger
	sessions *sessionRegistry

	// lookPath is swapped in tests to force an isolation kind.
	lookPath func(string) (string, error)
}

// NewExecutor constructs an executor. Docker availability is probed per
// call so a runtime installed later is picked up without a restart.
func NewExecutor(cfg Config, logger *slog.Logger) *Executor {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:      cfg,
		logger:   logger,
		sessions: newSessionRegistry(cfg.MaxSessionConcurrent, cfg.MaxViolations),
		lookPath: exec.LookPath,
	}
}

// Execute runs req.Code and reports what happened. The returned error
// covers executor-level failures only; a failing or timed-out run is a
// Result with Success=false.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	if req.Code == "" {
		return Result{}, errors.New("sandbox: empty code")
	}
	if req.SessionID == "" {
		return Result{}, errors.New("sandbox: missing session id")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	if timeout > e.cfg.MaxTimeout {
		timeout = e.cfg.MaxTimeout
	}

	if err := e.sessions.acquire(req.SessionID); err != nil {
		return Result{}, err
	}
	defer e.sessions.release(req.SessionID)

	isolation := IsolationProcess
	if !e.cfg.ProcessOnly {
		if _, err := e.lookPath("docker"); err == nil {
			isolation = IsolationContainer
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		res Result
		err error
	)
	switch isolation {
	case IsolationContainer:
		res, err = e.runContainer(runCtx, req)
	default:
		res, err = e.runProcess(runCtx, req)
	}
	if err != nil {
		return Result{}, err
	}
	res.Isolation = isolation

	if res.TimedOut {
		e.logger.Warn("sandbox: execution timed out",
			slog.String("session", req.SessionID),
			slog.Duration("timeout", timeout))
		e.sessions.recordViolation(req.SessionID)
	}
	return res, nil
}

// RecordViolation charges a policy violation against a session and
// reports whether the session has been torn down as a result.
func (e *Executor) RecordViolation(sessionID string) bool {
	return e.sessions.recordViolation(sessionID)
}

// EndSession forgets a session's counters.
func (e *Executor) EndSession(sessionID string) {
	e.sessions.remove(sessionID)
}

func (e *Executor) collect(runCtx context.Context, cmd *exec.Cmd) Result {
	stdout := newCappedBuffer(e.cfg.MaxOutputBytes)
	stderr := newCappedBuffer(e.cfg.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	dur := time.Since(start)

	res := Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Duration:  dur,
		Truncated: stdout.Truncated() || stderr.Truncated(),
	}

	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	switch {
	case timedOut:
		res.TimedOut = true
		res.ExitCode = timeoutExitCode
	case err == nil:
		res.Success = true
	default:
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			res.ExitCode = exit.ExitCode()
		} else {
			res.ExitCode = -1
			if res.Stderr == "" {
				res.Stderr = err.Error()
			}
		}
	}
	return res
}

func scrubbedEnv(tmpDir string) []string {
	return []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + tmpDir,
		"TMPDIR=" + tmpDir,
		"LANG=C.UTF-8",
	}
}

func (e *Executor) runProcess(ctx context.Context, req Request) (Result, error) {
	tmpDir, err := os.MkdirTemp("", "toolgate-run-*")
	if err != nil {
		return Result{}, fmt.Errorf("sandbox: temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	cmd := exec.CommandContext(ctx, e.interpreter(req), "-c", req.Code)
	cmd.Env = scrubbedEnv(tmpDir)
	cmd.Dir = tmpDir
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	setProcessGroup(cmd)

	return e.collect(ctx, cmd), nil
}

func (e *Executor) runContainer(ctx context.Context, req Request) (Result, error) {
	cmd := exec.CommandContext(ctx, "docker", e.containerArgs(req)...)
	setProcessGroup(cmd)
	return e.collect(ctx, cmd), nil
}

func (e *Executor) containerArgs(req Request) []string {
	return []string{
		"run", "--rm",
		"--read-only",
		"--cap-drop=ALL",
		"--security-opt=no-new-privileges",
		"--network=none",
		fmt.Sprintf("--memory=%dm", e.cfg.MemoryMB),
		fmt.Sprintf("--pids-limit=%d", e.cfg.PidsLimit),
		fmt.Sprintf("--cpus=%g", e.cfg.CPUs),
		"--tmpfs=/tmp:rw,noexec,nosuid,size=64m",
		"-u", "nobody",
		"-w", "/tmp",
		e.cfg.Image,
		e.interpreter(req), "-c", req.Code,
	}
}

func (e *Executor) interpreter(req Request) string {
	if req.Shell {
		return e.cfg.ShellInterpreter
	}
	return e.cfg.Interpreter
}
