package sandbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newProcessExecutor returns an executor pinned to process isolation.
// The shell stands in for the interpreter since both take -c.
func newProcessExecutor(t *testing.T, cfg Config) *Executor {
	t.Helper()
	cfg.Interpreter = "sh"
	e := NewExecutor(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	return e
}

func TestExecuteCapturesStdout(t *testing.T) {
	e := newProcessExecutor(t, Config{})

	res, err := e.Execute(context.Background(), Request{Code: "echo 4", SessionID: "s1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "4\n", res.Stdout)
	assert.Equal(t, IsolationProcess, res.Isolation)
	assert.False(t, res.TimedOut)
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestExecuteReportsExitCodeAndStderr(t *testing.T) {
	e := newProcessExecutor(t, Config{})

	res, err := e.Execute(context.Background(), Request{Code: "echo oops >&2; exit 3", SessionID: "s1"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "oops\n", res.Stderr)
}

func TestExecuteKillsOnTimeout(t *testing.T) {
	e := newProcessExecutor(t, Config{})

	start := time.Now()
	res, err := e.Execute(context.Background(), Request{
		Code:      "sleep 30",
		SessionID: "s1",
		Timeout:   150 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.False(t, res.Success)
	assert.Equal(t, timeoutExitCode, res.ExitCode)
	assert.Less(t, time.Since(start), 5*time.Second, "kill must not wait for the sleep")
}

func TestExecuteTruncatesOutput(t *testing.T) {
	e := newProcessExecutor(t, Config{MaxOutputBytes: 64})

	code := `i=0; while [ $i -lt 100 ]; do printf xxxxxxxxxx; i=$((i+1)); done`
	res, err := e.Execute(context.Background(), Request{Code: code, SessionID: "s1"})
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.True(t, strings.HasSuffix(res.Stdout, truncationMarker))
	assert.LessOrEqual(t, len(res.Stdout), 64+len(truncationMarker))
}

func TestExecuteScrubsEnvironment(t *testing.T) {
	t.Setenv("TOOLGATE_TEST_SECRET", "hunter2")
	e := newProcessExecutor(t, Config{})

	res, err := e.Execute(context.Background(), Request{
		Code:      `printf "%s" "$TOOLGATE_TEST_SECRET"`,
		SessionID: "s1",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Stdout, "inherited environment must not leak into the run")
}

func TestRepeatedTimeoutsTerminateSession(t *testing.T) {
	e := newProcessExecutor(t, Config{MaxViolations: 1})

	res, err := e.Execute(context.Background(), Request{
		Code:      "sleep 30",
		SessionID: "s1",
		Timeout:   100 * time.Millisecond,
	})
	require.NoError(t, err)
	require.True(t, res.TimedOut)

	_, err = e.Execute(context.Background(), Request{Code: "echo hi", SessionID: "s1"})
	assert.ErrorIs(t, err, ErrSessionTerminated)

	// Other sessions are unaffected.
	res, err = e.Execute(context.Background(), Request{Code: "echo hi", SessionID: "s2"})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestEndSessionResetsCounters(t *testing.T) {
	e := newProcessExecutor(t, Config{MaxViolations: 1})
	require.True(t, e.RecordViolation("s1"))
	_, err := e.Execute(context.Background(), Request{Code: "echo hi", SessionID: "s1"})
	require.ErrorIs(t, err, ErrSessionTerminated)

	e.EndSession("s1")
	res, err := e.Execute(context.Background(), Request{Code: "echo hi", SessionID: "s1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestExecuteRejectsEmptyInput(t *testing.T) {
	e := newProcessExecutor(t, Config{})

	_, err := e.Execute(context.Background(), Request{SessionID: "s1"})
	assert.Error(t, err)

	_, err = e.Execute(context.Background(), Request{Code: "echo hi"})
	assert.Error(t, err)
}

func TestShellRequestsRunUnderShellInterpreter(t *testing.T) {
	// Default config: the code interpreter stays python3, shell requests
	// pick the shell interpreter instead.
	e := NewExecutor(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	res, err := e.Execute(context.Background(), Request{
		Code:      "echo hello && printf done",
		SessionID: "s1",
		Shell:     true,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\ndone", res.Stdout)
}

func TestShellRequestsHonorWorkingDir(t *testing.T) {
	e := newProcessExecutor(t, Config{})

	dir := t.TempDir()
	res, err := e.Execute(context.Background(), Request{
		Code:       "pwd",
		SessionID:  "s1",
		WorkingDir: dir,
		Shell:      true,
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, dir+"\n", res.Stdout)
}

func TestSessionConcurrencyLimit(t *testing.T) {
	r := newSessionRegistry(2, 3)

	require.NoError(t, r.acquire("s1"))
	require.NoError(t, r.acquire("s1"))
	assert.ErrorIs(t, r.acquire("s1"), ErrSessionLimit)

	r.release("s1")
	assert.NoError(t, r.acquire("s1"))

	// Independent sessions have their own budget.
	assert.NoError(t, r.acquire("s2"))
}

func TestContainerArgsHardenTheRun(t *testing.T) {
	e := NewExecutor(Config{MemoryMB: 128, PidsLimit: 32, CPUs: 0.5}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	args := e.containerArgs(Request{Code: "print(1)"})
	for _, want := range []string{
		"--rm",
		"--read-only",
		"--cap-drop=ALL",
		"--security-opt=no-new-privileges",
		"--network=none",
		"--memory=128m",
		"--pids-limit=32",
		"--cpus=0.5",
	} {
		assert.Contains(t, args, want)
	}
	assert.Equal(t, "print(1)", args[len(args)-1])
}

func TestContainerArgsSelectInterpreterByMode(t *testing.T) {
	e := NewExecutor(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	args := e.containerArgs(Request{Code: "print(1)"})
	assert.Equal(t, []string{"python3", "-c", "print(1)"}, args[len(args)-3:])

	args = e.containerArgs(Request{Code: "echo hi", Shell: true})
	assert.Equal(t, []string{"sh", "-c", "echo hi"}, args[len(args)-3:])
}

func TestCappedBufferMarksTruncation(t *testing.T) {
	b := newCappedBuffer(10)
	n, err := b.Write([]byte("0123456789abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 16, n, "writes never report short to the child")
	assert.True(t, b.Truncated())
	assert.Equal(t, "0123456789"+truncationMarker, b.String())

	small := newCappedBuffer(10)
	_, _ = small.Write([]byte("hi"))
	assert.False(t, small.Truncated())
	assert.Equal(t, "hi", small.String())
}
