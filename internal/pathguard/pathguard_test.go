package pathguard

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard(t *testing.T) (*Guard, string, string) {
	t.Helper()
	ws := t.TempDir()
	ext := t.TempDir()
	g, err := New(ws, ext)
	require.NoError(t, err)
	// TempDir may itself sit behind a symlink (macOS /var -> /private/var).
	roots := g.Roots()
	return g, roots[0], roots[1]
}

func TestResolveRelativeWithinWorkspace(t *testing.T) {
	g, ws, _ := newTestGuard(t)

	got, err := g.Resolve("data/output.txt", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws, "data", "output.txt"), got)
	assert.True(t, strings.HasPrefix(got, ws))
}

func TestResolveHonorsWorkingDir(t *testing.T) {
	g, ws, _ := newTestGuard(t)
	sub := filepath.Join(ws, "session-1")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	got, err := g.Resolve("notes.md", sub)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sub, "notes.md"), got)
}

func TestResolveIsIdempotent(t *testing.T) {
	g, _, _ := newTestGuard(t)

	first, err := g.Resolve("a/b/c.txt", "")
	require.NoError(t, err)
	second, err := g.Resolve(first, "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestTraversalRejected(t *testing.T) {
	g, _, _ := newTestGuard(t)

	for _, p := range []string{
		"../../../outside.txt",
		"a/../../../../outside.txt",
		"..",
	} {
		_, err := g.Resolve(p, "")
		require.Error(t, err, "path=%q", p)
		var verr *ViolationError
		require.ErrorAs(t, err, &verr)
	}
}

func TestSystemPathsRejected(t *testing.T) {
	g, _, _ := newTestGuard(t)

	for _, p := range []string{
		"/etc/passwd",
		"/etc/shadow",
		"/proc/self/environ",
		"/SYS/kernel",
		"..\\..\\..\\etc\\passwd",
		"C:\\Windows\\System32\\config",
	} {
		_, err := g.Resolve(p, "")
		assert.Error(t, err, "path=%q", p)
	}
}

func TestSensitiveFilesRejected(t *testing.T) {
	g, _, _ := newTestGuard(t)

	for _, p := range []string{
		".ssh/id_rsa",
		"home/user/.aws/credentials",
		"project/.env",
		"conf/.netrc",
		"backup/authorized_keys",
	} {
		_, err := g.Resolve(p, "")
		require.Error(t, err, "path=%q", p)
		var verr *ViolationError
		require.ErrorAs(t, err, &verr)
		assert.NotEmpty(t, verr.Reason)
	}
}

func TestAbsolutePathRemappedUnderExternalRoot(t *testing.T) {
	g, _, ext := newTestGuard(t)

	got, err := g.Resolve("/home/user/report.csv", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, ext), "got %q, want under %q", got, ext)
}

func TestSymlinkEscapeRejected(t *testing.T) {
	g, ws, _ := newTestGuard(t)
	outside := t.TempDir()
	link := filepath.Join(ws, "link")
	require.NoError(t, os.Symlink(outside, link))

	_, err := g.Resolve("link/secret.txt", "")
	assert.Error(t, err)
}

func TestEmptyPathRejected(t *testing.T) {
	g, _, _ := newTestGuard(t)
	_, err := g.Resolve("", "")
	assert.Error(t, err)
	_, err = g.Resolve("   ", "")
	assert.Error(t, err)
}
