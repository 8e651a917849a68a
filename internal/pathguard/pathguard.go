// Package pathguard canonicalizes requested filesystem paths and rejects
// anything that escapes the configured workspace roots or touches known
// sensitive locations.
package pathguard

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ViolationError reports why a path was rejected.
type ViolationError struct {
	Path   string
	Reason string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("pathguard: %s: %s", e.Reason, e.Path)
}

func deny(path, reason string) error {
	return &ViolationError{Path: path, Reason: reason}
}

// systemPrefixes are absolute prefixes that are never legitimate targets
// for a tool call, regardless of how the path was spelled.
var systemPrefixes = []string{
	"/etc", "/proc", "/sys", "/dev", "/boot", "/root",
	"/bin", "/sbin", "/lib", "/lib64",
	"/usr/bin", "/usr/sbin", "/usr/lib",
	"/var/log", "/var/run",
	"c:/windows", "c:/program files",
}

// sensitiveSegments deny a path when any single component matches.
var sensitiveSegments = map[string]struct{}{
	".ssh":            {},
	".aws":            {},
	".gnupg":          {},
	".kube":           {},
	".docker":         {},
	".env":            {},
	".netrc":          {},
	".htpasswd":       {},
	".pgpass":         {},
	"id_rsa":          {},
	"id_dsa":          {},
	"id_ecdsa":        {},
	"id_ed25519":      {},
	"authorized_keys": {},
	"shadow":          {},
	"credentials":     {},
}

// Guard resolves paths against the workspace boundary.
type Guard struct {
	workspace string // default root for relative paths
	external  string // absolute requests get remapped under here
	roots     []string
}

// New constructs a Guard. Both roots are made absolute; the external root
// receives remapped absolute requests so the containment check still
// applies to them.
func New(workspaceRoot, externalRoot string) (*Guard, error) {
	ws, err := canonicalRoot(workspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("pathguard: workspace root: %w", err)
	}
	ext, err := canonicalRoot(externalRoot)
	if err != nil {
		return nil, fmt.Errorf("pathguard: external root: %w", err)
	}
	return &Guard{workspace: ws, external: ext, roots: []string{ws, ext}}, nil
}

func canonicalRoot(root string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", errors.New("root required")
	}
	abs, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}

// Roots returns the configured workspace roots.
func (g *Guard) Roots() []string {
	out := make([]string, len(g.roots))
	copy(out, g.roots)
	return out
}

// Resolve canonicalizes path against workingDir (or the default workspace
// root) and returns the canonical path, or a ViolationError.
//
// The sensitive-path check runs against both the raw request and the
// canonical result, case-insensitively and with either separator style,
// so neither spelling tricks nor symlinks can smuggle a match past it.
func (g *Guard) Resolve(path, workingDir string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", deny(path, "empty path")
	}

	if reason := matchSensitive(path); reason != "" {
		return "", deny(path, reason)
	}

	// Backslashes are treated as separators before joining so that
	// `..\..\etc` traverses the same way `../../etc` does instead of
	// becoming a single odd file name.
	req := strings.ReplaceAll(path, "\\", "/")

	var joined string
	if filepath.IsAbs(req) {
		// An absolute request already inside a root is taken as-is, which
		// keeps resolution idempotent. Anything else is never trusted
		// verbatim: it gets remapped under the external root and bounded
		// like every other path.
		if canon, err := canonicalize(req); err == nil && g.contained(canon) {
			joined = canon
		} else {
			joined = filepath.Join(g.external, strings.TrimPrefix(filepath.Clean(req), string(filepath.Separator)))
		}
	} else {
		base := g.workspace
		if strings.TrimSpace(workingDir) != "" {
			base = filepath.Clean(workingDir)
		}
		joined = filepath.Join(base, req)
	}

	canon, err := canonicalize(joined)
	if err != nil {
		return "", deny(path, "cannot canonicalize: "+err.Error())
	}

	if !g.contained(canon) {
		return "", deny(path, "outside workspace boundary")
	}
	if reason := matchSensitive(canon); reason != "" {
		return "", deny(path, reason)
	}
	// Last gate: canonicalization and matching must not have moved the
	// result outside the boundary.
	if !g.contained(canon) {
		return "", deny(path, "outside workspace boundary")
	}
	return canon, nil
}

// canonicalize cleans the path and follows symlinks on the deepest
// existing ancestor, so a symlinked directory cannot carry a not-yet-
// created file outside the boundary.
func canonicalize(path string) (string, error) {
	clean := filepath.Clean(path)
	resolved, err := filepath.EvalSymlinks(clean)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	dir, rest := clean, ""
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return clean, nil
		}
		rest = filepath.Join(filepath.Base(dir), rest)
		dir = parent
		if _, statErr := os.Lstat(dir); statErr == nil {
			resolvedDir, evalErr := filepath.EvalSymlinks(dir)
			if evalErr != nil {
				return clean, nil
			}
			return filepath.Join(resolvedDir, rest), nil
		}
	}
}

func (g *Guard) contained(canon string) bool {
	for _, root := range g.roots {
		if canon == root || strings.HasPrefix(canon, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// matchSensitive reports a non-empty reason when the path touches a system
// prefix or a sensitive file name. Matching is case-insensitive, Unicode-
// normalized, and separator-agnostic.
func matchSensitive(path string) string {
	normalized := strings.ToLower(norm.NFC.String(path))
	normalized = strings.ReplaceAll(normalized, "\\", "/")

	for _, prefix := range systemPrefixes {
		if normalized == prefix || strings.HasPrefix(normalized, prefix+"/") {
			return "system path " + prefix
		}
	}
	for _, seg := range strings.Split(normalized, "/") {
		if _, ok := sensitiveSegments[seg]; ok {
			return "sensitive path component " + seg
		}
	}
	// /etc/passwd specifically, even when spelled relative and joined later.
	if strings.HasSuffix(normalized, "etc/passwd") {
		return "sensitive file"
	}
	return ""
}
