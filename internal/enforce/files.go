package enforce

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/toolgate/toolgate/internal/audit"
	"github.com/toolgate/toolgate/internal/pathguard"
)

// executeFile runs the file tools against a guard-resolved path. The
// raw request path never touches the filesystem.
func (s *Service) executeFile(ctx context.Context, user, tool string, req Request) (Response, error) {
	if req.Args.Path == "" {
		return s.deny(user, tool, "missing path argument"), nil
	}

	resolved, err := s.guard.Resolve(req.Args.Path, req.Args.WorkingDir)
	if err != nil {
		var violation *pathguard.ViolationError
		if errors.As(err, &violation) {
			if terminated := s.runner.RecordViolation(req.SessionID); terminated {
				s.logger.Warn("enforce: session torn down after repeated violations",
					slog.String("session", req.SessionID),
					slog.String("user", user))
			}
			return s.deny(user, tool, violation.Reason), nil
		}
		return Response{}, fmt.Errorf("enforce: resolve path: %w", err)
	}

	start := time.Now()
	output, opErr := s.fileOp(tool, resolved, req.Args.Content)
	dur := time.Since(start)
	if opErr != nil {
		s.record(audit.Errored(user, tool, opErr.Error(), dur))
		return Response{DenialReason: opErr.Error()}, nil
	}
	s.record(audit.Success(user, tool, dur, nil))
	return Response{Allowed: true, Output: output}, nil
}

func (s *Service) fileOp(tool, path, content string) (string, error) {
	switch tool {
	case "read_file":
		return s.readFile(path)
	case "write_file":
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("write: %w", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return "", fmt.Errorf("write: %w", err)
		}
		return "", nil
	case "list_directory":
		return listDirectory(path)
	case "delete_file":
		if err := os.Remove(path); err != nil {
			return "", fmt.Errorf("delete: %w", err)
		}
		return "", nil
	default:
		return "", fmt.Errorf("unsupported file tool %s", tool)
	}
}

func (s *Service) readFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, int64(s.cfg.MaxOutputBytes)+1))
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	if len(data) > s.cfg.MaxOutputBytes {
		return string(data[:s.cfg.MaxOutputBytes]) + "\n[output truncated]", nil
	}
	return string(data), nil
}

func listDirectory(path string) (string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("list: %w", err)
	}
	var sb strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			sb.WriteString(e.Name() + "/\n")
			continue
		}
		sb.WriteString(e.Name() + "\n")
	}
	return sb.String(), nil
}
