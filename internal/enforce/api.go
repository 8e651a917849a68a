package enforce

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/toolgate/toolgate/internal/audit"
)

// apiClient performs the call_api tool's outbound requests.
type apiClient struct {
	http     *http.Client
	maxBytes int
}

func newAPIClient(maxBytes int) apiClient {
	return apiClient{
		http:     &http.Client{Timeout: 30 * time.Second},
		maxBytes: maxBytes,
	}
}

func (s *Service) executeAPI(ctx context.Context, user, tool string, req Request) (Response, error) {
	if req.Args.URL == "" {
		return s.deny(user, tool, "missing url argument"), nil
	}
	target, err := url.Parse(req.Args.URL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		return s.deny(user, tool, "url must be http or https"), nil
	}

	method := strings.ToUpper(req.Args.Method)
	if method == "" {
		method = http.MethodGet
	}
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return s.deny(user, tool, "unsupported method "+method), nil
	}

	start := time.Now()
	output, callErr := s.client.do(ctx, method, target.String(), req.Args.Body)
	dur := time.Since(start)
	if callErr != nil {
		s.record(audit.Errored(user, tool, callErr.Error(), dur))
		return Response{DenialReason: "api call failed"}, nil
	}
	s.record(audit.Success(user, tool, dur, nil))
	return Response{Allowed: true, Output: output}, nil
}

func (c apiClient) do(ctx context.Context, method, target, body string) (string, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("call: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(c.maxBytes)+1))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	out := fmt.Sprintf("HTTP %d\n", resp.StatusCode)
	if len(data) > c.maxBytes {
		return out + string(data[:c.maxBytes]) + "\n[output truncated]", nil
	}
	return out + string(data), nil
}
