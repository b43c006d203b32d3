package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const maxResponseBody = 1024 * 1024 // 1MB

// HTTPRunner delegates steps to an external workflow runner over HTTP. The
// runner reference from the step config becomes the request path.
type HTTPRunner struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTPRunner(baseURL, token string, logger *slog.Logger) *HTTPRunner {
	return &HTTPRunner{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{},
		logger:  logger.With("module", "http_runner"),
	}
}

func (r *HTTPRunner) RunRemote(ctx context.Context, ref string, payload map[string]any, timeout time.Duration) (map[string]any, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"ref":     ref,
		"payload": payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal runner request: %w", err)
	}

	url := r.baseURL + "/v1/runs"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build runner request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	r.logger.DebugContext(ctx, "Delegating step to external runner", "ref", ref, "timeout", timeout)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("runner call failed for %s: %w", ref, err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			r.logger.WarnContext(ctx, "failed to close runner response body", "error", err)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read runner response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("runner returned status %d for %s", resp.StatusCode, ref)
	}

	result := make(map[string]any)

	if len(data) > 0 {
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("failed to decode runner response: %w", err)
		}
	}

	return result, nil
}
