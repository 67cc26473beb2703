// Package client provides an HTTP client for the twin's admin API endpoints.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/wondertwin-ai/recordtwin/pkg/twincore"
)

// AdminClient talks to twin /admin/* endpoints.
type AdminClient struct {
	base string
	http *http.Client
}

// New creates an AdminClient for the twin at baseURL with a 5-second timeout.
func New(baseURL string) *AdminClient {
	return &AdminClient{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

// Health checks GET /admin/health. Returns (ok, response body or error message).
func (c *AdminClient) Health(ctx context.Context) (bool, string) {
	status, body, err := c.do(ctx, http.MethodGet, "/admin/health", nil)
	if err != nil {
		return false, err.Error()
	}
	if status == http.StatusOK {
		return true, body
	}
	return false, fmt.Sprintf("status %d: %s", status, body)
}

// Reset calls POST /admin/reset on the twin.
func (c *AdminClient) Reset(ctx context.Context) (string, error) {
	status, body, err := c.do(ctx, http.MethodPost, "/admin/reset", nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("reset returned status %d: %s", status, body)
	}
	return body, nil
}

// State returns the twin's tables as served by GET /admin/state.
func (c *AdminClient) State(ctx context.Context) (map[string]map[string]map[string]any, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/admin/state", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("state returned status %d: %s", status, body)
	}
	var state map[string]map[string]map[string]any
	if err := json.Unmarshal([]byte(body), &state); err != nil {
		return nil, fmt.Errorf("decoding state: %w", err)
	}
	return state, nil
}

// Seed POSTs the contents of a JSON file to POST /admin/state on the twin.
func (c *AdminClient) Seed(ctx context.Context, filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("reading seed file: %w", err)
	}

	status, body, err := c.do(ctx, http.MethodPost, "/admin/state", data)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("seed failed (status %d): %s", status, body)
	}
	return body, nil
}

// InjectFault registers f for endpoint, e.g. "/api/data/v9.2/accounts".
func (c *AdminClient) InjectFault(ctx context.Context, endpoint string, f twincore.Fault) (string, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	status, body, err := c.do(ctx, http.MethodPost, "/admin/fault/"+strings.TrimPrefix(endpoint, "/"), data)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("fault injection returned status %d: %s", status, body)
	}
	return body, nil
}

func (c *AdminClient) do(ctx context.Context, method, path string, data []byte) (int, string, error) {
	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, "", err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, strings.TrimSpace(string(respBody)), nil
}
