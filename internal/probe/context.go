package probe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
)

// Context provides helper methods for interrogating the LED backend's
// HTTP surface. The helpers are intentionally lightweight so that unit
// tests can point them at an httptest server.
type Context struct {
	baseURL string
	client  *http.Client
}

// NewContext constructs a Context for the backend at baseURL. Requests
// use a short per-call timeout so a dead backend fails fast.
func NewContext(baseURL string) *Context {
	return &Context{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 3 * time.Second},
	}
}

// NewContextWithClient allows tests to override the HTTP client, for
// example to inject failures without a listening server.
func NewContextWithClient(baseURL string, client *http.Client) *Context {
	ctx := NewContext(baseURL)
	if client != nil {
		ctx.client = client
	}
	return ctx
}

// BaseURL returns the backend address the probes target.
func (c *Context) BaseURL() string {
	return c.baseURL
}

// GetJSON fetches path relative to the base URL and returns the raw
// body. Non-2xx responses are reported as errors with the status text.
func (c *Context) GetJSON(ctx context.Context, path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("path must be provided")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.New(http.StatusText(resp.StatusCode))
	}
	return body, nil
}
