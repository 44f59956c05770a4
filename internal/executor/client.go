// Package executor holds the stage executors: text extraction, content
// planning, segment rendering, narration and composition. Each one talks
// to an external service over HTTP (or reads the PDF locally) and returns
// the typed output the orchestrator stores.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"time"

	"go.uber.org/zap"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 500

// Option configures the HTTP plumbing shared by the executors.
type Option func(*httpClient)

// WithHTTPClient replaces the underlying *http.Client entirely.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

// WithLogger sets the executor's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *httpClient) {
		if l != nil {
			c.logger = l
		}
	}
}

type httpClient struct {
	http   *http.Client
	logger *zap.Logger
}

func newHTTPClient(timeout time.Duration, opts []Option) httpClient {
	c := httpClient{
		http:   &http.Client{Timeout: timeout},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// HTTPError is returned when a service answers with an unexpected status.
type HTTPError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Service, e.StatusCode, e.Body)
}

// Detail extracts a "detail" or "error" message from a JSON error body,
// falling back to the HTTP status.
func (e *HTTPError) Detail() string {
	var body struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal([]byte(e.Body), &body) == nil {
		if body.Detail != "" {
			return body.Detail
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// doJSON sends in as JSON (when non-nil) and decodes the response into out
// (when non-nil). want lists accepted status codes; empty means 200.
func (c *httpClient) doJSON(ctx context.Context, service, method, url string, header http.Header, in, out any, want ...int) error {
	body, err := c.do(ctx, service, method, url, header, in, want...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", service, err)
	}
	return nil
}

// do performs the request and returns the raw response body.
func (c *httpClient) do(ctx context.Context, service, method, url string, header http.Header, in any, want ...int) ([]byte, error) {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal request: %w", service, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", service, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", service, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", service, err)
	}

	if len(want) == 0 {
		want = []int{http.StatusOK}
	}
	if !slices.Contains(want, resp.StatusCode) {
		text := string(data)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return nil, &HTTPError{Service: service, StatusCode: resp.StatusCode, Body: text}
	}
	return data, nil
}

// isTimeout reports whether err came from a deadline or a network timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isConnect reports whether err came from failing to reach the host.
func isConnect(err error) bool {
	var oe *net.OpError
	return errors.As(err, &oe) && oe.Op == "dial"
}
