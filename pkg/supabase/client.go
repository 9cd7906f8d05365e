package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	restPath    = "/rest/v1"
	storagePath = "/storage/v1"
	authPath    = "/auth/v1"

	// DefaultTimeout bounds every request made by a Client
	DefaultTimeout = 30 * time.Second
)

// Client talks to the REST, storage and auth admin APIs of one project
type Client struct {
	baseURL        string
	anonKey        string
	serviceRoleKey string
	client         *http.Client
	logger         *zap.Logger
	metrics        *Metrics
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// WithLogger sets the logger used for request tracing
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records request counts and latencies
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a client. The service role key is optional; when set it is used
// as the bearer token so row level security is bypassed.
func New(projectURL, anonKey, serviceRoleKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:        SanitizeURL(projectURL),
		anonKey:        anonKey,
		serviceRoleKey: serviceRoleKey,
		client:         &http.Client{Timeout: DefaultTimeout},
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SanitizeURL strips trailing slashes and a trailing REST path from a project URL
func SanitizeURL(projectURL string) string {
	u := strings.TrimSpace(projectURL)
	u = strings.TrimRight(u, "/")
	u = strings.TrimSuffix(u, restPath)
	return strings.TrimRight(u, "/")
}

// URL returns the sanitized project URL
func (c *Client) URL() string {
	return c.baseURL
}

// AnonKey returns the public key the client was created with
func (c *Client) AnonKey() string {
	return c.anonKey
}

// HasServiceRole reports whether elevated calls are possible
func (c *Client) HasServiceRole() bool {
	return c.serviceRoleKey != ""
}

func (c *Client) bearer() string {
	if c.serviceRoleKey != "" {
		return c.serviceRoleKey
	}
	return c.anonKey
}

// newRequest builds a request with the project headers set
func (c *Client) newRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+c.bearer())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return req, nil
}

// do performs the request and decodes a JSON response into out (when non-nil).
// Non-2xx responses become a RequestError carrying the response body.
func (c *Client) do(req *http.Request, op string, out any) error {
	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.observe(op, 0, time.Since(start))
		c.logger.Debug("request failed", zap.String("op", op), zap.String("url", req.URL.Redacted()), zap.Error(err))
		return &RequestError{Op: op, Method: req.Method, URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	c.metrics.observe(op, resp.StatusCode, time.Since(start))
	c.logger.Debug("request done",
		zap.String("op", op),
		zap.String("method", req.Method),
		zap.String("url", req.URL.Redacted()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RequestError{Op: op, Method: req.Method, URL: req.URL.String(), Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RequestError{
			Op:     op,
			Method: req.Method,
			URL:    req.URL.String(),
			Status: resp.StatusCode,
			Body:   errorMessage(body),
			Err:    fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return &RequestError{Op: op, Method: req.Method, URL: req.URL.String(), Status: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// errorMessage extracts the human readable part of an error body
func errorMessage(body []byte) string {
	var payload struct {
		Message          string `json:"message"`
		Msg              string `json:"msg"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, m := range []string{payload.Message, payload.Msg, payload.ErrorDescription, payload.Error} {
			if m != "" {
				return m
			}
		}
	}
	return strings.TrimSpace(string(body))
}
