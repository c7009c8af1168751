package engie

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://gwss.engie.ro"

	DefaultTimeout = 30 * time.Second
	MinTimeout     = 15 * time.Second
	MaxTimeout     = 30 * time.Second

	defaultMinGap = 250 * time.Millisecond
	maxBodyBytes  = 8 << 20
)

// Client is a thin wrapper over net/http for the ENGIE consumer API.
// The underlying *http.Client is created on first use and reused until Close.
type Client struct {
	baseURL string
	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger

	mu         sync.Mutex
	httpClient *http.Client
	transport  http.RoundTripper
	closed     bool
}

// Option configures a Client
type Option func(*Client)

// WithTimeout sets the per-request timeout, clamped to [MinTimeout, MaxTimeout].
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = ClampTimeout(d)
	}
}

// WithMinGap sets the minimum spacing between upstream requests. Zero disables pacing.
func WithMinGap(d time.Duration) Option {
	return func(c *Client) {
		if d <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithTransport overrides the HTTP transport (tests).
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = rt
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client for baseURL (DefaultBaseURL when empty).
func NewClient(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(Clean(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		timeout: DefaultTimeout,
		limiter: rate.NewLimiter(rate.Every(defaultMinGap), 1),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClampTimeout keeps a request timeout within the supported window.
func ClampTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultTimeout
	case d < MinTimeout:
		return MinTimeout
	case d > MaxTimeout:
		return MaxTimeout
	default:
		return d
	}
}

// session lazily creates the long-lived http.Client.
func (c *Client) session() (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout:   c.timeout,
			Transport: c.transport,
		}
	}
	return c.httpClient, nil
}

// Close releases pooled connections. Further calls fail with ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
		c.httpClient = nil
	}
	return nil
}

// Get performs GET path?query.
func (c *Client) Get(ctx context.Context, path string, query url.Values, h HeaderBuilder) (any, error) {
	return c.do(ctx, http.MethodGet, path, query, nil, "", h)
}

// PostForm performs a form-encoded POST.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values, h HeaderBuilder) (any, error) {
	return c.do(ctx, http.MethodPost, path, nil, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", h)
}

// PostJSON performs a POST with a JSON body.
func (c *Client) PostJSON(ctx context.Context, path string, body any, h HeaderBuilder) (any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, nil, bytes.NewReader(payload), "application/json", h)
}

// PostFormVariants tries each form in order. It advances to the next variant
// only when the previous one failed with a generic (non-401) HTTP error.
func (c *Client) PostFormVariants(ctx context.Context, path string, variants []url.Values, h HeaderBuilder) (any, error) {
	var lastErr error
	for i, form := range variants {
		result, err := c.PostForm(ctx, path, form, h)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsHTTPError(err) {
			return nil, err
		}
		if i < len(variants)-1 {
			c.logger.Debug("Request shape rejected, trying fallback",
				"path", path,
				"variant", i,
				"error", err)
		}
	}
	if lastErr == nil {
		return nil, fmt.Errorf("no request variants for %s", path)
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, h HeaderBuilder) (any, error) {
	httpClient, err := c.session()
	if err != nil {
		return nil, err
	}

	path = Clean(path)
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if h != nil {
		for k, vs := range h.Headers() {
			req.Header[k] = vs
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s %s: failed to read response: %w", method, path, err)
	}

	c.logger.Debug("Upstream request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"latency", time.Since(start).String())

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &HTTPError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(raw),
		}
	}

	return decodeBody(raw), nil
}

// decodeBody returns parsed JSON, or the raw text when the body is not JSON.
func decodeBody(raw []byte) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil || dec.More() {
		return string(raw)
	}
	return v
}
