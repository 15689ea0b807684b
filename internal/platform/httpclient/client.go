package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	stdhttp "net/http"
	"net/url"
	"time"

	"jobpool/pkg/retry"
)

// Client wraps http.Client with logging and retries.
type Client struct {
	hc           *stdhttp.Client
	log          *slog.Logger
	retries      int
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	headers      map[string]string
	retryNonIdem bool
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets request timeout.
func WithTimeout(t time.Duration) Option {
	return func(c *Client) { c.hc.Timeout = t }
}

// WithLogger sets logger used by client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRetries enables n retries with exponential backoff and jitter.
func WithRetries(n int, backoff time.Duration) Option {
	return func(c *Client) {
		c.retries = n
		if backoff > 0 {
			c.baseBackoff = backoff
		}
	}
}

// WithMaxBackoff limits exponential backoff growth.
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Client) { c.maxBackoff = d }
}

// WithHeaders adds default headers to each request.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		for k, v := range h {
			c.headers[k] = v
		}
	}
}

// WithRetryNonIdempotent allows retries for POST and PATCH.
func WithRetryNonIdempotent(v bool) Option {
	return func(c *Client) { c.retryNonIdem = v }
}

// New creates configured Client.
func New(opts ...Option) *Client {
	tr := stdhttp.DefaultTransport.(*stdhttp.Transport).Clone()
	tr.MaxIdleConnsPerHost = 10
	tr.IdleConnTimeout = 90 * time.Second
	tr.TLSHandshakeTimeout = 10 * time.Second
	tr.ResponseHeaderTimeout = 10 * time.Second

	c := &Client{
		hc: &stdhttp.Client{
			Timeout:   15 * time.Second,
			Transport: tr,
		},
		log:         slog.Default(),
		baseBackoff: 200 * time.Millisecond,
		maxBackoff:  5 * time.Second,
		headers:     map[string]string{"User-Agent": "jobpool"},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// StatusError reports a response with a non-2xx status.
type StatusError struct {
	Method string
	URL    string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Code)
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	switch e.Code {
	case stdhttp.StatusRequestTimeout, stdhttp.StatusTooEarly, stdhttp.StatusTooManyRequests:
		return true
	}
	return e.Code >= 500
}

func idempotent(method string) bool {
	switch method {
	case stdhttp.MethodGet, stdhttp.MethodHead, stdhttp.MethodOptions,
		stdhttp.MethodTrace, stdhttp.MethodPut, stdhttp.MethodDelete:
		return true
	}
	return false
}

// drainAndClose drains up to 512KB from body and closes it.
func drainAndClose(b io.ReadCloser) {
	if b == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, b, 512<<10)
	_ = b.Close()
}

// Do sends the request with logging and retries. Responses with a non-2xx
// status are returned as *StatusError after the retries are spent.
func (c *Client) Do(ctx context.Context, req *stdhttp.Request) (*stdhttp.Response, error) {
	if req.Body != nil && req.GetBody == nil {
		body, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, err
		}
		req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
	}

	retries := c.retries
	if !idempotent(req.Method) && !c.retryNonIdem && req.Header.Get("Idempotency-Key") == "" {
		retries = 0
	}

	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = retries + 1
	cfg.InitialDelay = c.baseBackoff
	cfg.MaxDelay = max(c.maxBackoff, c.baseBackoff)
	u := redactURL(req.URL)
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		c.log.Warn("http request retry",
			slog.String("method", req.Method),
			slog.String("url", u),
			slog.Int("attempt", attempt),
			slog.Int("attempts_left", retries-attempt+1),
			slog.Duration("wait", wait),
			slog.Any("error", err))
	}

	var resp *stdhttp.Response
	attempt := 0
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		attempt++
		r := req.Clone(ctx)
		for k, v := range c.headers {
			if r.Header.Get(k) == "" {
				r.Header.Set(k, v)
			}
		}
		if r.GetBody != nil {
			rc, err := r.GetBody()
			if err != nil {
				return retry.Permanent(err)
			}
			r.Body = rc
		}

		st := time.Now()
		res, err := c.hc.Do(r)
		if err != nil {
			return err
		}
		if res.StatusCode < 200 || res.StatusCode > 299 {
			drainAndClose(res.Body)
			return &StatusError{Method: r.Method, URL: u, Code: res.StatusCode}
		}
		c.log.Info("http request",
			slog.String("method", r.Method),
			slog.String("url", u),
			slog.Int("status", res.StatusCode),
			slog.Duration("dur", time.Since(st)),
			slog.Int("attempt", attempt))
		resp = res
		return nil
	})
	if err != nil {
		var exceeded *retry.RetriesExceededError
		if errors.As(err, &exceeded) {
			err = exceeded.LastError
		}
		c.log.Warn("http request failed",
			slog.String("method", req.Method),
			slog.String("url", u),
			slog.Int("attempts", attempt),
			slog.Any("error", err))
		return nil, err
	}
	return resp, nil
}

// PostJSON encodes v as JSON and posts it to rawURL with the extra header
// values. The response body is discarded.
func (c *Client) PostJSON(ctx context.Context, rawURL string, v any, header stdhttp.Header) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := stdhttp.NewRequestWithContext(ctx, stdhttp.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	for k, vals := range header {
		for _, val := range vals {
			req.Header.Add(k, val)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	drainAndClose(resp.Body)
	return nil
}

func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	r := *u
	r.RawQuery = ""
	return r.Redacted()
}
