// Package remote adapts repository hosting platforms (GitHub, Bitbucket Server,
// GitLab, Azure DevOps) to crawler.RemoteHost.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/github-crawler/internal/crawler"
	"github.com/JakeFAU/github-crawler/internal/logging"
	"github.com/JakeFAU/github-crawler/internal/metrics"
	"github.com/JakeFAU/github-crawler/internal/policy/ratelimit"
)

const (
	defaultPerPage   = 100
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "github-crawler/1.0"
	errorBodyLimit   = 512
)

// Config selects and configures one host adapter.
type Config struct {
	Type string
	// URL is the REST API root, e.g. https://api.github.com.
	URL string
	// SearchURL overrides the code search root where it differs from URL.
	SearchURL         string
	Token             string
	IsUser            bool
	PerPage           int
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
	// HTTPClient replaces the default client, mostly for tests.
	HTTPClient *http.Client
}

func (c Config) perPage() int {
	if c.PerPage <= 0 {
		return defaultPerPage
	}
	return c.PerPage
}

// client holds the HTTP plumbing shared by every adapter.
type client struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	retry      crawler.RetryPolicy
	authorize  func(*http.Request)
	headers    map[string]string
	userAgent  string
	logger     *zap.Logger
}

func newClient(cfg Config, authorize func(*http.Request), logger *zap.Logger) *client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if authorize == nil {
		authorize = func(*http.Request) {}
	}
	return &client{
		httpClient: httpClient,
		limiter:    ratelimit.New(ratelimit.Config{RequestsPerSecond: cfg.RequestsPerSecond, Burst: cfg.Burst}),
		retry:      crawler.NewExponentialRetryPolicyWith(cfg.MaxRetries, 250*time.Millisecond, 5*time.Second),
		authorize:  authorize,
		headers:    make(map[string]string),
		userAgent:  userAgent,
		logger:     logging.OrNop(logger),
	}
}

func (c *client) setHeader(key, value string) {
	c.headers[key] = value
}

func (c *client) newRequest(ctx context.Context, method, rawURL string, body any) (*http.Request, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request %s %s: %w", method, rawURL, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	c.authorize(req)
	return req, nil
}

// do sends req, retrying transient failures. Non-2xx answers become *crawler.HTTPStatusError.
func (c *client) do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	for attempt := 0; ; attempt++ {
		attemptReq := req
		if attempt > 0 {
			attemptReq = req.Clone(ctx)
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("rewind request body: %w", err)
				}
				attemptReq.Body = body
			}
		}

		resp, err := c.send(attemptReq)
		if err == nil {
			return resp, nil
		}
		if !c.retry.ShouldRetry(err, attempt) {
			return nil, err
		}
		wait := c.retry.Backoff(attempt)
		c.logger.Debug("retrying host request",
			zap.String("method", req.Method),
			zap.String("url", req.URL.Redacted()),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("retry wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func (c *client) send(req *http.Request) (*http.Response, error) {
	host := ratelimit.HostOf(req.URL.String())
	if err := c.limiter.Wait(req.Context(), req.URL.String()); err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveRemoteRequest(host, 0, time.Since(start))
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	metrics.ObserveRemoteRequest(host, resp.StatusCode, time.Since(start))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		limited, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		_ = resp.Body.Close()
		return nil, &crawler.HTTPStatusError{
			StatusCode: resp.StatusCode,
			Method:     req.Method,
			URL:        req.URL.Redacted(),
			Body:       strings.TrimSpace(strings.ReplaceAll(string(limited), "\n", " ")),
		}
	}
	return resp, nil
}

// getJSON decodes a GET response into out and returns the response headers.
func (c *client) getJSON(ctx context.Context, rawURL string, out any) (http.Header, error) {
	req, err := c.newRequest(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c.doJSON(req, out)
}

func (c *client) postJSON(ctx context.Context, rawURL string, in, out any) (http.Header, error) {
	req, err := c.newRequest(ctx, http.MethodPost, rawURL, in)
	if err != nil {
		return nil, err
	}
	return c.doJSON(req, out)
}

func (c *client) doJSON(req *http.Request, out any) (http.Header, error) {
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode %s: %w", req.URL.Redacted(), err)
		}
	}
	return resp.Header, nil
}

// getText returns the raw body of a GET response.
func (c *client) getText(ctx context.Context, rawURL string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", req.URL.Redacted(), err)
	}
	return string(data), nil
}

// escapePath escapes each segment of a repository path, keeping the slashes.
func escapePath(p string) string {
	segments := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func trimBase(raw, fallback string) string {
	if strings.TrimSpace(raw) == "" {
		raw = fallback
	}
	return strings.TrimSuffix(raw, "/")
}

// nextLink extracts the rel="next" target of an RFC 5988 Link header.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		sections := strings.Split(part, ";")
		if len(sections) < 2 {
			continue
		}
		target := strings.TrimSpace(sections[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, attr := range sections[1:] {
			attr = strings.TrimSpace(attr)
			if attr == `rel="next"` || attr == "rel=next" {
				return strings.Trim(target, "<>")
			}
		}
	}
	return ""
}

// collectLinkPages follows Link headers from first until exhausted.
func collectLinkPages[T any](ctx context.Context, c *client, first string) ([]T, error) {
	var out []T
	for next := first; next != ""; {
		var page []T
		header, err := c.getJSON(ctx, next, &page)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		next = nextLink(header.Get("Link"))
	}
	return out, nil
}
