// Package httppost pushes every crawl record to an HTTP endpoint.
package httppost

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/github-crawler/internal/crawler"
	"github.com/JakeFAU/github-crawler/internal/output"
)

// Name is the sink name used in configuration.
const Name = "http"

// Config controls the HTTP sink.
type Config struct {
	URL        string
	Headers    map[string]string
	Timeout    time.Duration
	HTTPClient *http.Client
	Clock      crawler.Clock
}

// Sink POSTs one JSON record per request.
type Sink struct {
	url     string
	headers map[string]string
	client  *http.Client
	clock   crawler.Clock
}

// New returns an HTTP sink.
func New(cfg Config) (*Sink, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("http sink url is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Sink{url: cfg.URL, headers: cfg.Headers, client: client, clock: output.ClockOrSystem(cfg.Clock)}, nil
}

// Name implements crawler.Sink.
func (*Sink) Name() string { return Name }

// Output sends each branch record of repo. The first failure stops the
// remaining records of that repository.
func (s *Sink) Output(ctx context.Context, repo crawler.Repository) error {
	for _, rec := range output.Records(repo, s.clock.Now()) {
		if err := s.post(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) post(ctx context.Context, rec output.Record) error {
	data, err := output.Marshal(rec)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post record %s: %w", rec.Key(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &crawler.HTTPStatusError{
			StatusCode: resp.StatusCode,
			Method:     http.MethodPost,
			URL:        s.url,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Finalize is a no-op; every record is sent synchronously.
func (*Sink) Finalize(context.Context) error { return nil }
