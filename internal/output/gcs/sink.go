// Package gcs writes each crawl record as an object in Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/github-crawler/internal/crawler"
	"github.com/JakeFAU/github-crawler/internal/output"
)

// Name is the sink name used in configuration.
const Name = "gcs"

// Config captures the target bucket and object prefix.
type Config struct {
	Bucket string
	Prefix string
	Clock  crawler.Clock
}

// Sink uploads `{prefix}/{runId}/{repository}/{branch}.json` objects.
type Sink struct {
	client *storage.Client
	bucket string
	prefix string
	clock  crawler.Clock
}

// New creates a GCS-backed sink.
func New(client *storage.Client, cfg Config) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Sink{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		clock:  output.ClockOrSystem(cfg.Clock),
	}, nil
}

// Name implements crawler.Sink.
func (*Sink) Name() string { return Name }

// Output uploads one object per branch record.
func (s *Sink) Output(ctx context.Context, repo crawler.Repository) error {
	for _, rec := range output.Records(repo, s.clock.Now()) {
		data, err := output.Marshal(rec)
		if err != nil {
			return err
		}
		if _, err := s.put(ctx, output.ObjectName(s.prefix, rec.CrawlerRunID, rec), data); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) put(ctx context.Context, path string, data []byte) (string, error) {
	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}

// Finalize is a no-op; objects are committed on Output.
func (*Sink) Finalize(context.Context) error { return nil }
