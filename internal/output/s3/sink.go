// Package s3 writes crawl records to an S3-compatible object store.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/JakeFAU/github-crawler/internal/crawler"
	"github.com/JakeFAU/github-crawler/internal/output"
)

// Name is the sink name used in configuration.
const Name = "s3"

// Config captures the endpoint, credentials and target bucket.
type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
	Clock     crawler.Clock
}

// Sink uploads `{prefix}/{runId}/{repository}/{branch}.json` objects and
// creates the bucket on first use.
type Sink struct {
	client   *minio.Client
	bucket   string
	region   string
	prefix   string
	clock    crawler.Clock
	initOnce sync.Once
	initErr  error
}

// New builds a minio client for cfg.
func New(cfg Config) (*Sink, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &Sink{
		client: client,
		bucket: bucket,
		region: region,
		prefix: strings.Trim(cfg.Prefix, "/"),
		clock:  output.ClockOrSystem(cfg.Clock),
	}, nil
}

func (s *Sink) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

// Name implements crawler.Sink.
func (*Sink) Name() string { return Name }

// Output uploads one object per branch record.
func (s *Sink) Output(ctx context.Context, repo crawler.Repository) error {
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	for _, rec := range output.Records(repo, s.clock.Now()) {
		data, err := output.Marshal(rec)
		if err != nil {
			return err
		}
		key := output.ObjectName(s.prefix, rec.CrawlerRunID, rec)
		_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: "application/json",
		})
		if err != nil {
			return fmt.Errorf("put object %s: %w", key, err)
		}
	}
	return nil
}

// Finalize is a no-op; objects are committed on Output.
func (*Sink) Finalize(context.Context) error { return nil }
