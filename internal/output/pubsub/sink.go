// Package pubsub publishes crawl records to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"google.golang.org/api/option"

	"github.com/JakeFAU/github-crawler/internal/crawler"
	"github.com/JakeFAU/github-crawler/internal/output"
)

// Name is the sink name used in configuration.
const Name = "pubsub"

// Message attributes set on every record.
const (
	AttrRepository = "repository"
	AttrBranch     = "branch"
	AttrRunID      = "crawler_run_id"
)

type topic interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
	Flush()
}

// Sink publishes one message per record.
type Sink struct {
	topic  topic
	clock  crawler.Clock
	closer func() error
}

// New wraps an existing topic.
func New(t *pubsub.Topic, clk crawler.Clock) (*Sink, error) {
	if t == nil {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	return &Sink{topic: t, clock: output.ClockOrSystem(clk)}, nil
}

// Open connects to projectID and publishes to topicID. The topic must exist.
func Open(ctx context.Context, projectID, topicID string, clk crawler.Clock, opts ...option.ClientOption) (*Sink, error) {
	if projectID == "" || topicID == "" {
		return nil, fmt.Errorf("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	t := client.Topic(topicID)
	s, err := New(t, clk)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.closer = func() error {
		t.Stop()
		return client.Close()
	}
	return s, nil
}

// Name implements crawler.Sink.
func (*Sink) Name() string { return Name }

// Output publishes every branch record of repo and waits for the server ids.
func (s *Sink) Output(ctx context.Context, repo crawler.Repository) error {
	recs := output.Records(repo, s.clock.Now())
	results := make([]*pubsub.PublishResult, 0, len(recs))
	for _, rec := range recs {
		data, err := output.Marshal(rec)
		if err != nil {
			return err
		}
		msg := &pubsub.Message{Data: data, Attributes: map[string]string{
			AttrRepository: rec.FullName,
			AttrBranch:     rec.BranchName,
			AttrRunID:      rec.CrawlerRunID,
		}}
		otel.GetTextMapPropagator().Inject(ctx, &carrier{attrs: msg.Attributes})
		results = append(results, s.topic.Publish(ctx, msg))
	}
	for _, res := range results {
		if _, err := res.Get(ctx); err != nil {
			return fmt.Errorf("publish message: %w", err)
		}
	}
	return nil
}

// Finalize flushes pending messages.
func (s *Sink) Finalize(context.Context) error {
	s.topic.Flush()
	return nil
}

// Close releases the client created by Open.
func (s *Sink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// carrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type carrier struct {
	attrs map[string]string
}

func (c *carrier) Get(key string) string {
	return c.attrs[key]
}

func (c *carrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *carrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
