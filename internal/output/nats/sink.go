// Package nats publishes crawl records on a NATS subject.
package nats

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/JakeFAU/github-crawler/internal/crawler"
	"github.com/JakeFAU/github-crawler/internal/output"
)

// Name is the sink name used in configuration.
const Name = "nats"

// Message headers set on every record.
const (
	HeaderRepository = "Crawler-Repository"
	HeaderBranch     = "Crawler-Branch"
	HeaderRunID      = "Crawler-Run-Id"
)

// Config selects the server and subject.
type Config struct {
	URL     string
	Subject string
	Clock   crawler.Clock
}

type conn interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// Sink publishes one message per record and flushes on Finalize.
type Sink struct {
	conn    conn
	subject string
	clock   crawler.Clock
}

// Connect dials the NATS server.
func Connect(cfg Config) (*Sink, error) {
	if cfg.URL == "" || cfg.Subject == "" {
		return nil, fmt.Errorf("outputs.nats.url and outputs.nats.subject are required")
	}
	nc, err := nats.Connect(cfg.URL, nats.Name("github-crawler"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return newSink(nc, cfg), nil
}

func newSink(c conn, cfg Config) *Sink {
	return &Sink{conn: c, subject: cfg.Subject, clock: output.ClockOrSystem(cfg.Clock)}
}

// Name implements crawler.Sink.
func (*Sink) Name() string { return Name }

// Output publishes every branch record of repo.
func (s *Sink) Output(_ context.Context, repo crawler.Repository) error {
	for _, rec := range output.Records(repo, s.clock.Now()) {
		data, err := output.Marshal(rec)
		if err != nil {
			return err
		}
		msg := nats.NewMsg(s.subject)
		msg.Data = data
		msg.Header.Set(HeaderRepository, rec.FullName)
		msg.Header.Set(HeaderBranch, rec.BranchName)
		msg.Header.Set(HeaderRunID, rec.CrawlerRunID)
		if err := s.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("publish %s: %w", rec.Key(), err)
		}
	}
	return nil
}

// Finalize waits until the server has processed every published message.
func (s *Sink) Finalize(ctx context.Context) error {
	if err := s.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush nats: %w", err)
	}
	return nil
}

// Close drops the connection.
func (s *Sink) Close() {
	s.conn.Close()
}
