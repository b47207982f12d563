// Package events publishes assembly run outcomes to NATS JetStream so
// downstream systems (dashboards, notifiers) can react to publishes without
// polling the history database.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/docpress/internal/assemble"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "docpress.runs"

// RunEvent is the wire payload published after each assembly run.
type RunEvent struct {
	RunID        string           `json:"run_id"`
	Project      string           `json:"project"`
	ManifestHash string           `json:"manifest_hash"`
	Outcome      assemble.Outcome `json:"outcome"`
	CacheHit     bool             `json:"cache_hit"`
	PagesStaged  int              `json:"pages_staged"`
	BrokenLinks  int              `json:"broken_links"`
	Timestamp    time.Time        `json:"timestamp"`
}

// Publisher sends run events to a JetStream subject.
type Publisher struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
}

// NewPublisher connects to NATS and prepares the JetStream context.
func NewPublisher(url, subject string) (*Publisher, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	slog.Info("run event publisher initialized", "url", url, "subject", subject)
	return &Publisher{conn: conn, js: js, subject: subject}, nil
}

// PublishRun publishes one finished run. A nil publisher is a no-op so
// callers don't need to guard the disabled case.
func (p *Publisher) PublishRun(ctx context.Context, project string, report *assemble.Report) error {
	if p == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	event := RunEvent{
		RunID:        report.RunID,
		Project:      project,
		ManifestHash: report.ManifestHash,
		Outcome:      report.Outcome,
		CacheHit:     report.CacheHit,
		PagesStaged:  report.PagesStaged,
		BrokenLinks:  report.BrokenLinks,
		Timestamp:    time.Now(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}
	if _, err := p.js.Publish(ctx, p.subject, data); err != nil {
		return fmt.Errorf("publish run event: %w", err)
	}
	slog.Debug("published run event", "run_id", report.RunID, "outcome", report.Outcome)
	return nil
}

// Close drains the underlying connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}
