// Package nats publishes record updates to NATS subjects.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/couchcryptid/opendata-relay/internal/domain"
)

// Publisher sends each update to <subject>.<source key>, so subscribers can
// follow one source or all of them with <subject>.>.
// It implements pipeline.BatchLoader.
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// Connect dials the NATS server at url.
func Connect(url, subject string, logger *slog.Logger) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("opendata-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &Publisher{conn: conn, subject: subject, logger: logger}, nil
}

// Name identifies the publisher in logs.
func (p *Publisher) Name() string { return "nats" }

// LoadBatch publishes every event and waits for the server to acknowledge
// the batch with a flush.
func (p *Publisher) LoadBatch(ctx context.Context, events []domain.OutputEvent) error {
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		if err := p.conn.PublishMsg(toMsg(p.subject, e)); err != nil {
			return fmt.Errorf("publish %s: %w", e.Key, err)
		}
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush nats batch: %w", err)
	}
	p.logger.Debug("updates published", "subject", p.subject, "count", len(events))
	return nil
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}

func toMsg(subject string, e domain.OutputEvent) *nats.Msg {
	if source := e.Headers["source"]; source != "" {
		subject += "." + source
	}
	msg := nats.NewMsg(subject)
	msg.Data = e.Value
	for k, v := range e.Headers {
		msg.Header.Set(k, v)
	}
	msg.Header.Set("key", string(e.Key))
	return msg
}
