package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.EventPublisher = (*Publisher)(nil)

// DefaultSubject carries every document status change
const DefaultSubject = "docchat.documents.status"

// Publisher broadcasts document status events as JSON over core NATS.
// Delivery is at most once; subscribers that need history read the documents table.
type Publisher struct {
	conn    *nats.Conn
	subject string
	owned   bool
	logger  *zap.Logger
}

// Config holds Publisher options.
type Config struct {
	URL     string
	Subject string
	Logger  *zap.Logger
}

// Connect dials NATS and returns a publisher that owns the connection.
func Connect(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url is required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("docchat"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", cfg.URL, err)
	}

	p := NewPublisher(nc, cfg.Subject, log)
	p.owned = true
	log.Info("connected to nats", zap.String("url", cfg.URL), zap.String("subject", p.subject))
	return p, nil
}

// NewPublisher wraps an existing connection. Close leaves it open.
func NewPublisher(nc *nats.Conn, subject string, logger *zap.Logger) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{conn: nc, subject: subject, logger: logger}
}

// PublishDocumentStatus publishes event on the configured subject
func (p *Publisher) PublishDocumentStatus(_ context.Context, event domain.DocumentStatusEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}

	msg := nats.NewMsg(p.subject)
	msg.Data = data
	msg.Header.Set("Docchat-Document-Id", event.DocumentID)
	msg.Header.Set("Docchat-Status", string(event.Status))

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish status event: %w", err)
	}
	return nil
}

// Close flushes pending events and closes the connection if this publisher opened it
func (p *Publisher) Close() error {
	if !p.owned {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}
