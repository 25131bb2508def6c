// Package events publishes editor lifecycle notifications so downstream
// consumers (deployment pipelines, cache invalidators) can react to published
// versions without polling.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Event is one lifecycle notification.
type Event struct {
	Type       string    `json:"type"`
	FeedSource string    `json:"feedSource"`
	Snapshot   string    `json:"snapshot,omitempty"`
	Version    string    `json:"version,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

const (
	TypeSnapshotCreated   = "snapshot.created"
	TypeSnapshotDiscarded = "snapshot.discarded"
	TypeVersionPublished  = "version.published"
	TypeVersionImported   = "version.imported"
)

// Publisher emits events. Implementations must not block the caller on broker
// trouble; a lost notification is preferable to a stalled publish.
type Publisher interface {
	Publish(ev Event)
	Close()
}

// NATSPublisher publishes events as JSON on "feedsmith.<type>" subjects.
type NATSPublisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewNATSPublisher(url string, logger *slog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connecting to nats: %w", err)
	}
	return &NATSPublisher{conn: conn, logger: logger}, nil
}

func (p *NATSPublisher) Publish(ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("marshaling event", "type", ev.Type, "error", err)
		return
	}
	subject := "feedsmith." + ev.Type
	if err := p.conn.Publish(subject, payload); err != nil {
		p.logger.Warn("publishing event", "subject", subject, "error", err)
	}
}

func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("draining nats connection", "error", err)
	}
}

// NopPublisher discards events, for deployments without a broker and for
// tests.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}
func (NopPublisher) Close()        {}
