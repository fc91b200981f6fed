package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// StreamPublisher is the subset of jetstream.JetStream the Publisher needs.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher provides typed methods for publishing to NATS JetStream.
type Publisher struct {
	js StreamPublisher
}

// NewPublisher creates a new Publisher.
func NewPublisher(js StreamPublisher) *Publisher {
	return &Publisher{js: js}
}

// PublishInboundTurn publishes a turn for the orchestrator consumer.
func (p *Publisher) PublishInboundTurn(ctx context.Context, msg InboundTurn) error {
	_, err := p.publish(ctx, SubjectInboundTurn, msg)
	return err
}

// PublishTurnResult publishes the outcome of a processed turn.
func (p *Publisher) PublishTurnResult(ctx context.Context, msg TurnResultMessage) error {
	_, err := p.publish(ctx, SubjectTurnResult, msg)
	return err
}

// PublishIncidentNotification hands a notification to the dispatcher. The
// stream drops a repeated MessageID inside its duplicate window.
func (p *Publisher) PublishIncidentNotification(ctx context.Context, msg IncidentNotification) (*jetstream.PubAck, error) {
	return p.publish(ctx, SubjectIncidentNotification, msg, jetstream.WithMsgID(msg.MessageID))
}

// PublishAuditEvent publishes an audit event.
func (p *Publisher) PublishAuditEvent(ctx context.Context, event AuditEvent) error {
	_, err := p.publish(ctx, SubjectAuditEvent, event)
	return err
}

func (p *Publisher) publish(ctx context.Context, subject string, data any, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	ack, err := p.js.Publish(ctx, subject, payload, opts...)
	if err != nil {
		return nil, fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return ack, nil
}
