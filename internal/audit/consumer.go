package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/oklog/ulid/v2"

	inats "github.com/aiox-platform/companion/internal/nats"
)

const consumerName = "audit-persister"

// Consumer listens on the audit event subject and persists entries.
type Consumer struct {
	repo        Repository
	consumerMgr *inats.ConsumerManager
}

// NewConsumer creates a new audit event Consumer.
func NewConsumer(repo Repository, consumerMgr *inats.ConsumerManager) *Consumer {
	return &Consumer{
		repo:        repo,
		consumerMgr: consumerMgr,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, inats.StreamEvents, consumerName, inats.SubjectAuditEvent, 5)
	if err != nil {
		return err
	}

	slog.Info("audit consumer started", "consumer", consumerName)
	return inats.FetchLoop(ctx, consumer, consumerName, c.handleEvent)
}

func (c *Consumer) handleEvent(ctx context.Context, msg jetstream.Msg) {
	var event inats.AuditEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		slog.Error("audit consumer: unmarshaling event", "error", err)
		_ = msg.Term()
		return
	}

	if err := c.persist(ctx, event); err != nil {
		slog.Error("audit consumer: persisting entry", "error", err, "event_type", event.EventType)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

func (c *Consumer) persist(ctx context.Context, event inats.AuditEvent) error {
	entry := toEntry(event)
	if err := c.repo.Insert(ctx, entry); err != nil {
		return err
	}
	slog.Debug("audit consumer: persisted event",
		"event_type", event.EventType,
		"owner", event.OwnerUserID,
		"resource_id", event.ResourceID,
	)
	return nil
}

// toEntry converts a published event to its stored form. The entry ID is
// derived from the event ULID so a redelivered event maps to the same row.
func toEntry(event inats.AuditEvent) *Entry {
	entry := &Entry{
		OwnerUserID:  event.OwnerUserID,
		EventType:    event.EventType,
		Severity:     event.Severity,
		ResourceType: event.ResourceType,
		Details:      event.Details,
		CreatedAt:    event.Timestamp,
	}

	if id, err := ulid.Parse(event.EventID); err == nil {
		entry.ID = uuid.UUID(id)
	} else {
		entry.ID = uuid.New()
	}

	// ResourceID may be a non-UUID string; keep nil on failure
	if event.ResourceID != "" {
		if parsed, err := uuid.Parse(event.ResourceID); err == nil {
			entry.ResourceID = &parsed
		}
	}

	if len(entry.Details) == 0 || !json.Valid(entry.Details) {
		entry.Details = json.RawMessage(`{}`)
	}
	return entry
}
