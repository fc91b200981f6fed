package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/aiox-platform/companion/internal/safety"
)

// IncidentNotifier implements safety.Notifier on JetStream. A PubAck means
// the dispatcher's stream accepted the notification.
type IncidentNotifier struct {
	publisher *Publisher
}

func NewIncidentNotifier(publisher *Publisher) *IncidentNotifier {
	return &IncidentNotifier{publisher: publisher}
}

func (n *IncidentNotifier) Notify(ctx context.Context, inc *safety.Incident, recipients []safety.Recipient) (string, error) {
	msg := IncidentNotification{
		MessageID:      ulid.Make().String(),
		IncidentID:     inc.ID,
		UserID:         inc.UserID,
		ConversationID: inc.ConversationID,
		TurnID:         inc.TurnID,
		IncidentType:   inc.IncidentType,
		Severity:       inc.Severity,
		Reason:         inc.Rule.Reason,
		MatchedPhrase:  inc.MatchedPhrase,
		UserRequest:    inc.Context.UserRequest,
		Recipients:     recipients,
		DetectedAt:     inc.LastDetectedAt,
	}
	ack, err := n.publisher.PublishIncidentNotification(ctx, msg)
	if err != nil {
		return "", err
	}
	if ack != nil && ack.Duplicate {
		slog.Warn("incident notification was a duplicate", "message_id", msg.MessageID, "incident_id", inc.ID)
	}
	return msg.MessageID, nil
}

// AuditSink implements safety.EventSink by publishing audit events.
type AuditSink struct {
	publisher *Publisher
}

func NewAuditSink(publisher *Publisher) *AuditSink {
	return &AuditSink{publisher: publisher}
}

func (s *AuditSink) IncidentEvent(ctx context.Context, ev safety.Event) error {
	details, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.publisher.PublishAuditEvent(ctx, AuditEvent{
		EventID:      ulid.Make().String(),
		OwnerUserID:  ev.Incident.UserID,
		EventType:    ev.Type,
		Severity:     auditSeverity(ev.Incident.Severity),
		ResourceType: "safety_incident",
		ResourceID:   ev.Incident.ID.String(),
		Details:      details,
		Timestamp:    ev.At,
	})
}

func auditSeverity(s safety.Severity) string {
	switch s {
	case safety.SeverityCritical:
		return "error"
	case safety.SeverityHigh:
		return "warn"
	}
	return "info"
}
