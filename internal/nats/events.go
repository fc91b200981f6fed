package nats

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/aiox-platform/companion/internal/memory"
	"github.com/aiox-platform/companion/internal/safety"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// Stream names.
const (
	StreamTurns         = "COMPANION_TURNS"
	StreamNotifications = "COMPANION_NOTIFICATIONS"
	StreamEvents        = "COMPANION_EVENTS"
)

// Subject constants.
const (
	SubjectInboundTurn          = "companion.turns.inbound"
	SubjectTurnResult           = "companion.turns.result"
	SubjectIncidentNotification = "companion.notifications.incident"
	SubjectAuditEvent           = "companion.events.audit"
)

// TurnText is one side of a conversational turn as sent by the transport.
type TurnText struct {
	Transcript string          `json:"transcript"`
	AudioRef   string          `json:"audio_ref,omitempty"`
	Emotion    *memory.Emotion `json:"emotion,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// InboundTurn is published by the transport after the assistant produced a response.
type InboundTurn struct {
	RequestID  string    `json:"request_id"`
	SessionID  string    `json:"session_id"`
	User       TurnText  `json:"user"`
	Assistant  TurnText  `json:"assistant"`
	ReceivedAt time.Time `json:"received_at"`
}

// TurnResultMessage answers an InboundTurn. Exactly one of Result and Error is set.
type TurnResultMessage struct {
	RequestID string          `json:"request_id"`
	SessionID string          `json:"session_id"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Code      string          `json:"code,omitempty"`
}

// IncidentNotification is handed to the notification dispatcher for a
// critical incident. MessageID doubles as the JetStream dedup ID.
type IncidentNotification struct {
	MessageID      string             `json:"message_id"`
	IncidentID     uuid.UUID          `json:"incident_id"`
	UserID         uuid.UUID          `json:"user_id"`
	ConversationID uuid.UUID          `json:"conversation_id"`
	TurnID         int64              `json:"turn_id"`
	IncidentType   string             `json:"incident_type"`
	Severity       safety.Severity    `json:"severity"`
	Reason         string             `json:"reason"`
	MatchedPhrase  string             `json:"matched_phrase"`
	UserRequest    string             `json:"user_request"`
	Recipients     []safety.Recipient `json:"recipients"`
	DetectedAt     time.Time          `json:"detected_at"`
}

// AuditEvent is published for every incident transition. EventID is a ULID
// so consumers can drop replays.
type AuditEvent struct {
	EventID      string          `json:"event_id"`
	OwnerUserID  uuid.UUID       `json:"owner_user_id"`
	EventType    string          `json:"event_type"`
	Severity     string          `json:"severity"` // info, warn, error
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	Details      json.RawMessage `json:"details,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}
