package orchestrator

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aiox-platform/companion/internal/memory"
	"github.com/aiox-platform/companion/internal/photos"
	"github.com/aiox-platform/companion/internal/safety"
)

// Enrichment steps.
const (
	StepMemory  = "memory"
	StepPhotos  = "photos"
	StepSession = "session"
)

// EnrichmentError wraps a failure in a step that must not abort the turn.
type EnrichmentError struct {
	Step string
	Err  error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrichment %s: %v", e.Step, e.Err)
}

func (e *EnrichmentError) Unwrap() error {
	return e.Err
}

// TurnInput is one side of an exchange as delivered by the transport.
type TurnInput struct {
	Transcript string          `json:"transcript" validate:"max=10000"`
	AudioRef   string          `json:"audio_ref,omitempty" validate:"max=500"`
	Emotion    *memory.Emotion `json:"emotion,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

func (in TurnInput) turn(conversationID uuid.UUID, turnID int64, role memory.Role, fallback time.Time) memory.ConversationTurn {
	ts := in.Timestamp
	if ts.IsZero() {
		ts = fallback
	}
	return memory.ConversationTurn{
		ConversationID: conversationID,
		TurnID:         turnID,
		Role:           role,
		Timestamp:      ts.UTC(),
		Transcript:     in.Transcript,
		AudioRef:       in.AudioRef,
		Emotion:        in.Emotion,
	}
}

// IncidentSummary is the transport-facing view of an incident raised by the turn.
type IncidentSummary struct {
	ID           uuid.UUID       `json:"id"`
	IncidentType string          `json:"incident_type"`
	Severity     safety.Severity `json:"severity"`
	Outcome      safety.Outcome  `json:"outcome"`
	RuleID       string          `json:"rule_id"`
	Reason       string          `json:"reason"`
	Role         safety.Role     `json:"role"`
	Notified     bool            `json:"notified"`
}

// WorkingSummary is the slice of working memory the assistant prompt needs.
type WorkingSummary struct {
	RecentMood       memory.Mood `json:"recent_mood"`
	RecentThemes     []string    `json:"recent_themes"`
	RecentActivities []string    `json:"recent_activities"`
	UpcomingEvents   []string    `json:"upcoming_events"`
}

func summarizeWorking(wm *memory.WorkingMemory) *WorkingSummary {
	if wm == nil {
		return nil
	}
	s := &WorkingSummary{
		RecentMood:       wm.RecentMood,
		RecentThemes:     wm.RecentThemes,
		RecentActivities: make([]string, 0, len(wm.RecentActivities)),
		UpcomingEvents:   make([]string, 0, len(wm.UpcomingEvents)),
	}
	for _, a := range wm.RecentActivities {
		s.RecentActivities = append(s.RecentActivities, a.Name)
	}
	for _, e := range wm.UpcomingEvents {
		s.UpcomingEvents = append(s.UpcomingEvents, e.Description)
	}
	return s
}

// PhotoEvent tells the transport to display photos alongside the response.
type PhotoEvent struct {
	PhotoIDs       []uuid.UUID           `json:"photo_ids"`
	Photos         []photos.PhotoDisplay `json:"photos"`
	TriggerReason  photos.Reason         `json:"trigger_reason"`
	MentionedNames []string              `json:"mentioned_names,omitempty"`
	Context        string                `json:"context"`
	EmotionalState string                `json:"emotional_state,omitempty"`
}

// TurnResult is everything the transport needs after one exchange.
type TurnResult struct {
	ConversationID     uuid.UUID           `json:"conversation_id"`
	TurnID             int64               `json:"turn_id"`
	Incidents          []IncidentSummary   `json:"incidents"`
	Blocked            bool                `json:"blocked"`
	Working            *WorkingSummary     `json:"working,omitempty"`
	Memory             *memory.MergeResult `json:"memory,omitempty"`
	PhotoEvent         *PhotoEvent         `json:"photo_event,omitempty"`
	RedirectTopic      string              `json:"redirect_topic,omitempty"`
	ApprovedActivities []string            `json:"approved_activities,omitempty"`
	// Enrichment lists the steps that failed and were skipped.
	Enrichment []string `json:"enrichment_failures,omitempty"`
}
