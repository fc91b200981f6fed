package memory

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Load for a user that never had a session.
var ErrNotFound = errors.New("memory: user not found")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Emotion is the speech layer's affect estimate for a turn.
type Emotion struct {
	Primary    string  `json:"primary"`
	Confidence float64 `json:"confidence"`
}

// ConversationTurn is one immutable utterance in a conversation.
type ConversationTurn struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	TurnID         int64     `json:"turn_id"`
	Role           Role      `json:"role"`
	Timestamp      time.Time `json:"timestamp"`
	Transcript     string    `json:"transcript"`
	AudioRef       string    `json:"audio_ref,omitempty"`
	Emotion        *Emotion  `json:"emotion,omitempty"`
}

type Mood string

const (
	MoodHappy   Mood = "happy"
	MoodSad     Mood = "sad"
	MoodAnxious Mood = "anxious"
	MoodNeutral Mood = "neutral"
)

type Activity struct {
	Name       string    `json:"name"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Event struct {
	Description string    `json:"description"`
	At          time.Time `json:"at"`
}

// WorkingMemory is the recomputed summary of recent conversational state.
// It is replaced wholesale on every update.
type WorkingMemory struct {
	UserID           uuid.UUID  `json:"user_id"`
	LastUpdated      time.Time  `json:"last_updated"`
	RecentThemes     []string   `json:"recent_themes"`
	RecentMood       Mood       `json:"recent_mood"`
	RecentActivities []Activity `json:"recent_activities"`
	UpcomingEvents   []Event    `json:"upcoming_events"`
}

type MemoryType string

const (
	TypeFamilyInfo      MemoryType = "family_info"
	TypeMedicalInfo     MemoryType = "medical_info"
	TypePreferences     MemoryType = "preferences"
	TypeRoutine         MemoryType = "routine"
	TypePersonalHistory MemoryType = "personal_history"
)

func (t MemoryType) Valid() bool {
	switch t {
	case TypeFamilyInfo, TypeMedicalInfo, TypePreferences, TypeRoutine, TypePersonalHistory:
		return true
	}
	return false
}

type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceMedium Importance = "medium"
	ImportanceLow    Importance = "low"
)

// Rank orders importance for retrieval, higher first.
func (i Importance) Rank() int {
	switch i {
	case ImportanceHigh:
		return 3
	case ImportanceMedium:
		return 2
	case ImportanceLow:
		return 1
	}
	return 0
}

// LongTermMemory is one version of a durable fact. Rows sharing
// (UserID, MemoryType, Key) form an append-only history.
type LongTermMemory struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	MemoryType   MemoryType `json:"memory_type"`
	Key          string     `json:"key"`
	Value        string     `json:"value"`
	ExtractedAt  time.Time  `json:"extracted_at"`
	Context      string     `json:"context"`
	Importance   Importance `json:"importance"`
	Confidence   float64    `json:"confidence"`
	LastAccessed time.Time  `json:"last_accessed"`
	AccessCount  int        `json:"access_count"`
	Tags         []string   `json:"tags"`
}

// Candidate is an extracted fact that has not been merged yet.
type Candidate struct {
	MemoryType MemoryType
	Key        string
	Value      string
	Context    string
	Importance Importance
	Confidence float64
	Tags       []string
}

// Snapshot is everything the core knows about a user at turn start.
type Snapshot struct {
	ShortTerm []ConversationTurn `json:"short_term"`
	Working   *WorkingMemory     `json:"working,omitempty"`
	LongTerm  []LongTermMemory   `json:"long_term"`
}
