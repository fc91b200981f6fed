package session

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/aiox-platform/companion/internal/config"
	"github.com/aiox-platform/companion/internal/memory"
	"github.com/aiox-platform/companion/internal/photos"
	"github.com/aiox-platform/companion/internal/safety"
)

var (
	// ErrConfigMissing means the user has no usable safety configuration. A
	// session cannot start without one.
	ErrConfigMissing   = errors.New("session: safety configuration missing")
	ErrNotFound        = errors.New("session: not found")
	ErrVersionConflict = errors.New("session: version conflict")
)

// Profile is a user's companion_profiles row.
type Profile struct {
	UserID      uuid.UUID       `json:"user_id"`
	SafetyRules json.RawMessage `json:"safety_rules"`
	Settings    json.RawMessage `json:"settings"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Settings is the per-user tuning snapshot taken at session start.
type Settings struct {
	Memory memory.Config   `json:"memory"`
	Safety safety.Settings `json:"safety"`
	Photos photos.Settings `json:"photos"`
}

func DefaultSettings() Settings {
	return Settings{
		Memory: memory.DefaultConfig(),
		Safety: safety.DefaultSettings(),
		Photos: photos.DefaultSettings(),
	}
}

// SettingsFromConfig builds platform defaults from the service configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	s := DefaultSettings()
	s.Memory = memory.Config{
		ShortTermTurns:      cfg.Memory.ShortTermTurns,
		ShortTermTTLSec:     int(cfg.Memory.ShortTermTTL.Seconds()),
		ConfidenceFloor:     cfg.Memory.ConfidenceFloor,
		LongTermLimit:       cfg.Memory.LongTermLimit,
		ActivityWindowHours: int(cfg.Memory.ActivityWindow.Hours()),
	}
	s.Safety.DedupWindowSec = int(cfg.Safety.DedupWindow.Seconds())
	s.Photos = photos.Settings{
		CooldownSec:              int(cfg.Photos.Cooldown.Seconds()),
		SessionCap:               cfg.Photos.SessionCap,
		DefaultLimit:             cfg.Photos.DefaultLimit,
		LongConversationAfterSec: int(cfg.Photos.LongConversationAfter.Seconds()),
	}
	return s
}

// ParseSettings merges a settings document over base, section by section.
// Invalid sections fall back to base.
func ParseSettings(data []byte, base Settings) Settings {
	if len(data) == 0 {
		return base
	}
	var raw struct {
		Memory json.RawMessage `json:"memory"`
		Safety json.RawMessage `json:"safety"`
		Photos json.RawMessage `json:"photos"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return base
	}
	return Settings{
		Memory: memory.ParseConfig(raw.Memory, base.Memory),
		Safety: safety.ParseSettings(raw.Safety, base.Safety),
		Photos: photos.ParseSettings(raw.Photos, base.Photos),
	}
}

// Session is one conversation's state. Rules and Settings are frozen at
// start; profile edits apply to the next session.
type Session struct {
	ID             string       `json:"id"`
	UserID         uuid.UUID    `json:"user_id"`
	ConversationID uuid.UUID    `json:"conversation_id"`
	StartedAt      time.Time    `json:"started_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	LastTurnAt     *time.Time   `json:"last_turn_at,omitempty"`
	TurnCount      int          `json:"turn_count"`
	Version        int64        `json:"version"`
	Rules          safety.Rules `json:"rules"`
	Settings       Settings     `json:"settings"`
}

// Elapsed is the conversation length at now.
func (s *Session) Elapsed(now time.Time) time.Duration {
	return now.Sub(s.StartedAt)
}
