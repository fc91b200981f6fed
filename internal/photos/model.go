package photos

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("photos: photo not found")

// Reason explains why photos are being surfaced.
type Reason string

const (
	ReasonFamilyMention    Reason = "user_mentioned_family"
	ReasonSadness          Reason = "user_expressed_sadness"
	ReasonLongConversation Reason = "long_conversation_engagement"
	ReasonRequested        Reason = "user_requested_photos"
)

func (r Reason) Valid() bool {
	switch r {
	case ReasonFamilyMention, ReasonSadness, ReasonLongConversation, ReasonRequested:
		return true
	}
	return false
}

type SortBy string

const (
	SortRelevance  SortBy = "relevance"
	SortRecent     SortBy = "recent"
	SortLeastShown SortBy = "least_shown"
)

// Photo is a catalog entry. BlobRef and ThumbnailRef are opaque references
// understood only by the MediaResolver.
type Photo struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	BlobRef         string     `json:"blob_ref"`
	ThumbnailRef    string     `json:"thumbnail_ref,omitempty"`
	ManualTags      []string   `json:"manual_tags"`
	Caption         string     `json:"caption,omitempty"`
	Location        string     `json:"location,omitempty"`
	CapturedDate    *time.Time `json:"captured_date,omitempty"`
	LastShownAt     *time.Time `json:"last_shown_at,omitempty"`
	ShownCount      int        `json:"shown_count"`
	TriggerKeywords []string   `json:"trigger_keywords,omitempty"`
}

// PhotoDisplay is what the transport renders.
type PhotoDisplay struct {
	ID           uuid.UUID  `json:"id"`
	URL          string     `json:"url"`
	ThumbnailURL string     `json:"thumbnail_url,omitempty"`
	Caption      string     `json:"caption,omitempty"`
	Location     string     `json:"location,omitempty"`
	CapturedDate *time.Time `json:"captured_date,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	MatchedTags  []string   `json:"matched_tags,omitempty"`
}

// Settings holds per-user photo options.
type Settings struct {
	CooldownSec              int `json:"cooldown_sec"`
	SessionCap               int `json:"session_cap"`
	DefaultLimit             int `json:"default_limit"`
	LongConversationAfterSec int `json:"long_conversation_after_sec"`
}

func DefaultSettings() Settings {
	return Settings{
		CooldownSec:              86400,
		SessionCap:               10,
		DefaultLimit:             5,
		LongConversationAfterSec: 900,
	}
}

// ParseSettings merges partial JSON over base. Returns base on invalid input.
func ParseSettings(data []byte, base Settings) Settings {
	if len(data) == 0 {
		return base
	}
	cfg := base
	if err := json.Unmarshal(data, &cfg); err != nil {
		return base
	}
	if cfg.CooldownSec < 0 {
		cfg.CooldownSec = base.CooldownSec
	}
	if cfg.SessionCap <= 0 {
		cfg.SessionCap = base.SessionCap
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = base.DefaultLimit
	}
	if cfg.LongConversationAfterSec <= 0 {
		cfg.LongConversationAfterSec = base.LongConversationAfterSec
	}
	return cfg
}

func (s Settings) Cooldown() time.Duration {
	return time.Duration(s.CooldownSec) * time.Second
}

func (s Settings) LongConversationAfter() time.Duration {
	return time.Duration(s.LongConversationAfterSec) * time.Second
}

// SelectRequest asks the engine for photos. A nil ExcludeRecentlyShown means
// the cooldown applies.
type SelectRequest struct {
	UserID               uuid.UUID
	SessionID            string
	Reason               Reason
	MentionedNames       []string
	ExcludeRecentlyShown *bool
	SortBy               SortBy
	Limit                int
}
