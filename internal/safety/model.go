package safety

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrScreeningFailure means text could not be evaluated. The turn must not continue.
	ErrScreeningFailure = errors.New("safety: screening failure")
	// ErrDedupRace is returned by a Store when a concurrent write conflicted with the dedup check.
	ErrDedupRace = errors.New("safety: dedup race")
	ErrNotFound  = errors.New("safety: incident not found")
	ErrNoRules   = errors.New("safety: rules missing")
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	}
	return 0
}

func (s Severity) Valid() bool {
	return s.Rank() > 0
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// NeverAllowRule forbids a behavior. Keywords are the phrases that reveal it;
// when empty the rule text itself is matched.
type NeverAllowRule struct {
	ID       string   `json:"id,omitempty"`
	Rule     string   `json:"rule"`
	Reason   string   `json:"reason"`
	Severity Severity `json:"severity"`
	Keywords []string `json:"keywords,omitempty"`
}

// Recipient is a family contact handed to the notification dispatcher.
type Recipient struct {
	Name     string `json:"name"`
	Relation string `json:"relation,omitempty"`
	Channel  string `json:"channel"`
	Address  string `json:"address"`
}

// Rules is the per-user safety configuration, read once per session.
type Rules struct {
	NeverAllow         []NeverAllowRule  `json:"never_allow"`
	RedirectToFamily   []string          `json:"redirect_to_family"`
	ApprovedActivities []string          `json:"approved_activities"`
	CrisisTriggers     []string          `json:"crisis_triggers"`
	ForbiddenTopics    []string          `json:"forbidden_topics"`
	ForbiddenSeverity  Severity          `json:"forbidden_severity,omitempty"`
	IncidentTypes      map[string]string `json:"incident_types,omitempty"`
	Recipients         []Recipient       `json:"recipients,omitempty"`
}

// ParseRules decodes a safety_rules document. Unlike settings, rules have no
// safe default: an empty or malformed document is an error.
func ParseRules(data []byte) (Rules, error) {
	var rules Rules
	if len(data) == 0 {
		return rules, ErrNoRules
	}
	if err := json.Unmarshal(data, &rules); err != nil {
		return rules, fmt.Errorf("decoding safety rules: %w", err)
	}
	if rules.ForbiddenSeverity == "" {
		rules.ForbiddenSeverity = SeverityMedium
	}
	if rules.ForbiddenSeverity != SeverityMedium && rules.ForbiddenSeverity != SeverityHigh {
		return rules, fmt.Errorf("forbidden_severity must be medium or high, got %q", rules.ForbiddenSeverity)
	}
	for i, r := range rules.NeverAllow {
		if !r.Severity.Valid() {
			return rules, fmt.Errorf("never_allow[%d]: invalid severity %q", i, r.Severity)
		}
	}
	return rules, nil
}

// Settings holds per-user incident handling options.
type Settings struct {
	DedupWindowSec int `json:"dedup_window_sec"`
}

func DefaultSettings() Settings {
	return Settings{DedupWindowSec: 600}
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
	if cfg.DedupWindowSec <= 0 {
		cfg.DedupWindowSec = base.DedupWindowSec
	}
	return cfg
}

func (s Settings) DedupWindow() time.Duration {
	return time.Duration(s.DedupWindowSec) * time.Second
}

// Match is the result of a positive scan. Scan returns at most one.
type Match struct {
	RuleID       string   `json:"rule_id"`
	RuleName     string   `json:"rule_name"`
	Reason       string   `json:"reason"`
	IncidentType string   `json:"incident_type"`
	Severity     Severity `json:"severity"`
	Phrase       string   `json:"phrase"`
	Role         Role     `json:"role"`
}

type Status string

const (
	StatusOpen      Status = "open"
	StatusEscalated Status = "escalated"
	StatusResolved  Status = "resolved"
)

type Outcome string

const (
	OutcomeCreated      Outcome = "created"
	OutcomeDeduplicated Outcome = "deduplicated"
	OutcomeEscalated    Outcome = "escalated"
)

type IncidentContext struct {
	UserRequest string `json:"user_request"`
	AIResponse  string `json:"ai_response"`
}

type RuleRef struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Reason   string `json:"reason"`
}

type NotificationStatus string

const (
	NotificationQueued NotificationStatus = "queued"
	NotificationFailed NotificationStatus = "failed"
)

// FamilyNotification records the hand-off to the dispatcher, not delivery.
type FamilyNotification struct {
	Status     NotificationStatus `json:"status"`
	NotifiedAt time.Time          `json:"notified_at"`
	Recipients []Recipient        `json:"recipients"`
	MessageID  string             `json:"message_id,omitempty"`
	Error      string             `json:"error,omitempty"`
}

type Resolution struct {
	ResolvedAt time.Time `json:"resolved_at"`
	ResolvedBy string    `json:"resolved_by"`
	Notes      string    `json:"notes,omitempty"`
}

type Incident struct {
	ID                 uuid.UUID           `json:"id"`
	UserID             uuid.UUID           `json:"user_id"`
	Timestamp          time.Time           `json:"timestamp"`
	IncidentType       string              `json:"incident_type"`
	Severity           Severity            `json:"severity"`
	ConversationID     uuid.UUID           `json:"conversation_id"`
	TurnID             int64               `json:"turn_id"`
	Context            IncidentContext     `json:"context"`
	Rule               RuleRef             `json:"safety_rule"`
	MatchedPhrase      string              `json:"matched_phrase"`
	MatchedRole        Role                `json:"matched_role"`
	FamilyNotification *FamilyNotification `json:"family_notification,omitempty"`
	Resolution         *Resolution         `json:"resolution,omitempty"`
	Status             Status              `json:"status"`
	DetectionCount     int                 `json:"detection_count"`
	LastDetectedAt     time.Time           `json:"last_detected_at"`
	EscalatedFrom      *uuid.UUID          `json:"escalated_from,omitempty"`
}

// Detection is a Match together with the turn it was found in.
type Detection struct {
	Match          Match
	UserID         uuid.UUID
	ConversationID uuid.UUID
	TurnID         int64
	Context        IncidentContext
}

// DedupKey identifies the incidents a detection may fold into.
type DedupKey struct {
	ConversationID uuid.UUID
	IncidentType   string
}

func (k DedupKey) String() string {
	return k.ConversationID.String() + ":" + k.IncidentType
}

// ListParams holds pagination and filtering for incident queries.
type ListParams struct {
	Status   Status
	Severity Severity
	Page     int
	PageSize int
}

func DefaultListParams() ListParams {
	return ListParams{Page: 1, PageSize: 20}
}
