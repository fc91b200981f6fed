package memory

import (
	"encoding/json"
	"time"
)

// Config holds per-user memory settings parsed from companion_profiles.settings JSONB.
type Config struct {
	ShortTermTurns      int     `json:"short_term_turns"`
	ShortTermTTLSec     int     `json:"short_term_ttl_sec"`
	ConfidenceFloor     float64 `json:"confidence_floor"`
	LongTermLimit       int     `json:"long_term_limit"`
	ActivityWindowHours int     `json:"activity_window_hours"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ShortTermTurns:      20,
		ShortTermTTLSec:     86400,
		ConfidenceFloor:     0.6,
		LongTermLimit:       10,
		ActivityWindowHours: 72,
	}
}

// ParseConfig parses memory settings JSON into Config, merged over base.
// Returns base on nil, empty, or invalid input.
func ParseConfig(data []byte, base Config) Config {
	cfg := base
	if len(data) == 0 {
		return cfg
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return cfg
	}
	if len(raw) == 0 {
		return cfg
	}

	// Unmarshal over base so only provided fields are overwritten
	if err := json.Unmarshal(data, &cfg); err != nil {
		return base
	}
	return cfg
}

func (c Config) ShortTermTTL() time.Duration {
	return time.Duration(c.ShortTermTTLSec) * time.Second
}

func (c Config) ActivityWindow() time.Duration {
	return time.Duration(c.ActivityWindowHours) * time.Hour
}
