package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// Storage driver
	switch c.Storage.Driver {
	case "postgres":
		if c.DB.Password == "" {
			errs = append(errs, "DB_PASSWORD is required")
		}
	case "memory":
		slog.Warn("STORAGE_DRIVER is memory, incidents and memories will not survive a restart")
	default:
		errs = append(errs, fmt.Sprintf("STORAGE_DRIVER must be postgres or memory, got %q", c.Storage.Driver))
	}

	// Service auth: warn only
	if c.Auth.ServiceSecret == "" {
		slog.Warn("AUTH_SERVICE_SECRET is empty, HTTP API has no authentication")
	} else if len(c.Auth.ServiceSecret) < 32 {
		errs = append(errs, "AUTH_SERVICE_SECRET must be at least 32 characters")
	}

	// Media
	if (c.Media.SupabaseURL == "") != (c.Media.SupabaseKey == "") {
		errs = append(errs, "SUPABASE_URL and SUPABASE_KEY must be set together")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1-65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1-65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1-65535, got %d", c.Redis.Port))
	}

	// Domain defaults
	if c.Memory.ConfidenceFloor < 0 || c.Memory.ConfidenceFloor > 1 {
		errs = append(errs, fmt.Sprintf("MEMORY_CONFIDENCE_FLOOR must be within 0-1, got %v", c.Memory.ConfidenceFloor))
	}
	if c.Memory.ShortTermTurns < 1 {
		errs = append(errs, "MEMORY_SHORT_TERM_TURNS must be positive")
	}
	if c.Safety.DedupWindow <= 0 {
		errs = append(errs, "SAFETY_DEDUP_WINDOW must be positive")
	}
	if c.Photos.SessionCap < 1 {
		errs = append(errs, "PHOTOS_SESSION_CAP must be positive")
	}
	if c.Photos.DefaultLimit < 1 {
		errs = append(errs, "PHOTOS_DEFAULT_LIMIT must be positive")
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT must be text or json, got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
