package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server  ServerConfig
	DB      DBConfig
	Redis   RedisConfig
	NATS    NATSConfig
	Storage StorageConfig
	Media   MediaConfig
	Auth    AuthConfig
	Session SessionConfig
	Memory  MemoryConfig
	Safety  SafetyConfig
	Photos  PhotosConfig
	Log     LogConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	CORSAllowedOrigins []string
	RateLimitPerMinute int
}

type DBConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConns       int32
	MigrationsPath string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	URL          string
	ConsumeTurns bool
	ConsumeAudit bool
}

// StorageConfig selects the durable store driver ("postgres" or "memory").
type StorageConfig struct {
	Driver string
}

// MediaConfig configures how photo references become fetchable URLs.
// When SupabaseURL is empty the static resolver joins StaticBaseURL and the reference.
type MediaConfig struct {
	SupabaseURL    string
	SupabaseKey    string
	Bucket         string
	SignedURLTTL   time.Duration
	StaticBaseURL  string
	ResolveTimeout time.Duration
}

type AuthConfig struct {
	ServiceSecret string
	Issuer        string
}

type SessionConfig struct {
	TTL             time.Duration
	PolicyCacheSize int64
}

// MemoryConfig holds platform defaults for per-user memory settings.
type MemoryConfig struct {
	ShortTermTurns  int
	ShortTermTTL    time.Duration
	ConfidenceFloor float64
	LongTermLimit   int
	ActivityWindow  time.Duration
}

// SafetyConfig holds platform defaults for incident handling.
type SafetyConfig struct {
	DedupWindow time.Duration
}

// PhotosConfig holds platform defaults for photo selection.
type PhotosConfig struct {
	Cooldown              time.Duration
	SessionCap            int
	DefaultLimit          int
	LongConversationAfter time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:               k.String("server.host"),
			Port:               k.Int("server.port"),
			CORSAllowedOrigins: splitList(k.String("cors.allowed.origins")),
			RateLimitPerMinute: k.Int("server.rate.limit"),
		},
		DB: DBConfig{
			Host:           k.String("db.host"),
			Port:           k.Int("db.port"),
			User:           k.String("db.user"),
			Password:       k.String("db.password"),
			Name:           k.String("db.name"),
			SSLMode:        k.String("db.sslmode"),
			MaxConns:       int32(k.Int("db.max.conns")),
			MigrationsPath: k.String("db.migrations.path"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL:          k.String("nats.url"),
			ConsumeTurns: k.Bool("nats.consume.turns"),
			ConsumeAudit: k.Bool("nats.consume.audit"),
		},
		Storage: StorageConfig{
			Driver: k.String("storage.driver"),
		},
		Media: MediaConfig{
			SupabaseURL:   k.String("supabase.url"),
			SupabaseKey:   k.String("supabase.key"),
			Bucket:        k.String("media.bucket"),
			StaticBaseURL: k.String("media.static.base.url"),
		},
		Auth: AuthConfig{
			ServiceSecret: k.String("auth.service.secret"),
			Issuer:        k.String("auth.issuer"),
		},
		Session: SessionConfig{
			PolicyCacheSize: int64(k.Int("session.policy.cache.size")),
		},
		Memory: MemoryConfig{
			ShortTermTurns:  k.Int("memory.short.term.turns"),
			ConfidenceFloor: k.Float64("memory.confidence.floor"),
			LongTermLimit:   k.Int("memory.long.term.limit"),
		},
		Photos: PhotosConfig{
			SessionCap:   k.Int("photos.session.cap"),
			DefaultLimit: k.Int("photos.default.limit"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerMinute == 0 {
		cfg.Server.RateLimitPerMinute = 120
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "companion"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "companion"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.DB.MigrationsPath == "" {
		cfg.DB.MigrationsPath = "migrations"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "postgres"
	}
	if cfg.Media.Bucket == "" {
		cfg.Media.Bucket = "photos"
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "companion"
	}
	if cfg.Session.PolicyCacheSize == 0 {
		cfg.Session.PolicyCacheSize = 1000
	}
	if cfg.Memory.ShortTermTurns == 0 {
		cfg.Memory.ShortTermTurns = 20
	}
	if cfg.Memory.ConfidenceFloor == 0 {
		cfg.Memory.ConfidenceFloor = 0.6
	}
	if cfg.Memory.LongTermLimit == 0 {
		cfg.Memory.LongTermLimit = 10
	}
	if cfg.Photos.SessionCap == 0 {
		cfg.Photos.SessionCap = 10
	}
	if cfg.Photos.DefaultLimit == 0 {
		cfg.Photos.DefaultLimit = 5
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "debug"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	durations := []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"media.signed.url.ttl", "15m", &cfg.Media.SignedURLTTL},
		{"media.resolve.timeout", "2s", &cfg.Media.ResolveTimeout},
		{"session.ttl", "12h", &cfg.Session.TTL},
		{"memory.short.term.ttl", "24h", &cfg.Memory.ShortTermTTL},
		{"memory.activity.window", "72h", &cfg.Memory.ActivityWindow},
		{"safety.dedup.window", "10m", &cfg.Safety.DedupWindow},
		{"photos.cooldown", "24h", &cfg.Photos.Cooldown},
		{"photos.long.conversation.after", "15m", &cfg.Photos.LongConversationAfter},
	}
	for _, d := range durations {
		raw := k.String(d.key)
		if raw == "" {
			raw = d.fallback
		}
		*d.dst, err = time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", d.key, err)
		}
	}

	return cfg, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
