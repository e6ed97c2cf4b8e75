package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Priya8975/error-ingest/internal/blob"
	"github.com/Priya8975/error-ingest/internal/engine"
	"github.com/Priya8975/error-ingest/internal/ingest"
	"github.com/Priya8975/error-ingest/internal/sanitize"
	"github.com/Priya8975/error-ingest/internal/symbolicate"
	"github.com/caarlos0/env/v11"
)

// Config holds all configuration for the application.
type Config struct {
	Port          string `env:"PORT"           envDefault:"8080"`
	DatabaseURL   string `env:"DATABASE_URL,notEmpty"`
	RedisURL      string `env:"REDIS_URL,notEmpty"`
	LogLevel      string `env:"LOG_LEVEL"      envDefault:"info"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	JWTSecret string `env:"JWT_SECRET,notEmpty"`
	JWTIssuer string `env:"JWT_ISSUER"`

	BlobBackend  string `env:"BLOB_BACKEND"   envDefault:"local"`
	S3Region     string `env:"S3_REGION"      envDefault:"us-east-1"`
	S3Endpoint   string `env:"S3_ENDPOINT"`
	BlobLocalDir string `env:"BLOB_LOCAL_DIR" envDefault:"./artifacts"`

	BreakerThreshold int           `env:"BLOB_BREAKER_THRESHOLD" envDefault:"5"`
	BreakerCooldown  time.Duration `env:"BLOB_BREAKER_COOLDOWN"  envDefault:"30s"`

	RateWindow  time.Duration `env:"RATE_WINDOW"     envDefault:"1m"`
	UserLimit   int           `env:"RATE_USER_LIMIT" envDefault:"60"`
	IPLimit     int           `env:"RATE_IP_LIMIT"   envDefault:"120"`
	DedupWindow time.Duration `env:"DEDUP_WINDOW"    envDefault:"2m"`

	MaxBatchItems   int `env:"MAX_BATCH_ITEMS"   envDefault:"20"`
	MaxMessage      int `env:"MAX_MESSAGE_CHARS" envDefault:"1200"`
	MaxRawStack     int `env:"MAX_STACK_CHARS"   envDefault:"16000"`
	MaxBreadcrumbs  int `env:"MAX_BREADCRUMBS"   envDefault:"50"`
	MaxContextChars int `env:"MAX_CONTEXT_CHARS" envDefault:"24000"`
	ScrubMaxDepth   int `env:"SCRUB_MAX_DEPTH"   envDefault:"4"`
	ScrubMaxItems   int `env:"SCRUB_MAX_ITEMS"   envDefault:"60"`

	SnapshotTTL time.Duration `env:"RELEASE_SNAPSHOT_TTL" envDefault:"5m"`

	ShortRetentionDays    int `env:"RETENTION_SHORT_DAYS"    envDefault:"14"`
	StandardRetentionDays int `env:"RETENTION_STANDARD_DAYS" envDefault:"90"`
	LongRetentionDays     int `env:"RETENTION_LONG_DAYS"     envDefault:"365"`

	SymbolicationShortTTL time.Duration `env:"SYMBOLICATION_SHORT_TTL"  envDefault:"48h"`
	SymbolicationLongTTL  time.Duration `env:"SYMBOLICATION_LONG_TTL"   envDefault:"720h"`
	MaxIssueEvents        int           `env:"SYMBOLICATION_MAX_EVENTS" envDefault:"200"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.MaxBatchItems <= 0 {
		return nil, fmt.Errorf("MAX_BATCH_ITEMS must be positive")
	}
	if cfg.RateWindow <= 0 || cfg.DedupWindow <= 0 {
		return nil, fmt.Errorf("RATE_WINDOW and DEDUP_WINDOW must be positive")
	}
	return cfg, nil
}

// SlogLevel maps LOG_LEVEL to a slog level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) Ingest() ingest.Config {
	out := ingest.DefaultConfig()
	out.MaxBatchItems = c.MaxBatchItems
	out.MaxMessage = c.MaxMessage
	out.MaxRawStack = c.MaxRawStack
	out.MaxBreadcrumbs = c.MaxBreadcrumbs
	out.MaxContextChars = c.MaxContextChars
	out.ShortRetention = days(c.ShortRetentionDays)
	out.StandardRetention = days(c.StandardRetentionDays)
	out.LongRetention = days(c.LongRetentionDays)
	return out
}

func (c *Config) Gate() engine.GateConfig {
	return engine.GateConfig{
		RateWindow:  c.RateWindow,
		UserLimit:   c.UserLimit,
		IPLimit:     c.IPLimit,
		DedupWindow: c.DedupWindow,
	}
}

func (c *Config) Scrub() sanitize.Config {
	return sanitize.Config{MaxDepth: c.ScrubMaxDepth, MaxListItems: c.ScrubMaxItems}
}

func (c *Config) Symbolication() symbolicate.Config {
	return symbolicate.Config{
		ShortTTL:       c.SymbolicationShortTTL,
		LongTTL:        c.SymbolicationLongTTL,
		MaxIssueEvents: c.MaxIssueEvents,
	}
}

func (c *Config) Blob() blob.Options {
	return blob.Options{
		Backend:  c.BlobBackend,
		Region:   c.S3Region,
		Endpoint: c.S3Endpoint,
		LocalDir: c.BlobLocalDir,
	}
}

// Breaker returns the artifact-store circuit settings. A zero threshold
// disables the breaker.
func (c *Config) Breaker() (blob.BreakerConfig, bool) {
	return blob.BreakerConfig{FailureThreshold: c.BreakerThreshold, Cooldown: c.BreakerCooldown}, c.BreakerThreshold > 0
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
