package infra

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Server
	Port               int    `env:"PORT" envDefault:"5001"`
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`

	// Stores
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	// Auth
	JWTSecret     string `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	JWTUserExpiry string `env:"JWT_USER_EXPIRY" envDefault:"24h"`

	// Resolution queue
	ResolutionQueueConcurrency int `env:"RESOLUTION_QUEUE_CONCURRENCY" envDefault:"5"`

	// Live data ingest (per league)
	NFLDataIntervalSeconds  int    `env:"NFL_DATA_INTERVAL_SECONDS" envDefault:"20"`
	NFLDataRawJitterPercent int    `env:"NFL_DATA_RAW_JITTER_PERCENT" envDefault:"10"`
	DataDir                 string `env:"DATA_DIR" envDefault:"data"`
	TestDataMode            bool   `env:"TEST_DATA_MODE" envDefault:"false"`

	// Bet lifecycle
	BetLifecycleCatchupMS  int `env:"BET_LIFECYCLE_CATCHUP_MS" envDefault:"120000"`
	BetLifecycleIntervalMS int `env:"BET_LIFECYCLE_INTERVAL_MS" envDefault:"2000"`

	// Feed events
	KafkaBrokers string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled bool   `env:"KAFKA_ENABLED" envDefault:"false"`
	FeedTopic    string `env:"FEED_TOPIC" envDefault:"table-feed-events"`

	// Dev
	AllowInsecureDefaults bool `env:"ALLOW_INSECURE_DEFAULTS" envDefault:"false"`
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate rejects missing required keys and out-of-range values. Missing
// required keys are fatal at start.
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.ResolutionQueueConcurrency < 1 {
		return fmt.Errorf("RESOLUTION_QUEUE_CONCURRENCY must be >= 1, got %d", c.ResolutionQueueConcurrency)
	}
	if c.NFLDataIntervalSeconds < 12 {
		return fmt.Errorf("NFL_DATA_INTERVAL_SECONDS must be >= 12, got %d", c.NFLDataIntervalSeconds)
	}
	if c.NFLDataRawJitterPercent < 5 {
		return fmt.Errorf("NFL_DATA_RAW_JITTER_PERCENT must be >= 5, got %d", c.NFLDataRawJitterPercent)
	}
	if c.BetLifecycleCatchupMS < 30000 {
		return fmt.Errorf("BET_LIFECYCLE_CATCHUP_MS must be >= 30000, got %d", c.BetLifecycleCatchupMS)
	}
	if !c.AllowInsecureDefaults {
		if c.JWTSecret == "change-me-in-production" {
			return fmt.Errorf("JWT_SECRET is set to the insecure default; set a strong secret or set ALLOW_INSECURE_DEFAULTS=true for local dev")
		}
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET is too short (%d chars); minimum 32 characters required", len(c.JWTSecret))
		}
	}
	return nil
}
