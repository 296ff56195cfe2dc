package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	pstrings "tokenbank/pkg/platform/strings"
)

// Storage backends selectable with TOKENBANK_STORE.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreBadger   = "badger"
)

// Server captures process level configuration.
type Server struct {
	Addr     string
	LogLevel string
	Store    string

	// MaxRequestAge rejects signed requests issued earlier than this.
	MaxRequestAge time.Duration
	// SeedTokens are whitelisted on every registry created by the server.
	SeedTokens []string

	Database  DatabaseConfig
	Badger    BadgerConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Outbox    OutboxConfig
	RateLimit RateLimitConfig
}

type DatabaseConfig struct {
	URL string
	// Driver is the database/sql driver name: "postgres" (lib/pq) or "pgx".
	Driver          string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type BadgerConfig struct {
	// Dir is the data directory. Empty runs badger in memory.
	Dir string
}

// RedisConfig configures the nonce replay guard. An empty URL disables Redis
// and the in-process guard is used instead.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the ledger event relay. No brokers means events are
// relayed to the log.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// RateLimitConfig caps requests per window. A zero limit disables that rule.
type RateLimitConfig struct {
	PerIP     int
	PerSigner int
	Window    time.Duration
}

type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:     envOr("TOKENBANK_ADDR", ":8080"),
		LogLevel: envOr("LOG_LEVEL", "info"),
		Store:    strings.ToLower(envOr("TOKENBANK_STORE", StoreMemory)),
		Database: DatabaseConfig{
			URL:    os.Getenv("DATABASE_URL"),
			Driver: envOr("DATABASE_DRIVER", "postgres"),
		},
		Badger: BadgerConfig{
			Dir: os.Getenv("BADGER_DIR"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Kafka: KafkaConfig{
			Brokers:  pstrings.SplitAndDedupe(os.Getenv("KAFKA_BROKERS")),
			Topic:    envOr("KAFKA_LEDGER_TOPIC", "tokenbank.ledger.events"),
			ClientID: envOr("KAFKA_CLIENT_ID", "tokenbank"),
		},
		SeedTokens: pstrings.SplitAndDedupe(os.Getenv("TOKENBANK_SEED_TOKENS")),
	}

	var err error
	if cfg.MaxRequestAge, err = durationEnv("REQUEST_MAX_AGE", 5*time.Minute); err != nil {
		return Server{}, err
	}
	if cfg.Outbox.PollInterval, err = durationEnv("OUTBOX_POLL_INTERVAL", time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Outbox.BatchSize, err = intEnv("OUTBOX_BATCH_SIZE", 100); err != nil {
		return Server{}, err
	}
	if cfg.RateLimit.PerIP, err = intEnv("RATE_LIMIT_PER_IP", 600); err != nil {
		return Server{}, err
	}
	if cfg.RateLimit.PerSigner, err = intEnv("RATE_LIMIT_PER_SIGNER", 120); err != nil {
		return Server{}, err
	}
	if cfg.RateLimit.Window, err = durationEnv("RATE_LIMIT_WINDOW", time.Minute); err != nil {
		return Server{}, err
	}
	if cfg.Database.MaxOpenConns, err = intEnv("DATABASE_MAX_OPEN_CONNS", 20); err != nil {
		return Server{}, err
	}
	if cfg.Database.MaxIdleConns, err = intEnv("DATABASE_MAX_IDLE_CONNS", 5); err != nil {
		return Server{}, err
	}
	if cfg.Database.ConnMaxLifetime, err = durationEnv("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute); err != nil {
		return Server{}, err
	}
	if cfg.Redis.PoolSize, err = intEnv("REDIS_POOL_SIZE", 10); err != nil {
		return Server{}, err
	}
	if cfg.Redis.MinIdleConns, err = intEnv("REDIS_MIN_IDLE_CONNS", 2); err != nil {
		return Server{}, err
	}
	if cfg.Redis.DialTimeout, err = durationEnv("REDIS_DIAL_TIMEOUT", 5*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Redis.ReadTimeout, err = durationEnv("REDIS_READ_TIMEOUT", 3*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Redis.WriteTimeout, err = durationEnv("REDIS_WRITE_TIMEOUT", 3*time.Second); err != nil {
		return Server{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (s Server) Validate() error {
	switch s.Store {
	case StoreMemory, StoreBadger:
	case StorePostgres:
		if s.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when TOKENBANK_STORE=%s", StorePostgres)
		}
		if s.Database.Driver != "postgres" && s.Database.Driver != "pgx" {
			return fmt.Errorf("DATABASE_DRIVER must be postgres or pgx, got %q", s.Database.Driver)
		}
	default:
		return fmt.Errorf("TOKENBANK_STORE must be one of memory, postgres, badger, got %q", s.Store)
	}
	if s.MaxRequestAge <= 0 {
		return fmt.Errorf("REQUEST_MAX_AGE must be positive")
	}
	if s.Outbox.PollInterval <= 0 {
		return fmt.Errorf("OUTBOX_POLL_INTERVAL must be positive")
	}
	if s.Outbox.BatchSize <= 0 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be positive")
	}
	if s.RateLimit.PerIP < 0 || s.RateLimit.PerSigner < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	if s.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
