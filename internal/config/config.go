package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/castdeck/api/internal/model"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Gateway   GatewayConfig
	RateLimit RateLimitConfig
	Dispatch  DispatchConfig
	Audit     AuditConfig
	Feed      FeedConfig
	Player    PlayerConfig
	Catalog   CatalogConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type DatabaseConfig struct {
	Driver      string // postgres or sqlite
	DSN         string
	AutoMigrate bool
}

type JWTConfig struct {
	Secret string
}

type GatewayConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	DispatchPerMin int
}

type DispatchConfig struct {
	SequencePolicy model.SequencePolicy
	MaxCASRetries  int
}

// AuditConfig covers both the in-process ordered queue and the asynq
// queue used for command-log writes and dead-lettered tasks.
type AuditConfig struct {
	Queue          string
	MaxRetry       int
	RetentionHours int
	Concurrency    int
	Workers        int
	QueueSize      int
	MaxTries       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type FeedConfig struct {
	Buffer int
}

type PlayerConfig struct {
	HeartbeatTimeout time.Duration
	CheckInterval    time.Duration
}

type CatalogConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func Load() (*Config, error) {
	readSecret("REDIS_PASSWORD")
	readSecret("DATABASE_DSN")
	readSecret("JWT_SECRET")
	readSecret("CATALOG_API_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("redis.key_prefix", "REDIS_KEY_PREFIX")
	_ = viper.BindEnv("database.driver", "DATABASE_DRIVER")
	_ = viper.BindEnv("database.dsn", "DATABASE_DSN")
	_ = viper.BindEnv("database.auto_migrate", "DATABASE_AUTO_MIGRATE")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
	_ = viper.BindEnv("ratelimit.dispatch_per_min", "RATELIMIT_DISPATCH_PER_MIN")
	_ = viper.BindEnv("dispatch.sequence_policy", "DISPATCH_SEQUENCE_POLICY")
	_ = viper.BindEnv("dispatch.max_cas_retries", "DISPATCH_MAX_CAS_RETRIES")
	_ = viper.BindEnv("audit.queue", "AUDIT_QUEUE")
	_ = viper.BindEnv("audit.max_retry", "AUDIT_MAX_RETRY")
	_ = viper.BindEnv("audit.workers", "AUDIT_WORKERS")
	_ = viper.BindEnv("audit.queue_size", "AUDIT_QUEUE_SIZE")
	_ = viper.BindEnv("audit.max_tries", "AUDIT_MAX_TRIES")
	_ = viper.BindEnv("feed.buffer", "FEED_BUFFER")
	_ = viper.BindEnv("player.heartbeat_timeout_sec", "PLAYER_HEARTBEAT_TIMEOUT_SEC")
	_ = viper.BindEnv("player.check_interval_sec", "PLAYER_CHECK_INTERVAL_SEC")
	_ = viper.BindEnv("catalog.base_url", "CATALOG_BASE_URL")
	_ = viper.BindEnv("catalog.api_key", "CATALOG_API_KEY")
	_ = viper.BindEnv("catalog.timeout_sec", "CATALOG_TIMEOUT_SEC")

	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.key_prefix", "castdeck:")
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.dsn", "castdeck.db")
	viper.SetDefault("database.auto_migrate", true)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("gateway.enabled", false)
	viper.SetDefault("ratelimit.dispatch_per_min", 600)
	viper.SetDefault("dispatch.sequence_policy", string(model.SequencePolicyLastWriterWins))
	viper.SetDefault("dispatch.max_cas_retries", 16)
	viper.SetDefault("audit.queue", "audit")
	viper.SetDefault("audit.max_retry", 10)
	viper.SetDefault("audit.retention_hours", 24)
	viper.SetDefault("audit.concurrency", 4)
	viper.SetDefault("audit.workers", 8)
	viper.SetDefault("audit.queue_size", 256)
	viper.SetDefault("audit.max_tries", 5)
	viper.SetDefault("audit.initial_backoff_ms", 50)
	viper.SetDefault("audit.max_backoff_ms", 2000)
	viper.SetDefault("feed.buffer", 16)
	viper.SetDefault("player.heartbeat_timeout_sec", 15)
	viper.SetDefault("player.check_interval_sec", 5)
	viper.SetDefault("catalog.base_url", "")
	viper.SetDefault("catalog.timeout_sec", 5)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:      viper.GetString("redis.addr"),
			Password:  viper.GetString("redis.password"),
			DB:        viper.GetInt("redis.db"),
			KeyPrefix: viper.GetString("redis.key_prefix"),
		},
		Database: DatabaseConfig{
			Driver:      strings.ToLower(viper.GetString("database.driver")),
			DSN:         viper.GetString("database.dsn"),
			AutoMigrate: viper.GetBool("database.auto_migrate"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
		RateLimit: RateLimitConfig{
			DispatchPerMin: viper.GetInt("ratelimit.dispatch_per_min"),
		},
		Dispatch: DispatchConfig{
			SequencePolicy: model.SequencePolicy(viper.GetString("dispatch.sequence_policy")),
			MaxCASRetries:  viper.GetInt("dispatch.max_cas_retries"),
		},
		Audit: AuditConfig{
			Queue:          viper.GetString("audit.queue"),
			MaxRetry:       viper.GetInt("audit.max_retry"),
			RetentionHours: viper.GetInt("audit.retention_hours"),
			Concurrency:    viper.GetInt("audit.concurrency"),
			Workers:        viper.GetInt("audit.workers"),
			QueueSize:      viper.GetInt("audit.queue_size"),
			MaxTries:       viper.GetInt("audit.max_tries"),
			InitialBackoff: time.Duration(viper.GetInt("audit.initial_backoff_ms")) * time.Millisecond,
			MaxBackoff:     time.Duration(viper.GetInt("audit.max_backoff_ms")) * time.Millisecond,
		},
		Feed: FeedConfig{
			Buffer: viper.GetInt("feed.buffer"),
		},
		Player: PlayerConfig{
			HeartbeatTimeout: time.Duration(viper.GetInt("player.heartbeat_timeout_sec")) * time.Second,
			CheckInterval:    time.Duration(viper.GetInt("player.check_interval_sec")) * time.Second,
		},
		Catalog: CatalogConfig{
			BaseURL: viper.GetString("catalog.base_url"),
			APIKey:  viper.GetString("catalog.api_key"),
			Timeout: time.Duration(viper.GetInt("catalog.timeout_sec")) * time.Second,
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if !c.Dispatch.SequencePolicy.Valid() {
		return fmt.Errorf("config: unknown dispatch.sequence_policy %q", c.Dispatch.SequencePolicy)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unknown database.driver %q", c.Database.Driver)
	}
	if c.Dispatch.MaxCASRetries < 1 {
		c.Dispatch.MaxCASRetries = 1
	}
	if c.Audit.Workers < 1 {
		c.Audit.Workers = 1
	}
	return nil
}

// IsDevelopment reports whether the server runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Server.Env, "development")
}
