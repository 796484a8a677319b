// Package config loads process configuration from a YAML file plus
// environment variable overrides, the same two-layer precedence the rest
// of this codebase's ambient stack follows for logging.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the streaming HTTP server.
type ServerConfig struct {
	Host            string `yaml:"host" env:"SERVER_HOST"`
	Port            int    `yaml:"port" env:"SERVER_PORT"`
	AdminPort       int    `yaml:"admin_port" env:"SERVER_ADMIN_PORT"`
	ReadTimeoutSec  int    `yaml:"read_timeout_seconds" env:"SERVER_READ_TIMEOUT_SECONDS"`
	WriteTimeoutSec int    `yaml:"write_timeout_seconds" env:"SERVER_WRITE_TIMEOUT_SECONDS"`
	EnableWebsocket bool   `yaml:"enable_websocket" env:"SERVER_ENABLE_WEBSOCKET"`
}

// PostgresConfig controls the external data adapter's source database
// (spec §6 "external data adapter contract").
type PostgresConfig struct {
	DSN             string `yaml:"dsn" env:"POSTGRES_DSN"`
	ListenChannel   string `yaml:"listen_channel" env:"POSTGRES_LISTEN_CHANNEL"`
	PollInterval    int    `yaml:"poll_interval_seconds" env:"POSTGRES_POLL_INTERVAL_SECONDS"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"POSTGRES_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"POSTGRES_MAX_IDLE_CONNS"`
	MigrateOnStart  bool   `yaml:"migrate_on_start" env:"POSTGRES_MIGRATE_ON_START"`
	WatermarkSchema string `yaml:"watermark_schema" env:"POSTGRES_WATERMARK_SCHEMA"`
}

// LoggingConfig controls application logging (pkg/logger).
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// AuthConfig controls the streaming API's bearer-token authentication.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" env:"AUTH_ENABLED"`
	JWTSecret string `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
	Issuer    string `yaml:"issuer" env:"AUTH_ISSUER"`
}

// RateLimitConfig controls per-client request throttling on the streams API.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" env:"RATE_LIMIT_ENABLED"`
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"RATE_LIMIT_RPS"`
	Burst             int     `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

// InstanceConfig controls resource-instance lifecycle.
type InstanceConfig struct {
	IdleSweepEnabled  bool   `yaml:"idle_sweep_enabled" env:"INSTANCE_IDLE_SWEEP_ENABLED"`
	IdleSweepCron     string `yaml:"idle_sweep_cron" env:"INSTANCE_IDLE_SWEEP_CRON"`
	IdleTimeoutSec    int    `yaml:"idle_timeout_seconds" env:"INSTANCE_IDLE_TIMEOUT_SECONDS"`
	SubscriberQueueSz int    `yaml:"subscriber_queue_size" env:"INSTANCE_SUBSCRIBER_QUEUE_SIZE"`
}

// RedisConfig controls the optional cross-process instance-dedup cache.
// Unset Addr leaves instance dedup purely in-process (the default).
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// KeyVaultConfig controls the optional Azure Key Vault secret provider used
// to resolve SecretRef-style values (e.g. database passwords) at startup.
type KeyVaultConfig struct {
	Enabled  bool   `yaml:"enabled" env:"KEYVAULT_ENABLED"`
	VaultURL string `yaml:"vault_url" env:"KEYVAULT_URL"`
}

// Config is the top-level process configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Logging   LoggingConfig   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Instance  InstanceConfig  `yaml:"instance"`
	Redis     RedisConfig     `yaml:"redis"`
	KeyVault  KeyVaultConfig  `yaml:"keyvault"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			AdminPort:       8081,
			ReadTimeoutSec:  15,
			WriteTimeoutSec: 0, // streaming responses must not be write-deadlined
			EnableWebsocket: true,
		},
		Postgres: PostgresConfig{
			ListenChannel:   "reactive_streams_changes",
			PollInterval:    5,
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			MigrateOnStart:  true,
			WatermarkSchema: "public",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "reactive-streams",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Instance: InstanceConfig{
			IdleSweepEnabled:  false,
			IdleSweepCron:     "@every 1m",
			IdleTimeoutSec:    900,
			SubscriberQueueSz: 64,
		},
	}
}

// Load reads configs/config.yaml (or $CONFIG_FILE) if present, then applies
// environment overrides declared with `env:"..."` tags.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "configs/config.yaml"
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
