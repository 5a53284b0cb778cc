// Package config provides configuration management for the document
// generation pipeline.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like DATABASE_URL, SERVER_PORT)
// 3. Default values
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the root configuration structure.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Log         LogConfig         `mapstructure:"log"`
	River       RiverConfig       `mapstructure:"river"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Model       ModelConfig       `mapstructure:"model"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store"`
	Security    SecurityConfig    `mapstructure:"security"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
}

// TracingConfig controls the OTLP trace exporter wrapping the Coordinator's
// per-stage spans (§4.10's audit log is authoritative; tracing is additive).
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	AllowedOrigins        []string `mapstructure:"allowed_origins"`
	AllowCredentials      bool     `mapstructure:"allow_credentials"`
	UnsafeAllowAllOrigins bool     `mapstructure:"unsafe_allow_all_origins"`
}

// DatabaseConfig contains PostgreSQL connection settings.
// ADR-0012: Shared connection pool for Ent + River + sqlc.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	// Pool configuration (shared by Ent, River, sqlc)
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	// Optional: PgBouncer dual-pool configuration
	WorkerHost string `mapstructure:"worker_host"`
	WorkerPort int    `mapstructure:"worker_port"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// PipelineConfig contains content-validator thresholds and retry/regeneration
// defaults (§2, §4.3, §4.7).
type PipelineConfig struct {
	MinContentLength      int     `mapstructure:"min_content_length"`
	MaxContentLength      int     `mapstructure:"max_content_length"`
	NearEmptyThreshold    int     `mapstructure:"near_empty_threshold"`
	RepetitionRatioMax    float64 `mapstructure:"repetition_ratio_max"`
	MinUniqueWordCount    int     `mapstructure:"min_unique_word_count"`
	MaxGenerationAttempts int     `mapstructure:"max_generation_attempts"`
	RetryBaseDelay        time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay         time.Duration `mapstructure:"retry_max_delay"`
}

// ModelConfig contains settings for the section-generation model client.
type ModelConfig struct {
	Provider       string        `mapstructure:"provider"` // "anthropic" or "deterministic" (the default when empty)
	Endpoint       string        `mapstructure:"endpoint"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	Timeout        time.Duration `mapstructure:"timeout"`
	BreakerMaxFail uint32        `mapstructure:"breaker_max_failures"`
	BreakerTimeout time.Duration `mapstructure:"breaker_timeout"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	Temperature    float64       `mapstructure:"temperature"`
}

// ObjectStoreConfig selects and configures the blob-persistence backend for
// source/parsed/rendered document artifacts.
type ObjectStoreConfig struct {
	Backend   string `mapstructure:"backend"` // "local", "gcs", or "memory"
	LocalPath string `mapstructure:"local_path"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RiverConfig contains River Queue settings.
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
}

// SecurityConfig contains settings for values that must not ship with a
// fixed default. Auto-generated on first boot if missing, matching the
// teacher's secret-bootstrapping convention.
type SecurityConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize int `mapstructure:"general_pool_size"`
	ModelPoolSize   int `mapstructure:"model_pool_size"`
}

var (
	bootstrapLoggerOnce sync.Once
	bootstrapLogger     *zap.Logger
)

// Load reads configuration from file and environment variables.
// ADR-0018: Standard environment variables without prefix (DATABASE_URL, SERVER_PORT, etc.).
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/docgen-pipeline")

	// No prefix: uses standard names like DATABASE_URL, SERVER_PORT, LOG_LEVEL
	// Maps nested config: database.max_conns → DATABASE_MAX_CONNS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file is optional, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Auto-generate secrets on first boot if missing.
	if err := cfg.ensureSecrets(); err != nil {
		return nil, fmt.Errorf("ensure secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if c.Model.Provider == "anthropic" && c.Model.APIKey == "" {
		return fmt.Errorf("model.api_key must not be empty when model.provider is anthropic")
	}
	if c.ObjectStore.Backend == "gcs" && c.ObjectStore.GCSBucket == "" {
		return fmt.Errorf("object_store.gcs_bucket must not be empty when object_store.backend is gcs")
	}
	return nil
}

// ensureSecrets auto-generates missing secrets on first boot.
func (c *Config) ensureSecrets() error {
	if c.Security.EncryptionKey == "" {
		key, err := generateSecureRandomHex(32)
		if err != nil {
			return fmt.Errorf("auto-generate encryption key: %w", err)
		}
		c.Security.EncryptionKey = key
		logBootstrapWarn(
			"auto-generated encryption_key; set SECURITY_ENCRYPTION_KEY env var for persistence",
			zap.Int("length", len(key)),
		)
	}
	return nil
}

func logBootstrapWarn(msg string, fields ...zap.Field) {
	bootstrapLoggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)

		l, err := cfg.Build()
		if err != nil {
			bootstrapLogger = zap.NewNop()
			return
		}
		bootstrapLogger = l
	})

	bootstrapLogger.Warn(msg, fields...)
}

// generateSecureRandomHex produces a hex-encoded string of n random bytes.
func generateSecureRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.unsafe_allow_all_origins", false)
	v.SetDefault("server.allow_credentials", true)

	// Database (ADR-0012 shared pool)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "shepherd")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "shepherd")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", false)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// River
	v.SetDefault("river.max_workers", 10)
	v.SetDefault("river.completed_job_retention_period", "24h")

	// Worker pool
	v.SetDefault("worker.general_pool_size", 100)
	v.SetDefault("worker.model_pool_size", 20)

	// Pipeline (content validator + retry policy, §2/§4.3/§4.7)
	v.SetDefault("pipeline.min_content_length", 50)
	v.SetDefault("pipeline.max_content_length", 5000)
	v.SetDefault("pipeline.near_empty_threshold", 10)
	v.SetDefault("pipeline.repetition_ratio_max", 0.3)
	v.SetDefault("pipeline.min_unique_word_count", 5)
	v.SetDefault("pipeline.max_generation_attempts", 3)
	v.SetDefault("pipeline.retry_base_delay", "1s")
	v.SetDefault("pipeline.retry_max_delay", "16s")

	// Model client
	v.SetDefault("model.provider", "deterministic")
	v.SetDefault("model.model", "claude-sonnet-4-5")
	v.SetDefault("model.timeout", "60s")
	v.SetDefault("model.breaker_max_failures", 5)
	v.SetDefault("model.breaker_timeout", "30s")
	v.SetDefault("model.max_tokens", 2048)
	v.SetDefault("model.temperature", 0.2)

	// Object store
	v.SetDefault("object_store.backend", "local")
	v.SetDefault("object_store.local_path", "./data/objects")

	// Tracing
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "docgen-pipeline")
}
