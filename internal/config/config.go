// Package config provides configuration management for the client-flow
// pipeline.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like DATABASE_URL, SERVER_PORT)
// 3. Default values
//
// Import Path: clientflow.io/flow/internal/config
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
	Security    SecurityConfig    `mapstructure:"security"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Broker      BrokerConfig      `mapstructure:"broker"`
	Integration IntegrationConfig `mapstructure:"integration"`
	Fanout      FanoutConfig      `mapstructure:"fanout"`
	Pull        PullConfig        `mapstructure:"pull"`
}

// ServerConfig contains HTTP ingress settings (push adapters, C6).
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// AllowedOrigins, AllowCredentials and UnsafeAllowAllOrigins configure
	// gin-contrib/cors for the push ingress endpoints.
	AllowedOrigins        []string `mapstructure:"allowed_origins"`
	AllowCredentials      bool     `mapstructure:"allow_credentials"`
	UnsafeAllowAllOrigins bool     `mapstructure:"unsafe_allow_all_origins"`
}

// DatabaseConfig contains PostgreSQL connection settings backing both the
// document store (docstore) and the broker (River).
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL (COSMOS_CONNECTION_STRING equivalent) > constructed
// from individual fields.
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

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RiverConfig contains River Queue settings (broker client, C4).
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
}

// SecurityConfig contains security-related settings.
type SecurityConfig struct {
	EncryptionKey       string   `mapstructure:"encryption_key"`
	JWTVerificationKeys []string `mapstructure:"jwt_verification_keys"`
}

// WorkerConfig contains worker pool settings (A4).
type WorkerConfig struct {
	EngineSize      int `mapstructure:"engine_size"`
	IntegrationSize int `mapstructure:"integration_size"`
}

// BrokerConfig contains the broker client's send-retry policy (C4,
// spec.md §6: MAX_RETRIES, RETRY_DELAY).
type BrokerConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// IntegrationConfig contains the integration framework's retry policy
// (C8, spec.md §4.6.3: max_retries, base_delay) plus the OAuth2/REST
// strategy's credentials (spec.md §4.6.4).
type IntegrationConfig struct {
	MaxRetries          int           `mapstructure:"max_retries"`
	BaseDelay           time.Duration `mapstructure:"base_delay"`
	ClientID            string        `mapstructure:"client_id"`
	ClientSecret        string        `mapstructure:"client_secret"`
	Username            string        `mapstructure:"username"`
	Password            string        `mapstructure:"password"`
	TokenResource       string        `mapstructure:"token_resource"`
	APIURL              string        `mapstructure:"api_url"`
	UseURLParamsForAuth bool          `mapstructure:"use_url_params_for_auth"`
}

// PullConfig contains the timer-driven ingress adapter's settings (C6).
type PullConfig struct {
	ContactoSourceURL string        `mapstructure:"contacto_source_url"`
	Interval          time.Duration `mapstructure:"interval"`
}

// FanoutConfig controls whether "root" subschema changes trigger a topic
// send (spec.md §4.5.1 get_topics_by_changes, §6 include_root).
type FanoutConfig struct {
	IncludeRoot bool `mapstructure:"include_root"`
}

var (
	bootstrapLoggerOnce sync.Once
	bootstrapLogger     *zap.Logger
)

// Load reads configuration from file and environment variables.
// No prefix: uses standard names like DATABASE_URL, SERVER_PORT, LOG_LEVEL.
// Maps nested config: database.max_conns → DATABASE_MAX_CONNS.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/clientflow")

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
	if c.Broker.MaxRetries <= 0 {
		return fmt.Errorf("broker.max_retries must be positive")
	}
	if c.Integration.MaxRetries <= 0 {
		return fmt.Errorf("integration.max_retries must be positive")
	}
	if len(c.Security.EncryptionKey) < 32 {
		return fmt.Errorf("security.encryption_key must be at least 32 characters")
	}
	return nil
}

// ensureSecrets auto-generates a missing encryption key so a fresh
// deployment boots without manual setup.
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
	// Server (ingress push adapters)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.allow_credentials", true)
	v.SetDefault("server.unsafe_allow_all_origins", false)

	// Database (docstore + broker shared pool)
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "clientflow")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "clientflow")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", false)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// River (broker transport)
	v.SetDefault("river.max_workers", 10)
	v.SetDefault("river.completed_job_retention_period", "24h")

	// Security
	v.SetDefault("security.encryption_key", "")
	v.SetDefault("security.jwt_verification_keys", []string{})

	// Worker pools
	v.SetDefault("worker.engine_size", 100)
	v.SetDefault("worker.integration_size", 50)

	// Broker send retry (spec MAX_RETRIES/RETRY_DELAY)
	v.SetDefault("broker.max_retries", 3)
	v.SetDefault("broker.retry_delay", "1s")

	// Integration retry (spec max_retries/base_delay) and REST credentials
	v.SetDefault("integration.max_retries", 3)
	v.SetDefault("integration.base_delay", "1s")
	v.SetDefault("integration.token_resource", "oauth2/token")
	v.SetDefault("integration.api_url", "")
	v.SetDefault("integration.use_url_params_for_auth", false)

	// Fan-out
	v.SetDefault("fanout.include_root", false)

	// Pull adapter
	v.SetDefault("pull.interval", "30s")
	v.SetDefault("pull.contacto_source_url", "")
}
