// Package config provides configuration management for Katalyst.
// It supports loading configuration from files, environment variables, and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	katerrors "github.com/northstack/katalyst/pkg/errors"
)

// Config holds all configuration for the Katalyst coordinator process.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	EventBus EventBusConfig `mapstructure:"eventbus"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Blob     BlobConfig     `mapstructure:"blob"`
	Undo     UndoConfig     `mapstructure:"undo"`
	Recovery RecoveryConfig `mapstructure:"recovery"`
	Health   HealthConfig   `mapstructure:"health"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds the sample registration service's HTTP configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// GetAddress returns the server address in host:port format.
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds the Postgres connection backing the operation log
// and workflow state stores.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Name, c.User, c.Password, c.SSLMode,
	)
}

// EventBusConfig selects and configures the transaction adapter's transport.
type EventBusConfig struct {
	Transport        string        `mapstructure:"transport"` // nats, kafka
	NATSURL          string        `mapstructure:"nats_url"`
	ClientID         string        `mapstructure:"client_id"`
	ReconnectWait    time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnects    int           `mapstructure:"max_reconnects"`
	JetStreamEnabled bool          `mapstructure:"jetstream_enabled"`
	KafkaBrokers     []string      `mapstructure:"kafka_brokers"`
	KafkaTopic       string        `mapstructure:"kafka_topic"`
}

// RedisConfig backs the event deduplication store and the optional
// persisted recovery retry-count map.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	DedupTTL     time.Duration `mapstructure:"dedup_ttl"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
}

// BlobConfig configures offload of oversized operation/undo payloads to
// object storage.
type BlobConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKey       string `mapstructure:"access_key"`
	SecretKey       string `mapstructure:"secret_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Bucket          string `mapstructure:"bucket"`
	ThresholdBytes  int    `mapstructure:"threshold_bytes"`
}

// UndoConfig selects a named retry-policy preset for the undo engine.
type UndoConfig struct {
	RetryPolicy string `mapstructure:"retry_policy"` // retryAll, retryTransient, aggressive, conservative
}

// RecoveryConfig tunes the recovery job/scheduler (C14).
type RecoveryConfig struct {
	ScanInterval       time.Duration `mapstructure:"scan_interval"`
	BatchSize          int           `mapstructure:"batch_size"`
	InterStepDelay     time.Duration `mapstructure:"inter_step_delay"`
	MaxRetriesPerFlow  int           `mapstructure:"max_retries_per_workflow"`
	MaxConsecutiveErrs int           `mapstructure:"max_consecutive_errors"`
	ScansPerSecond     float64       `mapstructure:"scans_per_second"`
	RetryStore         string        `mapstructure:"retry_store"` // memory, redis
}

// HealthConfig holds the thresholds performHealthCheck classifies against
// (§4.13).
type HealthConfig struct {
	MinSuccessRatePercent        float64 `mapstructure:"min_success_rate_percent"`
	MaxWorkflowsInRetry          int     `mapstructure:"max_workflows_in_retry"`
	MaxFailedRecoveriesThreshold int     `mapstructure:"max_failed_recoveries_threshold"`
}

// AuthConfig backs the sample user-registration service.
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	JWTExpiration time.Duration `mapstructure:"jwt_expiration"`
	BCryptCost    int           `mapstructure:"bcrypt_cost"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, console
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("KATALYST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "katalyst")
	v.SetDefault("database.user", "katalyst")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 15*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)

	v.SetDefault("eventbus.transport", "nats")
	v.SetDefault("eventbus.nats_url", "nats://localhost:4222")
	v.SetDefault("eventbus.client_id", "katalyst")
	v.SetDefault("eventbus.reconnect_wait", 2*time.Second)
	v.SetDefault("eventbus.max_reconnects", -1)
	v.SetDefault("eventbus.jetstream_enabled", true)
	v.SetDefault("eventbus.kafka_topic", "katalyst.events")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "katalyst:")
	v.SetDefault("redis.dedup_ttl", 24*time.Hour)
	v.SetDefault("redis.dial_timeout", 5*time.Second)

	v.SetDefault("blob.enabled", false)
	v.SetDefault("blob.endpoint", "localhost:9000")
	v.SetDefault("blob.use_ssl", false)
	v.SetDefault("blob.bucket", "katalyst-payloads")
	v.SetDefault("blob.threshold_bytes", 256*1024)

	v.SetDefault("undo.retry_policy", "retryTransient")

	v.SetDefault("recovery.scan_interval", time.Minute)
	v.SetDefault("recovery.batch_size", 50)
	v.SetDefault("recovery.inter_step_delay", 200*time.Millisecond)
	v.SetDefault("recovery.max_retries_per_workflow", 5)
	v.SetDefault("recovery.max_consecutive_errors", 10)
	v.SetDefault("recovery.scans_per_second", 5.0)
	v.SetDefault("recovery.retry_store", "memory")

	v.SetDefault("health.min_success_rate_percent", 70.0)
	v.SetDefault("health.max_workflows_in_retry", 50)
	v.SetDefault("health.max_failed_recoveries_threshold", 100)

	v.SetDefault("auth.jwt_expiration", 24*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 12)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate validates the configuration, raising a *errors.Error tagged
// KindConfigurationError for the first problem found (§7: ConfigurationError
// is raised at startup and the process should refuse to serve).
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return katerrors.ConfigurationError("server.port", fmt.Sprintf("must be between 1 and 65535, got %d", c.Server.Port))
	}

	if c.Database.Host == "" {
		return katerrors.ConfigurationError("database.host", "is required")
	}

	if c.Database.Name == "" {
		return katerrors.ConfigurationError("database.name", "is required")
	}

	if c.Auth.JWTSecret == "" && c.Auth.JWTExpiration > 0 {
		return katerrors.ConfigurationError("auth.jwt_secret", "is required when JWT is enabled")
	}

	if c.Auth.BCryptCost < 4 || c.Auth.BCryptCost > 31 {
		return katerrors.ConfigurationError("auth.bcrypt_cost", "must be between 4 and 31")
	}

	if c.EventBus.Transport != "nats" && c.EventBus.Transport != "kafka" {
		return katerrors.ConfigurationError("eventbus.transport", fmt.Sprintf("must be nats or kafka, got %q", c.EventBus.Transport))
	}

	if c.Recovery.BatchSize < 1 {
		return katerrors.ConfigurationError("recovery.batch_size", "must be positive")
	}

	return nil
}
