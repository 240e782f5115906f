// Package config provides configuration management for the uploads service.
// Configuration can be loaded from YAML files and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	AWS      AWSConfig      `mapstructure:"aws"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Sessions SessionsConfig `mapstructure:"sessions"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Uploads  UploadsConfig  `mapstructure:"uploads"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Lock     LockConfig     `mapstructure:"lock"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig holds the ops HTTP listener settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address in host:port format.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AWSConfig holds the shared AWS client settings.
type AWSConfig struct {
	Region string `mapstructure:"region"`

	// Endpoint overrides the service endpoint (LocalStack, MinIO).
	Endpoint string `mapstructure:"endpoint"`

	// UsePathStyle selects path-style S3 addressing.
	UsePathStyle bool `mapstructure:"use_path_style"`

	// Static credentials. Empty means the default provider chain.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
}

// HasStaticCredentials reports whether both static keys are set.
func (c AWSConfig) HasStaticCredentials() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// StorageConfig holds object storage settings.
type StorageConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// SessionsConfig selects and tunes the session store.
type SessionsConfig struct {
	// Backend is "dynamo", "sqlite" or "postgres".
	Backend string `mapstructure:"backend"`

	// Table is the DynamoDB table name.
	Table string `mapstructure:"table"`

	// Retention is the passive expiry window of a session.
	Retention time.Duration `mapstructure:"retention"`

	// TableWait bounds how long table provisioning waits for ACTIVE.
	TableWait time.Duration `mapstructure:"table_wait"`
}

// SQLiteConfig holds SQLite settings.
type SQLiteConfig struct {
	Path            string `mapstructure:"path"`             // Path to SQLite database file
	JournalMode     string `mapstructure:"journal_mode"`     // WAL, DELETE, TRUNCATE, etc.
	BusyTimeout     int    `mapstructure:"busy_timeout"`     // Milliseconds to wait for locks
	CacheSize       int    `mapstructure:"cache_size"`       // Page cache size (negative = KB)
	SynchronousMode string `mapstructure:"synchronous_mode"` // NORMAL, FULL, OFF
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the PostgreSQL connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// UploadsConfig holds upload planning and completion settings.
type UploadsConfig struct {
	// MaxSizeBytes is the largest declared size accepted at plan time.
	MaxSizeBytes int64 `mapstructure:"max_size_bytes"`

	// AllowedContentTypes restricts declared content types. Empty allows all.
	AllowedContentTypes []string `mapstructure:"allowed_content_types"`

	// MultipartThreshold is the size above which multipart is used.
	MultipartThreshold int64 `mapstructure:"multipart_threshold"`

	PutURLExpiry  time.Duration `mapstructure:"put_url_expiry"`
	PartURLExpiry time.Duration `mapstructure:"part_url_expiry"`
	GetURLExpiry  time.Duration `mapstructure:"get_url_expiry"`

	// VerifySinglePart issues HeadObject before completing a single-part upload.
	VerifySinglePart bool `mapstructure:"verify_single_part"`

	// PlanRetries is how many times a duplicate session id is re-minted.
	PlanRetries int `mapstructure:"plan_retries"`

	// OperationTimeout bounds every service operation. Zero disables it.
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// Addr returns the Redis address in host:port format.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LockConfig selects the per-session lock implementation.
type LockConfig struct {
	// Backend is "memory", "redis" or "none".
	Backend string `mapstructure:"backend"`

	// TTL is how long a session lock is held before it expires.
	TTL time.Duration `mapstructure:"ttl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	// Enabled determines if metrics collection is active.
	Enabled bool `mapstructure:"enabled"`

	// Path is the URL path for the metrics endpoint.
	Path string `mapstructure:"path"`
}

// Load reads configuration from the specified file and environment variables.
// Environment variables take precedence over file values.
// Environment variables are prefixed with UPLOADS_ and use _ as separator.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("UPLOADS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/alexander-uploads")
	}

	// Config file is optional, environment variables can be used instead
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	// AWS defaults
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.use_path_style", false)
	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")
	v.SetDefault("aws.session_token", "")

	// Storage defaults
	v.SetDefault("storage.bucket", "")

	// Session store defaults
	v.SetDefault("sessions.backend", "dynamo")
	v.SetDefault("sessions.table", "upload-sessions")
	v.SetDefault("sessions.retention", 7*24*time.Hour)
	v.SetDefault("sessions.table_wait", 2*time.Minute)

	// SQLite defaults
	v.SetDefault("sqlite.path", "./data/uploads.db")
	v.SetDefault("sqlite.journal_mode", "WAL")
	v.SetDefault("sqlite.busy_timeout", 5000)
	v.SetDefault("sqlite.cache_size", -2000)
	v.SetDefault("sqlite.synchronous_mode", "NORMAL")

	// PostgreSQL defaults
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "uploads")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.database", "uploads")
	v.SetDefault("postgres.ssl_mode", "prefer")
	v.SetDefault("postgres.max_open_conns", 25)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("postgres.conn_max_idle_time", 5*time.Minute)

	// Upload defaults
	v.SetDefault("uploads.max_size_bytes", int64(5*1024*1024*1024)) // 5GB
	v.SetDefault("uploads.allowed_content_types", []string{})
	v.SetDefault("uploads.multipart_threshold", int64(100*1024*1024)) // 100MB
	v.SetDefault("uploads.put_url_expiry", time.Hour)
	v.SetDefault("uploads.part_url_expiry", time.Hour)
	v.SetDefault("uploads.get_url_expiry", 15*time.Minute)
	v.SetDefault("uploads.verify_single_part", false)
	v.SetDefault("uploads.plan_retries", 1)
	v.SetDefault("uploads.operation_timeout", 30*time.Second)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)

	// Lock defaults
	v.SetDefault("lock.backend", "memory")
	v.SetDefault("lock.ttl", 2*time.Minute)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks the configuration for required values and valid ranges.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required")
	}

	switch c.Sessions.Backend {
	case "dynamo":
		if c.Sessions.Table == "" {
			return fmt.Errorf("sessions.table is required for dynamo backend")
		}
	case "sqlite":
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required for sqlite backend")
		}
	case "postgres":
		if c.Postgres.Host == "" {
			return fmt.Errorf("postgres.host is required for postgres backend")
		}
		if c.Postgres.User == "" {
			return fmt.Errorf("postgres.user is required for postgres backend")
		}
		if c.Postgres.Database == "" {
			return fmt.Errorf("postgres.database is required for postgres backend")
		}
	default:
		return fmt.Errorf("sessions.backend must be 'dynamo', 'sqlite' or 'postgres'")
	}

	if c.Uploads.MaxSizeBytes <= 0 {
		return fmt.Errorf("uploads.max_size_bytes must be positive")
	}
	if c.Uploads.MultipartThreshold <= 0 {
		return fmt.Errorf("uploads.multipart_threshold must be positive")
	}
	if c.Uploads.PlanRetries < 0 {
		return fmt.Errorf("uploads.plan_retries cannot be negative")
	}

	validLocks := map[string]bool{"memory": true, "redis": true, "none": true}
	if !validLocks[c.Lock.Backend] {
		return fmt.Errorf("lock.backend must be one of: memory, redis, none")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error, fatal, panic")
	}

	return nil
}

// MustLoad loads configuration or panics on error.
// Useful for main function initialization.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
