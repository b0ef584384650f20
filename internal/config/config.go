// Package config loads and validates the LDC tools configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the LDC_ prefix (e.g., LDC_DATABASE_HOST
// overrides database.host in the YAML).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Email     EmailConfig     `mapstructure:"email"`
	Backup    BackupConfig    `mapstructure:"backup"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Ops       OpsConfig       `mapstructure:"ops"`
}

// AppConfig identifies the deployment
type AppConfig struct {
	// Name prefixes the session cookie: <name>-auth.session-token
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	DevMode     bool   `mapstructure:"dev_mode"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	Name               string        `mapstructure:"name"`
	User               string        `mapstructure:"user"`
	Password           string        `mapstructure:"password"`
	SSLMode            string        `mapstructure:"ssl_mode"`
	MaxConnections     int           `mapstructure:"max_connections"`
	MinIdleConnections int           `mapstructure:"min_idle_connections"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
}

// RedisConfig holds the optional Redis connection used for caching and shared rate limits
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// KeyPrefix namespaces every key written by this deployment
	KeyPrefix string        `mapstructure:"key_prefix"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// StorageConfig holds the backend used for backup archives
type StorageConfig struct {
	DefaultBackend string             `mapstructure:"default_backend"`
	Azure          AzureStorageConfig `mapstructure:"azure"`
	S3             S3StorageConfig    `mapstructure:"s3"`
	GCS            GCSStorageConfig   `mapstructure:"gcs"`
	Local          LocalStorageConfig `mapstructure:"local"`
}

// AzureStorageConfig holds Azure Blob Storage configuration
type AzureStorageConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
}

// S3StorageConfig holds S3-compatible storage configuration
type S3StorageConfig struct {
	// Endpoint is optional, for MinIO and other S3-compatible services
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`
	// AuthMethod is one of "default", "static", "assume_role"
	AuthMethod      string `mapstructure:"auth_method"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	RoleARN         string `mapstructure:"role_arn"`
	ExternalID      string `mapstructure:"external_id"`
}

// GCSStorageConfig holds Google Cloud Storage configuration
type GCSStorageConfig struct {
	Bucket          string `mapstructure:"bucket"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`
	// Endpoint is optional, for the GCS emulator
	Endpoint string `mapstructure:"endpoint"`
}

// LocalStorageConfig holds local filesystem storage configuration
type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	JWTSecret    string             `mapstructure:"jwt_secret"`
	SessionTTL   time.Duration      `mapstructure:"session_ttl"`
	InviteTTL    time.Duration      `mapstructure:"invite_ttl"`
	ResetTTL     time.Duration      `mapstructure:"reset_ttl"`
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
	// AuthRequestsPerMinute applies to /api/v1/auth/*
	AuthRequestsPerMinute int `mapstructure:"auth_requests_per_minute"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// AuditConfig holds audit logging configuration
type AuditConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	LogReadOperations bool `mapstructure:"log_read_operations"`
	LogFailedRequests bool `mapstructure:"log_failed_requests"`
	// RetentionDays deletes older audit rows; 0 keeps everything
	RetentionDays int                  `mapstructure:"retention_days"`
	Shippers      []AuditShipperConfig `mapstructure:"shippers"`
}

// AuditShipperConfig holds configuration for a single audit shipper
type AuditShipperConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Type is one of file, webhook, amqp
	Type    string              `mapstructure:"type"`
	Webhook *AuditWebhookConfig `mapstructure:"webhook"`
	File    *AuditFileConfig    `mapstructure:"file"`
	AMQP    *AuditAMQPConfig    `mapstructure:"amqp"`
}

// AuditWebhookConfig holds webhook shipper configuration
type AuditWebhookConfig struct {
	URL           string            `mapstructure:"url"`
	Headers       map[string]string `mapstructure:"headers"`
	TimeoutSecs   int               `mapstructure:"timeout_secs"`
	BatchSize     int               `mapstructure:"batch_size"`
	FlushInterval int               `mapstructure:"flush_interval_secs"`
}

// AuditFileConfig holds file shipper configuration
type AuditFileConfig struct {
	Path string `mapstructure:"path"`
}

// AuditAMQPConfig holds the broker shipper configuration
type AuditAMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

// EmailConfig holds settings for the admin-managed SMTP configuration
type EmailConfig struct {
	// EncryptionKey encrypts the stored SMTP password (32+ chars)
	EncryptionKey string        `mapstructure:"encryption_key"`
	SendTimeout   time.Duration `mapstructure:"send_timeout"`
}

// BackupConfig holds database backup settings
type BackupConfig struct {
	// DumpCommand is run with the DSN appended as the last argument
	DumpCommand    []string `mapstructure:"dump_command"`
	Prefix         string   `mapstructure:"prefix"`
	IntervalHours  int      `mapstructure:"interval_hours"`
	RetentionCount int      `mapstructure:"retention_count"`
}

// JobsConfig holds background job intervals
type JobsConfig struct {
	RoleExpiryIntervalMinutes   int `mapstructure:"role_expiry_interval_minutes"`
	AuditRetentionIntervalHours int `mapstructure:"audit_retention_interval_hours"`
	TokenCleanupIntervalHours   int `mapstructure:"token_cleanup_interval_hours"`
}

// OpsConfig configures the guardian CLI
type OpsConfig struct {
	SSHUser               string                    `mapstructure:"ssh_user"`
	SSHKey                string                    `mapstructure:"ssh_key"`
	KnownHosts            string                    `mapstructure:"known_hosts"`
	InsecureIgnoreHostKey bool                      `mapstructure:"insecure_ignore_host_key"`
	HypervisorHost        string                    `mapstructure:"hypervisor_host"`
	AuditLog              string                    `mapstructure:"audit_log"`
	Timeout               time.Duration             `mapstructure:"timeout"`
	HealthTimeout         time.Duration             `mapstructure:"health_timeout"`
	ForceRecoveryAfter    time.Duration             `mapstructure:"force_recovery_after"`
	RateLimit             OpsRateLimitConfig        `mapstructure:"rate_limit"`
	Environments          map[string]OpsEnvironment `mapstructure:"environments"`
}

// OpsRateLimitConfig bounds how often the guardian may act on one target
type OpsRateLimitConfig struct {
	MaxOperations int           `mapstructure:"max_operations"`
	Window        time.Duration `mapstructure:"window"`
	// UseRedis shares the limit across operators through redis.addr
	UseRedis bool `mapstructure:"use_redis"`
}

// OpsEnvironment describes one deploy target
type OpsEnvironment struct {
	Host        string         `mapstructure:"host"`
	ContainerID string         `mapstructure:"container_id"`
	Ports       map[string]int `mapstructure:"ports"`
	Services    []string       `mapstructure:"services"`
	AppDir      string         `mapstructure:"app_dir"`
	// HealthPaths maps a port name to its HTTP health path
	HealthPaths  map[string]string `mapstructure:"health_paths"`
	DatabaseAddr string            `mapstructure:"database_addr"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// App
		"app.name",
		"app.environment",
		"app.dev_mode",

		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",
		"database.connect_timeout",

		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		// Redis
		"redis.enabled",
		"redis.addr",
		"redis.password",
		"redis.db",
		"redis.key_prefix",
		"redis.cache_ttl",

		// Storage
		"storage.default_backend",
		"storage.azure.account_name",
		"storage.azure.account_key",
		"storage.azure.container_name",
		"storage.s3.endpoint",
		"storage.s3.region",
		"storage.s3.bucket",
		"storage.s3.auth_method",
		"storage.s3.access_key_id",
		"storage.s3.secret_access_key",
		"storage.s3.role_arn",
		"storage.s3.external_id",
		"storage.gcs.bucket",
		"storage.gcs.credentials_file",
		"storage.gcs.credentials_json",
		"storage.gcs.endpoint",
		"storage.local.base_path",

		// Security
		"security.jwt_secret",
		"security.session_ttl",
		"security.invite_ttl",
		"security.reset_ttl",
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.rate_limiting.auth_requests_per_minute",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.port",

		// Audit
		"audit.enabled",
		"audit.log_read_operations",
		"audit.log_failed_requests",
		"audit.retention_days",

		// Email
		"email.encryption_key",
		"email.send_timeout",

		// Backup
		"backup.dump_command",
		"backup.prefix",
		"backup.interval_hours",
		"backup.retention_count",

		// Jobs
		"jobs.role_expiry_interval_minutes",
		"jobs.audit_retention_interval_hours",
		"jobs.token_cleanup_interval_hours",

		// Ops
		"ops.ssh_user",
		"ops.ssh_key",
		"ops.known_hosts",
		"ops.insecure_ignore_host_key",
		"ops.hypervisor_host",
		"ops.audit_log",
		"ops.timeout",
		"ops.health_timeout",
		"ops.force_recovery_after",
		"ops.rate_limit.max_operations",
		"ops.rate_limit.window",
		"ops.rate_limit.use_redis",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// LoadOps loads configuration for the guardian CLI. Only the logging, redis and ops
// sections are validated, so an operator workstation needs no server secrets.
func LoadOps(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateOps(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/ldc-tools")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("LDC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Security.JWTSecret = expandEnv(cfg.Security.JWTSecret)
	cfg.Email.EncryptionKey = expandEnv(cfg.Email.EncryptionKey)
	cfg.Storage.Azure.AccountKey = expandEnv(cfg.Storage.Azure.AccountKey)
	cfg.Storage.S3.AccessKeyID = expandEnv(cfg.Storage.S3.AccessKeyID)
	cfg.Storage.S3.SecretAccessKey = expandEnv(cfg.Storage.S3.SecretAccessKey)
	cfg.Storage.GCS.CredentialsJSON = expandEnv(cfg.Storage.GCS.CredentialsJSON)

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ldc-tools")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.dev_mode", false)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "ldc_tools")
	v.SetDefault("database.user", "ldc_user")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)
	v.SetDefault("database.connect_timeout", "2m")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "ldc:")
	v.SetDefault("redis.cache_ttl", "10m")

	v.SetDefault("storage.default_backend", "local")
	v.SetDefault("storage.local.base_path", "./backups")
	v.SetDefault("storage.s3.auth_method", "default")

	v.SetDefault("security.session_ttl", "24h")
	v.SetDefault("security.invite_ttl", "168h")
	v.SetDefault("security.reset_ttl", "1h")
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 120)
	v.SetDefault("security.rate_limiting.burst", 20)
	v.SetDefault("security.rate_limiting.auth_requests_per_minute", 10)
	v.SetDefault("security.tls.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("telemetry.service_name", "ldc-tools")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.port", 9090)

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.log_read_operations", false)
	v.SetDefault("audit.log_failed_requests", true)
	v.SetDefault("audit.retention_days", 365)

	v.SetDefault("email.send_timeout", "30s")

	v.SetDefault("backup.dump_command", []string{"pg_dump", "--no-owner", "--format=plain"})
	v.SetDefault("backup.prefix", "database/automated/db-ldc-tools-")
	v.SetDefault("backup.interval_hours", 24)
	v.SetDefault("backup.retention_count", 14)

	v.SetDefault("jobs.role_expiry_interval_minutes", 60)
	v.SetDefault("jobs.audit_retention_interval_hours", 24)
	v.SetDefault("jobs.token_cleanup_interval_hours", 6)

	v.SetDefault("ops.ssh_user", "root")
	v.SetDefault("ops.ssh_key", "~/.ssh/id_ed25519")
	v.SetDefault("ops.known_hosts", "~/.ssh/known_hosts")
	v.SetDefault("ops.audit_log", "./ops-audit.jsonl")
	v.SetDefault("ops.timeout", "30s")
	v.SetDefault("ops.health_timeout", "2m")
	v.SetDefault("ops.force_recovery_after", "2m")
	v.SetDefault("ops.rate_limit.max_operations", 5)
	v.SetDefault("ops.rate_limit.window", "1m")
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	validBackends := map[string]bool{"azure": true, "s3": true, "gcs": true, "local": true}
	if !validBackends[c.Storage.DefaultBackend] {
		return fmt.Errorf("invalid storage backend: %s (must be azure, s3, gcs, or local)", c.Storage.DefaultBackend)
	}
	switch c.Storage.DefaultBackend {
	case "azure":
		if c.Storage.Azure.AccountName == "" || c.Storage.Azure.AccountKey == "" || c.Storage.Azure.ContainerName == "" {
			return fmt.Errorf("storage.azure.account_name, account_key and container_name are required when using Azure backend")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when using S3 backend")
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when using S3 backend")
		}
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required when using GCS backend")
		}
	case "local":
		if c.Storage.Local.BasePath == "" {
			return fmt.Errorf("storage.local.base_path is required when using local backend")
		}
	}

	if c.Security.JWTSecret == "" && !c.App.DevMode {
		return fmt.Errorf("security.jwt_secret is required outside dev mode")
	}
	if c.Security.JWTSecret != "" && len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("security.jwt_secret must be at least 32 characters")
	}
	if c.Security.SessionTTL <= 0 {
		return fmt.Errorf("security.session_ttl must be positive")
	}
	if c.Security.InviteTTL <= 0 || c.Security.ResetTTL <= 0 {
		return fmt.Errorf("security.invite_ttl and security.reset_ttl must be positive")
	}
	if c.Security.RateLimiting.Enabled {
		if c.Security.RateLimiting.RequestsPerMinute <= 0 || c.Security.RateLimiting.AuthRequestsPerMinute <= 0 {
			return fmt.Errorf("security.rate_limiting requests per minute must be positive")
		}
	}
	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" || c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.cert_file and key_file are required when TLS is enabled")
		}
	}

	if c.Email.EncryptionKey != "" && len(c.Email.EncryptionKey) < 32 {
		return fmt.Errorf("email.encryption_key must be at least 32 characters")
	}

	for i, s := range c.Audit.Shippers {
		if !s.Enabled {
			continue
		}
		switch s.Type {
		case "file":
			if s.File == nil || s.File.Path == "" {
				return fmt.Errorf("audit.shippers[%d]: file.path is required", i)
			}
		case "webhook":
			if s.Webhook == nil || s.Webhook.URL == "" {
				return fmt.Errorf("audit.shippers[%d]: webhook.url is required", i)
			}
		case "amqp":
			if s.AMQP == nil || s.AMQP.URL == "" || s.AMQP.Exchange == "" {
				return fmt.Errorf("audit.shippers[%d]: amqp.url and amqp.exchange are required", i)
			}
		default:
			return fmt.Errorf("audit.shippers[%d]: unknown type %q", i, s.Type)
		}
	}

	if len(c.Backup.DumpCommand) == 0 {
		return fmt.Errorf("backup.dump_command is required")
	}

	return c.ValidateOps()
}

// ValidateOps checks the sections the guardian reads.
func (c *Config) ValidateOps() error {
	if c.Ops.RateLimit.MaxOperations <= 0 || c.Ops.RateLimit.Window <= 0 {
		return fmt.Errorf("ops.rate_limit.max_operations and window must be positive")
	}
	if c.Ops.RateLimit.UseRedis && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when ops.rate_limit.use_redis is set")
	}
	for name, env := range c.Ops.Environments {
		if env.Host == "" {
			return fmt.Errorf("ops.environments.%s.host is required", name)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetURL returns the connection string in URL form, as pg_dump expects
func (c *DatabaseConfig) GetURL() string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SessionCookieName is the cookie carrying the session JWT
func (c *Config) SessionCookieName() string {
	return c.App.Name + "-auth.session-token"
}
