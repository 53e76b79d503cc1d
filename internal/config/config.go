// Package config provides configuration management for the GMB sync service.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Worker    WorkerConfig
	Scheduler SchedulerConfig
	Google    GoogleConfig
	Quota     QuotaConfig
	Security  SecurityConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string
	Host            string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string // websocket origin patterns
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the connection URL used by the migration tool
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.User, c.Password, c.Host, c.Port, c.Database)
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	DashboardBucket string
}

// WorkerConfig holds job worker pool configuration
type WorkerConfig struct {
	Concurrency     int
	PollInterval    time.Duration
	MaxAttempts     int
	RetryBackoff    time.Duration
	StaleJobTimeout time.Duration
	MetricsPort     string
}

// SchedulerConfig holds the periodic discovery trigger configuration
type SchedulerConfig struct {
	Enabled           bool
	DiscoveryCron     string
	DiscoveryPriority int
}

// GoogleConfig holds upstream API and OAuth client configuration
type GoogleConfig struct {
	ClientID             string
	ClientSecret         string
	TokenURL             string
	BusinessInfoEndpoint string
	V4Endpoint           string
	QandAEndpoint        string
	PerformanceEndpoint  string
	RequestsPerSecond    float64
	Burst                int
	Timeout              time.Duration
	InsightsLookbackDays int
}

// QuotaConfig holds the cross-process upstream request budget
type QuotaConfig struct {
	RequestsPerMinute int
	ReservedPerMinute int
	MaxWait           time.Duration
}

// SecurityConfig holds credential encryption settings
type SecurityConfig struct {
	EncryptionKey string
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// SyncConfig is the resolved configuration handed to the sync executor and processor.
// It is built once by the caller instead of being re-derived on every call.
type SyncConfig struct {
	DashboardBucket  string
	IncludeQuestions bool
	MaxAttempts      int
	ChildPriority    int
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
			AllowedOrigins:  getEnvAsSlice("SERVER_ALLOWED_ORIGINS", nil),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "gmb_sync"),
				User:           getEnv("POSTGRES_USER", "gmb"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "gmb_sync"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Cache: CacheConfig{
			DashboardBucket: getEnv("CACHE_DASHBOARD_BUCKET", "dashboard_overview"),
		},
		Worker: WorkerConfig{
			Concurrency:     getEnvAsInt("WORKER_CONCURRENCY", 4),
			PollInterval:    getEnvAsDuration("WORKER_POLL_INTERVAL", 2*time.Second),
			MaxAttempts:     getEnvAsInt("WORKER_MAX_ATTEMPTS", 3),
			RetryBackoff:    getEnvAsDuration("WORKER_RETRY_BACKOFF", 30*time.Second),
			StaleJobTimeout: getEnvAsDuration("WORKER_STALE_JOB_TIMEOUT", 15*time.Minute),
			MetricsPort:     getEnv("WORKER_METRICS_PORT", "9091"),
		},
		Scheduler: SchedulerConfig{
			Enabled:           getEnvAsBool("SCHEDULER_ENABLED", true),
			DiscoveryCron:     getEnv("SCHEDULER_DISCOVERY_CRON", "0 */6 * * *"),
			DiscoveryPriority: getEnvAsInt("SCHEDULER_DISCOVERY_PRIORITY", 5),
		},
		Google: GoogleConfig{
			ClientID:             getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret:         getEnv("GOOGLE_CLIENT_SECRET", ""),
			TokenURL:             getEnv("GOOGLE_TOKEN_URL", "https://oauth2.googleapis.com/token"),
			BusinessInfoEndpoint: getEnv("GOOGLE_BUSINESS_INFO_ENDPOINT", "https://mybusinessbusinessinformation.googleapis.com/"),
			V4Endpoint:           getEnv("GOOGLE_V4_ENDPOINT", "https://mybusiness.googleapis.com/v4/"),
			QandAEndpoint:        getEnv("GOOGLE_QANDA_ENDPOINT", "https://mybusinessqanda.googleapis.com/v1/"),
			PerformanceEndpoint:  getEnv("GOOGLE_PERFORMANCE_ENDPOINT", "https://businessprofileperformance.googleapis.com/v1/"),
			RequestsPerSecond:    getEnvAsFloat("GOOGLE_REQUESTS_PER_SECOND", 5),
			Burst:                getEnvAsInt("GOOGLE_BURST", 10),
			Timeout:              getEnvAsDuration("GOOGLE_TIMEOUT", 30*time.Second),
			InsightsLookbackDays: getEnvAsInt("GOOGLE_INSIGHTS_LOOKBACK_DAYS", 30),
		},
		Quota: QuotaConfig{
			RequestsPerMinute: getEnvAsInt("QUOTA_REQUESTS_PER_MINUTE", 300),
			ReservedPerMinute: getEnvAsInt("QUOTA_RESERVED_PER_MINUTE", 100),
			MaxWait:           getEnvAsDuration("QUOTA_MAX_WAIT", 90*time.Second),
		},
		Security: SecurityConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks values that would otherwise fail deep inside a worker
func (c *Config) Validate() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("WORKER_MAX_ATTEMPTS must be positive, got %d", c.Worker.MaxAttempts)
	}
	if c.Quota.ReservedPerMinute > c.Quota.RequestsPerMinute {
		return fmt.Errorf("QUOTA_RESERVED_PER_MINUTE (%d) cannot exceed QUOTA_REQUESTS_PER_MINUTE (%d)",
			c.Quota.ReservedPerMinute, c.Quota.RequestsPerMinute)
	}
	if strings.TrimSpace(c.Cache.DashboardBucket) == "" {
		return fmt.Errorf("CACHE_DASHBOARD_BUCKET cannot be empty")
	}
	return nil
}

// SyncConfig resolves the executor configuration from the loaded settings
func (c *Config) SyncConfig() SyncConfig {
	return SyncConfig{
		DashboardBucket:  c.Cache.DashboardBucket,
		IncludeQuestions: getEnvAsBool("SYNC_INCLUDE_QUESTIONS", true),
		MaxAttempts:      c.Worker.MaxAttempts,
		ChildPriority:    getEnvAsInt("SYNC_CHILD_PRIORITY", 0),
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice splits a comma separated variable, dropping empty entries
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
