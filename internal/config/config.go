// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultCooldownLadder is the escalating pause applied after consecutive retryable failures
var DefaultCooldownLadder = []time.Duration{
	60 * time.Second,
	90 * time.Second,
	120 * time.Second,
	150 * time.Second,
	180 * time.Second,
	300 * time.Second,
	300 * time.Second,
	300 * time.Second,
	300 * time.Second,
	300 * time.Second,
}

// Config holds application configuration
type Config struct {
	DataDir   string // Base directory for the database (always absolute)
	LogLevel  string
	LogPretty bool
	Port      int
	DevMode   bool
	DryRun    bool // Plan and build requests without dispatching

	Marketplace MarketplaceConfig
	Planner     PlannerConfig
	Dispatch    DispatchConfig
	Schedule    ScheduleConfig
	Redis       RedisConfig
	Backup      BackupConfig
}

// MarketplaceConfig holds the external endpoints and credentials
type MarketplaceConfig struct {
	BaseURL          string
	AnalyticsBaseURL string
	AnalyticsAPIKey  string
	CredentialsFile  string
	RequestTimeout   time.Duration
}

// PlannerConfig holds allocation thresholds
type PlannerConfig struct {
	MinAvailabilityDays    int
	AvailabilityWindowDays int
}

// DispatchConfig holds the dispatch pipeline and quota acquisition settings
type DispatchConfig struct {
	MaxFailures          int
	CooldownLadder       []time.Duration
	SendDelay            time.Duration
	QuotaBatchPause      time.Duration
	QuotaCacheTTL        time.Duration
	RecorderIdleTimeout  time.Duration
	RecorderBuffer       int
	DeliveryLookbackDays int
}

// ScheduleConfig holds cron specs (with seconds) for the background jobs
type ScheduleConfig struct {
	TransferCycle string
	Reconcile     string
	Backup        string
	Cleanup       string
	Maintenance   string
}

// RedisConfig enables the distributed run lock when Addr is set
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// BackupConfig enables database backups to S3 compatible storage when Bucket is set
type BackupConfig struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string

	// RetentionDays of 0 keeps every backup
	RetentionDays int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("RESTOCK_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	ladder, err := getEnvAsDurations("COOLDOWN_LADDER", time.Second, DefaultCooldownLadder)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:   absDataDir,
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),
		Port:      getEnvAsInt("HTTP_PORT", 8080),
		DevMode:   getEnvAsBool("DEV_MODE", false),
		DryRun:    getEnvAsBool("DRY_RUN", false),
		Marketplace: MarketplaceConfig{
			BaseURL:          getEnv("MARKETPLACE_BASE_URL", "https://seller-weekly-report.wildberries.ru"),
			AnalyticsBaseURL: getEnv("ANALYTICS_BASE_URL", "https://seller-analytics-api.wildberries.ru"),
			AnalyticsAPIKey:  getEnv("ANALYTICS_API_KEY", ""),
			CredentialsFile:  getEnv("CREDENTIALS_FILE", filepath.Join(absDataDir, "credentials.json")),
			RequestTimeout:   getEnvAsDuration("MARKETPLACE_TIMEOUT", 30*time.Second),
		},
		Planner: PlannerConfig{
			MinAvailabilityDays:    getEnvAsInt("MIN_AVAILABILITY_DAYS", 14),
			AvailabilityWindowDays: getEnvAsInt("AVAILABILITY_WINDOW_DAYS", 30),
		},
		Dispatch: DispatchConfig{
			MaxFailures:          getEnvAsInt("MAX_DISPATCH_FAILURES", 10),
			CooldownLadder:       ladder,
			SendDelay:            time.Duration(getEnvAsInt("SEND_DELAY_MS", 100)) * time.Millisecond,
			QuotaBatchPause:      time.Duration(getEnvAsInt("QUOTA_BATCH_PAUSE_MS", 500)) * time.Millisecond,
			QuotaCacheTTL:        getEnvAsDuration("QUOTA_CACHE_TTL", 10*time.Minute),
			RecorderIdleTimeout:  getEnvAsDuration("RECORDER_IDLE_TIMEOUT", 10*time.Minute),
			RecorderBuffer:       getEnvAsInt("RECORDER_BUFFER", 1024),
			DeliveryLookbackDays: getEnvAsInt("DELIVERY_LOOKBACK_DAYS", 14),
		},
		Schedule: ScheduleConfig{
			TransferCycle: getEnv("TRANSFER_SCHEDULE", "0 0 */2 * * *"),
			Reconcile:     getEnv("RECONCILE_SCHEDULE", "0 30 * * * *"),
			Backup:        getEnv("BACKUP_SCHEDULE", "0 0 3 * * *"),
			Cleanup:       getEnv("CLEANUP_SCHEDULE", "0 15 * * * *"),
			Maintenance:   getEnv("MAINTENANCE_SCHEDULE", "0 0 4 * * *"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			LockTTL:  getEnvAsDuration("RUN_LOCK_TTL", 2*time.Hour),
		},
		Backup: BackupConfig{
			Bucket:        getEnv("BACKUP_S3_BUCKET", ""),
			Endpoint:      getEnv("BACKUP_S3_ENDPOINT", ""),
			Region:        getEnv("BACKUP_S3_REGION", "auto"),
			AccessKey:     getEnv("BACKUP_S3_ACCESS_KEY", ""),
			SecretKey:     getEnv("BACKUP_S3_SECRET_KEY", ""),
			Prefix:        getEnv("BACKUP_S3_PREFIX", "restock"),
			RetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid HTTP_PORT: %d", c.Port)
	}
	if c.Planner.MinAvailabilityDays < 0 {
		return fmt.Errorf("MIN_AVAILABILITY_DAYS must not be negative")
	}
	if c.Planner.AvailabilityWindowDays <= 0 {
		return fmt.Errorf("AVAILABILITY_WINDOW_DAYS must be positive")
	}
	if c.Dispatch.MaxFailures <= 0 {
		return fmt.Errorf("MAX_DISPATCH_FAILURES must be positive")
	}
	if len(c.Dispatch.CooldownLadder) == 0 {
		return fmt.Errorf("COOLDOWN_LADDER must have at least one step")
	}
	if c.Dispatch.RecorderBuffer <= 0 {
		return fmt.Errorf("RECORDER_BUFFER must be positive")
	}
	if c.Backup.RetentionDays < 0 {
		return fmt.Errorf("BACKUP_RETENTION_DAYS must not be negative")
	}
	if c.Backup.Bucket != "" && (c.Backup.AccessKey == "" || c.Backup.SecretKey == "") {
		return fmt.Errorf("BACKUP_S3_BUCKET requires BACKUP_S3_ACCESS_KEY and BACKUP_S3_SECRET_KEY")
	}
	return nil
}

// DatabasePath returns the location of the SQLite database
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "restock.db")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsDurations parses a comma separated list of integers in the given unit
func getEnvAsDurations(key string, unit time.Duration, defaultValue []time.Duration) ([]time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		out := make([]time.Duration, len(defaultValue))
		copy(out, defaultValue)
		return out, nil
	}

	parts := strings.Split(value, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid %s entry %q", key, p)
		}
		out = append(out, time.Duration(n)*unit)
	}
	return out, nil
}
