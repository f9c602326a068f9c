// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir   string // Base directory for all databases (always absolute)
	Port      int
	LogLevel  string
	DevMode   bool // Pretty console logging instead of JSON
	PriceTTL  time.Duration
	CacheTTL  time.Duration
	YahooURL  string // Override for the price API base URL, empty = production endpoint
	Archive   *ArchiveConfig
	Schedules ScheduleConfig
}

// ArchiveConfig holds S3-compatible report archive settings. Disabled
// unless a bucket is configured.
type ArchiveConfig struct {
	Enabled   bool
	Bucket    string
	Region    string
	Endpoint  string // Non-AWS endpoints (R2, MinIO); empty = AWS
	AccessKey string
	SecretKey string
	Prefix    string
}

// ScheduleConfig holds cron specs for background maintenance jobs.
type ScheduleConfig struct {
	CacheEviction string // evict expired calculation cache entries
	PricePrune    string // drop stale price coverage
	DBMaintenance string // WAL checkpoint and integrity check
}

// PriceDBPath returns the path of the price cache database.
func (c *Config) PriceDBPath() string {
	return filepath.Join(c.DataDir, "prices.db")
}

// CacheDBPath returns the path of the calculation cache database.
func (c *Config) CacheDBPath() string {
	return filepath.Join(c.DataDir, "calculations.db")
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("QUANTFOLIO_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		PriceTTL: getEnvAsDuration("PRICE_TTL", 24*time.Hour),
		CacheTTL: getEnvAsDuration("CACHE_TTL", 24*time.Hour),
		YahooURL: getEnv("YAHOO_BASE_URL", ""),
		Archive:  loadArchiveConfig(),
		Schedules: ScheduleConfig{
			CacheEviction: getEnv("SCHEDULE_CACHE_EVICTION", "0 * * * *"),
			PricePrune:    getEnv("SCHEDULE_PRICE_PRUNE", "30 2 * * *"),
			DBMaintenance: getEnv("SCHEDULE_DB_MAINTENANCE", "0 3 * * 0"),
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
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.PriceTTL <= 0 {
		return fmt.Errorf("price TTL must be positive, got %s", c.PriceTTL)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive, got %s", c.CacheTTL)
	}
	if c.Archive.Enabled && c.Archive.Region == "" && c.Archive.Endpoint == "" {
		return fmt.Errorf("archive enabled but neither region nor endpoint configured")
	}
	return nil
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

// loadArchiveConfig loads report archive settings. The archive is opt-in:
// leaving ARCHIVE_BUCKET unset disables it entirely.
func loadArchiveConfig() *ArchiveConfig {
	bucket := getEnv("ARCHIVE_BUCKET", "")
	return &ArchiveConfig{
		Enabled:   bucket != "",
		Bucket:    bucket,
		Region:    getEnv("ARCHIVE_REGION", "auto"),
		Endpoint:  getEnv("ARCHIVE_ENDPOINT", ""),
		AccessKey: getEnv("ARCHIVE_ACCESS_KEY", ""),
		SecretKey: getEnv("ARCHIVE_SECRET_KEY", ""),
		Prefix:    getEnv("ARCHIVE_PREFIX", "reports"),
	}
}
