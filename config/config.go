package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"rental-crawler/models"
	"rental-crawler/storage"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// StoreDriver is postgres, sqlite or libsql.
	StoreDriver string
	SQLitePath  string

	MaxConcurrency   int
	RateLimitMs      int
	BatchDelayMs     int
	MaxRetries       int
	PagesToScrape    int
	DetailTimeoutSec int

	ChromeBin string
	Headless  bool

	WGEmail         string
	WGPassword      string
	SessionTTLHours int

	MatchThreshold int

	SweepMissedPasses          int
	SweepStaleDays             int
	SweepAvailabilityGraceDays int
	SweepAvailableFromMaxDays  int

	BlockZeroThreshold int

	CSVOutputPath string
	APIAddr       string
	LogLevel      string
	ProfilesPath  string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "crawler"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "crawler123"),
		PostgresDB:       getEnv("POSTGRES_DB", "rental_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
		SQLitePath:  getEnv("SQLITE_PATH", "./output/listings.db"),

		MaxConcurrency:   getEnvInt("MAX_CONCURRENCY", 3),
		RateLimitMs:      getEnvInt("RATE_LIMIT_MS", 2000),
		BatchDelayMs:     getEnvInt("BATCH_DELAY_MS", 5000),
		MaxRetries:       getEnvInt("MAX_RETRIES", 3),
		PagesToScrape:    getEnvInt("PAGES_TO_SCRAPE", 2),
		DetailTimeoutSec: getEnvInt("DETAIL_TIMEOUT_SEC", 45),

		ChromeBin: getEnv("CHROME_BIN", ""),
		Headless:  getEnvBool("HEADLESS", true),

		WGEmail:         getEnv("WG_EMAIL", ""),
		WGPassword:      getEnv("WG_PASSWORD", ""),
		SessionTTLHours: getEnvInt("SESSION_TTL_HOURS", 12),

		MatchThreshold: getEnvInt("MATCH_THRESHOLD", 60),

		SweepMissedPasses:          getEnvInt("SWEEP_MISSED_PASSES", 3),
		SweepStaleDays:             getEnvInt("SWEEP_STALE_DAYS", 14),
		SweepAvailabilityGraceDays: getEnvInt("SWEEP_AVAILABILITY_GRACE_DAYS", 7),
		SweepAvailableFromMaxDays:  getEnvInt("SWEEP_AVAILABLE_FROM_MAX_DAYS", 120),

		BlockZeroThreshold: getEnvInt("BLOCK_ZERO_THRESHOLD", 5),

		CSVOutputPath: getEnv("CSV_OUTPUT_PATH", ""),
		APIAddr:       getEnv("API_ADDR", ":8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		ProfilesPath:  getEnv("PROFILES_PATH", "./profiles.yaml"),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// SweepPolicy builds the deactivation policy for the marketplace.
func (c *Config) SweepPolicy() storage.SweepPolicy {
	return storage.SweepPolicy{
		Platform:          models.PlatformWGGesucht,
		MissedPasses:      c.SweepMissedPasses,
		StaleAfter:        days(c.SweepStaleDays),
		AvailabilityGrace: days(c.SweepAvailabilityGraceDays),
		StartedLongAgo:    days(c.SweepAvailableFromMaxDays),
	}
}

// SessionTTL is the lifetime assumed for a fresh login.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// StoreTarget returns the driver and the address handed to it, for logging.
func (c *Config) StoreTarget() (string, string) {
	switch c.StoreDriver {
	case "postgres":
		return c.StoreDriver, fmt.Sprintf("%s:%s/%s", c.PostgresHost, c.PostgresPort, c.PostgresDB)
	default:
		return c.StoreDriver, c.SQLitePath
	}
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}
