package config

import (
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/evyataryagoni/geolookup/internal/models"
	"github.com/joho/godotenv"
)

// DefaultDownloadURL is the MaxMind permalink used when no per-type URL is configured
const DefaultDownloadURL = "https://download.maxmind.com/app/geoip_download"

// Config holds all application configuration
type Config struct {
	// Server configuration
	Port      string
	LogLevel  string
	LogPretty bool

	// Rate limiting
	RateLimitType   string // "memory" or "redis"
	RateLimit       int    // number of requests allowed
	RateLimitWindow int    // time window in seconds

	// Redis configuration (rate limiter only)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Geo-database configuration
	DataDir      string                         // canonical <type>.mmdb files live here
	ScratchDir   string                         // parent of per-refresh scratch directories ("" = OS temp dir)
	LicenseKey   string                         // MaxMind license key
	Databases    []models.DatabaseType          // enabled database types
	SourceURLs   map[models.DatabaseType]string // per-type archive URL overrides
	MaxWalkDepth int                            // payload search depth inside an extracted archive
	MaxPayload   int64                          // bytes one archive may extract to

	// Refresh scheduling
	RefreshInterval time.Duration // 0 disables the in-process scheduler
	RefreshOnStart  bool          // refresh once when the server boots
	RefreshTimeout  time.Duration // per-download timeout
	RefreshParallel int           // types refreshed concurrently
	WatchDataDir    bool          // reload files written by an out-of-process refresh
}

// Load reads configuration from environment variables
// with sensible defaults
func Load() *Config {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or defaults")
	}

	cfg := &Config{
		Port:      getEnv("PORT", "3000"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", true),

		RateLimitType:   getEnv("RATE_LIMITER_TYPE", "memory"),
		RateLimit:       getEnvAsInt("RATE_LIMIT", 100),
		RateLimitWindow: getEnvAsInt("RATE_LIMIT_WINDOW", 60),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		DataDir:      getEnv("GEO_DATA_DIR", "./data/geo"),
		ScratchDir:   getEnv("GEO_SCRATCH_DIR", ""),
		LicenseKey:   getEnv("MAXMIND_LICENSE_KEY", ""),
		Databases:    getEnvAsDatabaseTypes("GEO_DATABASES", models.AllDatabaseTypes),
		SourceURLs:   map[models.DatabaseType]string{},
		MaxWalkDepth: getEnvAsInt("GEO_MAX_WALK_DEPTH", 8),
		MaxPayload:   getEnvAsInt64("GEO_MAX_PAYLOAD_BYTES", 1<<30),

		RefreshInterval: getEnvAsDuration("REFRESH_INTERVAL", 0),
		RefreshOnStart:  getEnvAsBool("REFRESH_ON_START", false),
		RefreshTimeout:  getEnvAsDuration("REFRESH_TIMEOUT", 5*time.Minute),
		RefreshParallel: getEnvAsInt("REFRESH_PARALLEL", len(models.AllDatabaseTypes)),
		WatchDataDir:    getEnvAsBool("WATCH_DATA_DIR", true),
	}

	for _, t := range models.AllDatabaseTypes {
		key := "GEO_" + strings.ToUpper(string(t)) + "_URL"
		if v := getEnv(key, ""); v != "" {
			cfg.SourceURLs[t] = v
		}
	}

	return cfg
}

// SourceURL returns the archive URL for a database type
// An explicit GEO_<TYPE>_URL wins; otherwise the MaxMind download
// permalink is built from the edition ID and the license key
func (c *Config) SourceURL(t models.DatabaseType) string {
	if u, ok := c.SourceURLs[t]; ok {
		return u
	}
	q := url.Values{}
	q.Set("edition_id", t.EditionID())
	q.Set("license_key", c.LicenseKey)
	q.Set("suffix", "tar.gz")
	return DefaultDownloadURL + "?" + q.Encode()
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt reads an environment variable as an integer
// Returns default if not set or invalid
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 reads an environment variable as a 64-bit integer
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool reads an environment variable as a boolean
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration reads an environment variable as a time.Duration ("6h", "30m")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDatabaseTypes reads a comma separated list such as "country,city"
// Unknown entries are skipped; an empty result falls back to the default
func getEnvAsDatabaseTypes(key string, defaultValue []models.DatabaseType) []models.DatabaseType {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var types []models.DatabaseType
	seen := map[models.DatabaseType]bool{}
	for _, part := range strings.Split(valueStr, ",") {
		t, err := models.ParseDatabaseType(part)
		if err != nil {
			log.Printf("Ignoring %s entry: %v", key, err)
			continue
		}
		if !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	if len(types) == 0 {
		return defaultValue
	}
	return types
}
