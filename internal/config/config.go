package config

import (
	"os"
	"strconv"
	"time"
)

// DefaultDetailEndpoint is the IP intelligence endpoint queried for
// on-demand detail lookups.
const DefaultDetailEndpoint = "https://api.ipapi.is"

// Config holds all application configuration
type Config struct {
	// Server configuration
	Port int `json:"port"`

	// Outbound HTTP configuration
	HTTPTimeout    time.Duration `json:"http_timeout"`
	UserAgent      string        `json:"user_agent"`
	DetailEndpoint string        `json:"detail_endpoint"`
	ProvidersFile  string        `json:"providers_file"`

	// Local database configuration
	CityDBPath string `json:"city_db_path"`
	ASNDBPath  string `json:"asn_db_path"`

	// Cache configuration
	CacheEnabled    bool          `json:"cache_enabled"`
	CacheTTL        time.Duration `json:"cache_ttl"`
	CacheMaxEntries int           `json:"cache_max_entries"`

	// Scheduled refresh configuration
	AutoRefresh     bool   `json:"auto_refresh"`
	RefreshInterval string `json:"refresh_interval"`

	// Logging configuration
	LogLevel string `json:"log_level"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Port:            getEnvInt("HTTP_PORT", 8080),
		HTTPTimeout:     getEnvDuration("HTTP_TIMEOUT", 10*time.Second),
		UserAgent:       getEnvStr("USER_AGENT", "netident/1.0"),
		DetailEndpoint:  getEnvStr("DETAIL_ENDPOINT", DefaultDetailEndpoint),
		ProvidersFile:   getEnvStr("PROVIDERS_FILE", ""),
		CityDBPath:      getEnvStr("CITY_DB_PATH", ""),
		ASNDBPath:       getEnvStr("ASN_DB_PATH", ""),
		CacheEnabled:    getEnvBool("CACHE_ENABLED", true),
		CacheTTL:        getEnvDuration("CACHE_TTL", 15*time.Minute),
		CacheMaxEntries: getEnvInt("CACHE_MAX_ENTRIES", 10000),
		AutoRefresh:     getEnvBool("AUTO_REFRESH", false),
		RefreshInterval: getEnvStr("REFRESH_INTERVAL", "@every 1h"),
		LogLevel:        getEnvStr("LOG_LEVEL", "info"),
	}
}

// getEnvStr gets string value from environment variable with default
func getEnvStr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets integer value from environment variable with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets boolean value from environment variable with default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration gets duration value from environment variable with default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
