package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wayline/wayline/apps/api/departures"
)

// Config holds all configuration for the API service
type Config struct {
	Port string

	// Database: Postgres is used when DatabaseURL is set, SQLite otherwise
	SQLitePath  string
	DatabaseURL string

	// Providers
	ProvidersFile string

	// Upstream
	TransitlandAPIKey  string
	TransitlandBaseURL string
	FetchTimeout       time.Duration

	// Departure cache
	Location      *time.Location
	CacheTTL      time.Duration
	CacheStaleFor time.Duration
	SweepInterval time.Duration
	CacheSize     int
	NarrowLimit   int
	BroadLimit    int

	// Events (empty disables publishing)
	NATSURL string

	// HTTP
	AllowedOrigins []string
	StaticDir      string
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	tz := getEnv("TIMEZONE", "Europe/Madrid")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", tz, err)
	}

	cfg := &Config{
		Port: getEnv("PORT", "8081"),

		SQLitePath:  getEnv("SQLITE_DATABASE", "../../data/transit.db"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		ProvidersFile: getEnv("PROVIDERS_FILE", "../../data/available_providers.json"),

		TransitlandAPIKey:  getEnv("TRANSITLAND_API_KEY", ""),
		TransitlandBaseURL: getEnv("TRANSITLAND_BASE_URL", "https://transit.land/api/v2/rest"),
		FetchTimeout:       time.Duration(getEnvInt("FETCH_TIMEOUT_SECONDS", 10)) * time.Second,

		Location:      loc,
		CacheTTL:      time.Duration(getEnvInt("CACHE_TTL_MINUTES", 120)) * time.Minute,
		CacheStaleFor: time.Duration(getEnvInt("CACHE_STALE_MINUTES", 30)) * time.Minute,
		SweepInterval: time.Duration(getEnvInt("CACHE_SWEEP_MINUTES", 10)) * time.Minute,
		CacheSize:     getEnvInt("CACHE_SIZE", 10000),
		NarrowLimit:   getEnvInt("NARROW_LIMIT", 30),
		BroadLimit:    getEnvInt("BROAD_LIMIT", 60),

		NATSURL: getEnv("NATS_URL", ""),

		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:5173")),
		StaticDir:      getEnv("STATIC_DIR", ""),
	}

	return cfg, nil
}

// Cache returns the departure cache settings
func (c *Config) Cache() departures.Config {
	return departures.Config{
		TTL:           c.CacheTTL,
		StaleFor:      c.CacheStaleFor,
		SweepInterval: c.SweepInterval,
		Size:          c.CacheSize,
		FetchTimeout:  c.FetchTimeout,
		NarrowLimit:   c.NarrowLimit,
		BroadLimit:    c.BroadLimit,
		Location:      c.Location,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt falls back to the default for unparseable or non-positive values
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil && intValue > 0 {
			return intValue
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
