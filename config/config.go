package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all orchestrator configuration values.
type Config struct {
	// Server
	Addr            string
	Env             string
	GracefulTimeout time.Duration

	// Redis (backs the summary cache; empty or unreachable keeps the in-memory cache)
	RedisURL string

	// Postgres (durable WTU store; empty DSN keeps the in-memory WTU store)
	DatabaseURL string

	// Provider credentials are read once at startup; a missing key leaves
	// that provider unregistered in the gateway, and the tiered caller then
	// skips its catalog models during fallback.
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GoogleAPIKey    string
	PerplexityAPIKey string

	// Per-provider call timeout.
	ProviderTimeouts map[string]time.Duration
	DefaultTimeout   time.Duration

	// WTU accounting
	DefaultMonthlyQuotaWTU int

	// Summary cache
	CacheTTL time.Duration

	// Catalog
	CatalogRefreshInterval time.Duration

	// Context manager
	ContextMaxAge       time.Duration
	ContextSweepInterval time.Duration

	// Personalizer weights (kept parameterized per the spec's design notes).
	PersonalizationWeightHistory    float64
	PersonalizationWeightRecency    float64
	PersonalizationWeightPopularity float64
	PersonalizationNormConstant     float64

	LogLevel string

	// HTTP server
	APIKeyHeader     string
	MaxBodyBytes     int64
	RateLimitEnabled bool
	RateLimitRPM     int
	RateLimitBurst   int
}

// Load reads configuration from environment variables and an optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("ORCH_GRACEFUL_TIMEOUT_SEC", 15)
	defaultTimeoutSec := getEnvInt("ORCH_DEFAULT_TIMEOUT_SEC", 120)

	cfg := &Config{
		Addr:            getEnv("ORCH_ADDR", ":8090"),
		Env:             getEnv("ENV", "development"),
		GracefulTimeout: time.Duration(gracefulSec) * time.Second,
		RedisURL:        getEnv("REDIS_URL", "redis://redis:6379"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),

		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		GoogleAPIKey:     os.Getenv("GOOGLE_API_KEY"),
		PerplexityAPIKey: os.Getenv("PERPLEXITY_API_KEY"),

		DefaultTimeout: time.Duration(defaultTimeoutSec) * time.Second,
		ProviderTimeouts: map[string]time.Duration{
			"openai":     time.Duration(getEnvInt("PROVIDER_TIMEOUT_OPENAI_SEC", 120)) * time.Second,
			"anthropic":  time.Duration(getEnvInt("PROVIDER_TIMEOUT_ANTHROPIC_SEC", 120)) * time.Second,
			"google":     time.Duration(getEnvInt("PROVIDER_TIMEOUT_GOOGLE_SEC", 90)) * time.Second,
			"perplexity": time.Duration(getEnvInt("PROVIDER_TIMEOUT_PERPLEXITY_SEC", 90)) * time.Second,
		},

		DefaultMonthlyQuotaWTU: getEnvInt("ORCH_DEFAULT_MONTHLY_QUOTA_WTU", 1000),

		CacheTTL: time.Duration(getEnvInt("ORCH_CACHE_TTL_DAYS", 30)) * 24 * time.Hour,

		CatalogRefreshInterval: time.Duration(getEnvInt("ORCH_CATALOG_REFRESH_SEC", 300)) * time.Second,

		ContextMaxAge:        time.Duration(getEnvInt("ORCH_CONTEXT_MAX_AGE_HOURS", 24)) * time.Hour,
		ContextSweepInterval: time.Duration(getEnvInt("ORCH_CONTEXT_SWEEP_MIN", 15)) * time.Minute,

		PersonalizationWeightHistory:    getEnvFloat("ORCH_PERSONALIZATION_W1", 0.5),
		PersonalizationWeightRecency:    getEnvFloat("ORCH_PERSONALIZATION_W2", 0.2),
		PersonalizationWeightPopularity: getEnvFloat("ORCH_PERSONALIZATION_W3", 0.1),
		PersonalizationNormConstant:     getEnvFloat("ORCH_PERSONALIZATION_NORM", 0.25),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		APIKeyHeader:     getEnv("ORCH_API_KEY_HEADER", "Authorization"),
		MaxBodyBytes:     int64(getEnvInt("ORCH_MAX_BODY_BYTES", 1<<20)),
		RateLimitEnabled: getEnv("ORCH_RATE_LIMIT_ENABLED", "true") == "true",
		RateLimitRPM:     getEnvInt("ORCH_RATE_LIMIT_RPM", 120),
		RateLimitBurst:   getEnvInt("ORCH_RATE_LIMIT_BURST", 20),
	}
	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ProviderTimeout returns the configured timeout for a given provider.
func (c *Config) ProviderTimeout(provider string) time.Duration {
	if t, ok := c.ProviderTimeouts[provider]; ok {
		return t
	}
	return c.DefaultTimeout
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
