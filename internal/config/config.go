// Package config provides environment configuration for the bot.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// NATS settings (audit event stream; empty URL disables it)
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings for the admin routes
	JWTSecret string

	// AI responder settings
	OpenAIAPIKey    string
	AnthropicAPIKey string

	// Batching and run lifecycle
	BatchWindow     time.Duration // quiet period before a user's messages are batched
	RunPollInterval time.Duration // assistant run status poll interval
	RunTimeout      time.Duration // overall budget for one AI turn
	WorkerPoolSize  int           // concurrent users per tenant sweep
	LeaseTTL        time.Duration // processing lease expiry

	// Scheduler
	SweepInterval    time.Duration // mediator sweep period
	RecoveryInterval time.Duration // failed-status recovery period

	// Webhook verification
	VerifyToken string

	// Tenant registry
	TenantsFile string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// AI responders
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),

		// Pipeline
		BatchWindow:     getDurationEnv("BATCH_WINDOW", 30*time.Second),
		RunPollInterval: getDurationEnv("RUN_POLL_INTERVAL", 5*time.Second),
		RunTimeout:      getDurationEnv("RUN_TIMEOUT", 300*time.Second),
		WorkerPoolSize:  getIntEnv("WORKER_POOL_SIZE", 4),
		LeaseTTL:        getDurationEnv("LEASE_TTL", 5*time.Minute),

		// Scheduler
		SweepInterval:    getDurationEnv("SWEEP_INTERVAL", 30*time.Second),
		RecoveryInterval: getDurationEnv("RECOVERY_INTERVAL", time.Hour),

		// Webhook
		VerifyToken: getEnv("VERIFY_TOKEN", ""),

		// Tenants
		TenantsFile: getEnv("TENANTS_FILE", "tenants.json"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
