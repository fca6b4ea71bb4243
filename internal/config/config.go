// Package config provides environment configuration for the client daemon.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds all configuration for the application.
type Config struct {
	// Local bridge API
	ListenAddr         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	AllowedOrigins     string

	// Store settings
	StoreDriver string
	DatabaseURL string
	RedisURL    string

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Stego service
	StegoBaseURL       string
	StegoTimeout       time.Duration
	StegoAllowInsecure bool

	// JWT settings
	JWTSecret string

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel    string
	Environment string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first without overriding the environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		// Local bridge API
		ListenAddr:         getEnv("LISTEN_ADDR", "127.0.0.1:7420"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 0),
		AllowedOrigins:     getEnv("ALLOWED_ORIGINS", "http://localhost:5173"),

		// Store
		StoreDriver: getEnv("STORE_DRIVER", StoreMemory),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Stego service
		StegoBaseURL:       getEnv("STEGO_BASE_URL", "http://localhost:8000"),
		StegoTimeout:       getDurationEnv("STEGO_TIMEOUT", 60*time.Second),
		StegoAllowInsecure: getBoolEnv("STEGO_ALLOW_INSECURE", false),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Environment: getEnv("ENV", "production"),

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
