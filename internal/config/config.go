// Package config provides environment configuration for the orchestrator.
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
	PublicBaseURL      string

	// Context store
	DatabaseURL string

	// NATS settings
	EventsEnabled bool
	NATSURL       string
	NATSCAFile    string
	NATSCertFile  string
	NATSKeyFile   string
	NATSToken     string

	// Operator auth
	JWTSecret string

	// Voice-call provider
	ProviderBaseURL       string
	ProviderAPIKey        string
	ProviderWebhookSecret string
	ProviderTimeout       time.Duration

	// Personas
	LarsVoiceID     string
	WiktoriaVoiceID string

	// Topic extraction
	TopicExtractor         string
	TopicDerivationTimeout time.Duration

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string

	// Repetition memory
	RepetitionCacheConversations int
	RepetitionCacheEntries       int
	StatementWindow              int
	SimilarityThreshold          float64
	DetachedWriteTimeout         time.Duration

	// Recovery
	RecoveryWindow      time.Duration
	RecoveryGrace       time.Duration
	RecoveryConcurrency int

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	Environment string
	LogLevel    string

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
		PublicBaseURL:      getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),

		// Store
		DatabaseURL: getEnv("DATABASE_URL", ""),

		// NATS
		EventsEnabled: getBoolEnv("EVENTS_ENABLED", false),
		NATSURL:       getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:    getEnv("NATS_CA_FILE", ""),
		NATSCertFile:  getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:   getEnv("NATS_KEY_FILE", ""),
		NATSToken:     getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Provider
		ProviderBaseURL:       getEnv("PROVIDER_BASE_URL", "https://api.vapi.ai"),
		ProviderAPIKey:        getEnv("PROVIDER_API_KEY", ""),
		ProviderWebhookSecret: getEnv("PROVIDER_WEBHOOK_SECRET", ""),
		ProviderTimeout:       getDurationEnv("PROVIDER_TIMEOUT", 4*time.Second),

		// Personas
		LarsVoiceID:     getEnv("LARS_VOICE_ID", "lars-default"),
		WiktoriaVoiceID: getEnv("WIKTORIA_VOICE_ID", "wiktoria-default"),

		// Topic extraction
		TopicExtractor:         getEnv("TOPIC_EXTRACTOR", "pattern"),
		TopicDerivationTimeout: getDurationEnv("TOPIC_DERIVATION_TIMEOUT", 2*time.Second),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "anthropic"),

		// Repetition memory
		RepetitionCacheConversations: getIntEnv("REPETITION_CACHE_CONVERSATIONS", 1000),
		RepetitionCacheEntries:       getIntEnv("REPETITION_CACHE_ENTRIES", 100),
		StatementWindow:              getIntEnv("STATEMENT_WINDOW", 5),
		SimilarityThreshold:          getFloatEnv("SIMILARITY_THRESHOLD", 0.7),
		DetachedWriteTimeout:         getDurationEnv("DETACHED_WRITE_TIMEOUT", 5*time.Second),

		// Recovery
		RecoveryWindow:      getDurationEnv("RECOVERY_WINDOW", 24*time.Hour),
		RecoveryGrace:       getDurationEnv("RECOVERY_GRACE", 10*time.Minute),
		RecoveryConcurrency: getIntEnv("RECOVERY_CONCURRENCY", 4),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		Environment: getEnv("ENV", "production"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

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

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
