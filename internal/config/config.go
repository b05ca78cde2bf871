/**
 * @description
 * Configuration loader for the Racewise backend.
 * Responsible for reading environment variables, setting defaults, and performing strict validation.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files
 * - standard "os": For reading env vars
 *
 * @notes
 * - Fails fast if critical variables (Database URL) are missing.
 * - Model keys are optional at load time so read-only deployments can start.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	DB         DBConfig
	Redis      RedisConfig
	KRA        KRAConfig
	LLM        LLMConfig
	Prediction PredictionConfig
	Services   ServicesConfig
	Worker     WorkerConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port string
	Env  string // "development", "staging", "production" or "test"
}

// DBConfig holds PostgreSQL settings
type DBConfig struct {
	URL string
}

// RedisConfig holds Redis settings
type RedisConfig struct {
	URL string
}

// KRAConfig holds the race-data API endpoint and key
type KRAConfig struct {
	BaseURL        string
	APIKey         string
	RequestsPerSec int
	Timeout        time.Duration
}

// LLMConfig selects and configures the generative model provider
type LLMConfig struct {
	Provider        string // "openai" (OpenAI-compatible, e.g. OpenRouter) or "anthropic"
	APIKey          string
	BaseURL         string
	Model           string
	AnthropicAPIKey string
	AnthropicModel  string
	MaxTokens       int
	Temperature     float64
	RequestTimeout  time.Duration
}

// PredictionConfig tunes the generation loop
type PredictionConfig struct {
	MaxRetries         int
	RetryBaseDelay     time.Duration
	BatchDelay         time.Duration
	AttemptTimeout     time.Duration
	ContextCacheTTL    time.Duration
	PredictionCacheTTL time.Duration
}

// ServicesConfig holds auth and job secrets
type ServicesConfig struct {
	ClerkJWKSURL  string // URL to fetch JSON Web Key Set for JWT validation
	SyncJobSecret string
}

// WorkerConfig holds background job settings
type WorkerConfig struct {
	SyncSchedule     string   // cron spec
	AutoPredictTypes []string // empty disables auto generation
}

// Load reads .env file and populates the Config struct
func Load() (*Config, error) {
	// Attempt to load .env, but don't crash if it fails (prod might inject env vars directly)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("GO_ENV", "development"),
		},
		DB: DBConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},
		KRA: KRAConfig{
			BaseURL:        getEnv("KRA_API_BASE_URL", "https://apis.data.go.kr/B551015"),
			APIKey:         sanitizeCredential(getEnv("KRA_API_KEY", "")),
			RequestsPerSec: getEnvAsInt("KRA_REQUESTS_PER_SEC", 10),
			Timeout:        getEnvAsDuration("KRA_TIMEOUT", 15*time.Second),
		},
		LLM: LLMConfig{
			Provider:        strings.ToLower(getEnv("LLM_PROVIDER", ProviderOpenAI)),
			APIKey:          sanitizeCredential(getEnv("OPENAI_API_KEY", "")),
			BaseURL:         getEnv("OPENAI_BASE_URL", "https://openrouter.ai/api/v1/chat/completions"),
			Model:           getEnv("OPENAI_MODEL", "google/gemini-2.5-flash"),
			AnthropicAPIKey: sanitizeCredential(getEnv("ANTHROPIC_API_KEY", "")),
			AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
			MaxTokens:       getEnvAsInt("LLM_MAX_TOKENS", 8192),
			Temperature:     getEnvAsFloat("LLM_TEMPERATURE", 0.3),
			RequestTimeout:  getEnvAsDuration("LLM_REQUEST_TIMEOUT", 120*time.Second),
		},
		Prediction: PredictionConfig{
			MaxRetries:         getEnvAsInt("PREDICTION_MAX_RETRIES", 2),
			RetryBaseDelay:     getEnvAsDuration("PREDICTION_RETRY_DELAY", time.Second),
			BatchDelay:         getEnvAsDuration("PREDICTION_BATCH_DELAY", 500*time.Millisecond),
			AttemptTimeout:     getEnvAsDuration("PREDICTION_ATTEMPT_TIMEOUT", 90*time.Second),
			ContextCacheTTL:    getEnvAsDuration("CONTEXT_CACHE_TTL", 10*time.Minute),
			PredictionCacheTTL: getEnvAsDuration("PREDICTION_CACHE_TTL", 2*time.Hour),
		},
		Services: ServicesConfig{
			ClerkJWKSURL:  getEnv("CLERK_JWKS_URL", ""),
			SyncJobSecret: sanitizeCredential(getEnv("JOB_SYNC_SECRET", "")),
		},
		Worker: WorkerConfig{
			SyncSchedule:     getEnv("WORKER_SYNC_SCHEDULE", "*/30 * * * *"),
			AutoPredictTypes: getEnvAsList("WORKER_AUTO_PREDICT_TYPES"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks for required variables
func validate(cfg *Config) error {
	if cfg.DB.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	switch cfg.LLM.Provider {
	case ProviderOpenAI:
		if cfg.LLM.APIKey == "" && cfg.Server.Env != "test" {
			fmt.Println("Warning: OPENAI_API_KEY is missing. Prediction generation will fail.")
		}
	case ProviderAnthropic:
		if cfg.LLM.AnthropicAPIKey == "" && cfg.Server.Env != "test" {
			fmt.Println("Warning: ANTHROPIC_API_KEY is missing. Prediction generation will fail.")
		}
	default:
		return fmt.Errorf("LLM_PROVIDER must be %q or %q, got %q", ProviderOpenAI, ProviderAnthropic, cfg.LLM.Provider)
	}
	if cfg.Prediction.MaxRetries < 0 {
		return fmt.Errorf("PREDICTION_MAX_RETRIES must not be negative")
	}
	return nil
}

// Helper to get env var with default
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func sanitizeCredential(value string) string {
	trimmed := strings.TrimSpace(value)
	return strings.Trim(trimmed, "\"")
}

// Helper to get env var as int
func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return fallback
}

// Accepts Go duration strings ("750ms", "2m").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsList(key string) []string {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
