package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"finanzas-backend/internal/identity"
)

// MaxGeminiAttempts bounds GEMINI_MAX_ATTEMPTS; the backoff before the last of
// eight attempts is already 64 seconds.
const MaxGeminiAttempts = 8

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Redis (optional; renders are pushed in-process when unset)
	RedisURL string

	// Session tokens handed to the browser
	SessionSecret string

	// Gemini AI
	GeminiAPIKey         string
	GeminiModel          string
	GeminiBaseURL        string
	GeminiMaxAttempts    int
	GeminiConcurrentReqs int

	// Identity provider
	AppID            string
	Identity         identity.Config
	InitialAuthToken string

	// Frontend
	FrontendURL string
}

// Load reads the environment, after applying a .env file when one exists.
// An empty GEMINI_API_KEY is valid and selects the simulated model reply.
func Load() (*Config, error) {
	godotenv.Load()

	identityCfg, err := identity.ParseConfig(os.Getenv("IDENTITY_CONFIG"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:                 getEnvOrDefault("PORT", "8080"),
		Env:                  getEnvOrDefault("ENV", "development"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		RedisURL:             getEnvOrDefault("REDIS_URL", ""),
		SessionSecret:        getEnvOrDefault("SESSION_SECRET", ""),
		GeminiAPIKey:         getEnvOrDefault("GEMINI_API_KEY", ""),
		GeminiModel:          getEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash-preview-09-2025"),
		GeminiBaseURL:        getEnvOrDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiMaxAttempts:    getEnvAsIntOrDefault("GEMINI_MAX_ATTEMPTS", 5),
		GeminiConcurrentReqs: getEnvAsIntOrDefault("GEMINI_CONCURRENT_REQUESTS", 5),
		AppID:                getEnvOrDefault("APP_ID", "default-app-id"),
		Identity:             identityCfg,
		InitialAuthToken:     getEnvOrDefault("INITIAL_AUTH_TOKEN", ""),
		FrontendURL:          getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	if cfg.Identity.ProjectID == "" {
		cfg.Identity.ProjectID = cfg.AppID
	}

	if cfg.SessionSecret == "" {
		if cfg.Env == "production" {
			return nil, fmt.Errorf("SESSION_SECRET is required when ENV=production")
		}
		// Sessions do not survive a restart without a configured secret.
		cfg.SessionSecret = uuid.NewString()
	}

	if cfg.GeminiMaxAttempts < 1 {
		cfg.GeminiMaxAttempts = 1
	}
	if cfg.GeminiMaxAttempts > MaxGeminiAttempts {
		cfg.GeminiMaxAttempts = MaxGeminiAttempts
	}
	if cfg.GeminiConcurrentReqs < 1 {
		cfg.GeminiConcurrentReqs = 1
	}

	return cfg, nil
}

// Simulated reports whether model calls are replaced by the canned reply.
func (c *Config) Simulated() bool {
	return c.GeminiAPIKey == ""
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
