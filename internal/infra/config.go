package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	OpenAITimeout time.Duration

	FALAPIKey  string
	FALBaseURL string

	NanoBananaAPIKey  string
	NanoBananaBaseURL string

	GenerationBudget time.Duration
	PollInterval     time.Duration

	RatingPerHour     int
	UploadPerHour     int
	GenerationPerHour int
	ClientPerMinute   int

	DatabaseURL string
	ArenaDBPath string

	AllowedOrigins []string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv: getEnv("APP_ENV", "development"),
		Port:   getEnv("PORT", "8080"),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAITimeout: time.Second * time.Duration(getEnvInt("OPENAI_TIMEOUT_SECONDS", 30)),

		FALAPIKey:  os.Getenv("FAL_API_KEY"),
		FALBaseURL: getEnv("FAL_BASE_URL", "https://rest.fal.ai"),

		NanoBananaAPIKey:  os.Getenv("NANOBANANA_API_KEY"),
		NanoBananaBaseURL: getEnv("NANOBANANA_BASE_URL", "https://api.nanobananaapi.ai/api/v1/nanobanana"),

		GenerationBudget: time.Second * time.Duration(getEnvInt("GENERATION_BUDGET_SECONDS", 120)),
		PollInterval:     time.Second * time.Duration(getEnvInt("GENERATION_POLL_SECONDS", 3)),

		RatingPerHour:     getEnvInt("RATING_LIMIT_PER_HOUR", 60),
		UploadPerHour:     getEnvInt("UPLOAD_LIMIT_PER_HOUR", 60),
		GenerationPerHour: getEnvInt("GENERATION_LIMIT_PER_HOUR", 20),
		ClientPerMinute:   getEnvInt("CLIENT_LIMIT_PER_MINUTE", 30),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		ArenaDBPath: getEnv("ARENA_DB_PATH", "./fashion_arena_db.jsonl"),

		AllowedOrigins: splitAndTrim(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 180)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	if cfg.FALAPIKey == "" {
		return nil, fmt.Errorf("FAL_API_KEY is required")
	}

	if cfg.NanoBananaAPIKey == "" {
		return nil, fmt.Errorf("NANOBANANA_API_KEY is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
