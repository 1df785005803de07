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
	defaultGenerationLimit    = 5
	defaultImageLimit         = 20
	defaultGenerationDeadline = 120 * time.Second
	defaultRateLimit          = "60-M"
	defaultPort               = "8080"
	defaultImageSearchTimeout = 8 * time.Second
)

var (
	defaultTextModels  = []string{"gemini-2.5-flash", "gemini-2.0-flash", "gemini-1.5-flash"}
	defaultImageModels = []string{"gemini-2.5-flash-image", "gemini-2.0-flash-preview-image-generation"}
)

// loads configuration from environment variables
func LoadEnvironmentVariables() (*Config, error) {
	cfg, err := LoadQuotaConfig()
	if err != nil {
		return nil, err
	}

	cfg.GeneratorProvider = strings.ToLower(stringEnv("GENERATOR_PROVIDER", "gemini"))
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")

	switch cfg.GeneratorProvider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
		}
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is required")
		}
	default:
		return nil, fmt.Errorf("unsupported GENERATOR_PROVIDER: %s", cfg.GeneratorProvider)
	}

	deadline, err := durationEnv("GENERATION_DEADLINE", defaultGenerationDeadline)
	if err != nil {
		return nil, err
	}

	searchTimeout, err := durationEnv("IMAGE_SEARCH_TIMEOUT", defaultImageSearchTimeout)
	if err != nil {
		return nil, err
	}

	cfg.TextModels = listEnv("TEXT_MODELS", defaultTextModels)
	cfg.ImageModels = listEnv("IMAGE_MODELS", defaultImageModels)
	cfg.Port = stringEnv("PORT", defaultPort)
	cfg.GenerationDeadline = deadline
	cfg.RateLimit = stringEnv("RATE_LIMIT", defaultRateLimit)
	cfg.AllowedOrigins = listEnv("ALLOWED_ORIGINS", nil)
	cfg.ImageProxyHosts = listEnv("IMAGE_PROXY_HOSTS", nil)
	cfg.OpenverseToken = os.Getenv("OPENVERSE_TOKEN")
	cfg.ImageSearchTimeout = searchTimeout

	return cfg, nil
}

// loads only what the usage store needs; no provider keys are required
func LoadQuotaConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		_ = err // not an error - production environments may not have .env file
	}

	generationLimit, err := intEnv("DAILY_GENERATION_LIMIT", defaultGenerationLimit)
	if err != nil {
		return nil, err
	}

	imageLimit, err := intEnv("DAILY_IMAGE_LIMIT", defaultImageLimit)
	if err != nil {
		return nil, err
	}

	searchTimeout, err := durationEnv("IMAGE_SEARCH_TIMEOUT", defaultImageSearchTimeout)
	if err != nil {
		return nil, err
	}

	return &Config{
		RedisURL:           os.Getenv("REDIS_URL"),
		Environment:        stringEnv("ENVIRONMENT", "development"),
		GenerationLimit:    generationLimit,
		ImageLimit:         imageLimit,
		OpenverseToken:     os.Getenv("OPENVERSE_TOKEN"),
		ImageSearchTimeout: searchTimeout,
	}, nil
}

func stringEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}

	return def
}

func intEnv(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}

	return n, nil
}

// parses a comma-separated list, dropping blanks
func listEnv(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	if len(out) == 0 {
		return def
	}

	return out
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}

	return d, nil
}
