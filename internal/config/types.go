package config

import "time"

type Config struct {
	GeminiAPIKey       string
	AnthropicAPIKey    string
	GeneratorProvider  string   // "gemini" or "anthropic"
	TextModels         []string // primary first, then fallbacks
	ImageModels        []string
	RedisURL           string // empty: in-process memory store
	Environment        string
	Port               string
	GenerationLimit    int
	ImageLimit         int
	GenerationDeadline time.Duration
	RateLimit          string // ulule format, e.g. "60-M"
	AllowedOrigins     []string
	ImageProxyHosts    []string
	OpenverseToken     string
	ImageSearchTimeout time.Duration
}

// flags for the quotactl subcommands
type Flags struct {
	ClientID string
	Query    string
	Language string
	JSON     bool
}
