// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Browser   BrowserConfig
	Display   DisplayConfig
	Search    SearchConfig
	LLM       LLMConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	// AllowOrigins restricts CORS; "*" admits any origin (development only).
	AllowOrigins []string `envconfig:"CORS_ALLOW_ORIGINS" default:"*"`
}

// AuthConfig holds API authentication configuration.
type AuthConfig struct {
	// Token gates every /api route; empty disables auth (local development only).
	Token string `envconfig:"API_TOKEN"`
}

// BrowserConfig holds browser engine and session lifecycle configuration.
type BrowserConfig struct {
	// StorageDir is where per-session storage-state files are written.
	StorageDir    string        `envconfig:"BROWSER_STORAGE_DIR" default:"/tmp/browserd/sessions"`
	Headless      bool          `envconfig:"BROWSER_HEADLESS" default:"true"`
	IdleTimeout   time.Duration `envconfig:"BROWSER_IDLE_TIMEOUT" default:"30m"`
	SweepInterval time.Duration `envconfig:"BROWSER_SWEEP_INTERVAL" default:"5m"`
	// MaxSessions caps concurrent sessions; 0 means unlimited.
	MaxSessions int `envconfig:"BROWSER_MAX_SESSIONS" default:"0"`
	// Humanize enables randomized delays and input jitter around actions.
	Humanize bool `envconfig:"BROWSER_HUMANIZE" default:"true"`
}

// DisplayConfig holds remote display bridge configuration.
type DisplayConfig struct {
	Enabled  bool   `envconfig:"DISPLAY_BRIDGE_ENABLED" default:"false"`
	Number   int    `envconfig:"DISPLAY_NUMBER" default:"99"`
	Geometry string `envconfig:"DISPLAY_GEOMETRY" default:"1920x1080"`
	VNCPort  int    `envconfig:"VNC_PORT" default:"5900"`
	WSPort   int    `envconfig:"NOVNC_PORT" default:"6080"`
	// Password protects the VNC layer; generated at startup when empty.
	Password string `envconfig:"VNC_PASSWORD"`
	// PublicHost is the host viewers use to reach the websocket proxy.
	PublicHost string `envconfig:"DISPLAY_PUBLIC_HOST" default:"localhost"`
}

// SearchConfig holds the outbound search/scrape layer configuration.
type SearchConfig struct {
	CacheTTL      time.Duration `envconfig:"SEARCH_CACHE_TTL" default:"5m"`
	RedisAddr     string        `envconfig:"SEARCH_REDIS_ADDR"`
	AggregatorURL string        `envconfig:"SEARCH_AGGREGATOR_URL" default:"https://remotive.com"`
	StructuredKey string        `envconfig:"SEARCH_API_KEY"`
	StructuredURL string        `envconfig:"SEARCH_API_URL" default:"https://api.theirstack.com"`
	BoardURL      string        `envconfig:"SEARCH_BOARD_URL" default:"https://www.indeed.com"`
}

// LLMConfig holds the completion API configuration used by the orchestrator.
type LLMConfig struct {
	BaseURL string `envconfig:"LLM_BASE_URL" default:"https://api.openai.com"`
	APIKey  string `envconfig:"LLM_API_KEY"`
	Model   string `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			Host:         "0.0.0.0",
			AllowOrigins: []string{"*"},
		},
		Browser: BrowserConfig{
			StorageDir:    "/tmp/browserd/sessions",
			Headless:      true,
			IdleTimeout:   30 * time.Minute,
			SweepInterval: 5 * time.Minute,
			Humanize:      true,
		},
		Display: DisplayConfig{
			Enabled:    false,
			Number:     99,
			Geometry:   "1920x1080",
			VNCPort:    5900,
			WSPort:     6080,
			PublicHost: "localhost",
		},
		Search: SearchConfig{
			CacheTTL:      5 * time.Minute,
			AggregatorURL: "https://remotive.com",
			StructuredURL: "https://api.theirstack.com",
			BoardURL:      "https://www.indeed.com",
		},
		LLM: LLMConfig{
			BaseURL: "https://api.openai.com",
			Model:   "gpt-4o-mini",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
}
