package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration
// Includes AI analysis, note service and pipeline configuration
// Supports environment variables with sensible defaults
//
// Environment Variables:
// AI Configuration:
// - AI_API_KEY: API key for the metadata service (required)
// - AI_API_URL: API endpoint URL (default: https://api.openrouter.ai)
// - AI_MODEL: Model name to use (default: openai/gpt-4o-mini)
// - AI_TIMEOUT: Request timeout in seconds (default: 30)
// - AI_CACHE_TTL_HOURS: Analysis cache lifetime in hours (default: 24)
//
// Note Service Configuration:
// - NOTE_API_URL: Note service base URL (required)
// - NOTE_API_TOKEN: Note service access token (required)
// - NOTE_TIMEOUT: Request timeout in seconds (default: 30)
//
// Pipeline Configuration:
// - WATCH_DIR: Directory scanned for new documents (default: /documents)
// - DB_PATH: SQLite database path (default: /data/notepress.db)
// - MAX_CONCURRENT: Parallel extract+analyze jobs (default: 3)
// - MAX_RETRIES: Upload attempts before terminal failure (default: 3)
// - SCAN_CRON: Rescan schedule (default: every 5 minutes)
//
// HTTP Configuration:
// - HTTP_ADDR: Listen address for the API (default: :8080)
//
// System Configuration:
// - LOG_LEVEL: Minimum log level: debug, info, warn, error (default: info)

type Config struct {
	// AI Configuration
	AI AIConfig `json:"ai"`

	// Note Service Configuration
	Notes NotesConfig `json:"notes"`

	// Pipeline Configuration
	Pipeline PipelineConfig `json:"pipeline"`

	// HTTP Configuration
	HTTP HTTPConfig `json:"http"`

	// System Configuration
	LogLevel string `json:"log_level"`
}

// AIConfig holds the configuration for the AI metadata client
type AIConfig struct {
	APIKey        string `json:"api_key"`
	APIURL        string `json:"api_url"`
	Model         string `json:"model"`
	Timeout       int    `json:"timeout"`
	CacheTTLHours int    `json:"cache_ttl_hours"`
}

// NotesConfig holds the configuration for the note service client
type NotesConfig struct {
	APIURL  string `json:"api_url"`
	Token   string `json:"-"`
	Timeout int    `json:"timeout"`
}

// PipelineConfig holds the configuration for the processing pipeline
type PipelineConfig struct {
	WatchDir      string `json:"watch_dir"`
	DBPath        string `json:"db_path"`
	MaxConcurrent int    `json:"max_concurrent"`
	MaxRetries    int    `json:"max_retries"`
	ScanCron      string `json:"scan_cron"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		AI: AIConfig{
			APIKey:        getEnvString("AI_API_KEY", ""),
			APIURL:        getEnvString("AI_API_URL", "https://api.openrouter.ai"),
			Model:         getEnvString("AI_MODEL", "openai/gpt-4o-mini"),
			Timeout:       getEnvInt("AI_TIMEOUT", 30),
			CacheTTLHours: getEnvInt("AI_CACHE_TTL_HOURS", 24),
		},
		Notes: NotesConfig{
			APIURL:  getEnvString("NOTE_API_URL", ""),
			Token:   getEnvString("NOTE_API_TOKEN", ""),
			Timeout: getEnvInt("NOTE_TIMEOUT", 30),
		},
		Pipeline: PipelineConfig{
			WatchDir:      getEnvString("WATCH_DIR", "/documents"),
			DBPath:        getEnvString("DB_PATH", "/data/notepress.db"),
			MaxConcurrent: getEnvInt("MAX_CONCURRENT", 3),
			MaxRetries:    getEnvInt("MAX_RETRIES", 3),
			ScanCron:      getEnvString("SCAN_CRON", "@every 5m"),
		},
		HTTP: HTTPConfig{
			Addr: getEnvString("HTTP_ADDR", ":8080"),
		},
		LogLevel: getEnvString("LOG_LEVEL", "info"),
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.AI.APIKey == "" {
		return fmt.Errorf("AI_API_KEY is required")
	}
	if c.Notes.APIURL == "" {
		return fmt.Errorf("NOTE_API_URL is required")
	}
	if c.Notes.Token == "" {
		return fmt.Errorf("NOTE_API_TOKEN is required")
	}
	if c.Pipeline.MaxConcurrent <= 0 {
		return fmt.Errorf("MAX_CONCURRENT must be positive")
	}
	if c.Pipeline.MaxRetries <= 0 {
		return fmt.Errorf("MAX_RETRIES must be positive")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
