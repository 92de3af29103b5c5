package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Log configuration
	Log LogConfig `mapstructure:"log"`

	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Store configuration
	Store StoreConfig `mapstructure:"store"`

	// LLM extraction configuration
	LLM LLMConfig `mapstructure:"llm"`

	// Extraction cache configuration
	Cache CacheConfig `mapstructure:"cache"`

	// Telemetry configuration
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test

	// ProcessTimeoutSeconds bounds a single content-processing request.
	ProcessTimeoutSeconds int `mapstructure:"process_timeout_seconds"`
}

// StoreConfig holds knowledge graph store configuration
type StoreConfig struct {
	// Path is the SQLite database file.
	Path string `mapstructure:"path"`
	// MigrationsDir holds the *.sql schema migrations.
	MigrationsDir string `mapstructure:"migrations_dir"`
	// Backup controls the pre-migration file snapshot.
	Backup bool `mapstructure:"backup"`
}

// LLMConfig holds extraction backend configuration
type LLMConfig struct {
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	// Fallback enables heuristic extraction when the LLM fails or no API key
	// is configured.
	Fallback bool `mapstructure:"fallback"`
}

// CacheConfig holds extraction cache configuration
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	// TTLHours is how long cached extractions stay valid.
	TTLHours int `mapstructure:"ttl_hours"`
}

// TelemetryConfig holds error telemetry configuration
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	setDefaults()

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	overrideWithEnv(config)

	return config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	// Server defaults
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("server.process_timeout_seconds", 120)

	// Store defaults
	viper.SetDefault("store.path", "data/knowledge.db")
	viper.SetDefault("store.migrations_dir", "migrations")
	viper.SetDefault("store.backup", true)

	// LLM defaults
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.1)
	viper.SetDefault("llm.max_tokens", 2048)
	viper.SetDefault("llm.fallback", true)

	// Cache defaults
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.path", "data/extraction-cache")
	viper.SetDefault("cache.ttl_hours", 168)

	// Telemetry defaults
	viper.SetDefault("telemetry.enabled", true)
}

// overrideWithEnv overrides config with environment variables
func overrideWithEnv(config *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}

	if path := os.Getenv("STORE_PATH"); path != "" {
		config.Store.Path = path
	}
	if dir := os.Getenv("MIGRATIONS_DIR"); dir != "" {
		config.Store.MigrationsDir = dir
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
}
