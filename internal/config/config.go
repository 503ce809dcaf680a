package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all the application's configuration parameters
type Config struct {
	EverythingURL                string `json:"everything_url" yaml:"everything_url"`
	HeadlinesURL                 string `json:"headlines_url" yaml:"headlines_url"`
	MaxPageSize                  int    `json:"max_page_size" yaml:"max_page_size"`
	DefaultFetchCount            int    `json:"default_fetch_count" yaml:"default_fetch_count"`
	PageDelaySeconds             int    `json:"page_delay_seconds" yaml:"page_delay_seconds"`
	DefaultRateLimitDelaySeconds int    `json:"default_rate_limit_delay_seconds" yaml:"default_rate_limit_delay_seconds"`
	TimeoutSeconds               int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries                   int    `json:"max_retries" yaml:"max_retries"`
	RetryInitialDelayMs          int    `json:"retry_initial_delay_ms" yaml:"retry_initial_delay_ms"`
	RetryMaxDelayMs              int    `json:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`
	DataDir                      string `json:"data_dir" yaml:"data_dir"`
	Language                     string `json:"language" yaml:"language"`
	LogLevel                     string `json:"log_level" yaml:"log_level"`
	KafkaEnabled                 bool   `json:"kafka_enabled" yaml:"kafka_enabled"`
	KafkaBroker                  string `json:"kafka_broker" yaml:"kafka_broker"`
	KafkaTopic                   string `json:"kafka_topic" yaml:"kafka_topic"`
	RunLogPath                   string `json:"run_log_path" yaml:"run_log_path"`
	RedisAddr                    string `json:"redis_addr" yaml:"redis_addr"`
	LockTTLSeconds               int    `json:"lock_ttl_seconds" yaml:"lock_ttl_seconds"`
	LockWaitSeconds              int    `json:"lock_wait_seconds" yaml:"lock_wait_seconds"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		EverythingURL:                "https://newsapi.org/v2/everything",
		HeadlinesURL:                 "https://newsapi.org/v2/top-headlines",
		MaxPageSize:                  100,
		DefaultFetchCount:            100,
		PageDelaySeconds:             10,
		DefaultRateLimitDelaySeconds: 60,
		TimeoutSeconds:               30,
		MaxRetries:                   3,
		RetryInitialDelayMs:          1000,
		RetryMaxDelayMs:              30000,
		DataDir:                      "data",
		Language:                     "en",
		LogLevel:                     "info",
		KafkaEnabled:                 false,
		KafkaBroker:                  "localhost:9092",
		KafkaTopic:                   "news_store_updates",
		RunLogPath:                   "",
		RedisAddr:                    "",
		LockTTLSeconds:               60,
		LockWaitSeconds:              30,
	}
}

// LoadConfig reads the configuration from a JSON or YAML file.
// Files ending in .yaml or .yml are decoded as YAML, everything else as JSON.
func LoadConfig(filePath string) (*Config, error) {
	if filePath == "" {
		return nil, fmt.Errorf("config file path cannot be empty")
	}

	bytes, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", filePath, err)
	}

	// Start with default config and override with file values
	cfg := DefaultConfig()
	if isYAML(filePath) {
		if err := yaml.Unmarshal(bytes, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config YAML from '%s': %w", filePath, err)
		}
	} else {
		if err := json.Unmarshal(bytes, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config JSON from '%s': %w", filePath, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in '%s': %w", filePath, err)
	}

	return cfg, nil
}

// LoadConfigFromEnv loads configuration from environment variables with fallback to defaults
func LoadConfigFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overrides fields from NEWS_* and KAFKA_* environment variables.
// Unparseable numbers keep the current value.
func (c *Config) ApplyEnv() {
	if val := os.Getenv("NEWS_EVERYTHING_URL"); val != "" {
		c.EverythingURL = val
	}

	if val := os.Getenv("NEWS_HEADLINES_URL"); val != "" {
		c.HeadlinesURL = val
	}

	if val := os.Getenv("NEWS_MAX_PAGE_SIZE"); val != "" {
		if parsed, err := parseIntFromEnv(val); err == nil && parsed > 0 && parsed <= 100 {
			c.MaxPageSize = parsed
		}
	}

	if val := os.Getenv("NEWS_DEFAULT_FETCH_COUNT"); val != "" {
		if parsed, err := parseIntFromEnv(val); err == nil && parsed > 0 {
			c.DefaultFetchCount = parsed
		}
	}

	if val := os.Getenv("NEWS_PAGE_DELAY"); val != "" {
		if parsed, err := parseIntFromEnv(val); err == nil && parsed >= 0 {
			c.PageDelaySeconds = parsed
		}
	}

	if val := os.Getenv("NEWS_RATE_LIMIT_DELAY"); val != "" {
		if parsed, err := parseIntFromEnv(val); err == nil && parsed > 0 {
			c.DefaultRateLimitDelaySeconds = parsed
		}
	}

	if val := os.Getenv("NEWS_TIMEOUT"); val != "" {
		if parsed, err := parseIntFromEnv(val); err == nil && parsed > 0 {
			c.TimeoutSeconds = parsed
		}
	}

	if val := os.Getenv("NEWS_MAX_RETRIES"); val != "" {
		if parsed, err := parseIntFromEnv(val); err == nil && parsed >= 0 {
			c.MaxRetries = parsed
		}
	}

	if val := os.Getenv("NEWS_DATA_DIR"); val != "" {
		c.DataDir = val
	}

	if val := os.Getenv("NEWS_LANGUAGE"); val != "" {
		c.Language = val
	}

	if val := os.Getenv("NEWS_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}

	if val := os.Getenv("NEWS_RUN_LOG"); val != "" {
		c.RunLogPath = val
	}

	if val := os.Getenv("REDIS_ADDR"); val != "" {
		c.RedisAddr = val
	}

	if val := os.Getenv("NEWS_LOCK_TTL"); val != "" {
		if parsed, err := parseIntFromEnv(val); err == nil && parsed > 0 {
			c.LockTTLSeconds = parsed
		}
	}

	if val := os.Getenv("NEWS_LOCK_WAIT"); val != "" {
		if parsed, err := parseIntFromEnv(val); err == nil && parsed >= 0 {
			c.LockWaitSeconds = parsed
		}
	}

	if val := os.Getenv("KAFKA_ENABLED"); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			c.KafkaEnabled = parsed
		}
	}

	if val := os.Getenv("KAFKA_BROKER"); val != "" {
		c.KafkaBroker = val
	}

	if val := os.Getenv("KAFKA_TOPIC"); val != "" {
		c.KafkaTopic = val
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.EverythingURL == "" {
		return fmt.Errorf("everything_url cannot be empty")
	}

	if c.HeadlinesURL == "" {
		return fmt.Errorf("headlines_url cannot be empty")
	}

	if c.MaxPageSize <= 0 || c.MaxPageSize > 100 {
		return fmt.Errorf("max_page_size must be between 1 and 100, got %d", c.MaxPageSize)
	}

	if c.DefaultFetchCount <= 0 {
		return fmt.Errorf("default_fetch_count must be positive, got %d", c.DefaultFetchCount)
	}

	if c.PageDelaySeconds < 0 {
		return fmt.Errorf("page_delay_seconds cannot be negative, got %d", c.PageDelaySeconds)
	}

	if c.DefaultRateLimitDelaySeconds < 0 {
		return fmt.Errorf("default_rate_limit_delay_seconds cannot be negative, got %d", c.DefaultRateLimitDelaySeconds)
	}

	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive, got %d", c.TimeoutSeconds)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", c.MaxRetries)
	}

	if c.RetryInitialDelayMs < 0 {
		return fmt.Errorf("retry_initial_delay_ms cannot be negative, got %d", c.RetryInitialDelayMs)
	}

	if c.RetryMaxDelayMs < c.RetryInitialDelayMs {
		return fmt.Errorf("retry_max_delay_ms (%d) cannot be less than retry_initial_delay_ms (%d)", c.RetryMaxDelayMs, c.RetryInitialDelayMs)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}

	if len(c.Language) != 2 {
		return fmt.Errorf("language must be a 2-letter code, got '%s'", c.Language)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of: debug, info, warn, error, got '%s'", c.LogLevel)
	}

	if c.KafkaEnabled {
		if c.KafkaBroker == "" {
			return fmt.Errorf("kafka_broker cannot be empty when kafka is enabled")
		}
		if c.KafkaTopic == "" {
			return fmt.Errorf("kafka_topic cannot be empty when kafka is enabled")
		}
	}

	if c.RedisAddr != "" {
		if c.LockTTLSeconds <= 0 {
			return fmt.Errorf("lock_ttl_seconds must be positive when redis_addr is set, got %d", c.LockTTLSeconds)
		}
		if c.LockWaitSeconds < 0 {
			return fmt.Errorf("lock_wait_seconds cannot be negative, got %d", c.LockWaitSeconds)
		}
	}

	return nil
}

// SaveConfig saves the configuration to a JSON or YAML file, chosen by extension
func (c *Config) SaveConfig(filePath string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("cannot save invalid config: %w", err)
	}

	var (
		bytes []byte
		err   error
	)
	if isYAML(filePath) {
		bytes, err = yaml.Marshal(c)
	} else {
		bytes, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filePath, bytes, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", filePath, err)
	}

	return nil
}

func isYAML(filePath string) bool {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// parseIntFromEnv is a helper function to parse integers from environment variables
func parseIntFromEnv(value string) (int, error) {
	if value == "" {
		return 0, fmt.Errorf("empty value")
	}

	// Rejects floats like "42.5" and other invalid formats
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer format: %w", err)
	}

	return result, nil
}
