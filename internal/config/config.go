// Package config provides configuration loading for regwatchd.
//
// Configuration is loaded from defaults, then an optional YAML file, then
// environment variables, with environment taking precedence.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig indicates configuration that fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete regwatchd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Database   DatabaseConfig   `koanf:"database"`
	Bus        BusConfig        `koanf:"bus"`
	VectorDB   VectorDBConfig   `koanf:"vectordb"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	LLM        LLMConfig        `koanf:"llm"`
	Extractor  ExtractorConfig  `koanf:"extractor"`
	Webhook    WebhookConfig    `koanf:"webhook"`
	Watch      WatchConfig      `koanf:"watch"`
	Anomaly    AnomalyConfig    `koanf:"anomaly"`
	Chunking   ChunkingConfig   `koanf:"chunking"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, console
}

// DatabaseConfig holds the relational store configuration.
type DatabaseConfig struct {
	Provider string `koanf:"provider"` // postgres, memory
	URL      string `koanf:"url"`
	MaxConns int    `koanf:"max_conns"`
}

// BusConfig holds NATS connection configuration.
type BusConfig struct {
	URL           string        `koanf:"url"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
}

// VectorDBConfig holds Qdrant configuration.
type VectorDBConfig struct {
	URL                 string `koanf:"url"`
	DocumentsCollection string `koanf:"documents_collection"`
	PoliciesCollection  string `koanf:"policies_collection"`
}

// EmbeddingsConfig holds the embedding provider configuration.
// The endpoint must be OpenAI-compatible (OpenAI or TEI).
type EmbeddingsConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  string `koanf:"api_key"`
}

// LLMConfig holds chat completion configuration.
type LLMConfig struct {
	BaseURL     string        `koanf:"base_url"`
	Model       string        `koanf:"model"`
	APIKey      string        `koanf:"api_key"`
	Temperature float64       `koanf:"temperature"`
	MaxTokens   int           `koanf:"max_tokens"`
	Timeout     time.Duration `koanf:"timeout"`
}

// ExtractorConfig holds the document text extraction service configuration.
type ExtractorConfig struct {
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
}

// WebhookConfig holds alert webhook delivery configuration. An empty URL
// disables delivery.
type WebhookConfig struct {
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
}

// WatchConfig holds the discovery loop configuration.
type WatchConfig struct {
	FeedURL        string        `koanf:"feed_url"`
	ScrapeURL      string        `koanf:"scrape_url"`
	Interval       time.Duration `koanf:"interval"`
	ErrorBackoff   time.Duration `koanf:"error_backoff"`
	MaxPerCheck    int           `koanf:"max_per_check"`
	RequestsPerMin int           `koanf:"requests_per_min"`
	DailyRecalc    string        `koanf:"daily_recalc"` // cron spec for the scheduled score recompute
}

// AnomalyConfig holds the transaction anomaly generator configuration.
type AnomalyConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Interval    time.Duration `koanf:"interval"`
	Probability float64       `koanf:"probability"`
}

// ChunkingConfig holds document chunking parameters.
type ChunkingConfig struct {
	Window      int `koanf:"window"`
	Overlap     int `koanf:"overlap"`
	SnapBackoff int `koanf:"snap_backoff"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			Provider: "postgres",
			URL:      "postgres://localhost:5432/regwatchd?sslmode=disable",
			MaxConns: 10,
		},
		Bus: BusConfig{
			URL:           "nats://localhost:4222",
			MaxReconnects: 5,
			ReconnectWait: time.Second,
		},
		VectorDB: VectorDBConfig{
			URL:                 "http://localhost:6333",
			DocumentsCollection: "regulatory_documents",
			PoliciesCollection:  "company_policies",
		},
		Embeddings: EmbeddingsConfig{
			BaseURL: "http://localhost:8081/v1",
			Model:   "BAAI/bge-small-en-v1.5",
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o",
			Temperature: 0.3,
			MaxTokens:   1000,
			Timeout:     30 * time.Second,
		},
		Extractor: ExtractorConfig{
			URL:     "http://localhost:8082/extract",
			Timeout: 30 * time.Second,
		},
		Webhook: WebhookConfig{
			Timeout: 10 * time.Second,
		},
		Watch: WatchConfig{
			Interval:       30 * time.Minute,
			ErrorBackoff:   time.Minute,
			MaxPerCheck:    5,
			RequestsPerMin: 30,
			DailyRecalc:    "0 6 * * *",
		},
		Anomaly: AnomalyConfig{
			Enabled:     true,
			Interval:    5 * time.Minute,
			Probability: 0.2,
		},
		Chunking: ChunkingConfig{
			Window:      1000,
			Overlap:     200,
			SnapBackoff: 100,
		},
	}
}

// Validate checks the configuration for internally consistent values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	switch c.Database.Provider {
	case "postgres", "memory":
	default:
		return fmt.Errorf("%w: unsupported database provider %q", ErrInvalidConfig, c.Database.Provider)
	}
	if c.Watch.Interval <= 0 {
		return fmt.Errorf("%w: watch interval must be positive", ErrInvalidConfig)
	}
	if c.Watch.ErrorBackoff <= 0 {
		return fmt.Errorf("%w: watch error backoff must be positive", ErrInvalidConfig)
	}
	if c.Anomaly.Probability < 0 || c.Anomaly.Probability > 1 {
		return fmt.Errorf("%w: anomaly probability must be in [0,1]", ErrInvalidConfig)
	}
	if c.Chunking.Window <= 0 {
		return fmt.Errorf("%w: chunk window must be positive", ErrInvalidConfig)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Window {
		return fmt.Errorf("%w: chunk overlap must be smaller than the window", ErrInvalidConfig)
	}
	if c.Chunking.SnapBackoff < 0 || c.Chunking.SnapBackoff > c.Chunking.Window {
		return fmt.Errorf("%w: chunk snap backoff must fit inside the window", ErrInvalidConfig)
	}
	return nil
}
