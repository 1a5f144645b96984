// Package llm wraps chat completion for impact analysis and advisor
// answers. The endpoint must be OpenAI-compatible.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/regwatchd/internal/config"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid llm configuration")

	// ErrEmptyPrompt indicates an empty prompt.
	ErrEmptyPrompt = errors.New("empty prompt")
)

// Client performs chat completions with bounded latency.
type Client struct {
	model       llms.Model
	temperature float64
	maxTokens   int
	timeout     time.Duration
	logger      *zap.Logger
}

// NewClient validates the configuration and builds the completion client.
func NewClient(cfg config.LLMConfig, logger *zap.Logger) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []openai.Option{
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "placeholder"
	}
	opts = append(opts, openai.WithToken(apiKey))

	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating completion client: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
		logger:      logger,
	}, nil
}

// Complete runs one prompt through the model and returns the raw text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", ErrEmptyPrompt
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	out, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt,
		llms.WithTemperature(c.temperature),
		llms.WithMaxTokens(c.maxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("generating completion: %w", err)
	}

	c.logger.Debug("completion generated",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("prompt_len", len(prompt)),
		zap.Int("response_len", len(out)))
	return out, nil
}
