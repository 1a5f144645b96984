// Package embeddings generates vector embeddings for document and policy
// text via langchaingo. Any OpenAI-compatible endpoint works, including
// local TEI servers.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/regwatchd/internal/config"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")
)

// Service generates embeddings through a langchaingo embedder.
type Service struct {
	embedder *lcembeddings.EmbedderImpl
	model    string
}

// NewService validates the configuration and builds the embedder client.
func NewService(cfg config.EmbeddingsConfig) (*Service, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrInvalidConfig)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		// langchaingo requires a token, TEI ignores it
		apiKey = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embeddings client: %w", err)
	}

	embedder, err := lcembeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &Service{embedder: embedder, model: cfg.Model}, nil
}

// Embedder exposes the underlying langchaingo embedder for components that
// consume the interface directly, such as the vector store.
func (s *Service) Embedder() lcembeddings.Embedder {
	return s.embedder
}

// Embed returns one vector per input text. Returns ErrEmptyInput when texts
// is empty.
func (s *Service) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding documents: %w", err)
	}
	return vectors, nil
}
