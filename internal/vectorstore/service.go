// Package vectorstore stores and searches embedded text chunks in Qdrant
// via langchaingo. Regulatory document chunks and company policies live in
// separate collections so the advisor can search either corpus.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	"github.com/tmc/langchaingo/vectorstores/qdrant"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid vectorstore configuration")

	// ErrEmptyChunks indicates an empty or nil chunk batch.
	ErrEmptyChunks = errors.New("empty or nil chunks")
)

// Chunk is one embeddable unit of text with provenance metadata.
type Chunk struct {
	ID       string
	Content  string
	Metadata map[string]any
}

// SearchResult is one similarity match.
type SearchResult struct {
	ID       string
	Content  string
	Metadata map[string]any
	Score    float32
}

// Service wraps one Qdrant collection.
type Service struct {
	store      vectorstores.VectorStore
	collection string
}

// NewService connects to the Qdrant server and binds the named collection.
// The embedder generates vectors on write and on query.
func NewService(serverURL, collection string, embedder lcembeddings.Embedder) (*Service, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("%w: server URL required", ErrInvalidConfig)
	}
	if collection == "" {
		return nil, fmt.Errorf("%w: collection name required", ErrInvalidConfig)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder required", ErrInvalidConfig)
	}

	qdrantURL, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parsing Qdrant URL: %w", err)
	}

	store, err := qdrant.New(
		qdrant.WithURL(*qdrantURL),
		qdrant.WithCollectionName(collection),
		qdrant.WithEmbedder(embedder),
	)
	if err != nil {
		return nil, fmt.Errorf("creating Qdrant store: %w", err)
	}

	return &Service{store: store, collection: collection}, nil
}

// Collection returns the bound collection name.
func (s *Service) Collection() string { return s.collection }

// AddChunks embeds and stores a batch of chunks. The chunk ID is carried in
// metadata so search results can be traced back to their source.
func (s *Service) AddChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("%w: chunks cannot be empty", ErrEmptyChunks)
	}

	docs := make([]schema.Document, len(chunks))
	for i, c := range chunks {
		meta := c.Metadata
		if meta == nil {
			meta = make(map[string]any)
		}
		meta["id"] = c.ID
		docs[i] = schema.Document{PageContent: c.Content, Metadata: meta}
	}

	if _, err := s.store.AddDocuments(ctx, docs); err != nil {
		return fmt.Errorf("adding chunks to %s: %w", s.collection, err)
	}
	return nil
}

// Search returns up to k chunks similar to the query, highest score first.
func (s *Service) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	if query == "" {
		return nil, errors.New("query cannot be empty")
	}
	if k <= 0 {
		return nil, errors.New("k must be positive")
	}

	docs, err := s.store.SimilaritySearch(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("similarity search in %s: %w", s.collection, err)
	}

	results := make([]SearchResult, len(docs))
	for i, doc := range docs {
		r := SearchResult{
			Content:  doc.PageContent,
			Metadata: doc.Metadata,
			Score:    doc.Score,
		}
		if id, ok := doc.Metadata["id"].(string); ok {
			r.ID = id
		}
		results[i] = r
	}
	return results, nil
}
