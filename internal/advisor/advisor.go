// Package advisor answers compliance questions with retrieval-augmented
// generation over the indexed circulars and company policies.
package advisor

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/regwatchd/internal/vectorstore"
)

// Retrieval depth per corpus.
const (
	circularTopK = 5
	policyTopK   = 3
	maxContexts  = 5
)

// Searcher is the similarity-search capability the advisor consumes.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]vectorstore.SearchResult, error)
}

// Completer generates the final answer text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Source identifies one retrieved context document.
type Source struct {
	Type  string `json:"type"` // circular or policy
	Title string `json:"title"`
	Date  string `json:"date,omitempty"`
}

// Response is one answered query.
type Response struct {
	Answer          string   `json:"answer"`
	Sources         []Source `json:"sources"`
	Confidence      int      `json:"confidence"`
	ChunksRetrieved int      `json:"chunks_retrieved"`
}

// Advisor runs the retrieve-then-generate loop.
type Advisor struct {
	circulars Searcher
	policies  Searcher
	completer Completer
	logger    *zap.Logger
}

// New wires an Advisor over the two corpora.
func New(circulars, policies Searcher, completer Completer, logger *zap.Logger) *Advisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Advisor{
		circulars: circulars,
		policies:  policies,
		completer: completer,
		logger:    logger.Named("advisor"),
	}
}

const answerPrompt = `You are a fintech compliance expert assistant.
Answer user questions based ONLY on the provided context from regulatory circulars and company policies.
If the context does not contain enough information, say so clearly.
Be precise, cite specific sections, and provide actionable insights.

**Context:**
%s

**User Question:**
%s

**Answer:**`

// Answer responds to one query. Retrieval or completion failures degrade
// to a zero-confidence apology rather than an error, so the chat surface
// stays responsive while collaborators are down.
func (a *Advisor) Answer(ctx context.Context, query string) *Response {
	if strings.TrimSpace(query) == "" {
		return degraded()
	}

	circularHits, err := a.circulars.Search(ctx, query, circularTopK)
	if err != nil {
		a.logger.Warn("circular retrieval failed", zap.Error(err))
	}
	policyHits, err := a.policies.Search(ctx, query, policyTopK)
	if err != nil {
		a.logger.Warn("policy retrieval failed", zap.Error(err))
	}

	contexts, sources := buildContext(circularHits, policyHits)
	retrieved := len(circularHits) + len(policyHits)
	if retrieved == 0 {
		a.logger.Warn("no context retrieved for query")
		return degraded()
	}

	answer, err := a.completer.Complete(ctx, fmt.Sprintf(answerPrompt, contexts, query))
	if err != nil {
		a.logger.Error("answer generation failed", zap.Error(err))
		return degraded()
	}

	resp := &Response{
		Answer:          answer,
		Sources:         sources,
		Confidence:      confidence(circularHits, policyHits),
		ChunksRetrieved: retrieved,
	}
	a.logger.Info("query answered",
		zap.Int("confidence", resp.Confidence), zap.Int("chunks", retrieved))
	return resp
}

func degraded() *Response {
	return &Response{
		Answer:     "I encountered an error processing your query. Please try again.",
		Sources:    []Source{},
		Confidence: 0,
	}
}

// buildContext assembles the prompt context and the source list, capped at
// maxContexts entries.
func buildContext(circulars, policies []vectorstore.SearchResult) (string, []Source) {
	var parts []string
	var sources []Source

	for _, hit := range circulars {
		title := metaString(hit.Metadata, "title")
		parts = append(parts, fmt.Sprintf("[Regulatory Circular: %s]\n%s", title, hit.Content))
		sources = append(sources, Source{
			Type:  "circular",
			Title: title,
			Date:  metaString(hit.Metadata, "date"),
		})
	}
	for _, hit := range policies {
		name := metaString(hit.Metadata, "policy_name")
		parts = append(parts, fmt.Sprintf("[Company Policy: %s]\n%s", name, hit.Content))
		sources = append(sources, Source{Type: "policy", Title: name})
	}

	if len(parts) > maxContexts {
		parts = parts[:maxContexts]
	}
	if len(sources) > maxContexts {
		sources = sources[:maxContexts]
	}
	return strings.Join(parts, "\n\n---\n\n"), sources
}

// confidence maps the mean similarity score of all hits onto 0..100.
func confidence(circulars, policies []vectorstore.SearchResult) int {
	total := len(circulars) + len(policies)
	if total == 0 {
		return 0
	}
	var sum float64
	for _, hit := range circulars {
		sum += float64(hit.Score)
	}
	for _, hit := range policies {
		sum += float64(hit.Score)
	}
	c := int(sum / float64(total) * 100)
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

func metaString(meta map[string]any, key string) string {
	if v, ok := meta[key].(string); ok && v != "" {
		return v
	}
	return "Unknown"
}
