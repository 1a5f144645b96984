package advisor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/regwatchd/internal/vectorstore"
)

type mockSearcher struct {
	results []vectorstore.SearchResult
	err     error
}

func (m *mockSearcher) Search(ctx context.Context, query string, k int) ([]vectorstore.SearchResult, error) {
	return m.results, m.err
}

type mockCompleter struct {
	completeFunc func(ctx context.Context, prompt string) (string, error)
	lastPrompt   string
}

func (m *mockCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	m.lastPrompt = prompt
	return m.completeFunc(ctx, prompt)
}

func hit(content string, score float32, meta map[string]any) vectorstore.SearchResult {
	return vectorstore.SearchResult{Content: content, Score: score, Metadata: meta}
}

func TestAnswer_FullRAG(t *testing.T) {
	circulars := &mockSearcher{results: []vectorstore.SearchResult{
		hit("Video KYC limit raised.", 0.9, map[string]any{"title": "KYC Circular", "date": "2026-03-02"}),
		hit("Re-KYC cycle reduced.", 0.7, map[string]any{"title": "KYC Circular", "date": "2026-03-02"}),
	}}
	policies := &mockSearcher{results: []vectorstore.SearchResult{
		hit("All accounts must verify identity.", 0.8, map[string]any{"policy_name": "Customer Due Diligence"}),
	}}
	completer := &mockCompleter{completeFunc: func(ctx context.Context, prompt string) (string, error) {
		return "The video KYC limit was raised; update section KYC-4.", nil
	}}

	resp := New(circulars, policies, completer, nil).Answer(context.Background(), "what changed in KYC?")

	assert.Contains(t, resp.Answer, "video KYC")
	assert.Equal(t, 3, resp.ChunksRetrieved)
	// Mean of 0.9, 0.7, 0.8 = 0.8 -> 80.
	assert.Equal(t, 80, resp.Confidence)

	require.Len(t, resp.Sources, 3)
	assert.Equal(t, "circular", resp.Sources[0].Type)
	assert.Equal(t, "KYC Circular", resp.Sources[0].Title)
	assert.Equal(t, "policy", resp.Sources[2].Type)
	assert.Equal(t, "Customer Due Diligence", resp.Sources[2].Title)

	// Prompt carries both corpora and the question.
	assert.Contains(t, completer.lastPrompt, "Regulatory Circular: KYC Circular")
	assert.Contains(t, completer.lastPrompt, "Company Policy: Customer Due Diligence")
	assert.Contains(t, completer.lastPrompt, "what changed in KYC?")
}

func TestAnswer_NoRetrievalDegrades(t *testing.T) {
	completer := &mockCompleter{completeFunc: func(ctx context.Context, prompt string) (string, error) {
		t.Fatal("completion must not run without context")
		return "", nil
	}}
	resp := New(&mockSearcher{}, &mockSearcher{}, completer, nil).
		Answer(context.Background(), "anything")

	assert.Equal(t, 0, resp.Confidence)
	assert.Equal(t, 0, resp.ChunksRetrieved)
	assert.Contains(t, resp.Answer, "error processing your query")
}

func TestAnswer_SearchErrorUsesOtherCorpus(t *testing.T) {
	circulars := &mockSearcher{err: errors.New("qdrant down")}
	policies := &mockSearcher{results: []vectorstore.SearchResult{
		hit("policy text", 0.5, map[string]any{"policy_name": "Retention"}),
	}}
	completer := &mockCompleter{completeFunc: func(ctx context.Context, prompt string) (string, error) {
		return "answer from policy corpus", nil
	}}

	resp := New(circulars, policies, completer, nil).Answer(context.Background(), "q")
	assert.Equal(t, "answer from policy corpus", resp.Answer)
	assert.Equal(t, 1, resp.ChunksRetrieved)
	assert.Equal(t, 50, resp.Confidence)
}

func TestAnswer_CompletionErrorDegrades(t *testing.T) {
	circulars := &mockSearcher{results: []vectorstore.SearchResult{
		hit("text", 0.9, nil),
	}}
	completer := &mockCompleter{completeFunc: func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("model unavailable")
	}}

	resp := New(circulars, &mockSearcher{}, completer, nil).Answer(context.Background(), "q")
	assert.Equal(t, 0, resp.Confidence)
	assert.Contains(t, resp.Answer, "error processing your query")
}

func TestAnswer_EmptyQueryDegrades(t *testing.T) {
	resp := New(&mockSearcher{}, &mockSearcher{}, &mockCompleter{}, nil).
		Answer(context.Background(), "   ")
	assert.Equal(t, 0, resp.Confidence)
}

func TestBuildContext_CapsEntries(t *testing.T) {
	var circulars []vectorstore.SearchResult
	for i := 0; i < 5; i++ {
		circulars = append(circulars, hit("c", 0.5, map[string]any{"title": "T"}))
	}
	policies := []vectorstore.SearchResult{
		hit("p", 0.5, map[string]any{"policy_name": "P"}),
	}

	contexts, sources := buildContext(circulars, policies)
	assert.Len(t, sources, maxContexts)
	assert.Equal(t, maxContexts, strings.Count(contexts, "[")) // one bracket tag per entry
}

func TestConfidence_Clamped(t *testing.T) {
	assert.Equal(t, 100, confidence([]vectorstore.SearchResult{hit("c", 1.4, nil)}, nil))
	assert.Equal(t, 0, confidence([]vectorstore.SearchResult{hit("c", -0.2, nil)}, nil))
	assert.Equal(t, 0, confidence(nil, nil))
}

func TestMetaString_Unknown(t *testing.T) {
	assert.Equal(t, "Unknown", metaString(nil, "title"))
	assert.Equal(t, "Unknown", metaString(map[string]any{"title": 7}, "title"))
}
