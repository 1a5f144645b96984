package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/regwatchd/internal/model"
)

type mockCompleter struct {
	completeFunc func(ctx context.Context, prompt string) (string, error)
	lastPrompt   string
}

func (m *mockCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	m.lastPrompt = prompt
	return m.completeFunc(ctx, prompt)
}

const impactJSON = `{
	"has_impact": true,
	"diff_type": "updated_threshold",
	"severity": "high",
	"affected_section": "TM-2",
	"description": "Daily limit lowered to 20,000 EUR",
	"recommendation": "Update transaction monitoring thresholds"
}`

func TestAnalyzeImpact_PlainJSON(t *testing.T) {
	m := &mockCompleter{completeFunc: func(ctx context.Context, prompt string) (string, error) {
		return impactJSON, nil
	}}
	a := NewAnalyzer(m, nil)

	v := a.AnalyzeImpact(context.Background(), "circular text", "policy text")
	assert.True(t, v.HasImpact)
	assert.Equal(t, model.DiffUpdatedThreshold, v.DiffType)
	assert.Equal(t, model.SeverityHigh, v.Severity)
	assert.Equal(t, "TM-2", v.AffectedSection)
}

func TestAnalyzeImpact_MarkdownFencedJSON(t *testing.T) {
	for name, wrap := range map[string]string{
		"json fence":  "Here is the analysis:\n```json\n" + impactJSON + "\n```\nDone.",
		"plain fence": "```\n" + impactJSON + "\n```",
	} {
		t.Run(name, func(t *testing.T) {
			m := &mockCompleter{completeFunc: func(ctx context.Context, prompt string) (string, error) {
				return wrap, nil
			}}
			v := NewAnalyzer(m, nil).AnalyzeImpact(context.Background(), "c", "p")
			assert.True(t, v.HasImpact)
			assert.Equal(t, model.DiffUpdatedThreshold, v.DiffType)
		})
	}
}

func TestAnalyzeImpact_CompletionError_DegradesToErrorVerdict(t *testing.T) {
	m := &mockCompleter{completeFunc: func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("upstream timeout")
	}}
	v := NewAnalyzer(m, nil).AnalyzeImpact(context.Background(), "c", "p")

	assert.False(t, v.HasImpact)
	assert.Equal(t, model.DiffError, v.DiffType)
	assert.Equal(t, model.SeverityLow, v.Severity)
	assert.Contains(t, v.Description, "upstream timeout")
	assert.Equal(t, "Manual review required", v.Recommendation)
}

func TestAnalyzeImpact_UnparseableResponse_DegradesToErrorVerdict(t *testing.T) {
	m := &mockCompleter{completeFunc: func(ctx context.Context, prompt string) (string, error) {
		return "I cannot respond in JSON today.", nil
	}}
	v := NewAnalyzer(m, nil).AnalyzeImpact(context.Background(), "c", "p")

	assert.False(t, v.HasImpact)
	assert.Equal(t, model.DiffError, v.DiffType)
}

func TestAnalyzeImpact_TruncatesInputs(t *testing.T) {
	m := &mockCompleter{completeFunc: func(ctx context.Context, prompt string) (string, error) {
		return impactJSON, nil
	}}
	a := NewAnalyzer(m, nil)

	longCircular := strings.Repeat("c", maxCircularChars+500)
	longPolicy := strings.Repeat("p", maxPolicyChars+500)
	a.AnalyzeImpact(context.Background(), longCircular, longPolicy)

	assert.NotContains(t, m.lastPrompt, strings.Repeat("c", maxCircularChars+1))
	assert.NotContains(t, m.lastPrompt, strings.Repeat("p", maxPolicyChars+1))
	assert.Contains(t, m.lastPrompt, strings.Repeat("c", maxCircularChars))
}

func TestParseVerdict_DefaultsEmptyFields(t *testing.T) {
	v, err := parseVerdict(`{"has_impact": false}`)
	assert.NoError(t, err)
	assert.Equal(t, model.DiffNoImpact, v.DiffType)
	assert.Equal(t, model.SeverityLow, v.Severity)
}
