package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/regwatchd/internal/model"
)

// Input truncation bounds keep the analysis prompt inside the context
// window.
const (
	maxCircularChars = 4000
	maxPolicyChars   = 2000
)

// Completer is the completion capability the analyzer consumes.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Verdict is the structured result of analyzing one document against one
// policy.
type Verdict struct {
	HasImpact       bool           `json:"has_impact"`
	DiffType        model.DiffType `json:"diff_type"`
	Severity        model.Severity `json:"severity"`
	AffectedSection string         `json:"affected_section"`
	Description     string         `json:"description"`
	Recommendation  string         `json:"recommendation"`
}

// Analyzer turns completions into impact verdicts.
type Analyzer struct {
	completer Completer
	logger    *zap.Logger
}

// NewAnalyzer wires an Analyzer over any Completer.
func NewAnalyzer(completer Completer, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{completer: completer, logger: logger}
}

const analysisPrompt = `You are a fintech compliance expert analyzing a new regulatory circular.

**New Regulatory Circular:**
%s

**Existing Company Policy:**
%s

Analyze the circular and identify:
1. Any new requirements not covered by existing policy
2. Changes to existing thresholds or limits
3. Direct conflicts with current policy
4. Compliance gaps

Respond in JSON format:
{
    "has_impact": true/false,
    "diff_type": "new_requirement|updated_threshold|conflicting|no_impact",
    "severity": "critical|high|medium|low",
    "affected_section": "section reference",
    "description": "detailed description of the change",
    "recommendation": "specific action to take"
}`

// AnalyzeImpact compares circular text against one policy. It never returns
// an error: completion or parse failures degrade to an error verdict so a
// single flaky call cannot abort the whole policy loop.
func (a *Analyzer) AnalyzeImpact(ctx context.Context, circularText, policyContent string) Verdict {
	prompt := fmt.Sprintf(analysisPrompt,
		truncate(circularText, maxCircularChars),
		truncate(policyContent, maxPolicyChars))

	raw, err := a.completer.Complete(ctx, prompt)
	if err != nil {
		a.logger.Warn("impact analysis completion failed", zap.Error(err))
		return errorVerdict(err)
	}

	verdict, err := parseVerdict(raw)
	if err != nil {
		a.logger.Warn("impact analysis returned unparseable verdict",
			zap.Error(err), zap.String("response", truncate(raw, 200)))
		return errorVerdict(err)
	}
	return verdict
}

func errorVerdict(err error) Verdict {
	return Verdict{
		HasImpact:      false,
		DiffType:       model.DiffError,
		Severity:       model.SeverityLow,
		Description:    fmt.Sprintf("Analysis failed: %v", err),
		Recommendation: "Manual review required",
	}
}

// parseVerdict extracts the JSON verdict, tolerating markdown code fences
// around the payload.
func parseVerdict(raw string) (Verdict, error) {
	text := raw
	if i := strings.Index(text, "```json"); i >= 0 {
		text = text[i+len("```json"):]
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	} else if i := strings.Index(text, "```"); i >= 0 {
		text = text[i+len("```"):]
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	}

	var v Verdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &v); err != nil {
		return Verdict{}, fmt.Errorf("parsing verdict JSON: %w", err)
	}
	if v.DiffType == "" {
		v.DiffType = model.DiffNoImpact
	}
	if v.Severity == "" {
		v.Severity = model.SeverityLow
	}
	return v, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
