package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/regwatchd/internal/bus"
	"github.com/fyrsmithlabs/regwatchd/internal/chunk"
	"github.com/fyrsmithlabs/regwatchd/internal/llm"
	"github.com/fyrsmithlabs/regwatchd/internal/model"
	"github.com/fyrsmithlabs/regwatchd/internal/store"
	"github.com/fyrsmithlabs/regwatchd/internal/vectorstore"
)

type mockExtractor struct {
	extractFunc func(ctx context.Context, pdfURL string) (string, error)
	calls       int
}

func (m *mockExtractor) ExtractText(ctx context.Context, pdfURL string) (string, error) {
	m.calls++
	return m.extractFunc(ctx, pdfURL)
}

type mockIndexer struct {
	addFunc func(ctx context.Context, chunks []vectorstore.Chunk) error
	added   []vectorstore.Chunk
}

func (m *mockIndexer) AddChunks(ctx context.Context, chunks []vectorstore.Chunk) error {
	m.added = append(m.added, chunks...)
	if m.addFunc != nil {
		return m.addFunc(ctx, chunks)
	}
	return nil
}

type mockAnalyzer struct {
	verdictFunc func(circularText, policyContent string) llm.Verdict
	calls       int
}

func (m *mockAnalyzer) AnalyzeImpact(ctx context.Context, circularText, policyContent string) llm.Verdict {
	m.calls++
	return m.verdictFunc(circularText, policyContent)
}

func impactVerdict() llm.Verdict {
	return llm.Verdict{
		HasImpact:       true,
		DiffType:        model.DiffUpdatedThreshold,
		Severity:        model.SeverityHigh,
		AffectedSection: "TM-2",
		Description:     "threshold lowered",
		Recommendation:  "update policy",
	}
}

func noImpactVerdict() llm.Verdict {
	return llm.Verdict{HasImpact: false, DiffType: model.DiffNoImpact, Severity: model.SeverityLow}
}

type compareFixture struct {
	store    *store.MemoryStore
	bus      *recordingBus
	notifier *recordingNotifier
	ext      *mockExtractor
	idx      *mockIndexer
	an       *mockAnalyzer
	comparer *Comparer
	doc      *model.Document
}

func newCompareFixture(t *testing.T, policies int) *compareFixture {
	t.Helper()
	ctx := context.Background()

	f := &compareFixture{
		store:    store.NewMemoryStore(),
		bus:      newRecordingBus(),
		notifier: &recordingNotifier{},
		ext: &mockExtractor{extractFunc: func(ctx context.Context, pdfURL string) (string, error) {
			return "Video KYC limit increased. Re-KYC cycle reduced to 8 years.", nil
		}},
		idx: &mockIndexer{},
		an:  &mockAnalyzer{verdictFunc: func(c, p string) llm.Verdict { return impactVerdict() }},
	}

	for i := 0; i < policies; i++ {
		p := &model.Policy{Name: string(rune('A' + i)), Content: "policy text", Active: true}
		require.NoError(t, f.store.CreatePolicy(ctx, p))
	}

	f.doc = &model.Document{ExternalID: "circ-1", Title: "KYC Update", PDFURL: "https://x/c1.pdf"}
	require.NoError(t, f.store.CreateDocument(ctx, f.doc))

	f.comparer = NewComparer(f.store, f.bus, f.ext, f.idx, f.an, f.notifier, chunk.DefaultOptions(), nil)
	return f
}

func (f *compareFixture) event() bus.DocumentEvent {
	return bus.DocumentEvent{DocumentID: f.doc.ID, ExternalID: f.doc.ExternalID, Title: f.doc.Title, PDFURL: f.doc.PDFURL}
}

func TestComparer_HandleDocument_FullRun(t *testing.T) {
	ctx := context.Background()
	f := newCompareFixture(t, 2)

	require.NoError(t, f.comparer.HandleDocument(ctx, f.event()))

	doc, err := f.store.GetDocument(ctx, f.doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentCompleted, doc.Status)
	assert.NotEmpty(t, doc.RawText)
	assert.NotNil(t, doc.ParsedAt)
	assert.NotNil(t, doc.EmbeddedAt)
	assert.Equal(t, len(f.idx.added), doc.ChunkCount)
	assert.NotEmpty(t, f.idx.added)

	// One diff per active policy, each with a notification.
	diffs, err := f.store.ListDiffs(ctx, store.DiffFilter{})
	require.NoError(t, err)
	assert.Len(t, diffs, 2)
	assert.Equal(t, 2, f.an.calls)
	assert.Equal(t, 2, f.notifier.count())

	// analysis.complete published exactly once.
	assert.Equal(t, 1, f.bus.countTopic(bus.TopicAnalysisComplete))

	entry := requireAuditOutcome(t, f.store, "compare", model.AuditSuccess)
	assert.Equal(t, 2, entry.Output["diffs_created"])
}

func TestComparer_HandleDocument_NoImpactCreatesNothing(t *testing.T) {
	ctx := context.Background()
	f := newCompareFixture(t, 2)
	f.an.verdictFunc = func(c, p string) llm.Verdict { return noImpactVerdict() }

	require.NoError(t, f.comparer.HandleDocument(ctx, f.event()))

	diffs, err := f.store.ListDiffs(ctx, store.DiffFilter{})
	require.NoError(t, err)
	assert.Empty(t, diffs)
	assert.Equal(t, 0, f.notifier.count())
	assert.Equal(t, 1, f.bus.countTopic(bus.TopicAnalysisComplete))
}

func TestComparer_HandleDocument_ErrorVerdictCreatesNoDiff(t *testing.T) {
	// A degraded analyzer verdict (type error, has_impact false) must not
	// produce a diff row.
	ctx := context.Background()
	f := newCompareFixture(t, 1)
	f.an.verdictFunc = func(c, p string) llm.Verdict {
		return llm.Verdict{HasImpact: false, DiffType: model.DiffError, Severity: model.SeverityLow}
	}

	require.NoError(t, f.comparer.HandleDocument(ctx, f.event()))
	diffs, err := f.store.ListDiffs(ctx, store.DiffFilter{})
	require.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestComparer_HandleDocument_SkipsExtractionWhenTextPresent(t *testing.T) {
	ctx := context.Background()
	f := newCompareFixture(t, 1)
	require.NoError(t, f.store.SetDocumentText(ctx, f.doc.ID, "already extracted text.", f.doc.CreatedAt))

	require.NoError(t, f.comparer.HandleDocument(ctx, f.event()))
	assert.Equal(t, 0, f.ext.calls)
}

func TestComparer_HandleDocument_ExtractionFailure(t *testing.T) {
	ctx := context.Background()
	f := newCompareFixture(t, 1)
	f.ext.extractFunc = func(ctx context.Context, pdfURL string) (string, error) {
		return "", errors.New("ocr unavailable")
	}

	err := f.comparer.HandleDocument(ctx, f.event())
	require.Error(t, err)

	// No completion event on failure, audit records the failure.
	assert.Equal(t, 0, f.bus.countTopic(bus.TopicAnalysisComplete))
	entry := requireAuditOutcome(t, f.store, "compare", model.AuditFailed)
	assert.Contains(t, entry.Error, "ocr unavailable")
}

func TestComparer_HandleDocument_UnknownDocument(t *testing.T) {
	f := newCompareFixture(t, 1)
	err := f.comparer.HandleDocument(context.Background(), bus.DocumentEvent{DocumentID: "missing"})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestComparer_Start_SubscribesAndHandles(t *testing.T) {
	ctx := context.Background()
	f := newCompareFixture(t, 1)

	require.NoError(t, f.comparer.Start())
	require.NoError(t, f.bus.deliver(t, ctx, bus.TopicDocumentNew, f.event()))

	doc, err := f.store.GetDocument(ctx, f.doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentCompleted, doc.Status)
}
