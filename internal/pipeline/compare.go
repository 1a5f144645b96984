package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/regwatchd/internal/bus"
	"github.com/fyrsmithlabs/regwatchd/internal/chunk"
	"github.com/fyrsmithlabs/regwatchd/internal/llm"
	"github.com/fyrsmithlabs/regwatchd/internal/model"
	"github.com/fyrsmithlabs/regwatchd/internal/notify"
	"github.com/fyrsmithlabs/regwatchd/internal/store"
	"github.com/fyrsmithlabs/regwatchd/internal/vectorstore"
)

// TextExtractor converts a PDF URL into raw text.
type TextExtractor interface {
	ExtractText(ctx context.Context, pdfURL string) (string, error)
}

// ChunkIndexer stores embeddable chunks for later retrieval.
type ChunkIndexer interface {
	AddChunks(ctx context.Context, chunks []vectorstore.Chunk) error
}

// ImpactAnalyzer judges a document's impact on one policy.
type ImpactAnalyzer interface {
	AnalyzeImpact(ctx context.Context, circularText, policyContent string) llm.Verdict
}

// Comparer is the analysis stage. On each document.new event it extracts
// text, indexes chunks, and compares the document against every active
// policy, persisting a diff per detected impact.
type Comparer struct {
	store     store.Store
	bus       bus.Bus
	extractor TextExtractor
	indexer   ChunkIndexer
	analyzer  ImpactAnalyzer
	notifier  notify.Notifier
	chunkOpts chunk.Options
	logger    *zap.Logger
}

// NewComparer wires the analysis stage.
func NewComparer(st store.Store, b bus.Bus, ex TextExtractor, ix ChunkIndexer, an ImpactAnalyzer, n notify.Notifier, opts chunk.Options, logger *zap.Logger) *Comparer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Comparer{
		store:     st,
		bus:       b,
		extractor: ex,
		indexer:   ix,
		analyzer:  an,
		notifier:  n,
		chunkOpts: opts,
		logger:    logger.Named("compare"),
	}
}

// Start subscribes the stage to document.new events.
func (c *Comparer) Start() error {
	return c.bus.Subscribe(bus.TopicDocumentNew, func(ctx context.Context, data []byte) error {
		var ev bus.DocumentEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decoding document event: %w", err)
		}
		return c.HandleDocument(ctx, ev)
	})
}

// HandleDocument runs the full analysis for one document. The
// analysis.complete event is published exactly once, after the policy loop
// finishes, and never on failure.
func (c *Comparer) HandleDocument(ctx context.Context, ev bus.DocumentEvent) error {
	input := map[string]any{"document_id": ev.DocumentID, "external_id": ev.ExternalID}

	return auditRun(ctx, c.store, c.logger, "compare", "process_document", ev.DocumentID, input,
		func(ctx context.Context) (map[string]any, error) {
			doc, err := c.store.GetDocument(ctx, ev.DocumentID)
			if err != nil {
				return nil, fmt.Errorf("loading document %s: %w", ev.DocumentID, err)
			}

			if err := c.store.UpdateDocumentStatus(ctx, doc.ID, model.DocumentProcessing); err != nil {
				return nil, err
			}

			text := doc.RawText
			if text == "" {
				text, err = c.extractor.ExtractText(ctx, doc.PDFURL)
				if err != nil {
					return nil, fmt.Errorf("extracting text: %w", err)
				}
				if err := c.store.SetDocumentText(ctx, doc.ID, text, time.Now()); err != nil {
					return nil, err
				}
			}

			chunks := chunk.Split(text, c.chunkOpts)
			if len(chunks) > 0 {
				indexed := make([]vectorstore.Chunk, len(chunks))
				for i, content := range chunks {
					indexed[i] = vectorstore.Chunk{
						ID:      fmt.Sprintf("%s-%d", doc.ExternalID, i),
						Content: content,
						Metadata: map[string]any{
							"title":       doc.Title,
							"external_id": doc.ExternalID,
							"date":        doc.Published.Format("2006-01-02"),
						},
					}
				}
				if err := c.indexer.AddChunks(ctx, indexed); err != nil {
					return nil, fmt.Errorf("indexing chunks: %w", err)
				}
			}
			if err := c.store.SetDocumentEmbedded(ctx, doc.ID, len(chunks), time.Now()); err != nil {
				return nil, err
			}

			diffCount, err := c.compareWithPolicies(ctx, doc, text)
			if err != nil {
				return nil, err
			}

			if err := c.store.UpdateDocumentStatus(ctx, doc.ID, model.DocumentCompleted); err != nil {
				return nil, err
			}

			if err := c.bus.Publish(ctx, bus.TopicAnalysisComplete, bus.AnalysisEvent{
				DocumentID: doc.ID,
				DiffCount:  diffCount,
			}); err != nil {
				c.logger.Error("publishing analysis event", zap.String("id", doc.ID), zap.Error(err))
			}

			c.logger.Info("analysis complete",
				zap.String("external_id", doc.ExternalID),
				zap.Int("chunks", len(chunks)),
				zap.Int("diffs", diffCount))
			return map[string]any{"chunks_created": len(chunks), "diffs_created": diffCount}, nil
		})
}

// compareWithPolicies runs the analyzer per active policy and persists a
// diff for each verdict that reports real impact.
func (c *Comparer) compareWithPolicies(ctx context.Context, doc *model.Document, text string) (int, error) {
	policies, err := c.store.ListActivePolicies(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing policies: %w", err)
	}
	c.logger.Debug("comparing against policies",
		zap.String("external_id", doc.ExternalID), zap.Int("policies", len(policies)))

	created := 0
	for _, policy := range policies {
		verdict := c.analyzer.AnalyzeImpact(ctx, text, policy.Content)
		if !verdict.HasImpact || verdict.DiffType == model.DiffNoImpact {
			continue
		}

		diff := &model.Diff{
			DocumentID:      doc.ID,
			PolicyID:        policy.ID,
			Type:            verdict.DiffType,
			Severity:        verdict.Severity,
			AffectedSection: verdict.AffectedSection,
			Description:     verdict.Description,
			Recommendation:  verdict.Recommendation,
		}
		if diff.AffectedSection == "" {
			diff.AffectedSection = "N/A"
		}
		if diff.Description == "" {
			diff.Description = "Policy impact detected"
		}
		if diff.Recommendation == "" {
			diff.Recommendation = "Review and update policy"
		}
		if err := c.store.CreateDiff(ctx, diff); err != nil {
			return created, fmt.Errorf("persisting diff for policy %s: %w", policy.ID, err)
		}
		created++

		c.logger.Warn("policy diff created",
			zap.String("policy", policy.Name),
			zap.String("type", string(diff.Type)),
			zap.String("severity", string(diff.Severity)))
		notify.DiffFound(ctx, c.notifier, doc.Title, diff)
	}
	return created, nil
}
