package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/regwatchd/internal/bus"
	"github.com/fyrsmithlabs/regwatchd/internal/config"
	"github.com/fyrsmithlabs/regwatchd/internal/model"
	"github.com/fyrsmithlabs/regwatchd/internal/notify"
	"github.com/fyrsmithlabs/regwatchd/internal/store"
)

// Discovery is one circular found at the regulator, before persistence.
// RawText is set only on manual uploads whose text arrived with the
// submission; source discovery leaves extraction to the compare stage.
type Discovery struct {
	ExternalID string
	Title      string
	Published  time.Time
	SourceURL  string
	PDFURL     string
	RawText    string
}

// Source lists the circulars currently visible at the regulator.
type Source interface {
	Fetch(ctx context.Context) ([]Discovery, error)
}

// Watcher discovers new regulatory documents and feeds them into the
// pipeline. The feed source is tried first; scraping is the fallback when
// the feed errors or yields nothing.
type Watcher struct {
	primary  Source
	fallback Source
	store    store.Store
	bus      bus.Bus
	notifier notify.Notifier
	limiter  *rate.Limiter
	cfg      config.WatchConfig
	logger   *zap.Logger
}

// NewWatcher wires the discovery loop.
func NewWatcher(primary, fallback Source, st store.Store, b bus.Bus, n notify.Notifier, cfg config.WatchConfig, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	rpm := cfg.RequestsPerMin
	if rpm <= 0 {
		rpm = 30
	}
	return &Watcher{
		primary:  primary,
		fallback: fallback,
		store:    st,
		bus:      b,
		notifier: n,
		limiter:  rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		cfg:      cfg,
		logger:   logger.Named("watch"),
	}
}

// Run checks the sources on the configured interval until ctx is done.
// A failed check backs off before the next attempt instead of waiting the
// full interval.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watcher started", zap.Duration("interval", w.cfg.Interval))

	for {
		wait := w.cfg.Interval
		if err := w.CheckOnce(ctx); err != nil {
			w.logger.Error("check failed", zap.Error(err))
			wait = w.cfg.ErrorBackoff
		}

		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopped")
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// CheckOnce performs one discovery pass: fetch, dedupe, persist, announce.
func (w *Watcher) CheckOnce(ctx context.Context) error {
	return auditRun(ctx, w.store, w.logger, "watch", "check_new_documents", "", nil,
		func(ctx context.Context) (map[string]any, error) {
			if err := w.limiter.Wait(ctx); err != nil {
				return nil, err
			}

			discoveries, err := w.primary.Fetch(ctx)
			if err != nil || len(discoveries) == 0 {
				if err != nil {
					w.logger.Warn("feed check failed, falling back to scraping", zap.Error(err))
				}
				discoveries, err = w.fallback.Fetch(ctx)
				if err != nil {
					return nil, fmt.Errorf("fetching from fallback source: %w", err)
				}
			}

			if n := w.cfg.MaxPerCheck; n > 0 && len(discoveries) > n {
				discoveries = discoveries[:n]
			}

			ingested := 0
			for _, d := range discoveries {
				created, err := w.ingest(ctx, d)
				if err != nil {
					w.logger.Error("ingesting discovery",
						zap.String("external_id", d.ExternalID), zap.Error(err))
					continue
				}
				if created {
					ingested++
				}
			}

			w.logger.Info("check complete",
				zap.Int("found", len(discoveries)), zap.Int("new", ingested))
			return map[string]any{"found": len(discoveries), "new": ingested}, nil
		})
}

// Ingest admits a manually submitted document into the pipeline. It shares
// the dedupe and announcement path with source discovery, so downstream
// stages see the same event shape either way.
func (w *Watcher) Ingest(ctx context.Context, d Discovery) (*model.Document, error) {
	doc := &model.Document{
		ExternalID: d.ExternalID,
		Title:      d.Title,
		Published:  d.Published,
		SourceURL:  d.SourceURL,
		PDFURL:     d.PDFURL,
		RawText:    d.RawText,
	}
	if err := w.store.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}
	w.announce(ctx, doc)
	return doc, nil
}

// ingest persists one discovery. Duplicates are skipped silently and
// publish nothing.
func (w *Watcher) ingest(ctx context.Context, d Discovery) (bool, error) {
	doc := &model.Document{
		ExternalID: d.ExternalID,
		Title:      d.Title,
		Published:  d.Published,
		SourceURL:  d.SourceURL,
		PDFURL:     d.PDFURL,
	}
	if err := w.store.CreateDocument(ctx, doc); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			w.logger.Debug("document already tracked", zap.String("external_id", d.ExternalID))
			return false, nil
		}
		return false, err
	}

	w.logger.Info("new document saved",
		zap.String("external_id", doc.ExternalID), zap.String("title", doc.Title))
	w.announce(ctx, doc)
	return true, nil
}

func (w *Watcher) announce(ctx context.Context, doc *model.Document) {
	if err := w.bus.Publish(ctx, bus.TopicDocumentNew, bus.DocumentEvent{
		DocumentID: doc.ID,
		ExternalID: doc.ExternalID,
		Title:      doc.Title,
		PDFURL:     doc.PDFURL,
	}); err != nil {
		w.logger.Error("publishing document event", zap.String("id", doc.ID), zap.Error(err))
	}

	notify.DocumentDetected(ctx, w.notifier, doc.ExternalID, doc.Title, doc.SourceURL, doc.Published)
}
