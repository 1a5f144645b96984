// Package store persists pipeline records: documents, policies, diffs,
// score snapshots, alerts, and audit entries.
//
// The pipeline consumes the capability interfaces below; implementations
// are selected through the factory (postgres for production, memory for
// tests and local development).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/regwatchd/internal/model"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate indicates an insert conflicting with an existing
	// unique key, e.g. a document external id already tracked.
	ErrDuplicate = errors.New("duplicate record")
)

// DiffFilter narrows ListDiffs.
type DiffFilter struct {
	Review model.ReviewStatus // empty matches all
	Limit  int
	Offset int
}

// AlertFilter narrows ListAlerts.
type AlertFilter struct {
	Severity model.Severity // empty matches all
	Limit    int
	Offset   int
}

// DocumentStore persists discovered documents.
type DocumentStore interface {
	// CreateDocument inserts a new document. Returns ErrDuplicate when a
	// document with the same external id already exists.
	CreateDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus) error
	// SetDocumentText stores extracted raw text and the parse timestamp.
	SetDocumentText(ctx context.Context, id, text string, parsedAt time.Time) error
	// SetDocumentEmbedded records chunk count and the embed timestamp.
	SetDocumentEmbedded(ctx context.Context, id string, chunks int, embeddedAt time.Time) error
	ListDocuments(ctx context.Context, limit, offset int) ([]model.Document, error)
}

// PolicyStore reads company policy seed data.
type PolicyStore interface {
	ListActivePolicies(ctx context.Context) ([]model.Policy, error)
	CreatePolicy(ctx context.Context, p *model.Policy) error
}

// DiffStore persists detected policy diffs.
type DiffStore interface {
	CreateDiff(ctx context.Context, d *model.Diff) error
	ListDiffs(ctx context.Context, f DiffFilter) ([]model.Diff, error)
	// CountBySeverity tallies all recorded diffs for score computation.
	CountBySeverity(ctx context.Context) (model.SeverityCounts, error)
	CountPendingReviews(ctx context.Context) (int, error)
}

// ScoreStore persists the append-only score time series.
type ScoreStore interface {
	CreateSnapshot(ctx context.Context, s *model.ScoreSnapshot) error
	// LatestSnapshot returns the most recently calculated snapshot, or
	// ErrNotFound when none has been recorded yet.
	LatestSnapshot(ctx context.Context) (*model.ScoreSnapshot, error)
}

// AlertStore persists alerts and their acknowledgement state.
type AlertStore interface {
	CreateAlert(ctx context.Context, a *model.Alert) error
	ListAlerts(ctx context.Context, f AlertFilter) ([]model.Alert, error)
	MarkAlertDelivered(ctx context.Context, id string, at time.Time) error
	AcknowledgeAlert(ctx context.Context, id, by string, at time.Time) error
}

// AuditStore persists stage invocation provenance.
type AuditStore interface {
	CreateAuditEntry(ctx context.Context, e *model.AuditEntry) error
	// FinalizeAuditEntry sets the terminal status, output, error text, and
	// timing of an entry previously created in_progress.
	FinalizeAuditEntry(ctx context.Context, e *model.AuditEntry) error
	ListAuditEntries(ctx context.Context, stage string, limit int) ([]model.AuditEntry, error)
}

// Store bundles every capability plus lifecycle.
type Store interface {
	DocumentStore
	PolicyStore
	DiffStore
	ScoreStore
	AlertStore
	AuditStore
	Close() error
}
