// Package model defines the persisted record types shared across the
// regwatchd pipeline: documents, policies, diffs, score snapshots, alerts,
// and audit entries.
package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalid indicates a record that fails validation.
var ErrInvalid = errors.New("invalid record")

// DocumentStatus tracks a document through the processing pipeline.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentProcessing DocumentStatus = "processing"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
)

// Severity grades diffs and alerts.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// DiffType classifies the impact a document has on a policy.
type DiffType string

const (
	DiffNewRequirement   DiffType = "new_requirement"
	DiffUpdatedThreshold DiffType = "updated_threshold"
	DiffConflicting      DiffType = "conflicting"
	DiffNoImpact         DiffType = "no_impact"
	DiffError            DiffType = "error"
)

// ReviewStatus tracks human review of a diff.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewReviewed ReviewStatus = "reviewed"
	ReviewResolved ReviewStatus = "resolved"
	ReviewIgnored  ReviewStatus = "ignored"
)

// AuditStatus is the terminal state of a stage invocation.
type AuditStatus string

const (
	AuditInProgress AuditStatus = "in_progress"
	AuditSuccess    AuditStatus = "success"
	AuditFailed     AuditStatus = "failed"
)

// Document is one discovered regulatory circular or filing tracked through
// the pipeline. Records are append-only: status and derived fields mutate,
// rows are never deleted.
type Document struct {
	ID         string
	ExternalID string
	Title      string
	Published  time.Time
	SourceURL  string
	PDFURL     string
	Status     DocumentStatus
	RawText    string
	ChunkCount int
	ParsedAt   *time.Time
	EmbeddedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate checks the fields Watch must supply before insert.
func (d *Document) Validate() error {
	if d.ExternalID == "" {
		return fmt.Errorf("%w: document external id required", ErrInvalid)
	}
	if d.Title == "" {
		return fmt.Errorf("%w: document title required", ErrInvalid)
	}
	return nil
}

// Policy is one section of company policy text. Policies are seed data,
// read-only to the pipeline.
type Policy struct {
	ID        string
	Name      string
	Version   string
	Section   string
	Content   string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Diff is a detected gap or conflict between a Document and one Policy.
type Diff struct {
	ID              string
	DocumentID      string
	PolicyID        string
	Type            DiffType
	Severity        Severity
	AffectedSection string
	Description     string
	Recommendation  string
	Review          ReviewStatus
	ReviewedBy      string
	ReviewedAt      *time.Time
	CreatedAt       time.Time
}

// Validate checks referential fields required at creation time.
func (d *Diff) Validate() error {
	if d.DocumentID == "" || d.PolicyID == "" {
		return fmt.Errorf("%w: diff requires document and policy references", ErrInvalid)
	}
	if d.Description == "" {
		return fmt.Errorf("%w: diff description required", ErrInvalid)
	}
	return nil
}

// ScoreSnapshot is one immutable point-in-time compliance score. The current
// score is always the most recently created snapshot.
type ScoreSnapshot struct {
	ID             string
	Score          float64
	TotalIssues    int
	PendingReviews int
	CriticalIssues int
	HighIssues     int
	Breakdown      map[string]float64
	Notes          string
	CalculatedAt   time.Time
}

// Alert is a notable event raised by any stage. Mutated only by
// acknowledgement.
type Alert struct {
	ID             string
	Type           string
	Severity       Severity
	Title          string
	Message        string
	DocumentID     string
	DiffID         string
	Delivered      bool
	DeliveredAt    *time.Time
	Acknowledged   bool
	AcknowledgedBy string
	AcknowledgedAt *time.Time
	CreatedAt      time.Time
}

// AuditEntry records one stage invocation. Exactly one entry exists per
// invocation and its status never remains in_progress after the invocation
// returns.
type AuditEntry struct {
	ID          string
	Stage       string
	Action      string
	Status      AuditStatus
	DocumentID  string
	Input       map[string]any
	Output      map[string]any
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
	Duration    time.Duration
}

// SeverityCounts aggregates open diffs by severity for score computation.
type SeverityCounts struct {
	Critical int
	High     int
	Medium   int
	Low      int
}

// Total returns the number of counted issues.
func (c SeverityCounts) Total() int {
	return c.Critical + c.High + c.Medium + c.Low
}
