package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/regwatchd/internal/model"
)

// MemoryStore is a mutex-guarded in-memory Store used by tests and the
// "memory" database provider.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]*model.Document
	byExtID   map[string]string
	policies  map[string]*model.Policy
	diffs     map[string]*model.Diff
	snapshots []*model.ScoreSnapshot
	alerts    map[string]*model.Alert
	audits    map[string]*model.AuditEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]*model.Document),
		byExtID:   make(map[string]string),
		policies:  make(map[string]*model.Policy),
		diffs:     make(map[string]*model.Diff),
		alerts:    make(map[string]*model.Alert),
		audits:    make(map[string]*model.AuditEntry),
	}
}

func (s *MemoryStore) Close() error { return nil }

// --- documents ---

func (s *MemoryStore) CreateDocument(ctx context.Context, doc *model.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byExtID[doc.ExternalID]; ok {
		return ErrDuplicate
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = model.DocumentPending
	}

	cp := *doc
	s.documents[doc.ID] = &cp
	s.byExtID[doc.ExternalID] = doc.ID
	return nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (s *MemoryStore) UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return ErrNotFound
	}
	doc.Status = status
	doc.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SetDocumentText(ctx context.Context, id, text string, parsedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return ErrNotFound
	}
	doc.RawText = text
	doc.ParsedAt = &parsedAt
	doc.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SetDocumentEmbedded(ctx context.Context, id string, chunks int, embeddedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return ErrNotFound
	}
	doc.ChunkCount = chunks
	doc.EmbeddedAt = &embeddedAt
	doc.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) ListDocuments(ctx context.Context, limit, offset int) ([]model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]model.Document, 0, len(s.documents))
	for _, d := range s.documents {
		all = append(all, *d)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return page(all, limit, offset), nil
}

// --- policies ---

func (s *MemoryStore) CreatePolicy(ctx context.Context, p *model.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	cp := *p
	s.policies[p.ID] = &cp
	return nil
}

func (s *MemoryStore) ListActivePolicies(ctx context.Context) ([]model.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []model.Policy
	for _, p := range s.policies {
		if p.Active {
			active = append(active, *p)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Name < active[j].Name })
	return active, nil
}

// --- diffs ---

func (s *MemoryStore) CreateDiff(ctx context.Context, d *model.Diff) error {
	if err := d.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Referential integrity mirrors the postgres foreign keys.
	if _, ok := s.documents[d.DocumentID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.policies[d.PolicyID]; !ok {
		return ErrNotFound
	}

	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	if d.Review == "" {
		d.Review = model.ReviewPending
	}

	cp := *d
	s.diffs[d.ID] = &cp
	return nil
}

func (s *MemoryStore) ListDiffs(ctx context.Context, f DiffFilter) ([]model.Diff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Diff
	for _, d := range s.diffs {
		if f.Review != "" && d.Review != f.Review {
			continue
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, f.Limit, f.Offset), nil
}

func (s *MemoryStore) CountBySeverity(ctx context.Context) (model.SeverityCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c model.SeverityCounts
	for _, d := range s.diffs {
		switch d.Severity {
		case model.SeverityCritical:
			c.Critical++
		case model.SeverityHigh:
			c.High++
		case model.SeverityMedium:
			c.Medium++
		case model.SeverityLow:
			c.Low++
		}
	}
	return c, nil
}

func (s *MemoryStore) CountPendingReviews(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, d := range s.diffs {
		if d.Review == model.ReviewPending {
			n++
		}
	}
	return n, nil
}

// --- score snapshots ---

func (s *MemoryStore) CreateSnapshot(ctx context.Context, snap *model.ScoreSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CalculatedAt.IsZero() {
		snap.CalculatedAt = time.Now()
	}

	cp := *snap
	s.snapshots = append(s.snapshots, &cp)
	return nil
}

func (s *MemoryStore) LatestSnapshot(ctx context.Context) (*model.ScoreSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.snapshots) == 0 {
		return nil, ErrNotFound
	}
	latest := s.snapshots[0]
	for _, snap := range s.snapshots[1:] {
		if snap.CalculatedAt.After(latest.CalculatedAt) {
			latest = snap
		}
	}
	cp := *latest
	return &cp, nil
}

// --- alerts ---

func (s *MemoryStore) CreateAlert(ctx context.Context, a *model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

func (s *MemoryStore) ListAlerts(ctx context.Context, f AlertFilter) ([]model.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Alert
	for _, a := range s.alerts {
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, f.Limit, f.Offset), nil
}

func (s *MemoryStore) MarkAlertDelivered(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok {
		return ErrNotFound
	}
	a.Delivered = true
	a.DeliveredAt = &at
	return nil
}

func (s *MemoryStore) AcknowledgeAlert(ctx context.Context, id, by string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok {
		return ErrNotFound
	}
	a.Acknowledged = true
	a.AcknowledgedBy = by
	a.AcknowledgedAt = &at
	return nil
}

// --- audit ---

func (s *MemoryStore) CreateAuditEntry(ctx context.Context, e *model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}
	if e.Status == "" {
		e.Status = model.AuditInProgress
	}

	cp := *e
	s.audits[e.ID] = &cp
	return nil
}

func (s *MemoryStore) FinalizeAuditEntry(ctx context.Context, e *model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.audits[e.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Status = e.Status
	existing.Output = e.Output
	existing.Error = e.Error
	existing.CompletedAt = e.CompletedAt
	existing.Duration = e.Duration
	return nil
}

func (s *MemoryStore) ListAuditEntries(ctx context.Context, stage string, limit int) ([]model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.AuditEntry
	for _, e := range s.audits {
		if stage != "" && e.Stage != stage {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return page(out, limit, 0), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
