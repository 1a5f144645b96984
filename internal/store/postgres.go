package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver

	"github.com/fyrsmithlabs/regwatchd/internal/model"
)

// pgUniqueViolation is the PostgreSQL error code for unique constraint
// violations, used to translate conflicts into ErrDuplicate.
const pgUniqueViolation = "23505"

// PostgresStore is the production Store on PostgreSQL via the pgx
// database/sql driver.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool and verifies connectivity.
func NewPostgresStore(ctx context.Context, url string, maxConns int) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

// EnsureSchema creates the persisted tables when absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// --- documents ---

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *model.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Status == "" {
		doc.Status = model.DocumentPending
	}
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	query := `
		INSERT INTO documents
			(id, external_id, title, published, source_url, pdf_url, status,
			 raw_text, chunk_count, parsed_at, embedded_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.db.ExecContext(ctx, query,
		doc.ID, doc.ExternalID, doc.Title, doc.Published, doc.SourceURL, doc.PDFURL,
		doc.Status, nullString(doc.RawText), doc.ChunkCount,
		doc.ParsedAt, doc.EmbeddedAt, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	query := `
		SELECT id, external_id, title, published, source_url, pdf_url, status,
		       COALESCE(raw_text, ''), chunk_count, parsed_at, embedded_at,
		       created_at, updated_at
		FROM documents WHERE id = $1
	`
	return scanDocument(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("updating document status: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) SetDocumentText(ctx context.Context, id, text string, parsedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET raw_text = $2, parsed_at = $3, updated_at = now() WHERE id = $1`,
		id, text, parsedAt)
	if err != nil {
		return fmt.Errorf("storing document text: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) SetDocumentEmbedded(ctx context.Context, id string, chunks int, embeddedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET chunk_count = $2, embedded_at = $3, updated_at = now() WHERE id = $1`,
		id, chunks, embeddedAt)
	if err != nil {
		return fmt.Errorf("recording document embedding: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) ListDocuments(ctx context.Context, limit, offset int) ([]model.Document, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, external_id, title, published, source_url, pdf_url, status,
		       COALESCE(raw_text, ''), chunk_count, parsed_at, embedded_at,
		       created_at, updated_at
		FROM documents ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var out []model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var doc model.Document
	err := row.Scan(&doc.ID, &doc.ExternalID, &doc.Title, &doc.Published,
		&doc.SourceURL, &doc.PDFURL, &doc.Status, &doc.RawText, &doc.ChunkCount,
		&doc.ParsedAt, &doc.EmbeddedAt, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	return &doc, nil
}

// --- policies ---

func (s *PostgresStore) CreatePolicy(ctx context.Context, p *model.Policy) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := `
		INSERT INTO policies (id, name, version, section, content, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.Name, p.Version, p.Section, p.Content, p.Active, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting policy: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActivePolicies(ctx context.Context) ([]model.Policy, error) {
	query := `
		SELECT id, name, version, section, content, active, created_at, updated_at
		FROM policies WHERE active ORDER BY name
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing policies: %w", err)
	}
	defer rows.Close()

	var out []model.Policy
	for rows.Next() {
		var p model.Policy
		if err := rows.Scan(&p.ID, &p.Name, &p.Version, &p.Section, &p.Content,
			&p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- diffs ---

func (s *PostgresStore) CreateDiff(ctx context.Context, d *model.Diff) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Review == "" {
		d.Review = model.ReviewPending
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO diffs
			(id, document_id, policy_id, diff_type, severity, affected_section,
			 description, recommendation, review_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		d.ID, d.DocumentID, d.PolicyID, d.Type, d.Severity, d.AffectedSection,
		d.Description, d.Recommendation, d.Review, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting diff: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDiffs(ctx context.Context, f DiffFilter) ([]model.Diff, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, document_id, policy_id, diff_type, severity, affected_section,
		       description, recommendation, review_status,
		       COALESCE(reviewed_by, ''), reviewed_at, created_at
		FROM diffs
		WHERE ($1 = '' OR review_status = $1)
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`
	rows, err := s.db.QueryContext(ctx, query, string(f.Review), limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing diffs: %w", err)
	}
	defer rows.Close()

	var out []model.Diff
	for rows.Next() {
		var d model.Diff
		if err := rows.Scan(&d.ID, &d.DocumentID, &d.PolicyID, &d.Type, &d.Severity,
			&d.AffectedSection, &d.Description, &d.Recommendation, &d.Review,
			&d.ReviewedBy, &d.ReviewedAt, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning diff: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountBySeverity(ctx context.Context) (model.SeverityCounts, error) {
	query := `SELECT severity, count(*) FROM diffs GROUP BY severity`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return model.SeverityCounts{}, fmt.Errorf("counting diffs: %w", err)
	}
	defer rows.Close()

	var c model.SeverityCounts
	for rows.Next() {
		var severity model.Severity
		var n int
		if err := rows.Scan(&severity, &n); err != nil {
			return model.SeverityCounts{}, fmt.Errorf("scanning severity count: %w", err)
		}
		switch severity {
		case model.SeverityCritical:
			c.Critical = n
		case model.SeverityHigh:
			c.High = n
		case model.SeverityMedium:
			c.Medium = n
		case model.SeverityLow:
			c.Low = n
		}
	}
	return c, rows.Err()
}

func (s *PostgresStore) CountPendingReviews(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM diffs WHERE review_status = 'pending'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting pending reviews: %w", err)
	}
	return n, nil
}

// --- score snapshots ---

func (s *PostgresStore) CreateSnapshot(ctx context.Context, snap *model.ScoreSnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CalculatedAt.IsZero() {
		snap.CalculatedAt = time.Now()
	}
	breakdown, err := json.Marshal(snap.Breakdown)
	if err != nil {
		return fmt.Errorf("marshaling score breakdown: %w", err)
	}

	query := `
		INSERT INTO score_snapshots
			(id, score, total_issues, pending_reviews, critical_issues, high_issues,
			 breakdown, notes, calculated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.db.ExecContext(ctx, query,
		snap.ID, snap.Score, snap.TotalIssues, snap.PendingReviews,
		snap.CriticalIssues, snap.HighIssues, breakdown, snap.Notes, snap.CalculatedAt)
	if err != nil {
		return fmt.Errorf("inserting score snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context) (*model.ScoreSnapshot, error) {
	query := `
		SELECT id, score, total_issues, pending_reviews, critical_issues, high_issues,
		       breakdown, COALESCE(notes, ''), calculated_at
		FROM score_snapshots ORDER BY calculated_at DESC LIMIT 1
	`
	var snap model.ScoreSnapshot
	var breakdown []byte
	err := s.db.QueryRowContext(ctx, query).Scan(&snap.ID, &snap.Score,
		&snap.TotalIssues, &snap.PendingReviews, &snap.CriticalIssues,
		&snap.HighIssues, &breakdown, &snap.Notes, &snap.CalculatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading latest snapshot: %w", err)
	}
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &snap.Breakdown); err != nil {
			return nil, fmt.Errorf("unmarshaling score breakdown: %w", err)
		}
	}
	return &snap, nil
}

// --- alerts ---

func (s *PostgresStore) CreateAlert(ctx context.Context, a *model.Alert) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO alerts
			(id, alert_type, severity, title, message, document_id, diff_id,
			 delivered, delivered_at, acknowledged, acknowledged_by, acknowledged_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.Type, a.Severity, a.Title, a.Message,
		nullString(a.DocumentID), nullString(a.DiffID),
		a.Delivered, a.DeliveredAt, a.Acknowledged,
		nullString(a.AcknowledgedBy), a.AcknowledgedAt, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAlerts(ctx context.Context, f AlertFilter) ([]model.Alert, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, alert_type, severity, title, message,
		       COALESCE(document_id, ''), COALESCE(diff_id, ''),
		       delivered, delivered_at, acknowledged,
		       COALESCE(acknowledged_by, ''), acknowledged_at, created_at
		FROM alerts
		WHERE ($1 = '' OR severity = $1)
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`
	rows, err := s.db.QueryContext(ctx, query, string(f.Severity), limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		if err := rows.Scan(&a.ID, &a.Type, &a.Severity, &a.Title, &a.Message,
			&a.DocumentID, &a.DiffID, &a.Delivered, &a.DeliveredAt,
			&a.Acknowledged, &a.AcknowledgedBy, &a.AcknowledgedAt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkAlertDelivered(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET delivered = true, delivered_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("marking alert delivered: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) AcknowledgeAlert(ctx context.Context, id, by string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET acknowledged = true, acknowledged_by = $2, acknowledged_at = $3 WHERE id = $1`,
		id, by, at)
	if err != nil {
		return fmt.Errorf("acknowledging alert: %w", err)
	}
	return requireRow(res)
}

// --- audit ---

func (s *PostgresStore) CreateAuditEntry(ctx context.Context, e *model.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}
	if e.Status == "" {
		e.Status = model.AuditInProgress
	}
	input, err := json.Marshal(e.Input)
	if err != nil {
		return fmt.Errorf("marshaling audit input: %w", err)
	}

	query := `
		INSERT INTO audit_log
			(id, stage, action, status, document_id, input, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.Stage, e.Action, e.Status, nullString(e.DocumentID), input, e.StartedAt)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) FinalizeAuditEntry(ctx context.Context, e *model.AuditEntry) error {
	output, err := json.Marshal(e.Output)
	if err != nil {
		return fmt.Errorf("marshaling audit output: %w", err)
	}

	query := `
		UPDATE audit_log
		SET status = $2, output = $3, error = $4, completed_at = $5, duration_ms = $6
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query,
		e.ID, e.Status, output, nullString(e.Error), e.CompletedAt, e.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("finalizing audit entry: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) ListAuditEntries(ctx context.Context, stage string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, stage, action, status, COALESCE(document_id, ''),
		       input, output, COALESCE(error, ''), started_at, completed_at,
		       COALESCE(duration_ms, 0)
		FROM audit_log
		WHERE ($1 = '' OR stage = $1)
		ORDER BY started_at DESC LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, stage, limit)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var input, output []byte
		var durationMS int64
		if err := rows.Scan(&e.ID, &e.Stage, &e.Action, &e.Status, &e.DocumentID,
			&input, &output, &e.Error, &e.StartedAt, &e.CompletedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		if len(input) > 0 {
			_ = json.Unmarshal(input, &e.Input)
		}
		if len(output) > 0 {
			_ = json.Unmarshal(output, &e.Output)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
