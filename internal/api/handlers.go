package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/regwatchd/internal/model"
	"github.com/fyrsmithlabs/regwatchd/internal/pipeline"
	"github.com/fyrsmithlabs/regwatchd/internal/store"
)

// Version is stamped at build time.
var Version = "dev"

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "healthy", Service: "regwatchd"})
}

func (s *Server) handleWebsocket(c echo.Context) error {
	return s.hub.Serve(c.Response(), c.Request())
}

// IngestRequest is the body of POST /api/documents.
type IngestRequest struct {
	ExternalID string `json:"external_id"`
	Title      string `json:"title"`
	Published  string `json:"published,omitempty"` // RFC 3339 or 2006-01-02
	SourceURL  string `json:"source_url,omitempty"`
	PDFURL     string `json:"pdf_url,omitempty"`
	RawText    string `json:"raw_text,omitempty"`
}

type ingestResponse struct {
	DocumentID string `json:"document_id"`
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

// handleIngest admits a manually submitted document. Processing continues
// asynchronously, so the response is 202. Two submission forms are
// accepted: a JSON body describing an already published circular, or a
// multipart PDF upload whose text is extracted before insert.
func (s *Server) handleIngest(c echo.Context) error {
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		return s.handleIngestUpload(c)
	}

	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ExternalID == "" || req.Title == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "external_id and title are required")
	}

	published := time.Now().UTC()
	if req.Published != "" {
		parsed, err := parseDate(req.Published)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "published must be RFC 3339 or YYYY-MM-DD")
		}
		published = parsed
	}

	doc, err := s.ingestor.Ingest(c.Request().Context(), pipeline.Discovery{
		ExternalID: req.ExternalID,
		Title:      req.Title,
		Published:  published,
		SourceURL:  req.SourceURL,
		PDFURL:     req.PDFURL,
		RawText:    req.RawText,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return echo.NewHTTPError(http.StatusConflict, "document already tracked")
		}
		if errors.Is(err, model.ErrInvalid) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		s.logger.Error("ingesting document", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "ingestion failed")
	}

	return c.JSON(http.StatusAccepted, ingestResponse{
		DocumentID: doc.ID,
		ExternalID: doc.ExternalID,
		Status:     string(doc.Status),
		Message:    "document ingestion started",
	})
}

// handleIngestUpload ingests a PDF file with no public URL. The external
// id is minted from the upload time, the title from the filename.
func (s *Server) handleIngestUpload(c echo.Context) error {
	if s.uploader == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "document upload is not configured")
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field \"file\" is required")
	}
	if !strings.HasSuffix(strings.ToLower(fh.Filename), ".pdf") {
		return echo.NewHTTPError(http.StatusBadRequest, "only PDF files allowed")
	}
	title := fh.Filename[:len(fh.Filename)-len(".pdf")]

	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "reading uploaded file")
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "reading uploaded file")
	}

	ctx := c.Request().Context()
	text, err := s.uploader.ExtractUpload(ctx, fh.Filename, content)
	if err != nil {
		s.logger.Error("extracting uploaded document", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "text extraction failed")
	}

	now := time.Now().UTC()
	doc, err := s.ingestor.Ingest(ctx, pipeline.Discovery{
		ExternalID: "MANUAL-" + now.Format("20060102-150405"),
		Title:      title,
		Published:  now,
		SourceURL:  "manual_upload/" + fh.Filename,
		RawText:    text,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return echo.NewHTTPError(http.StatusConflict, "document already tracked")
		}
		s.logger.Error("ingesting uploaded document", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "ingestion failed")
	}

	return c.JSON(http.StatusAccepted, ingestResponse{
		DocumentID: doc.ID,
		ExternalID: doc.ExternalID,
		Status:     string(doc.Status),
		Message:    "document ingestion started",
	})
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

type scoreResponse struct {
	Score          float64            `json:"score"`
	TotalIssues    int                `json:"total_issues"`
	PendingReviews int                `json:"pending_reviews"`
	CriticalIssues int                `json:"critical_issues"`
	HighIssues     int                `json:"high_issues"`
	Breakdown      map[string]float64 `json:"score_breakdown"`
	CalculatedAt   string             `json:"calculated_at"`
}

func (s *Server) handleScore(c echo.Context) error {
	snap, err := s.store.LatestSnapshot(c.Request().Context())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no compliance score recorded yet")
		}
		s.logger.Error("loading score", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load score")
	}

	breakdown := snap.Breakdown
	if breakdown == nil {
		breakdown = map[string]float64{}
	}
	return c.JSON(http.StatusOK, scoreResponse{
		Score:          snap.Score,
		TotalIssues:    snap.TotalIssues,
		PendingReviews: snap.PendingReviews,
		CriticalIssues: snap.CriticalIssues,
		HighIssues:     snap.HighIssues,
		Breakdown:      breakdown,
		CalculatedAt:   snap.CalculatedAt.UTC().Format(time.RFC3339),
	})
}

type alertResponse struct {
	ID           string `json:"id"`
	Type         string `json:"alert_type"`
	Severity     string `json:"severity"`
	Title        string `json:"title"`
	Message      string `json:"message"`
	Acknowledged bool   `json:"acknowledged"`
	CreatedAt    string `json:"created_at"`
}

func (s *Server) handleListAlerts(c echo.Context) error {
	alerts, err := s.store.ListAlerts(c.Request().Context(), store.AlertFilter{
		Severity: model.Severity(c.QueryParam("severity")),
		Limit:    intParam(c, "limit", 20),
		Offset:   intParam(c, "offset", 0),
	})
	if err != nil {
		s.logger.Error("listing alerts", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list alerts")
	}

	out := make([]alertResponse, len(alerts))
	for i, a := range alerts {
		out[i] = alertResponse{
			ID:           a.ID,
			Type:         a.Type,
			Severity:     string(a.Severity),
			Title:        a.Title,
			Message:      a.Message,
			Acknowledged: a.Acknowledged,
			CreatedAt:    a.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	return c.JSON(http.StatusOK, out)
}

// AckRequest is the body of POST /api/alerts/:id/ack.
type AckRequest struct {
	AcknowledgedBy string `json:"acknowledged_by"`
}

func (s *Server) handleAckAlert(c echo.Context) error {
	var req AckRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.AcknowledgedBy == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "acknowledged_by is required")
	}

	err := s.store.AcknowledgeAlert(c.Request().Context(), c.Param("id"), req.AcknowledgedBy, time.Now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "alert not found")
		}
		s.logger.Error("acknowledging alert", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to acknowledge alert")
	}
	return c.NoContent(http.StatusNoContent)
}

type documentResponse struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	Title      string `json:"title"`
	Published  string `json:"published"`
	Status     string `json:"status"`
	SourceURL  string `json:"source_url"`
	ChunkCount int    `json:"chunk_count"`
}

func (s *Server) handleListDocuments(c echo.Context) error {
	docs, err := s.store.ListDocuments(c.Request().Context(),
		intParam(c, "limit", 10), intParam(c, "offset", 0))
	if err != nil {
		s.logger.Error("listing documents", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list documents")
	}

	out := make([]documentResponse, len(docs))
	for i, d := range docs {
		out[i] = documentResponse{
			ID:         d.ID,
			ExternalID: d.ExternalID,
			Title:      d.Title,
			Published:  d.Published.UTC().Format(time.RFC3339),
			Status:     string(d.Status),
			SourceURL:  d.SourceURL,
			ChunkCount: d.ChunkCount,
		}
	}
	return c.JSON(http.StatusOK, out)
}

type diffResponse struct {
	ID              string `json:"id"`
	DocumentID      string `json:"document_id"`
	PolicyID        string `json:"policy_id"`
	Type            string `json:"diff_type"`
	Severity        string `json:"severity"`
	AffectedSection string `json:"affected_section"`
	Description     string `json:"description"`
	Recommendation  string `json:"recommendation"`
	Review          string `json:"review_status"`
	CreatedAt       string `json:"created_at"`
}

func (s *Server) handleListDiffs(c echo.Context) error {
	diffs, err := s.store.ListDiffs(c.Request().Context(), store.DiffFilter{
		Review: model.ReviewStatus(c.QueryParam("status")),
		Limit:  intParam(c, "limit", 20),
		Offset: intParam(c, "offset", 0),
	})
	if err != nil {
		s.logger.Error("listing diffs", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list diffs")
	}

	out := make([]diffResponse, len(diffs))
	for i, d := range diffs {
		out[i] = diffResponse{
			ID:              d.ID,
			DocumentID:      d.DocumentID,
			PolicyID:        d.PolicyID,
			Type:            string(d.Type),
			Severity:        string(d.Severity),
			AffectedSection: d.AffectedSection,
			Description:     d.Description,
			Recommendation:  d.Recommendation,
			Review:          string(d.Review),
			CreatedAt:       d.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	return c.JSON(http.StatusOK, out)
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleChat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	resp := s.adviser.Answer(c.Request().Context(), req.Query)
	return c.JSON(http.StatusOK, resp)
}

type auditResponse struct {
	ID          string  `json:"id"`
	Stage       string  `json:"stage"`
	Action      string  `json:"action"`
	Status      string  `json:"status"`
	DocumentID  string  `json:"document_id,omitempty"`
	Error       string  `json:"error,omitempty"`
	StartedAt   string  `json:"started_at"`
	DurationSec float64 `json:"duration_seconds"`
}

func (s *Server) handleListAudit(c echo.Context) error {
	entries, err := s.store.ListAuditEntries(c.Request().Context(),
		c.QueryParam("stage"), intParam(c, "limit", 50))
	if err != nil {
		s.logger.Error("listing audit entries", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list audit entries")
	}

	out := make([]auditResponse, len(entries))
	for i, e := range entries {
		out[i] = auditResponse{
			ID:          e.ID,
			Stage:       e.Stage,
			Action:      e.Action,
			Status:      string(e.Status),
			DocumentID:  e.DocumentID,
			Error:       e.Error,
			StartedAt:   e.StartedAt.UTC().Format(time.RFC3339),
			DurationSec: e.Duration.Seconds(),
		}
	}
	return c.JSON(http.StatusOK, out)
}

type statusResponse struct {
	Service        string  `json:"service"`
	Version        string  `json:"version"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
	WSConnections  int     `json:"ws_connections"`
	PendingReviews int     `json:"pending_reviews"`
}

func (s *Server) handleStatus(c echo.Context) error {
	pending, err := s.store.CountPendingReviews(c.Request().Context())
	if err != nil {
		s.logger.Error("counting pending reviews", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load status")
	}

	wsConns := 0
	if s.hub != nil {
		wsConns = s.hub.ConnectionCount()
	}
	return c.JSON(http.StatusOK, statusResponse{
		Service:        "regwatchd",
		Version:        Version,
		UptimeSeconds:  time.Since(s.started).Seconds(),
		WSConnections:  wsConns,
		PendingReviews: pending,
	})
}

func intParam(c echo.Context, name string, def int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
