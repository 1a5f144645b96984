// Package extract pulls raw text out of regulatory PDFs through an
// external document intelligence service.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/regwatchd/internal/config"
)

var (
	// ErrUnavailable indicates no extraction service is configured.
	ErrUnavailable = errors.New("extraction service not configured")

	// ErrEmptyResult indicates the service returned no text.
	ErrEmptyResult = errors.New("extraction returned no text")
)

// Extractor converts a PDF, addressed by URL, into raw text.
type Extractor interface {
	ExtractText(ctx context.Context, pdfURL string) (string, error)
}

// Client calls an HTTP document intelligence service. The service accepts
// a JSON body naming the PDF URL and responds with extracted text plus
// page count.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *zap.Logger
}

// NewClient builds a Client. Returns ErrUnavailable when no endpoint is
// configured so callers can decide whether extraction is optional.
func NewClient(cfg config.ExtractorConfig, logger *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrUnavailable
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		endpoint: cfg.URL,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}, nil
}

type extractRequest struct {
	URL string `json:"url"`
}

type extractResponse struct {
	Text      string `json:"text"`
	PageCount int    `json:"page_count"`
}

// ExtractText submits the PDF for analysis and returns its full text.
func (c *Client) ExtractText(ctx context.Context, pdfURL string) (string, error) {
	if pdfURL == "" {
		return "", errors.New("pdf URL required")
	}

	body, err := json.Marshal(extractRequest{URL: pdfURL})
	if err != nil {
		return "", fmt.Errorf("marshaling extract request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building extract request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling extraction service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("extraction service returned %d: %s", resp.StatusCode, data)
	}

	var out extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding extract response: %w", err)
	}
	if out.Text == "" {
		return "", ErrEmptyResult
	}

	c.logger.Debug("document extracted",
		zap.String("pdf_url", pdfURL),
		zap.Int("chars", len(out.Text)),
		zap.Int("pages", out.PageCount),
		zap.Duration("elapsed", time.Since(start)))
	return out.Text, nil
}

// ExtractUpload submits PDF bytes directly, for documents that have no
// public URL. The service accepts a multipart form with a single "file"
// part and responds with the same text-plus-page-count body.
func (c *Client) ExtractUpload(ctx context.Context, filename string, content []byte) (string, error) {
	if len(content) == 0 {
		return "", errors.New("file content required")
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("building multipart form: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return "", fmt.Errorf("writing file part: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("closing multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("building extract request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling extraction service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("extraction service returned %d: %s", resp.StatusCode, data)
	}

	var out extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding extract response: %w", err)
	}
	if out.Text == "" {
		return "", ErrEmptyResult
	}

	c.logger.Debug("uploaded document extracted",
		zap.String("filename", filename),
		zap.Int("chars", len(out.Text)),
		zap.Int("pages", out.PageCount),
		zap.Duration("elapsed", time.Since(start)))
	return out.Text, nil
}
