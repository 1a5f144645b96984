package extract

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/regwatchd/internal/config"
)

func TestNewClient_NoEndpoint(t *testing.T) {
	_, err := NewClient(config.ExtractorConfig{}, nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestExtractText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req extractRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://regulator.example/c1.pdf", req.URL)

		json.NewEncoder(w).Encode(extractResponse{Text: "circular body", PageCount: 3})
	}))
	defer srv.Close()

	c, err := NewClient(config.ExtractorConfig{URL: srv.URL, Timeout: 5 * time.Second}, nil)
	require.NoError(t, err)

	text, err := c.ExtractText(context.Background(), "https://regulator.example/c1.pdf")
	require.NoError(t, err)
	assert.Equal(t, "circular body", text)
}

func TestExtractText_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewClient(config.ExtractorConfig{URL: srv.URL}, nil)
	require.NoError(t, err)

	_, err = c.ExtractText(context.Background(), "https://regulator.example/c1.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestExtractText_EmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(extractResponse{})
	}))
	defer srv.Close()

	c, err := NewClient(config.ExtractorConfig{URL: srv.URL}, nil)
	require.NoError(t, err)

	_, err = c.ExtractText(context.Background(), "https://regulator.example/c1.pdf")
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestExtractUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "circular.pdf", header.Filename)

		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, []byte("%PDF-1.7 fake"), data)

		json.NewEncoder(w).Encode(extractResponse{Text: "uploaded body", PageCount: 1})
	}))
	defer srv.Close()

	c, err := NewClient(config.ExtractorConfig{URL: srv.URL}, nil)
	require.NoError(t, err)

	text, err := c.ExtractUpload(context.Background(), "circular.pdf", []byte("%PDF-1.7 fake"))
	require.NoError(t, err)
	assert.Equal(t, "uploaded body", text)
}

func TestExtractUpload_EmptyContent(t *testing.T) {
	c, err := NewClient(config.ExtractorConfig{URL: "http://localhost:9"}, nil)
	require.NoError(t, err)

	_, err = c.ExtractUpload(context.Background(), "circular.pdf", nil)
	assert.Error(t, err)
}

func TestExtractText_EmptyURL(t *testing.T) {
	c, err := NewClient(config.ExtractorConfig{URL: "http://localhost:9"}, nil)
	require.NoError(t, err)

	_, err = c.ExtractText(context.Background(), "")
	assert.Error(t, err)
}
