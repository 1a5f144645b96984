// Package api exposes the REST and websocket surface of regwatchd.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/regwatchd/internal/advisor"
	"github.com/fyrsmithlabs/regwatchd/internal/config"
	"github.com/fyrsmithlabs/regwatchd/internal/model"
	"github.com/fyrsmithlabs/regwatchd/internal/pipeline"
	"github.com/fyrsmithlabs/regwatchd/internal/store"
	"github.com/fyrsmithlabs/regwatchd/internal/ws"
)

// Ingestor admits manually submitted documents into the pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, d pipeline.Discovery) (*model.Document, error)
}

// Adviser answers compliance questions.
type Adviser interface {
	Answer(ctx context.Context, query string) *advisor.Response
}

// Uploader extracts text from PDF bytes submitted through the upload
// endpoint.
type Uploader interface {
	ExtractUpload(ctx context.Context, filename string, content []byte) (string, error)
}

// Server wires the echo instance over the service's capabilities.
type Server struct {
	echo     *echo.Echo
	store    store.Store
	ingestor Ingestor
	adviser  Adviser
	uploader Uploader
	hub      *ws.Hub
	logger   *zap.Logger
	cfg      config.ServerConfig
	started  time.Time
}

// NewServer builds the HTTP server and registers all routes. The uploader
// may be nil; the upload endpoint then rejects multipart submissions.
func NewServer(st store.Store, ing Ingestor, adv Adviser, up Uploader, hub *ws.Hub, cfg config.ServerConfig, logger *zap.Logger) (*Server, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))
	e.Use(metricsMiddleware())

	s := &Server{
		echo:     e,
		store:    st,
		ingestor: ing,
		adviser:  adv,
		uploader: up,
		hub:      hub,
		logger:   logger,
		cfg:      cfg,
		started:  time.Now(),
	}
	s.registerRoutes()
	return s, nil
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/ws", s.handleWebsocket)

	api := s.echo.Group("/api")
	api.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(20))))

	api.POST("/documents", s.handleIngest)
	api.GET("/documents", s.handleListDocuments)
	api.GET("/score", s.handleScore)
	api.GET("/alerts", s.handleListAlerts)
	api.POST("/alerts/:id/ack", s.handleAckAlert)
	api.GET("/diffs", s.handleListDiffs)
	api.POST("/chat", s.handleChat)
	api.GET("/audit", s.handleListAudit)
	api.GET("/status", s.handleStatus)
}

// Echo exposes the underlying echo instance for tests and auxiliary route
// registration.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info("http server starting", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("starting http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.echo.Shutdown(ctx)
}
