// Package http serves the ragpipe pipeline over a JSON HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragpipe/internal/logging"
	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

// Pipeline is what the gateway serves.
type Pipeline interface {
	Mode() rag.Mode
	Answer(ctx context.Context, query string, topK int) rag.AnswerResult
	Ingest(ctx context.Context, req rag.IngestRequest) rag.IngestResult
	Stats(ctx context.Context) rag.Stats
	Reset(ctx context.Context) rag.ResetResult
	Health(ctx context.Context) rag.Health
}

// Server provides the HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	pipeline Pipeline
	logger   *logging.Logger
	config   *Config
	metrics  *gatewayMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
}

// NewServer creates a new HTTP server.
func NewServer(p Pipeline, logger *logging.Logger, cfg *Config) (*Server, error) {
	if p == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "0.0.0.0",
			Port: 8001,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	metrics := newGatewayMetrics(nil, logger.Underlying())
	e.Use(metrics.middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))

			start := time.Now()
			err := next(c)
			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		pipeline: p,
		logger:   logger.Named("http"),
		config:   cfg,
		metrics:  metrics,
	}
	s.registerRoutes()
	return s, nil
}

var endpoints = []string{"GET /", "GET /health", "GET /stats", "POST /query", "POST /ingest", "POST /reset", "GET /metrics"}

func (s *Server) registerRoutes() {
	s.echo.GET("/", s.handleRoot)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/stats", s.handleStats)
	s.echo.POST("/query", s.handleQuery)
	s.echo.POST("/ingest", s.handleIngest)
	s.echo.POST("/reset", s.handleReset)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, RootResponse{
		Message:   fmt.Sprintf("ragpipe %s gateway", s.pipeline.Mode()),
		Mode:      string(s.pipeline.Mode()),
		Version:   s.config.Version,
		Endpoints: endpoints,
	})
}

// handleHealth reports 503 when any backend is down.
func (s *Server) handleHealth(c echo.Context) error {
	h := s.pipeline.Health(c.Request().Context())
	code := http.StatusOK
	if h.Status != rag.Healthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, h)
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.pipeline.Stats(c.Request().Context()))
}

func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid query request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "invalid request body"})
	}
	if strings.TrimSpace(req.Query) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "query field is required"})
	}
	res := s.pipeline.Answer(c.Request().Context(), req.Query, req.TopK)
	s.metrics.recordAnswer(c.Request().Context(), res)
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid ingest request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "invalid request body"})
	}
	if strings.TrimSpace(req.DirectoryPath) == "" && len(req.FilePaths) == 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "directory_path or file_paths is required"})
	}

	res := s.pipeline.Ingest(c.Request().Context(), rag.IngestRequest{
		Files:     req.FilePaths,
		Directory: req.DirectoryPath,
	})
	s.metrics.recordIngest(c.Request().Context(), res)
	return c.JSON(ingestStatus(res), res)
}

// ingestStatus maps a failed ingestion to 400 for caller mistakes and to a
// 5xx code for backend failures.
func ingestStatus(res rag.IngestResult) int {
	if res.OK() {
		return http.StatusOK
	}
	if res.Err == nil {
		return http.StatusBadRequest
	}
	return statusFor(res.Err)
}

func statusFor(err error) int {
	switch rag.KindOf(err) {
	case rag.KindInput:
		return http.StatusBadRequest
	case rag.KindBackendUnavailable:
		return http.StatusServiceUnavailable
	case rag.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleReset(c echo.Context) error {
	res := s.pipeline.Reset(c.Request().Context())
	if res.Status != rag.StatusSuccess {
		return c.JSON(http.StatusInternalServerError, res)
	}
	return c.JSON(http.StatusOK, res)
}

// Start blocks serving on the configured address.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server",
		zap.String("addr", addr),
		zap.String("mode", string(s.pipeline.Mode())),
	)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }
