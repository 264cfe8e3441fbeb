// Package server exposes duri's HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/durilabs/duri/internal/consolidate"
	"github.com/durilabs/duri/internal/judgment"
	"github.com/durilabs/duri/internal/logging"
	"github.com/durilabs/duri/internal/memory"
	"github.com/durilabs/duri/internal/reasoning"
	"github.com/durilabs/duri/internal/semantic"
	"github.com/durilabs/duri/internal/session"
	"github.com/durilabs/duri/internal/telemetry"
)

// Index is the slice of the semantic index the server consumes.
type Index interface {
	Add(ctx context.Context, docs []semantic.Document) error
	Delete(ctx context.Context, ids []string) error
	SearchWithFilters(ctx context.Context, query string, k int, filters map[string]string) ([]semantic.SearchResult, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// ConsolidateThreshold is the default similarity threshold for manual
	// consolidation runs.
	ConsolidateThreshold float64
}

// Deps are the services the server exposes.
type Deps struct {
	Store     memory.Store
	Index     Index
	Graph     *reasoning.Graph
	Judge     *judgment.Engine
	Sessions  *session.Manager
	Distiller *consolidate.Distiller
	Metrics   *telemetry.Metrics
}

// Server provides HTTP endpoints for duri.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *logging.Logger
	config *Config
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(deps Deps, logger *logging.Logger, cfg *Config) (*Server, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if deps.Index == nil {
		return nil, fmt.Errorf("index cannot be nil")
	}
	if deps.Graph == nil {
		return nil, fmt.Errorf("graph cannot be nil")
	}
	if deps.Judge == nil {
		return nil, fmt.Errorf("judgment engine cannot be nil")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session manager cannot be nil")
	}
	if deps.Distiller == nil {
		return nil, fmt.Errorf("distiller cannot be nil")
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NewMetrics()
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9120, ConsolidateThreshold: 0.85}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Carry the request ID in the context so every log line
			// produced while serving this request correlates to it.
			req := c.Request()
			ctx := logging.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
			c.SetRequest(req.WithContext(ctx))

			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			// Re-read the context: handlers may have tagged it further
			// (session ID).
			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
			)

			deps.Metrics.RequestsTotal.WithLabelValues(
				c.Request().Method,
				c.Path(),
				strconv.Itoa(c.Response().Status),
			).Inc()
			return err
		}
	})

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(s.deps.Metrics.Handler()))

	v1 := s.echo.Group("/api/v1")

	v1.POST("/traces", s.handleCreateTrace)
	v1.GET("/traces", s.handleListTraces)
	v1.GET("/traces/:id", s.handleGetTrace)
	v1.DELETE("/traces/:id", s.handleDeleteTrace)
	v1.POST("/traces/search", s.handleSearchTraces)
	v1.POST("/traces/:id/feedback", s.handleFeedback)

	v1.POST("/reason/concepts", s.handleAddConcept)
	v1.DELETE("/reason/concepts/:id", s.handleRemoveConcept)
	v1.POST("/reason/relations", s.handleAddRelation)
	v1.POST("/reason/landmark", s.handleSetLandmark)
	v1.POST("/reason/path", s.handleFindPath)
	v1.POST("/reason/validate", s.handleValidatePath)
	v1.GET("/reason/stats", s.handleGraphStats)

	v1.POST("/judge", s.handleJudge)

	v1.POST("/sessions", s.handleBeginSession)
	v1.GET("/sessions", s.handleListSessions)
	v1.GET("/sessions/:id", s.handleGetSession)
	v1.POST("/sessions/:id/touch", s.handleTouchSession)
	v1.DELETE("/sessions/:id", s.handleEndSession)
	v1.POST("/sessions/:id/checkpoints", s.handleSaveCheckpoint)
	v1.GET("/sessions/:id/checkpoints", s.handleListCheckpoints)
	v1.GET("/checkpoints/:id", s.handleGetCheckpoint)
	v1.DELETE("/checkpoints/:id", s.handleDeleteCheckpoint)
	v1.POST("/checkpoints/:id/resume", s.handleResume)

	v1.POST("/consolidate", s.handleConsolidate)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// httpError maps service sentinel errors to HTTP status codes.
func (s *Server) httpError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, memory.ErrNotFound),
		errors.Is(err, reasoning.ErrNodeNotFound),
		errors.Is(err, reasoning.ErrNoPath),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrCheckpointNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())

	case errors.Is(err, session.ErrSessionEnded):
		return echo.NewHTTPError(http.StatusConflict, err.Error())

	case errors.Is(err, memory.ErrInvalidTrace),
		errors.Is(err, memory.ErrEmptyTitle),
		errors.Is(err, memory.ErrEmptyContent),
		errors.Is(err, memory.ErrInvalidKind),
		errors.Is(err, memory.ErrInvalidOutcome),
		errors.Is(err, memory.ErrEmptyTraceID),
		errors.Is(err, memory.ErrInvalidSignalType),
		errors.Is(err, reasoning.ErrNodeExists),
		errors.Is(err, reasoning.ErrInvalidConcept),
		errors.Is(err, reasoning.ErrInvalidRelation),
		errors.Is(err, reasoning.ErrEmptyPath),
		errors.Is(err, judgment.ErrInvalidContext),
		errors.Is(err, session.ErrEmptyName),
		errors.Is(err, session.ErrInvalidLevel),
		errors.Is(err, semantic.ErrEmptyQuery),
		errors.Is(err, consolidate.ErrInvalidThreshold):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	s.logger.Error(c.Request().Context(), "internal error", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
