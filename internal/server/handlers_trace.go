package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/durilabs/duri/internal/consolidate"
	"github.com/durilabs/duri/internal/memory"
	"github.com/durilabs/duri/internal/semantic"
)

// CreateTraceRequest is the request body for POST /api/v1/traces.
type CreateTraceRequest struct {
	Kind    string   `json:"kind"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Outcome string   `json:"outcome"`
	Tags    []string `json:"tags,omitempty"`
}

// SearchRequest is the request body for POST /api/v1/traces/search.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`

	// Filters restricts matches by indexed metadata (kind, outcome).
	Filters map[string]string `json:"filters,omitempty"`
}

// FeedbackRequest is the request body for POST /api/v1/traces/:id/feedback.
type FeedbackRequest struct {
	Type      string `json:"type"`
	Positive  bool   `json:"positive"`
	SessionID string `json:"session_id,omitempty"`
}

func (s *Server) handleCreateTrace(c echo.Context) error {
	var req CreateTraceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	trace, err := memory.NewTrace(
		memory.Kind(req.Kind), req.Title, req.Content,
		memory.Outcome(req.Outcome), req.Tags,
	)
	if err != nil {
		return s.httpError(c, err)
	}

	ctx := c.Request().Context()
	if err := s.deps.Store.Put(ctx, trace); err != nil {
		return s.httpError(c, err)
	}
	if err := s.deps.Index.Add(ctx, []semantic.Document{{
		ID:      trace.ID,
		Content: consolidate.Text(trace),
		Metadata: map[string]string{
			"kind":    string(trace.Kind),
			"outcome": string(trace.Outcome),
		},
	}}); err != nil {
		// A trace that cannot be searched should not exist: roll the
		// write back so store and index stay consistent.
		if delErr := s.deps.Store.Delete(ctx, trace.ID); delErr != nil {
			s.logger.Warn(ctx, "failed to roll back unindexed trace",
				zap.String("trace_id", trace.ID), zap.Error(delErr))
		}
		return s.httpError(c, err)
	}

	s.updateTraceGauge(c)
	return c.JSON(http.StatusCreated, trace)
}

func (s *Server) handleListTraces(c echo.Context) error {
	opts := memory.ListOptions{
		State: memory.State(c.QueryParam("state")),
		Kind:  memory.Kind(c.QueryParam("kind")),
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		opts.Limit = limit
	}

	traces, err := s.deps.Store.List(c.Request().Context(), opts)
	if err != nil {
		return s.httpError(c, err)
	}
	if traces == nil {
		traces = []*memory.Trace{}
	}
	return c.JSON(http.StatusOK, traces)
}

func (s *Server) handleGetTrace(c echo.Context) error {
	trace, err := s.deps.Store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, trace)
}

func (s *Server) handleDeleteTrace(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if err := s.deps.Store.Delete(ctx, id); err != nil {
		return s.httpError(c, err)
	}
	if err := s.deps.Index.Delete(ctx, []string{id}); err != nil {
		// The trace is gone from the store; a stale vector only costs a
		// little recall.
		s.logger.Warn(ctx, "failed to remove trace embedding", zap.String("trace_id", id), zap.Error(err))
	}

	s.updateTraceGauge(c)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSearchTraces(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}

	start := time.Now()
	results, err := s.deps.Index.SearchWithFilters(c.Request().Context(), req.Query, req.Limit, req.Filters)
	if err != nil {
		return s.httpError(c, err)
	}
	s.deps.Metrics.SearchDuration.Observe(time.Since(start).Seconds())

	if results == nil {
		results = []semantic.SearchResult{}
	}
	return c.JSON(http.StatusOK, results)
}

func (s *Server) handleFeedback(c echo.Context) error {
	var req FeedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	sig, err := memory.NewSignal(c.Param("id"), memory.SignalType(req.Type), req.Positive, req.SessionID)
	if err != nil {
		return s.httpError(c, err)
	}

	trace, err := s.deps.Store.RecordSignal(c.Request().Context(), sig)
	if err != nil {
		return s.httpError(c, err)
	}

	s.deps.Metrics.SignalsTotal.WithLabelValues(string(sig.Type)).Inc()
	return c.JSON(http.StatusOK, trace)
}

func (s *Server) updateTraceGauge(c echo.Context) {
	if n, err := s.deps.Store.Count(c.Request().Context()); err == nil {
		s.deps.Metrics.TraceCount.Set(float64(n))
	}
}
