package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/durilabs/duri/internal/consolidate"
)

// ConsolidateRequest is the request body for POST /api/v1/consolidate.
type ConsolidateRequest struct {
	// Threshold overrides the configured similarity threshold.
	Threshold float64 `json:"threshold,omitempty"`

	// MaxClusters caps merged clusters for this run. 0 means no cap.
	MaxClusters int `json:"max_clusters,omitempty"`

	// DryRun reports clusters without writing.
	DryRun bool `json:"dry_run,omitempty"`
}

func (s *Server) handleConsolidate(c echo.Context) error {
	var req ConsolidateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	opts := consolidate.Options{
		SimilarityThreshold: req.Threshold,
		MaxClusters:         req.MaxClusters,
		DryRun:              req.DryRun,
	}
	if opts.SimilarityThreshold == 0 {
		opts.SimilarityThreshold = s.config.ConsolidateThreshold
	}

	result, err := s.deps.Distiller.Run(c.Request().Context(), opts)
	if err != nil {
		s.deps.Metrics.ConsolidationRuns.WithLabelValues("error").Inc()
		return s.httpError(c, err)
	}

	s.deps.Metrics.ConsolidationRuns.WithLabelValues("success").Inc()
	s.deps.Metrics.ConsolidationDuration.Observe(result.Duration.Seconds())
	s.updateTraceGauge(c)
	return c.JSON(http.StatusOK, result)
}
