package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/durilabs/duri/internal/reasoning"
)

// PathRequest is the request body for POST /api/v1/reason/path.
type PathRequest struct {
	Start string `json:"start"`
	Goal  string `json:"goal"`
}

// ValidateRequest is the request body for POST /api/v1/reason/validate.
type ValidateRequest struct {
	Nodes []string `json:"nodes"`
}

// LandmarkRequest is the request body for POST /api/v1/reason/landmark.
type LandmarkRequest struct {
	ID string `json:"id"`
}

// GraphStatsResponse is the response body for GET /api/v1/reason/stats.
type GraphStatsResponse struct {
	Concepts  int `json:"concepts"`
	Relations int `json:"relations"`
}

func (s *Server) handleAddConcept(c echo.Context) error {
	var concept reasoning.Concept
	if err := c.Bind(&concept); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := s.deps.Graph.AddConcept(c.Request().Context(), &concept); err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, concept)
}

func (s *Server) handleRemoveConcept(c echo.Context) error {
	if err := s.deps.Graph.RemoveConcept(c.Request().Context(), c.Param("id")); err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleAddRelation(c echo.Context) error {
	var relation reasoning.Relation
	if err := c.Bind(&relation); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := s.deps.Graph.AddRelation(c.Request().Context(), &relation); err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, relation)
}

func (s *Server) handleSetLandmark(c echo.Context) error {
	var req LandmarkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "landmark concept id is required")
	}

	if err := s.deps.Graph.SetLandmark(c.Request().Context(), req.ID); err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleFindPath(c echo.Context) error {
	var req PathRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Start == "" || req.Goal == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "start and goal are required")
	}

	result, err := s.deps.Graph.FindPath(c.Request().Context(), req.Start, req.Goal)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleValidatePath(c echo.Context) error {
	var req ValidateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	validation, err := s.deps.Graph.ValidatePath(c.Request().Context(), req.Nodes)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, validation)
}

func (s *Server) handleGraphStats(c echo.Context) error {
	concepts, relations := s.deps.Graph.Stats()
	return c.JSON(http.StatusOK, GraphStatsResponse{Concepts: concepts, Relations: relations})
}
