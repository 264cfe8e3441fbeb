package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/durilabs/duri/internal/judgment"
	"github.com/durilabs/duri/internal/logging"
	"github.com/durilabs/duri/internal/session"
)

// tagSession stamps the session ID onto the request context so the
// request log and any context-aware log lines correlate to it.
func tagSession(c echo.Context, id string) context.Context {
	ctx := logging.WithSessionID(c.Request().Context(), id)
	c.SetRequest(c.Request().WithContext(ctx))
	return ctx
}

// BeginSessionRequest is the request body for POST /api/v1/sessions.
type BeginSessionRequest struct {
	Label string `json:"label,omitempty"`
}

// CheckpointRequest is the request body for
// POST /api/v1/sessions/:id/checkpoints.
type CheckpointRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Summary     string `json:"summary"`
	Context     string `json:"context,omitempty"`
	FullState   string `json:"full_state,omitempty"`
	AutoCreated bool   `json:"auto_created,omitempty"`
}

// ResumeRequest is the request body for POST /api/v1/checkpoints/:id/resume.
type ResumeRequest struct {
	Level string `json:"level"`
}

func (s *Server) handleBeginSession(c echo.Context) error {
	var req BeginSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	sess, err := s.deps.Sessions.Begin(c.Request().Context(), req.Label)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, sess)
}

func (s *Server) handleListSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Sessions.List())
}

func (s *Server) handleGetSession(c echo.Context) error {
	tagSession(c, c.Param("id"))
	sess, err := s.deps.Sessions.Get(c.Param("id"))
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) handleTouchSession(c echo.Context) error {
	tagSession(c, c.Param("id"))
	if err := s.deps.Sessions.Touch(c.Param("id")); err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleEndSession(c echo.Context) error {
	tagSession(c, c.Param("id"))
	if err := s.deps.Sessions.End(c.Param("id")); err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSaveCheckpoint(c echo.Context) error {
	var req CheckpointRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	cp, err := s.deps.Sessions.SaveCheckpoint(tagSession(c, c.Param("id")), &session.SaveRequest{
		SessionID:   c.Param("id"),
		Name:        req.Name,
		Description: req.Description,
		Summary:     req.Summary,
		Context:     req.Context,
		FullState:   req.FullState,
		AutoCreated: req.AutoCreated,
	})
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, cp)
}

func (s *Server) handleListCheckpoints(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}

	cps, err := s.deps.Sessions.ListCheckpoints(tagSession(c, c.Param("id")), c.Param("id"), limit)
	if err != nil {
		return s.httpError(c, err)
	}
	if cps == nil {
		cps = []*session.Checkpoint{}
	}
	return c.JSON(http.StatusOK, cps)
}

func (s *Server) handleGetCheckpoint(c echo.Context) error {
	cp, err := s.deps.Sessions.GetCheckpoint(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, cp)
}

func (s *Server) handleDeleteCheckpoint(c echo.Context) error {
	if err := s.deps.Sessions.DeleteCheckpoint(c.Request().Context(), c.Param("id")); err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleResume(c echo.Context) error {
	var req ResumeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := s.deps.Sessions.Resume(c.Request().Context(), c.Param("id"), session.ResumeLevel(req.Level))
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleJudge(c echo.Context) error {
	var decision judgment.DecisionContext
	if err := c.Bind(&decision); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	verdict, err := s.deps.Judge.Evaluate(c.Request().Context(), &decision)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, verdict)
}
