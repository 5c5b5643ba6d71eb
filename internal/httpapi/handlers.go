package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fulcrumsec/pentestd/internal/playbook"
	"github.com/fulcrumsec/pentestd/internal/run"
	"github.com/fulcrumsec/pentestd/internal/session"
)

// CreateSessionRequest is the request body for POST /api/v1/sessions.
type CreateSessionRequest struct {
	Name        string   `json:"name"`
	TargetScope []string `json:"target_scope"`
	Notes       string   `json:"notes"`
}

// StartRunRequest is the request body for POST /api/v1/sessions/:id/runs.
type StartRunRequest struct {
	Objective    string `json:"objective"`
	MaxSteps     int    `json:"max_steps"`
	ApprovalMode string `json:"approval_mode"`
	PlaybookID   string `json:"playbook_id"`
}

// ResolveApprovalRequest is the request body for
// POST /api/v1/sessions/:id/approvals/:step_id.
type ResolveApprovalRequest struct {
	Approved bool `json:"approved"`
}

// InjectMessageRequest is the request body for
// POST /api/v1/sessions/:id/messages.
type InjectMessageRequest struct {
	Message string `json:"message"`
}

// ChatRequest is the request body for POST /api/v1/sessions/:id/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleCreateSession(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}

	sess := s.sessions.Create(req.Name, req.TargetScope, req.Notes)
	return c.JSON(http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleListSessions(c echo.Context) error {
	all := s.sessions.List()
	out := make([]session.Info, 0, len(all))
	for _, sess := range all {
		out = append(out, sess.Snapshot())
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetSession(c echo.Context) error {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session": sess.Snapshot(),
		"run":     s.orch.Status(sess.ID),
	})
}

func (s *Server) handleDeleteSession(c echo.Context) error {
	id := c.Param("id")
	if s.orch.Status(id).Active {
		return echo.NewHTTPError(http.StatusConflict, "session has an active run")
	}
	if err := s.sessions.Delete(id); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListFindings(c echo.Context) error {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.JSON(http.StatusOK, sess.Findings())
}

func (s *Server) handleSessionLog(c echo.Context) error {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.JSON(http.StatusOK, sess.Log())
}

func (s *Server) handleChat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	reply, err := s.orch.Chat(c.Request().Context(), c.Param("id"), req.Message)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, reply)
	case errors.Is(err, session.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	case errors.Is(err, run.ErrInvalidParams):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("chat failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "chat failed")
	}
}

func (s *Server) handleChatHistory(c echo.Context) error {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.JSON(http.StatusOK, sess.ChatHistory(0))
}

func (s *Server) handleListPlaybooks(c echo.Context) error {
	return c.JSON(http.StatusOK, s.playbooks.List())
}

func (s *Server) handleGetPlaybook(c echo.Context) error {
	p, err := s.playbooks.Get(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "playbook not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleStartRun(c echo.Context) error {
	var req StartRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	err := s.orch.StartRun(c.Request().Context(), c.Param("id"), run.Params{
		Objective:    req.Objective,
		MaxSteps:     req.MaxSteps,
		ApprovalMode: run.ApprovalMode(req.ApprovalMode),
		PlaybookID:   req.PlaybookID,
	})
	switch {
	case err == nil:
		return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
	case errors.Is(err, run.ErrAlreadyRunning):
		return echo.NewHTTPError(http.StatusConflict, "run already active")
	case errors.Is(err, playbook.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "playbook not found")
	case errors.Is(err, session.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	case errors.Is(err, run.ErrInvalidParams):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("start run failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "start run failed")
	}
}

func (s *Server) handleRunStatus(c echo.Context) error {
	if _, err := s.sessions.Get(c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.JSON(http.StatusOK, s.orch.Status(c.Param("id")))
}

func (s *Server) handleStopRun(c echo.Context) error {
	if _, err := s.sessions.Get(c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	s.orch.StopRun(c.Param("id"))
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResolveApproval(c echo.Context) error {
	var req ResolveApprovalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	err := s.orch.ResolveApproval(c.Param("id"), c.Param("step_id"), req.Approved)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, run.ErrNoPending):
		return echo.NewHTTPError(http.StatusConflict, "no pending approval for step")
	case errors.Is(err, run.ErrAlreadyResolved):
		return echo.NewHTTPError(http.StatusConflict, "approval already resolved")
	default:
		s.logger.Error("resolve approval failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "resolve approval failed")
	}
}

func (s *Server) handleInjectMessage(c echo.Context) error {
	var req InjectMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}

	err := s.orch.InjectMessage(c.Param("id"), req.Message)
	switch {
	case err == nil:
		return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
	case errors.Is(err, run.ErrNotActive):
		return echo.NewHTTPError(http.StatusConflict, "no active run")
	default:
		s.logger.Error("inject message failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "inject message failed")
	}
}
