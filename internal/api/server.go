package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"skillforge/internal/auth"
	"skillforge/internal/logging"
	"skillforge/internal/services"
	"skillforge/pkg/models"
)

// Orchestrator is the slice of the workflow core the HTTP surface needs.
type Orchestrator interface {
	Trigger(ctx context.Context, req services.TriggerRequest) (*services.TriggerReceipt, error)
	FetchContext(ctx context.Context, workflowID string) (*services.ContextFetchResult, error)
	StoreSubtask(ctx context.Context, req services.StoreSubtaskRequest) (*services.StoreSubtaskResult, error)
	Status(ctx context.Context, callerID, workflowID string) (*services.StatusReport, error)
	Subtasks(ctx context.Context, userID, domainID, subdomainID string, status models.SubtaskStatus) ([]*models.Subtask, error)
	SubmitAttempt(ctx context.Context, callerID, taskID string, sub services.AttemptSubmission) (*models.Subtask, error)
}

// Server holds the dependencies for the REST API.
type Server struct {
	Orch   Orchestrator
	Logger *logging.Logger
}

// NewServer creates a new Server.
func NewServer(orch Orchestrator, logger *logging.Logger) *Server {
	return &Server{Orch: orch, Logger: logger}
}

// RegisterRoutes mounts the learner-facing and platform-facing route groups.
// The two groups sit behind different middleware so neither credential space
// can reach the other's handlers.
func (s *Server) RegisterRoutes(e *echo.Echo, a *auth.Auth) {
	e.GET("/healthz", HandleHealth)

	user := e.Group("/api/v1", a.RequireUser())
	user.POST("/personalize/trigger", s.TriggerPersonalization)
	user.GET("/personalize/status/:workflow_id", s.GetWorkflowStatus)
	user.GET("/subtasks/:user_id/:domain_id/:subdomain_id", s.ListSubtasks)
	user.POST("/subtasks/:task_id/attempts", s.SubmitAttempt)

	agent := e.Group("/agent/v1", a.RequireAgent())
	agent.POST("/context-fetch", s.FetchContext)
	agent.POST("/store-subtask", s.StoreSubtask)
}

// TriggerPersonalization starts a workflow for a completed module.
// (POST /api/v1/personalize/trigger)
func (s *Server) TriggerPersonalization(c echo.Context) error {
	ctx := c.Request().Context()

	var req services.TriggerRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}

	caller := auth.CallerUserID(c)
	if req.UserID == "" {
		req.UserID = caller
	}
	if req.UserID != caller {
		return fmt.Errorf("%w: cannot trigger personalization for another user", models.ErrUnauthorized)
	}

	receipt, err := s.Orch.Trigger(ctx, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, receipt)
}

// GetWorkflowStatus returns the pollable view of a workflow. The ownership
// check lives in the orchestrator, against the stored owner.
// (GET /api/v1/personalize/status/:workflow_id)
func (s *Server) GetWorkflowStatus(c echo.Context) error {
	ctx := c.Request().Context()

	report, err := s.Orch.Status(ctx, auth.CallerUserID(c), c.Param("workflow_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// ListSubtasks returns a learner's generated practice for one subdomain.
// (GET /api/v1/subtasks/:user_id/:domain_id/:subdomain_id?status=active)
func (s *Server) ListSubtasks(c echo.Context) error {
	ctx := c.Request().Context()
	userID := c.Param("user_id")
	if userID != auth.CallerUserID(c) {
		return fmt.Errorf("%w: cannot list another user's subtasks", models.ErrUnauthorized)
	}

	status := models.SubtaskStatus(c.QueryParam("status"))
	if status == "" {
		status = models.SubtaskStatusActive
	}
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status filter %q", models.ErrInvalidRequest, status)
	}

	tasks, err := s.Orch.Subtasks(ctx, userID, c.Param("domain_id"), c.Param("subdomain_id"), status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"subtasks": tasks,
		"count":    len(tasks),
	})
}

// SubmitAttempt records a graded learner answer against a subtask.
// (POST /api/v1/subtasks/:task_id/attempts)
func (s *Server) SubmitAttempt(c echo.Context) error {
	ctx := c.Request().Context()

	var sub services.AttemptSubmission
	if err := c.Bind(&sub); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}

	task, err := s.Orch.SubmitAttempt(ctx, auth.CallerUserID(c), c.Param("task_id"), sub)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, task)
}

// contextFetchRequest is the Phase-1 callback payload.
type contextFetchRequest struct {
	WorkflowID string `json:"workflow_id"`
}

// FetchContext serves the Phase-1 context callback.
// (POST /agent/v1/context-fetch)
func (s *Server) FetchContext(c echo.Context) error {
	ctx := c.Request().Context()

	var req contextFetchRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}
	if req.WorkflowID == "" {
		return fmt.Errorf("%w: workflow_id is required", models.ErrInvalidRequest)
	}

	result, err := s.Orch.FetchContext(ctx, req.WorkflowID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// StoreSubtask serves the Phase-2 result callback.
// (POST /agent/v1/store-subtask)
func (s *Server) StoreSubtask(c echo.Context) error {
	ctx := c.Request().Context()

	var req services.StoreSubtaskRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}
	if req.WorkflowID == "" {
		return fmt.Errorf("%w: workflow_id is required", models.ErrInvalidRequest)
	}

	result, err := s.Orch.StoreSubtask(ctx, req)
	if err != nil {
		return err
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	return c.JSON(status, result)
}
