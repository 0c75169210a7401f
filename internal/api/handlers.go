// Package api contains the HTTP handlers for the personalization service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"skillforge/internal/logging"
	"skillforge/pkg/models"
)

// ProblemDetails represents an RFC 7807 Problem Details response.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth returns basic health status (always returns 200 OK).
func HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "skillforge",
		Version:   "1.0.0",
	})
}

// statusFor maps classified orchestration errors to HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrUnknownWorkflow):
		return http.StatusNotFound, "Workflow Not Found"
	case errors.Is(err, models.ErrSubtaskNotFound):
		return http.StatusNotFound, "Subtask Not Found"
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, models.ErrDuplicateTrigger):
		return http.StatusConflict, "Trigger Already In Flight"
	case errors.Is(err, models.ErrDuplicateTask):
		return http.StatusConflict, "Task ID Conflict"
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, "Invalid Workflow State"
	case errors.Is(err, models.ErrAttemptLimit), errors.Is(err, models.ErrSubtaskCompleted):
		return http.StatusConflict, "No Further Attempts Accepted"
	case errors.Is(err, models.ErrAggregationUnavailable):
		return http.StatusBadGateway, "Context Aggregation Unavailable"
	case errors.Is(err, models.ErrInvalidRequest):
		return http.StatusBadRequest, "Invalid Request"
	default:
		return http.StatusInternalServerError, "Internal Server Error"
	}
}

// ErrorHandler returns an echo error handler that renders every error as an
// RFC 7807 problem+json document. Handlers and middleware return classified
// errors; the mapping to status codes lives here and nowhere else.
func ErrorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, title := statusFor(err)
		detail := err.Error()

		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			status = httpErr.Code
			title = http.StatusText(status)
			if msg, ok := httpErr.Message.(string); ok {
				detail = msg
			}
		}

		if status >= http.StatusInternalServerError {
			logger.Error("request failed", "method", c.Request().Method,
				"path", c.Path(), "error", err)
			// Do not leak internals to the client.
			detail = "an unexpected error occurred"
		}

		problem := ProblemDetails{
			Type:     "about:blank",
			Title:    title,
			Status:   status,
			Detail:   detail,
			Instance: c.Request().URL.Path,
		}
		c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
		c.Response().WriteHeader(status)
		if encErr := json.NewEncoder(c.Response()).Encode(problem); encErr != nil {
			logger.Error("failed to encode problem response", "error", encErr)
		}
	}
}
