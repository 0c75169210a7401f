package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"skillforge/internal/auth"
	"skillforge/internal/config"
	"skillforge/internal/logging"
	"skillforge/internal/services"
	"skillforge/pkg/models"
)

type mockOrchestrator struct {
	mock.Mock
}

func (m *mockOrchestrator) Trigger(ctx context.Context, req services.TriggerRequest) (*services.TriggerReceipt, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.TriggerReceipt), args.Error(1)
}

func (m *mockOrchestrator) FetchContext(ctx context.Context, workflowID string) (*services.ContextFetchResult, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ContextFetchResult), args.Error(1)
}

func (m *mockOrchestrator) StoreSubtask(ctx context.Context, req services.StoreSubtaskRequest) (*services.StoreSubtaskResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.StoreSubtaskResult), args.Error(1)
}

func (m *mockOrchestrator) Status(ctx context.Context, callerID, workflowID string) (*services.StatusReport, error) {
	args := m.Called(ctx, callerID, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.StatusReport), args.Error(1)
}

func (m *mockOrchestrator) Subtasks(ctx context.Context, userID, domainID, subdomainID string, status models.SubtaskStatus) ([]*models.Subtask, error) {
	args := m.Called(ctx, userID, domainID, subdomainID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Subtask), args.Error(1)
}

func (m *mockOrchestrator) SubmitAttempt(ctx context.Context, callerID, taskID string, sub services.AttemptSubmission) (*models.Subtask, error) {
	args := m.Called(ctx, callerID, taskID, sub)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subtask), args.Error(1)
}

const testAgentSecret = "agent-secret"

// newTestServer wires the full echo stack with dev-bypass user auth, so user
// requests authenticate via the X-User-ID header and agent requests via the
// shared secret.
func newTestServer(t *testing.T, orch *mockOrchestrator) *echo.Echo {
	t.Helper()
	logger := logging.NewLogger()

	cfg := &config.Config{Environment: "DEV"}
	cfg.Auth.DevModeBypass = true
	cfg.AgentPlatform.SharedSecret = testAgentSecret
	a, err := auth.New(context.Background(), cfg, logger)
	require.NoError(t, err)

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(logger)
	NewServer(orch, logger).RegisterRoutes(e, a)
	return e
}

func doJSON(e *echo.Echo, method, target, body string, arm func(*http.Request)) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if arm != nil {
		arm(req)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func asUser(userID string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("X-User-ID", userID) }
}

func asAgent() func(*http.Request) {
	return func(r *http.Request) { r.Header.Set(auth.AgentKeyHeader, testAgentSecret) }
}

func TestHealthz(t *testing.T) {
	e := newTestServer(t, &mockOrchestrator{})
	rec := doJSON(e, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var health HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "skillforge", health.Service)
}

func TestTriggerPersonalization(t *testing.T) {
	orch := &mockOrchestrator{}
	orch.On("Trigger", mock.Anything, services.TriggerRequest{
		UserID: "u1", DomainID: "math", SubdomainID: "algebra", ModuleID: "mod-3",
	}).Return(&services.TriggerReceipt{
		WorkflowID:          "wf_u1_math_algebra_1700000000000",
		Status:              models.StatusAgent1Initiated,
		NextStep:            "poll status until a terminal state is reached",
		EstimatedCompletion: time.Now().Add(3 * time.Minute),
	}, nil)

	e := newTestServer(t, orch)
	rec := doJSON(e, http.MethodPost, "/api/v1/personalize/trigger",
		`{"domain_id":"math","subdomain_id":"algebra","module_id":"mod-3"}`, asUser("u1"))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	var receipt services.TriggerReceipt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))
	assert.Equal(t, "wf_u1_math_algebra_1700000000000", receipt.WorkflowID)
	assert.Equal(t, models.StatusAgent1Initiated, receipt.Status)
	orch.AssertExpectations(t)
}

func TestTriggerForAnotherUserRejected(t *testing.T) {
	e := newTestServer(t, &mockOrchestrator{})
	rec := doJSON(e, http.MethodPost, "/api/v1/personalize/trigger",
		`{"user_id":"someone-else","domain_id":"math","subdomain_id":"algebra","module_id":"mod-3"}`,
		asUser("u1"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assertProblem(t, rec)
}

func TestTriggerDuplicateConflict(t *testing.T) {
	orch := &mockOrchestrator{}
	orch.On("Trigger", mock.Anything, mock.Anything).Return(nil, models.ErrDuplicateTrigger)

	e := newTestServer(t, orch)
	rec := doJSON(e, http.MethodPost, "/api/v1/personalize/trigger",
		`{"domain_id":"math","subdomain_id":"algebra","module_id":"mod-3"}`, asUser("u1"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assertProblem(t, rec)
}

func TestGetWorkflowStatus(t *testing.T) {
	orch := &mockOrchestrator{}
	orch.On("Status", mock.Anything, "u1", "wf_u1_math_algebra_1700000000000").Return(&services.StatusReport{
		WorkflowID: "wf_u1_math_algebra_1700000000000",
		Status:     models.StatusAgent1Completed,
		Stage:      models.StageLLMProcessing,
	}, nil)

	e := newTestServer(t, orch)
	rec := doJSON(e, http.MethodGet, "/api/v1/personalize/status/wf_u1_math_algebra_1700000000000", "", asUser("u1"))
	assert.Equal(t, http.StatusOK, rec.Code)

	var report services.StatusReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, models.StatusAgent1Completed, report.Status)
}

func TestGetWorkflowStatusForeignWorkflow(t *testing.T) {
	orch := &mockOrchestrator{}
	orch.On("Status", mock.Anything, "u1", "wf_u2_math_algebra_1700000000000").
		Return(nil, models.ErrUnauthorized)

	e := newTestServer(t, orch)
	rec := doJSON(e, http.MethodGet, "/api/v1/personalize/status/wf_u2_math_algebra_1700000000000", "", asUser("u1"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	orch.AssertExpectations(t)
}

func TestGetWorkflowStatusUnknown(t *testing.T) {
	orch := &mockOrchestrator{}
	orch.On("Status", mock.Anything, mock.Anything, mock.Anything).Return(nil, models.ErrUnknownWorkflow)

	e := newTestServer(t, orch)
	rec := doJSON(e, http.MethodGet, "/api/v1/personalize/status/wf_u1_math_algebra_9", "", asUser("u1"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assertProblem(t, rec)
}

func TestListSubtasks(t *testing.T) {
	orch := &mockOrchestrator{}
	orch.On("Subtasks", mock.Anything, "u1", "math", "algebra", models.SubtaskStatusActive).
		Return([]*models.Subtask{{TaskID: "t1"}, {TaskID: "t2"}}, nil)

	e := newTestServer(t, orch)
	rec := doJSON(e, http.MethodGet, "/api/v1/subtasks/u1/math/algebra", "", asUser("u1"))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Subtasks []*models.Subtask `json:"subtasks"`
		Count    int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
}

func TestListSubtasksStatusFilter(t *testing.T) {
	orch := &mockOrchestrator{}
	orch.On("Subtasks", mock.Anything, "u1", "math", "algebra", models.SubtaskStatusCompleted).
		Return([]*models.Subtask{}, nil)

	e := newTestServer(t, orch)
	rec := doJSON(e, http.MethodGet, "/api/v1/subtasks/u1/math/algebra?status=completed", "", asUser("u1"))
	assert.Equal(t, http.StatusOK, rec.Code)
	orch.AssertExpectations(t)
}

func TestListSubtasksBadFilter(t *testing.T) {
	e := newTestServer(t, &mockOrchestrator{})
	rec := doJSON(e, http.MethodGet, "/api/v1/subtasks/u1/math/algebra?status=bogus", "", asUser("u1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSubtasksForeignUser(t *testing.T) {
	e := newTestServer(t, &mockOrchestrator{})
	rec := doJSON(e, http.MethodGet, "/api/v1/subtasks/u2/math/algebra", "", asUser("u1"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitAttempt(t *testing.T) {
	orch := &mockOrchestrator{}
	orch.On("SubmitAttempt", mock.Anything, "u1", "t1",
		services.AttemptSubmission{Answer: "x=4", IsCorrect: true, TimeSpentSec: 30}).
		Return(&models.Subtask{TaskID: "t1", Completed: true}, nil)

	e := newTestServer(t, orch)
	rec := doJSON(e, http.MethodPost, "/api/v1/subtasks/t1/attempts",
		`{"answer":"x=4","is_correct":true,"time_spent":30}`, asUser("u1"))
	assert.Equal(t, http.StatusOK, rec.Code)

	var task models.Subtask
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	assert.True(t, task.Completed)
}

func TestSubmitAttemptExhausted(t *testing.T) {
	orch := &mockOrchestrator{}
	orch.On("SubmitAttempt", mock.Anything, "u1", "t1", mock.Anything).
		Return(nil, models.ErrSubtaskCompleted)

	e := newTestServer(t, orch)
	rec := doJSON(e, http.MethodPost, "/api/v1/subtasks/t1/attempts",
		`{"answer":"x=4"}`, asUser("u1"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestFetchContextCallback(t *testing.T) {
	orch := &mockOrchestrator{}
	orch.On("FetchContext", mock.Anything, "wf_u1_math_algebra_1700000000000").
		Return(&services.ContextFetchResult{
			WorkflowID: "wf_u1_math_algebra_1700000000000",
			Bundle:     &models.ContextBundle{},
		}, nil)

	e := newTestServer(t, orch)
	rec := doJSON(e, http.MethodPost, "/agent/v1/context-fetch",
		`{"workflow_id":"wf_u1_math_algebra_1700000000000"}`, asAgent())
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFetchContextAggregationFailure(t *testing.T) {
	orch := &mockOrchestrator{}
	orch.On("FetchContext", mock.Anything, mock.Anything).
		Return(nil, models.ErrAggregationUnavailable)

	e := newTestServer(t, orch)
	rec := doJSON(e, http.MethodPost, "/agent/v1/context-fetch",
		`{"workflow_id":"wf_u1_math_algebra_1"}`, asAgent())
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assertProblem(t, rec)
}

func TestStoreSubtaskCallback(t *testing.T) {
	orch := &mockOrchestrator{}
	orch.On("StoreSubtask", mock.Anything, mock.MatchedBy(func(req services.StoreSubtaskRequest) bool {
		return req.WorkflowID == "wf_u1_math_algebra_1" && req.Task != nil && req.Task.TaskID == "t1"
	})).Return(&services.StoreSubtaskResult{
		WorkflowID: "wf_u1_math_algebra_1", SubtaskID: "t1", Created: true,
		NextAction: "subtasks available to learner",
	}, nil)

	e := newTestServer(t, orch)
	rec := doJSON(e, http.MethodPost, "/agent/v1/store-subtask",
		`{"workflow_id":"wf_u1_math_algebra_1","generated_task":{"task_id":"t1","prompt":"Solve 2x=8","difficulty":"beginner"}}`,
		asAgent())
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestStoreSubtaskReplayAndConflict(t *testing.T) {
	orch := &mockOrchestrator{}
	orch.On("StoreSubtask", mock.Anything, mock.Anything).
		Return(&services.StoreSubtaskResult{WorkflowID: "wf_u1_math_algebra_1", SubtaskID: "t1", Created: false}, nil).Once()
	orch.On("StoreSubtask", mock.Anything, mock.Anything).
		Return(nil, models.ErrInvalidTransition).Once()

	e := newTestServer(t, orch)
	body := `{"workflow_id":"wf_u1_math_algebra_1","generated_task":{"task_id":"t1"}}`
	rec := doJSON(e, http.MethodPost, "/agent/v1/store-subtask", body, asAgent())
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(e, http.MethodPost, "/agent/v1/store-subtask", body, asAgent())
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// Agent routes only open to the shared secret.
func TestAgentRoutesRejectBadCredential(t *testing.T) {
	e := newTestServer(t, &mockOrchestrator{})

	rec := doJSON(e, http.MethodPost, "/agent/v1/context-fetch", `{"workflow_id":"wf_x"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assertProblem(t, rec)

	rec = doJSON(e, http.MethodPost, "/agent/v1/context-fetch", `{"workflow_id":"wf_x"}`,
		func(r *http.Request) { r.Header.Set(auth.AgentKeyHeader, "wrong") })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func assertProblem(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "application/problem+json")
	var problem ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, rec.Code, problem.Status)
	assert.NotEmpty(t, problem.Title)
}
