package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillforge/internal/services"
	"skillforge/pkg/models"
)

type stubReader struct {
	report *services.StatusReport
	tasks  []*models.Subtask
	err    error

	gotStatus models.SubtaskStatus
}

func (r *stubReader) Status(ctx context.Context, callerID, workflowID string) (*services.StatusReport, error) {
	return r.report, r.err
}

func (r *stubReader) Subtasks(ctx context.Context, userID, domainID, subdomainID string, status models.SubtaskStatus) ([]*models.Subtask, error) {
	r.gotStatus = status
	return r.tasks, r.err
}

func callReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestPersonalizationStatusTool(t *testing.T) {
	reader := &stubReader{report: &services.StatusReport{
		WorkflowID: "wf_u1_math_algebra_1",
		Status:     models.StatusSubtasksCreated,
		Stage:      models.StageWorkflowComplete,
	}}
	s := NewServer(reader)

	result, err := s.handleStatus(context.Background(), callReq(map[string]interface{}{
		"workflow_id": "wf_u1_math_algebra_1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var report services.StatusReport
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &report))
	assert.Equal(t, models.StatusSubtasksCreated, report.Status)

	result, err = s.handleStatus(context.Background(), callReq(map[string]interface{}{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestPersonalizationStatusToolUnknownWorkflow(t *testing.T) {
	s := NewServer(&stubReader{err: models.ErrUnknownWorkflow})

	result, err := s.handleStatus(context.Background(), callReq(map[string]interface{}{
		"workflow_id": "wf_missing",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestListSubtasksTool(t *testing.T) {
	reader := &stubReader{tasks: []*models.Subtask{{TaskID: "t1"}, {TaskID: "t2"}}}
	s := NewServer(reader)

	result, err := s.handleListSubtasks(context.Background(), callReq(map[string]interface{}{
		"user_id":      "u1",
		"domain_id":    "math",
		"subdomain_id": "algebra",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, models.SubtaskStatusActive, reader.gotStatus)

	var tasks []*models.Subtask
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &tasks))
	assert.Len(t, tasks, 2)
}

func TestListSubtasksToolFilters(t *testing.T) {
	reader := &stubReader{}
	s := NewServer(reader)

	result, err := s.handleListSubtasks(context.Background(), callReq(map[string]interface{}{
		"user_id":      "u1",
		"domain_id":    "math",
		"subdomain_id": "algebra",
		"status":       "completed",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, models.SubtaskStatusCompleted, reader.gotStatus)

	result, err = s.handleListSubtasks(context.Background(), callReq(map[string]interface{}{
		"user_id":      "u1",
		"domain_id":    "math",
		"subdomain_id": "algebra",
		"status":       "bogus",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleListSubtasks(context.Background(), callReq(map[string]interface{}{
		"user_id": "u1",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
