// Package mcp exposes read-only workflow and subtask queries as MCP tools so
// assistant integrations can inspect a learner's personalization pipeline
// without going through the REST surface.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"skillforge/internal/services"
	"skillforge/pkg/models"
)

// Reader is the read-only slice of the orchestrator the tools need. Writes
// stay off this surface on purpose.
type Reader interface {
	Status(ctx context.Context, callerID, workflowID string) (*services.StatusReport, error)
	Subtasks(ctx context.Context, userID, domainID, subdomainID string, status models.SubtaskStatus) ([]*models.Subtask, error)
}

type Server struct {
	mcpServer *server.MCPServer
	reader    Reader
}

func NewServer(reader Reader) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"SkillForge Personalization",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		reader: reader,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"personalization_status",
			mcp.WithDescription("Look up the current status and stage of a personalization workflow"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The workflow ID returned by the trigger")),
		),
		s.handleStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_subtasks",
			mcp.WithDescription("List a learner's generated practice subtasks for one subdomain"),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("The learner's user ID")),
			mcp.WithString("domain_id", mcp.Required(), mcp.Description("The learning domain")),
			mcp.WithString("subdomain_id", mcp.Required(), mcp.Description("The subdomain within the domain")),
			mcp.WithString("status", mcp.Description("Filter: active, pending, completed or skipped (default active)")),
		),
		s.handleListSubtasks,
	)
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	workflowID, ok := args["workflow_id"].(string)
	if !ok || workflowID == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}

	// The tools are cross-learner by design (assistant integrations inspect
	// any workflow), so no caller scoping is applied here.
	report, err := s.reader.Status(ctx, "", workflowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to look up workflow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(report)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleListSubtasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	userID, ok := args["user_id"].(string)
	if !ok || userID == "" {
		return mcp.NewToolResultError("Missing required parameter: user_id"), nil
	}
	domainID, ok := args["domain_id"].(string)
	if !ok || domainID == "" {
		return mcp.NewToolResultError("Missing required parameter: domain_id"), nil
	}
	subdomainID, ok := args["subdomain_id"].(string)
	if !ok || subdomainID == "" {
		return mcp.NewToolResultError("Missing required parameter: subdomain_id"), nil
	}

	status := models.SubtaskStatusActive
	if raw, ok := args["status"].(string); ok && raw != "" {
		status = models.SubtaskStatus(raw)
		if !status.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf("Unknown status filter: %s", raw)), nil
		}
	}

	tasks, err := s.reader.Subtasks(ctx, userID, domainID, subdomainID, status)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list subtasks: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(tasks)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// MountHTTPHandlers wires the MCP SSE transport into the echo router at /mcp.
// The given middleware guards every endpoint; the tools read learner data, so
// callers mount them behind user auth.
func MountHTTPHandlers(e *echo.Echo, mcpServer *server.MCPServer, mw ...echo.MiddlewareFunc) {
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))
	wrapped := echo.WrapHandler(sseServer)

	e.POST("/mcp", wrapped, mw...)
	e.GET("/mcp/sse", wrapped, mw...)
	e.POST("/mcp/message", wrapped, mw...)
}
