package tools

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/ekaya-analyst/pkg/models"
	"github.com/ekaya-inc/ekaya-analyst/pkg/services"
)

const defaultQueryLimit = 100

type runQueryResult struct {
	*models.QueryResult
	ExecutionTimeMs int64 `json:"execution_time_ms"`
}

func registerRunQueryTool(s *server.MCPServer, deps *AnalystToolDeps) {
	tool := mcp.NewTool(
		"run_query",
		mcp.WithDescription(
			"Run one read-only SQL statement (DuckDB dialect) against the conversation's analytical database. "+
				"Reference attached tables by their full path from list_available_sheets. "+
				"Use {{name}} placeholders with the parameters object instead of inlining values.",
		),
		workspaceArg(),
		conversationArg(),
		mcp.WithString(
			"sql",
			mcp.Required(),
			mcp.Description("A single SELECT, WITH, DESCRIBE, SHOW or SUMMARIZE statement"),
		),
		mcp.WithObject(
			"parameters",
			mcp.Description("Values for {{name}} placeholders in the SQL"),
		),
		mcp.WithNumber(
			"limit",
			mcp.Description("Max rows to return (default: 100, max: 1000)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		workspace, conversationID, errResult := deps.conversation(req)
		if errResult != nil {
			return errResult, nil
		}
		sqlQuery, err := req.RequireString("sql")
		if err != nil {
			return NewErrorResult("invalid_arguments", "sql is required"), nil
		}

		limit := defaultQueryLimit
		if v, ok := getOptionalFloat(req, "limit"); ok && v > 0 {
			limit = int(v)
		}
		if limit > services.MaxQueryLimit {
			limit = services.MaxQueryLimit
		}

		start := time.Now()
		result, err := deps.Query.RunQuery(ctx, services.QueryRequest{
			ConversationID: conversationID,
			Workspace:      workspace,
			SQL:            sqlQuery,
			Parameters:     getOptionalObject(req, "parameters"),
			Limit:          limit,
		})
		if err != nil {
			return deps.toolError("run_query", err)
		}
		return jsonResult(runQueryResult{
			QueryResult:     result,
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		})
	})
}
