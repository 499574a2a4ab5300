package tools

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/ekaya-analyst/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-analyst/pkg/businesscontext"
)

type resetBusinessContextResult struct {
	BusinessContext *businesscontext.BusinessContext `json:"business_context"`
	Warning         string                           `json:"warning,omitempty"`
}

func registerGetBusinessContextTool(s *server.MCPServer, deps *AnalystToolDeps) {
	tool := mcp.NewTool(
		"get_business_context",
		mcp.WithDescription(
			"Return the business context of a workspace: entities, business vocabulary for column names, "+
				"inferred relationships with confidence scores, and the entity graph.",
		),
		workspaceArg(),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		workspace, errResult := deps.workspace(req)
		if errResult != nil {
			return errResult, nil
		}
		bc, err := deps.BusinessContext.Get(ctx, workspace)
		if err != nil {
			return deps.toolError("get_business_context", err)
		}
		return jsonResult(bc)
	})
}

func registerResetBusinessContextTool(s *server.MCPServer, deps *AnalystToolDeps) {
	tool := mcp.NewTool(
		"reset_business_context",
		mcp.WithDescription(
			"Rebuild the business context of a workspace from the relations analysed so far, "+
				"discarding vocabulary and relationships derived earlier.",
		),
		workspaceArg(),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		workspace, errResult := deps.workspace(req)
		if errResult != nil {
			return errResult, nil
		}
		bc, err := deps.BusinessContext.Reset(ctx, workspace)
		if err != nil && (bc == nil || !errors.Is(err, apperrors.ErrPersistenceFailed)) {
			return deps.toolError("reset_business_context", err)
		}

		out := resetBusinessContextResult{BusinessContext: bc}
		if err != nil {
			out.Warning = "business context was rebuilt but could not be saved: " + cleanErrorMessage(err)
		}
		return jsonResult(out)
	})
}
