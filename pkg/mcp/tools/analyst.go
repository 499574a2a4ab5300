package tools

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-analyst/pkg/businesscontext"
	"github.com/ekaya-inc/ekaya-analyst/pkg/logging"
	"github.com/ekaya-inc/ekaya-analyst/pkg/services"
)

// AnalystToolDeps contains dependencies for the conversation tools.
type AnalystToolDeps struct {
	Initializer      services.InitializerService
	Listing          services.ListingService
	Query            services.QueryService
	SchemaExtraction services.SchemaExtractionService
	BusinessContext  businesscontext.Service
	// WorkspaceRoot is joined with the workspace argument of every call.
	WorkspaceRoot string
	Logger        *zap.Logger
}

// RegisterAnalystTools registers the datasource, query and business
// context tools.
func RegisterAnalystTools(s *server.MCPServer, deps *AnalystToolDeps) {
	registerInitializeDatasourcesTool(s, deps)
	registerListAvailableSheetsTool(s, deps)
	registerExtractDatasourceSchemaTool(s, deps)
	registerRunQueryTool(s, deps)
	registerGetBusinessContextTool(s, deps)
	registerResetBusinessContextTool(s, deps)
}

func workspaceArg() mcp.ToolOption {
	return mcp.WithString(
		"workspace",
		mcp.Required(),
		mcp.Description("Workspace directory, relative to the server's workspace root"),
	)
}

func conversationArg() mcp.ToolOption {
	return mcp.WithString(
		"conversation_id",
		mcp.Required(),
		mcp.Description("Conversation whose analytical database is used"),
	)
}

// workspace resolves the workspace argument. A non-nil result is an
// error result for the caller.
func (d *AnalystToolDeps) workspace(req mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	dir, err := resolveWorkspace(d.WorkspaceRoot, getOptionalString(req, "workspace"))
	if err != nil {
		return "", NewErrorResult("invalid_workspace", err.Error())
	}
	return dir, nil
}

// conversation resolves the workspace and conversation_id arguments.
func (d *AnalystToolDeps) conversation(req mcp.CallToolRequest) (string, string, *mcp.CallToolResult) {
	dir, errResult := d.workspace(req)
	if errResult != nil {
		return "", "", errResult
	}
	conversationID := trimString(getOptionalString(req, "conversation_id"))
	if conversationID == "" {
		return "", "", NewErrorResult("invalid_conversation", "conversation_id is required")
	}
	return dir, conversationID, nil
}

// toolError turns err into an error result when the agent can act on it
// and into a Go error otherwise.
func (d *AnalystToolDeps) toolError(tool string, err error) (*mcp.CallToolResult, error) {
	if result := NewToolErrorResult(err); result != nil {
		level := d.Logger.Warn
		if IsInputError(err) {
			level = d.Logger.Debug
		}
		level("Tool returned error result",
			zap.String("tool", tool),
			zap.String("error", logging.SanitizeError(err)))
		return result, nil
	}
	d.Logger.Error("Tool failed",
		zap.String("tool", tool),
		zap.String("error", logging.SanitizeError(err)))
	return nil, err
}
