package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/ekaya-analyst/pkg/engine"
)

type healthResult struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Instances int    `json:"instances"`
}

// RegisterHealthTool adds a health check tool to the MCP server.
// The tool returns the server status, version and open instance count.
func RegisterHealthTool(s *server.MCPServer, version string, manager *engine.Manager) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status and version"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res := healthResult{Status: "ok", Version: version}
		if manager != nil {
			res.Instances = manager.GetStats().TotalInstances
		}
		return jsonResult(res)
	})
}
