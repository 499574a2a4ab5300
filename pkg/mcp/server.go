package mcp

import (
	"net/http"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-analyst/pkg/engine"
	"github.com/ekaya-inc/ekaya-analyst/pkg/mcp/tools"
)

// Server wraps the mcp-go MCPServer carrying the analyst tools.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger
}

// NewServer creates an MCP server with the health tool and every
// conversation tool registered.
func NewServer(name, version string, manager *engine.Manager, deps *tools.AnalystToolDeps, logger *zap.Logger) *Server {
	mcpServer := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	tools.RegisterHealthTool(mcpServer, version, manager)
	if deps != nil {
		if deps.Logger == nil {
			deps.Logger = logger.Named("mcp-tools")
		}
		tools.RegisterAnalystTools(mcpServer, deps)
	}

	return &Server{
		mcp:    mcpServer,
		logger: logger,
	}
}

// MCP returns the underlying MCPServer.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// Handler returns the stateless streamable HTTP transport. The HTTP mux
// routes /mcp to it, so no endpoint path is configured here.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(
		s.mcp,
		server.WithStateLess(true),
	)
}
