package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-analyst/pkg/mcp"
	"github.com/ekaya-inc/ekaya-analyst/pkg/middleware"
)

// MCPHandler handles MCP protocol requests over HTTP.
type MCPHandler struct {
	httpServer http.Handler
	logger     *zap.Logger
}

// NewMCPHandler creates a new MCP handler from an MCP server.
func NewMCPHandler(mcpServer *mcp.Server, logger *zap.Logger) *MCPHandler {
	return &MCPHandler{
		httpServer: mcpServer.Handler(),
		logger:     logger,
	}
}

// RegisterRoutes registers the MCP endpoint.
// Layers, outermost first: method check, HTTP request log, tool call log.
func (h *MCPHandler) RegisterRoutes(mux *http.ServeMux) {
	loggedHandler := middleware.MCPRequestLogger(h.logger)(h.httpServer)
	requestLogged := middleware.RequestLogger(h.logger)(loggedHandler)
	mux.Handle("/mcp", h.requirePOST(requestLogged))
}

// requirePOST returns 405 Method Not Allowed for non-POST requests.
// The server runs stateless, so there is no GET stream to open.
func (h *MCPHandler) requirePOST(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}
