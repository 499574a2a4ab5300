package handlers

import (
	"net/http"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-analyst/pkg/config"
	"github.com/ekaya-inc/ekaya-analyst/pkg/engine"
)

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string        `json:"status"`
	Version     string        `json:"version"`
	Service     string        `json:"service"`
	GoVersion   string        `json:"go_version"`
	Hostname    string        `json:"hostname"`
	Environment string        `json:"environment"`
	Engine      *engine.Stats `json:"engine,omitempty"`
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg     *config.Config
	manager *engine.Manager
	logger  *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. manager may be nil, in
// which case /ping omits engine statistics.
func NewHealthHandler(cfg *config.Config, manager *engine.Manager, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, manager: manager, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health requests.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ping handles GET /ping requests.
// Returns service information and the state of the conversation instances.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		if err := ErrorResponse(w, http.StatusInternalServerError, "hostname_unavailable", "failed to get hostname"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "ekaya-analyst",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}
	if h.manager != nil {
		stats := h.manager.GetStats()
		response.Engine = &stats
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
