package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-analyst/pkg/mcp"
	"github.com/ekaya-inc/ekaya-analyst/pkg/middleware"
)

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	logger := zap.NewNop()
	mcpServer := mcp.NewServer("test", "1.0.0", nil, nil, logger)

	mux := http.NewServeMux()
	NewMCPHandler(mcpServer, logger).RegisterRoutes(mux)
	return mux
}

func TestMCPHandler_RegisterRoutes(t *testing.T) {
	mux := newTestMux(t)

	body := `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"health"},"id":1}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `\"status\":\"ok\"`) {
		t.Errorf("expected health result, got %s", rec.Body.String())
	}
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("expected request id header")
	}
}

func TestMCPHandler_RejectsNonPOST(t *testing.T) {
	mux := newTestMux(t)

	for _, method := range []string{http.MethodGet, http.MethodDelete, http.MethodPut} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(method, "/mcp", nil))

		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected status %d, got %d", method, http.StatusMethodNotAllowed, rec.Code)
		}
		if allow := rec.Header().Get("Allow"); allow != "POST" {
			t.Errorf("%s: expected Allow: POST, got %q", method, allow)
		}
	}
}
