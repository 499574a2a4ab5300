package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-analyst/pkg/engine"
)

func TestHealthTool_Execute(t *testing.T) {
	manager := engine.NewManager(engine.ManagerConfig{InMemory: true}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = manager.Close() })
	_, err := manager.GetInstance(context.Background(), engine.Key{Workspace: t.TempDir(), ConversationID: "c1"}, true)
	require.NoError(t, err)

	mcpServer := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterHealthTool(mcpServer, "1.2.3", manager)

	request := `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"health"},"id":1}`
	result := mcpServer.HandleMessage(context.Background(), []byte(request))
	resultBytes, err := json.Marshal(result)
	require.NoError(t, err)

	var response struct {
		Result struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(resultBytes, &response))
	require.Len(t, response.Result.Content, 1)

	var health healthResult
	require.NoError(t, json.Unmarshal([]byte(response.Result.Content[0].Text), &health))
	assert.Equal(t, healthResult{Status: "ok", Version: "1.2.3", Instances: 1}, health)
}

func TestHealthTool_WithoutManager(t *testing.T) {
	mcpServer := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterHealthTool(mcpServer, "dev", nil)

	result := mcpServer.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/call","params":{"name":"health"},"id":1}`))
	resultBytes, err := json.Marshal(result)
	require.NoError(t, err)
	assert.Contains(t, string(resultBytes), `\"status\":\"ok\"`)
	assert.Contains(t, string(resultBytes), `\"instances\":0`)
}
