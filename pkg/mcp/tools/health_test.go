package tools

import (
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthTool_Execute(t *testing.T) {
	mcpServer := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterHealthTool(mcpServer, "2.3.4")

	text, isError := callTool(t, mcpServer, "health", map[string]any{})
	require.False(t, isError)

	var result struct {
		Status  string `json:"status"`
		Service string `json:"service"`
		Version string `json:"version"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &result))
	assert.Equal(t, "ok", result.Status)
	assert.Equal(t, "tablemend-engine", result.Service)
	assert.Equal(t, "2.3.4", result.Version)
}
