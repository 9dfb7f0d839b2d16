package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all risk tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("olynthus", "0.1.0")
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolAssessTransaction, h.HandleAssessTransaction)
	s.AddTool(ToolAssessMessage, h.HandleAssessMessage)
	s.AddTool(ToolAssessUser, h.HandleAssessUser)
	s.AddTool(ToolRecentAssessments, h.HandleRecentAssessments)

	return s
}
