package parabox

import (
	"context"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	internalmcp "github.com/wagiedev/parabox-connector-go/internal/mcp"
)

// Re-export MCP SDK types for public API.
type (
	// CallToolResult is the server's response to a tool call.
	CallToolResult = mcp.CallToolResult

	// CallToolRequest is the request passed to tool handlers.
	CallToolRequest = mcp.CallToolRequest

	// McpTool represents an MCP tool definition from the official SDK.
	McpTool = mcp.Tool

	// McpToolHandler is the function signature for tool handlers.
	McpToolHandler = mcp.ToolHandler

	// Schema is a JSON Schema object for tool input validation.
	Schema = jsonschema.Schema

	// ToolServer is a registry of MCP tools driving a controller.
	ToolServer = internalmcp.ToolServer

	// MCPServeConfig selects stdio or streamable HTTP serving.
	MCPServeConfig = internalmcp.ServeConfig
)

// MCP serve modes.
const (
	MCPServeStdio = internalmcp.ServeStdio
	MCPServeHTTP  = internalmcp.ServeHTTP
)

// NewMCPServer returns a tool server exposing c: core status, lifecycle
// commands and message send, recall and refresh. Add custom tools with
// AddTool before serving.
func NewMCPServer(c *Controller, version string) *ToolServer {
	return internalmcp.NewControllerServer(c, version)
}

// ServeMCP publishes s until ctx is done.
func ServeMCP(ctx context.Context, log *slog.Logger, s *ToolServer, cfg MCPServeConfig) error {
	return internalmcp.Serve(ctx, orNop(log), s, cfg)
}

// SimpleSchema creates an object schema from property name to Go type name.
//
// Type mappings:
//   - "string"           → {"type": "string"}
//   - "int", "int64"     → {"type": "integer"}
//   - "float64"          → {"type": "number"}
//   - "bool"             → {"type": "boolean"}
//   - "[]string"         → {"type": "array", "items": {"type": "string"}}
func SimpleSchema(props map[string]string) *jsonschema.Schema {
	return internalmcp.SimpleSchema(props)
}

// TextResult creates a CallToolResult with text content.
func TextResult(text string) *mcp.CallToolResult {
	return internalmcp.TextResult(text)
}

// ErrorResult creates a CallToolResult indicating an error.
func ErrorResult(message string) *mcp.CallToolResult {
	return internalmcp.ErrorResult(message)
}

// DecodeArguments unmarshals tool call arguments into v.
func DecodeArguments(req *mcp.CallToolRequest, v any) error {
	return internalmcp.DecodeArguments(req, v)
}
