package mcp

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/parabox-connector-go/internal/jsoncodec"
)

// ToolServer is a registry of MCP tools that can be called in process or
// published through the MCP SDK.
type ToolServer struct {
	name    string
	version string
	mu      sync.RWMutex
	tools   map[string]*registeredTool
}

type registeredTool struct {
	tool    *mcp.Tool
	handler mcp.ToolHandler
}

// NewToolServer creates an empty tool server.
func NewToolServer(name, version string) *ToolServer {
	return &ToolServer{
		name:    name,
		version: version,
		tools:   make(map[string]*registeredTool, 8),
	}
}

// Name returns the server name.
func (s *ToolServer) Name() string {
	return s.name
}

// Version returns the server version.
func (s *ToolServer) Version() string {
	return s.version
}

// AddTool registers a tool, replacing any tool with the same name.
// A tool without an input schema accepts an empty object.
func (s *ToolServer) AddTool(tool *mcp.Tool, handler mcp.ToolHandler) {
	if tool.InputSchema == nil {
		tool.InputSchema = &jsonschema.Schema{Type: "object"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tools[tool.Name] = &registeredTool{
		tool:    tool,
		handler: handler,
	}
}

// Tools returns the registered tools sorted by name.
func (s *ToolServer) Tools() []*mcp.Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*mcp.Tool, 0, len(s.tools))
	for _, t := range s.tools {
		result = append(result, t.tool)
	}

	slices.SortFunc(result, func(a, b *mcp.Tool) int {
		return strings.Compare(a.Name, b.Name)
	})

	return result
}

// CallTool runs a tool in process. Unknown tools and handler errors are
// reported as error results, never as Go errors.
func (s *ToolServer) CallTool(ctx context.Context, name string, input map[string]any) *mcp.CallToolResult {
	s.mu.RLock()
	t, exists := s.tools[name]
	s.mu.RUnlock()

	if !exists {
		return ErrorResult("tool not found: " + name)
	}

	if input == nil {
		input = map[string]any{}
	}

	raw, err := jsoncodec.Marshal(input)
	if err != nil {
		return ErrorResult("marshal input failed: " + err.Error())
	}

	req := &mcp.CallToolRequest{
		Params: &mcp.CallToolParamsRaw{
			Name:      name,
			Arguments: raw,
		},
	}

	result, err := t.handler(ctx, req)
	if err != nil {
		return ErrorResult("tool execution failed: " + err.Error())
	}

	if result == nil {
		return &mcp.CallToolResult{Content: []mcp.Content{}}
	}

	return result
}

// Server builds an MCP SDK server publishing every registered tool.
func (s *ToolServer) Server() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: s.name, Version: s.version}, nil)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tools {
		server.AddTool(t.tool, t.handler)
	}

	return server
}

// Text joins the text content of a result.
func Text(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}

	parts := make([]string, 0, len(result.Content))
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}

	return strings.Join(parts, "\n")
}

// SimpleSchema creates an object schema from a map of property name to Go
// type name, e.g. {"message_id": "int64"}. Every property is required.
func SimpleSchema(props map[string]string) *jsonschema.Schema {
	properties := make(map[string]*jsonschema.Schema, len(props))
	required := make([]string, 0, len(props))

	for name, goType := range props {
		properties[name] = goTypeToJSONSchema(goType)
		required = append(required, name)
	}

	slices.Sort(required)

	return &jsonschema.Schema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

func goTypeToJSONSchema(goType string) *jsonschema.Schema {
	switch goType {
	case "string":
		return &jsonschema.Schema{Type: "string"}
	case "int", "int32", "int64", "uint", "uint32", "uint64":
		return &jsonschema.Schema{Type: "integer"}
	case "float32", "float64", "number":
		return &jsonschema.Schema{Type: "number"}
	case "bool":
		return &jsonschema.Schema{Type: "boolean"}
	case "object", "map[string]any":
		return &jsonschema.Schema{Type: "object"}
	default:
		if item, ok := strings.CutPrefix(goType, "[]"); ok {
			return &jsonschema.Schema{
				Type:  "array",
				Items: goTypeToJSONSchema(item),
			}
		}

		return &jsonschema.Schema{Type: "string"}
	}
}

// TextResult creates a CallToolResult with text content.
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// ErrorResult creates a CallToolResult indicating an error.
func ErrorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: message},
		},
		IsError: true,
	}
}

// JSONResult creates a text result holding v as JSON.
func JSONResult(v any) *mcp.CallToolResult {
	data, err := jsoncodec.Marshal(v)
	if err != nil {
		return ErrorResult("marshal result failed: " + err.Error())
	}

	return TextResult(string(data))
}

// DecodeArguments unmarshals the request arguments into v.
// Missing arguments leave v untouched.
func DecodeArguments(req *mcp.CallToolRequest, v any) error {
	if req == nil || req.Params == nil || len(req.Params.Arguments) == 0 {
		return nil
	}

	if err := jsoncodec.Unmarshal(req.Params.Arguments, v); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}

	return nil
}
