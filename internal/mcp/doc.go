// Package mcp exposes a Parabox controller as Model Context Protocol tools.
//
// A ToolServer keeps a thread-safe registry of tools. Tools can be invoked
// directly with CallTool, or published through the official MCP SDK server
// returned by Server and served over stdio or streamable HTTP.
//
// NewControllerServer registers the built-in controller tools: core state,
// lifecycle commands, message send, recall and refresh.
package mcp
