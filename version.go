package parabox

// Version is the module version reported by the parabox command and its
// MCP server.
const Version = "0.1.0"
