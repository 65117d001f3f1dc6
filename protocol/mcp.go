package protocol

import "encoding/json"

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// MCPMessageRequest carries a JSON-RPC message from the CLI to the SDK MCP
// server named ServerName.
type MCPMessageRequest struct {
	ServerName string          `json:"server_name"`
	Message    json.RawMessage `json:"message"`
}

func (MCPMessageRequest) Subtype() ControlSubtype { return SubtypeMCPMessage }

// JSONRPCRequest is a JSON-RPC 2.0 request or notification.
type JSONRPCRequest struct {
	ID      any             `json:"id,omitempty"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse is a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	ID      any           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
	JSONRPC string        `json:"jsonrpc"`
}

// JSONRPCError is a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Data    any    `json:"data,omitempty"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *JSONRPCError) Error() string { return e.Message }

// MCPResponsePayload wraps a JSON-RPC response inside a control reply.
type MCPResponsePayload struct {
	MCPResponse JSONRPCResponse `json:"mcp_response"`
}

// MCPServerConfig is one entry in the --mcp-config document. SDK servers are
// declared with type "sdk" and are served in-process over control requests.
type MCPServerConfig struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// MCPConfig is the --mcp-config document.
type MCPConfig struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
}
