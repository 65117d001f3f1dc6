package sdkmcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/bazelment/yoloswe/agentbridge/protocol"
)

// ProtocolVersion is the MCP revision the router speaks.
const ProtocolVersion = "2024-11-05"

// MCP methods handled by Router.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodPing        = "ping"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
)

// InitializeResult is the initialize response payload.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
}

// Capabilities advertises the tools capability only.
type Capabilities struct {
	Tools struct{} `json:"tools"`
}

// ServerInfo identifies the server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolsListResult is the tools/list response payload.
type ToolsListResult struct {
	Tools []ToolInfo `json:"tools"`
}

type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// CallObserver is notified after every tools/call that reached a tool. err
// is a *ToolError when the call failed.
type CallObserver func(tool string, elapsed time.Duration, err error)

// Router answers MCP JSON-RPC requests for one named server.
type Router struct {
	logger  *slog.Logger
	observe CallObserver
	name    string
	version string
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithVersion sets serverInfo.version.
func WithVersion(v string) RouterOption {
	return func(r *Router) { r.version = v }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithCallObserver registers a tools/call observer.
func WithCallObserver(fn CallObserver) RouterOption {
	return func(r *Router) { r.observe = fn }
}

// NewRouter returns a router reporting serverInfo.name = name.
func NewRouter(name string, opts ...RouterOption) *Router {
	r := &Router{
		name:    name,
		version: "1.0.0",
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the server name.
func (r *Router) Name() string { return r.name }

// HandleMessage decodes raw as a JSON-RPC request and handles it. A
// message that cannot be decoded yields a parse error response.
func (r *Router) HandleMessage(ctx context.Context, reg *Registry, raw json.RawMessage) protocol.JSONRPCResponse {
	var req protocol.JSONRPCRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(nil, protocol.CodeParseError, "parse error: "+err.Error())
	}
	return r.Handle(ctx, reg, req)
}

// Handle answers one request. Routing failures (unknown method, unknown
// tool, bad params) are JSON-RPC errors; tool failures are successful
// responses whose result has isError set.
func (r *Router) Handle(ctx context.Context, reg *Registry, req protocol.JSONRPCRequest) protocol.JSONRPCResponse {
	switch req.Method {
	case MethodInitialize:
		return resultResponse(req.ID, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      ServerInfo{Name: r.name, Version: r.version},
		})
	case MethodInitialized, MethodPing:
		return resultResponse(req.ID, struct{}{})
	case MethodToolsList:
		tools := []ToolInfo{}
		if reg != nil {
			tools = reg.Tools()
		}
		return resultResponse(req.ID, ToolsListResult{Tools: tools})
	case MethodToolsCall:
		return r.call(ctx, reg, req)
	default:
		r.logger.Debug("unknown MCP method", "server", r.name, "method", req.Method)
		return errorResponse(req.ID, protocol.CodeMethodNotFound, "method not found: "+req.Method)
	}
}

func (r *Router) call(ctx context.Context, reg *Registry, req protocol.JSONRPCRequest) protocol.JSONRPCResponse {
	var p callParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.Name == "" {
		msg := "invalid params: missing tool name"
		if err != nil {
			msg = "invalid params: " + err.Error()
		}
		return errorResponse(req.ID, protocol.CodeInvalidParams, msg)
	}
	if reg == nil {
		return errorResponse(req.ID, protocol.CodeMethodNotFound, "tool not found: "+p.Name)
	}

	start := time.Now()
	res, err := reg.Call(ctx, p.Name, p.Arguments)
	if errors.Is(err, ErrToolNotFound) {
		return errorResponse(req.ID, protocol.CodeMethodNotFound, "tool not found: "+p.Name)
	}
	elapsed := time.Since(start)
	if err != nil {
		r.logger.Warn("tool call failed", "server", r.name, "tool", p.Name, "error", err)
	} else {
		r.logger.Debug("tool call", "server", r.name, "tool", p.Name, "elapsed", elapsed)
	}
	if r.observe != nil {
		r.observe(p.Name, elapsed, err)
	}
	return resultResponse(req.ID, res)
}

func resultResponse(id, result any) protocol.JSONRPCResponse {
	return protocol.JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id any, code int, msg string) protocol.JSONRPCResponse {
	return protocol.JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &protocol.JSONRPCError{Code: code, Message: msg},
	}
}
