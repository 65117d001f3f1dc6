package claude

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bazelment/yoloswe/agentbridge/hooks"
	"github.com/bazelment/yoloswe/agentbridge/protocol"
)

// controlLoop answers control requests from the agent one at a time, in
// arrival order. It never waits on query consumers.
func (s *Session) controlLoop() error {
	for {
		select {
		case req := <-s.controlLane:
			s.handleControlRequest(req)
		case <-s.stopCh:
			return nil
		}
	}
}

func (s *Session) handleControlRequest(req protocol.ControlRequest) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.ctrlMu.Lock()
	s.inflight[req.RequestID] = cancel
	s.ctrlMu.Unlock()
	defer func() {
		s.ctrlMu.Lock()
		delete(s.inflight, req.RequestID)
		s.ctrlMu.Unlock()
		cancel()
	}()

	var reply protocol.ControlReply
	data, err := req.Parsed()
	if err != nil {
		s.metrics.controlRequest("unknown")
		s.logger.Warn("unsupported control request", "request_id", req.RequestID, "error", err)
		reply = protocol.NewControlError(req.RequestID, err.Error())
	} else {
		s.metrics.controlRequest(string(data.Subtype()))
		reply = s.answerControl(ctx, req.RequestID, data)
	}

	if err := s.send(reply); err != nil {
		s.logger.Warn("failed to send control response", "request_id", req.RequestID, "error", err)
	}
}

func (s *Session) answerControl(ctx context.Context, requestID string, data protocol.ControlRequestData) protocol.ControlReply {
	switch r := data.(type) {
	case protocol.MCPMessageRequest:
		return protocol.NewMCPReply(requestID, s.handleMCPMessage(ctx, r))
	case protocol.CanUseToolRequest:
		return protocol.NewControlSuccess(requestID, s.answerPermission(ctx, r))
	case protocol.HookCallbackRequest:
		return protocol.NewControlSuccess(requestID, s.answerHook(ctx, r))
	default:
		return protocol.NewControlError(requestID, fmt.Sprintf("unsupported control request: %s", data.Subtype()))
	}
}

// handleMCPMessage routes one JSON-RPC message to the named SDK server.
func (s *Session) handleMCPMessage(ctx context.Context, r protocol.MCPMessageRequest) protocol.JSONRPCResponse {
	srv, ok := s.routers[r.ServerName]
	if !ok {
		var req protocol.JSONRPCRequest
		_ = json.Unmarshal(r.Message, &req)
		s.logger.Warn("MCP message for unknown server", "server", r.ServerName, "method", req.Method)
		return protocol.JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &protocol.JSONRPCError{
				Code:    protocol.CodeMethodNotFound,
				Message: "server not found: " + r.ServerName,
			},
		}
	}
	return srv.router.HandleMessage(ctx, srv.registry, r.Message)
}

// answerPermission resolves a can_use_tool prompt. Without a callback the
// answer is deny.
func (s *Session) answerPermission(ctx context.Context, r protocol.CanUseToolRequest) map[string]any {
	fn := s.config.CanUseTool
	if fn == nil {
		return hooks.PermissionResult(hooks.Deny{Reason: "no permission handler configured"})
	}
	d := hooks.Resolve[hooks.PermissionRequest](ctx, fn, hooks.PermissionRequest{
		Input:       r.Input,
		BlockedPath: r.BlockedPath,
		ToolName:    r.ToolName,
		ToolUseID:   r.ToolUseID,
		Suggestions: r.PermissionSuggestions,
	})
	if f, ok := d.(hooks.Failed); ok {
		s.logger.Warn("permission callback failed", "tool", r.ToolName, "reason", f.Reason)
	}
	return hooks.PermissionResult(d)
}

// answerHook resolves a hook_callback. Unknown callback ids and callback
// faults answer with an empty object, which lets the agent continue.
func (s *Session) answerHook(ctx context.Context, r protocol.HookCallbackRequest) map[string]any {
	b, ok := s.hookFns[r.CallbackID]
	if !ok {
		s.logger.Warn("unknown hook callback", "callback_id", r.CallbackID)
		return map[string]any{}
	}
	in, err := hooks.ParseInput(r.Input, r.ToolUseID)
	if err != nil {
		s.logger.Warn("undecodable hook input", "callback_id", r.CallbackID, "error", err)
		return map[string]any{}
	}
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	d := hooks.Resolve[hooks.Input](ctx, b.fn, in)
	if f, ok := d.(hooks.Failed); ok {
		s.logger.Warn("hook callback failed", "event", b.event, "reason", f.Reason)
	}
	return hooks.HookOutput(b.event, d)
}

// cancelControl cancels the context of a control request being handled.
func (s *Session) cancelControl(requestID string) {
	s.ctrlMu.Lock()
	cancel, ok := s.inflight[requestID]
	s.ctrlMu.Unlock()
	if ok {
		s.logger.Debug("control request cancelled", "request_id", requestID)
		cancel()
	}
}
