package protocol

import (
	"encoding/json"
	"fmt"
)

// ControlRequest is a request either side may send. The CLI sends them to
// ask for permission decisions, hook results and SDK MCP calls; the SDK sends
// them for initialize, interrupt and mode changes.
type ControlRequest struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id"`
	Request   json.RawMessage `json:"request"`
}

// MsgType returns the message type.
func (ControlRequest) MsgType() MessageType { return MessageTypeControlRequest }

// Parsed decodes the inner request body.
func (r ControlRequest) Parsed() (ControlRequestData, error) {
	return ParseControlRequest(r.Request)
}

// ControlCancelRequest withdraws an earlier control request.
type ControlCancelRequest struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
}

// MsgType returns the message type.
func (ControlCancelRequest) MsgType() MessageType { return MessageTypeControlCancel }

// ControlSubtype is the subtype of a control request body.
type ControlSubtype string

const (
	SubtypeInitialize        ControlSubtype = "initialize"
	SubtypeCanUseTool        ControlSubtype = "can_use_tool"
	SubtypeHookCallback      ControlSubtype = "hook_callback"
	SubtypeMCPMessage        ControlSubtype = "mcp_message"
	SubtypeInterrupt         ControlSubtype = "interrupt"
	SubtypeSetPermissionMode ControlSubtype = "set_permission_mode"
	SubtypeSetModel          ControlSubtype = "set_model"
)

// ControlRequestData is implemented by decoded control request bodies.
type ControlRequestData interface {
	Subtype() ControlSubtype
}

// CanUseToolRequest asks whether a tool invocation may proceed.
type CanUseToolRequest struct {
	Input                 map[string]any     `json:"input"`
	BlockedPath           *string            `json:"blocked_path,omitempty"`
	ToolUseID             string             `json:"tool_use_id,omitempty"`
	ToolName              string             `json:"tool_name"`
	PermissionSuggestions []PermissionUpdate `json:"permission_suggestions,omitempty"`
}

func (CanUseToolRequest) Subtype() ControlSubtype { return SubtypeCanUseTool }

// HookCallbackRequest invokes a hook callback registered during initialize.
type HookCallbackRequest struct {
	ToolUseID  *string         `json:"tool_use_id,omitempty"`
	CallbackID string          `json:"callback_id"`
	Input      json.RawMessage `json:"input"`
}

func (HookCallbackRequest) Subtype() ControlSubtype { return SubtypeHookCallback }

// InterruptRequest is an interrupt body.
type InterruptRequest struct{}

func (InterruptRequest) Subtype() ControlSubtype { return SubtypeInterrupt }

// ParseControlRequest decodes a control request body by subtype. Subtypes
// the SDK never receives yield an *UnknownSubtypeError.
func ParseControlRequest(data json.RawMessage) (ControlRequestData, error) {
	var head struct {
		Subtype ControlSubtype `json:"subtype"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("control request: %w", err)
	}
	var (
		req ControlRequestData
		err error
	)
	switch head.Subtype {
	case SubtypeCanUseTool:
		var r CanUseToolRequest
		err = json.Unmarshal(data, &r)
		req = r
	case SubtypeHookCallback:
		var r HookCallbackRequest
		err = json.Unmarshal(data, &r)
		req = r
	case SubtypeMCPMessage:
		var r MCPMessageRequest
		err = json.Unmarshal(data, &r)
		req = r
	case SubtypeInterrupt:
		req = InterruptRequest{}
	default:
		return nil, &UnknownSubtypeError{Subtype: string(head.Subtype)}
	}
	if err != nil {
		return nil, fmt.Errorf("control request %s: %w", head.Subtype, err)
	}
	return req, nil
}

// ControlResponse is the CLI's answer to a control request the SDK sent.
type ControlResponse struct {
	Type     MessageType            `json:"type"`
	Response ControlResponsePayload `json:"response"`
}

// MsgType returns the message type.
func (ControlResponse) MsgType() MessageType { return MessageTypeControlResponse }

// ControlResponsePayload is the inner body of a control response.
type ControlResponsePayload struct {
	Subtype   string          `json:"subtype"`
	RequestID string          `json:"request_id"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// OK reports whether the response signals success.
func (p ControlResponsePayload) OK() bool { return p.Subtype == "success" }

// ControlReply is the SDK's answer to a control request from the CLI.
type ControlReply struct {
	Type     MessageType      `json:"type"`
	Response ControlReplyBody `json:"response"`
}

// ControlReplyBody is the inner body of a ControlReply.
type ControlReplyBody struct {
	Response  any    `json:"response,omitempty"`
	Subtype   string `json:"subtype"`
	RequestID string `json:"request_id"`
	Error     string `json:"error,omitempty"`
}

// NewControlSuccess replies to requestID with payload.
func NewControlSuccess(requestID string, payload any) ControlReply {
	return ControlReply{
		Type: MessageTypeControlResponse,
		Response: ControlReplyBody{
			Subtype:   "success",
			RequestID: requestID,
			Response:  payload,
		},
	}
}

// NewControlError replies to requestID with an error string.
func NewControlError(requestID, msg string) ControlReply {
	return ControlReply{
		Type: MessageTypeControlResponse,
		Response: ControlReplyBody{
			Subtype:   "error",
			RequestID: requestID,
			Error:     msg,
		},
	}
}

// NewMCPReply wraps a JSON-RPC response for an mcp_message request.
func NewMCPReply(requestID string, resp JSONRPCResponse) ControlReply {
	return NewControlSuccess(requestID, MCPResponsePayload{MCPResponse: resp})
}

// PermissionUpdate describes a permission rule change carried by an allow
// decision or suggested by the CLI.
type PermissionUpdate struct {
	Type        string           `json:"type"`
	Behavior    string           `json:"behavior,omitempty"`
	Mode        string           `json:"mode,omitempty"`
	Destination string           `json:"destination,omitempty"`
	Rules       []PermissionRule `json:"rules,omitempty"`
	Directories []string         `json:"directories,omitempty"`
}

// PermissionRule names a tool and an optional rule pattern.
type PermissionRule struct {
	ToolName    string `json:"toolName"`
	RuleContent string `json:"ruleContent,omitempty"`
}

// OutgoingControlRequest is a control request the SDK sends to the CLI.
type OutgoingControlRequest struct {
	Request   any    `json:"request"`
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
}

// HookMatcher registers callback ids for one hook event matcher.
type HookMatcher struct {
	Matcher         *string  `json:"matcher"`
	HookCallbackIDs []string `json:"hookCallbackIds"`
	Timeout         *float64 `json:"timeout,omitempty"`
}

type initializeBody struct {
	Hooks   map[string][]HookMatcher `json:"hooks,omitempty"`
	Subtype ControlSubtype           `json:"subtype"`
}

type subtypeBody struct {
	Subtype ControlSubtype `json:"subtype"`
	Mode    string         `json:"mode,omitempty"`
	Model   string         `json:"model,omitempty"`
}

func newControlRequest(requestID string, body any) OutgoingControlRequest {
	return OutgoingControlRequest{
		Type:      string(MessageTypeControlRequest),
		RequestID: requestID,
		Request:   body,
	}
}

// NewInitialize builds the handshake request. hooks maps hook event names to
// the matchers registered for them.
func NewInitialize(requestID string, hooks map[string][]HookMatcher) OutgoingControlRequest {
	return newControlRequest(requestID, initializeBody{Subtype: SubtypeInitialize, Hooks: hooks})
}

// NewInterrupt builds a request that interrupts the current turn.
func NewInterrupt(requestID string) OutgoingControlRequest {
	return newControlRequest(requestID, subtypeBody{Subtype: SubtypeInterrupt})
}

// NewSetPermissionMode builds a request that changes the permission mode.
func NewSetPermissionMode(requestID, mode string) OutgoingControlRequest {
	return newControlRequest(requestID, subtypeBody{Subtype: SubtypeSetPermissionMode, Mode: mode})
}

// NewSetModel builds a request that switches the active model.
func NewSetModel(requestID, model string) OutgoingControlRequest {
	return newControlRequest(requestID, subtypeBody{Subtype: SubtypeSetModel, Model: model})
}
