package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseControlRequest_CanUseTool(t *testing.T) {
	raw := json.RawMessage(`{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"rm -rf /"},"permission_suggestions":[{"type":"addRules","rules":[{"toolName":"Bash","ruleContent":"rm:*"}],"behavior":"allow","destination":"session"}]}`)

	req, err := ParseControlRequest(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cu, ok := req.(CanUseToolRequest)
	if !ok {
		t.Fatalf("expected CanUseToolRequest, got %T", req)
	}
	if cu.ToolName != "Bash" {
		t.Errorf("expected Bash, got %q", cu.ToolName)
	}
	if len(cu.PermissionSuggestions) != 1 || cu.PermissionSuggestions[0].Rules[0].RuleContent != "rm:*" {
		t.Errorf("unexpected suggestions: %#v", cu.PermissionSuggestions)
	}
}

func TestParseControlRequest_HookCallback(t *testing.T) {
	raw := json.RawMessage(`{"subtype":"hook_callback","callback_id":"hook_0","input":{"hook_event_name":"PreToolUse","tool_name":"Bash"},"tool_use_id":"toolu_1"}`)

	req, err := ParseControlRequest(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hc := req.(HookCallbackRequest)
	if hc.CallbackID != "hook_0" {
		t.Errorf("expected hook_0, got %q", hc.CallbackID)
	}
	if hc.ToolUseID == nil || *hc.ToolUseID != "toolu_1" {
		t.Errorf("unexpected tool use id %v", hc.ToolUseID)
	}
}

func TestParseControlRequest_MCPMessage(t *testing.T) {
	raw := json.RawMessage(`{"subtype":"mcp_message","server_name":"calc","message":{"jsonrpc":"2.0","id":1,"method":"tools/list"}}`)

	req, err := ParseControlRequest(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mr := req.(MCPMessageRequest)
	if mr.ServerName != "calc" {
		t.Errorf("expected calc, got %q", mr.ServerName)
	}
	var rpc JSONRPCRequest
	if err := json.Unmarshal(mr.Message, &rpc); err != nil {
		t.Fatalf("inner message: %v", err)
	}
	if rpc.Method != "tools/list" {
		t.Errorf("expected tools/list, got %q", rpc.Method)
	}
}

func TestParseControlRequest_UnknownSubtype(t *testing.T) {
	_, err := ParseControlRequest(json.RawMessage(`{"subtype":"rewind_files"}`))
	var ue *UnknownSubtypeError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnknownSubtypeError, got %v", err)
	}
}

func TestControlReplies_Wire(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want string
	}{
		{
			name: "success",
			v:    NewControlSuccess("req_1", map[string]any{"behavior": "allow"}),
			want: `{"type":"control_response","response":{"response":{"behavior":"allow"},"subtype":"success","request_id":"req_1"}}`,
		},
		{
			name: "error",
			v:    NewControlError("req_2", "boom"),
			want: `{"type":"control_response","response":{"subtype":"error","request_id":"req_2","error":"boom"}}`,
		},
		{
			name: "interrupt",
			v:    NewInterrupt("req_3"),
			want: `{"request":{"subtype":"interrupt"},"type":"control_request","request_id":"req_3"}`,
		},
		{
			name: "set model",
			v:    NewSetModel("req_4", "opus"),
			want: `{"request":{"subtype":"set_model","model":"opus"},"type":"control_request","request_id":"req_4"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.v)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("got  %s\nwant %s", data, tt.want)
			}
		})
	}
}

func TestNewInitialize_Hooks(t *testing.T) {
	matcher := "Bash"
	req := NewInitialize("req_0", map[string][]HookMatcher{
		"PreToolUse": {{Matcher: &matcher, HookCallbackIDs: []string{"hook_0"}}},
	})
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"request":{"hooks":{"PreToolUse":[{"matcher":"Bash","hookCallbackIds":["hook_0"]}]},"subtype":"initialize"},"type":"control_request","request_id":"req_0"}`
	if string(data) != want {
		t.Errorf("got  %s\nwant %s", data, want)
	}
}

func TestParseMessage_ControlResponse(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"control_response","response":{"subtype":"error","request_id":"req_9","error":"nope"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cr := msg.(ControlResponse)
	if cr.Response.OK() {
		t.Error("expected error response")
	}
	if cr.Response.RequestID != "req_9" || cr.Response.Error != "nope" {
		t.Errorf("unexpected payload %#v", cr.Response)
	}
}
