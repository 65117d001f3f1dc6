// Package hooks models user callbacks for tool permission prompts and agent
// lifecycle hooks, and translates their decisions into wire objects.
//
// Two callback categories exist. A permission prompt (can_use_tool) answers
// with a behavior of allow or deny. A lifecycle hook (hook_callback) answers
// with one of several envelopes depending on the decision. Both translators
// are pure and total: a fault degrades to deny for permissions and to an
// empty object for hooks.
package hooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bazelment/yoloswe/agentbridge/protocol"
)

// Event identifies when a hook fires.
type Event string

const (
	PreToolUse       Event = "PreToolUse"
	PostToolUse      Event = "PostToolUse"
	UserPromptSubmit Event = "UserPromptSubmit"
	Stop             Event = "Stop"
	SubagentStop     Event = "SubagentStop"
	PreCompact       Event = "PreCompact"
	Notification     Event = "Notification"
	SessionStart     Event = "SessionStart"
	SessionEnd       Event = "SessionEnd"
)

// Input is the payload of a hook_callback request. Fields not relevant to
// the event are empty; Raw holds the full object.
type Input struct {
	Event          Event           `json:"hook_event_name"`
	SessionID      string          `json:"session_id"`
	TranscriptPath string          `json:"transcript_path,omitempty"`
	CWD            string          `json:"cwd,omitempty"`
	ToolName       string          `json:"tool_name,omitempty"`
	ToolInput      json.RawMessage `json:"tool_input,omitempty"`
	ToolResponse   json.RawMessage `json:"tool_response,omitempty"`
	Prompt         string          `json:"prompt,omitempty"`
	Trigger        string          `json:"trigger,omitempty"`
	StopHookActive bool            `json:"stop_hook_active,omitempty"`
	ToolUseID      string          `json:"-"`
	Raw            json.RawMessage `json:"-"`
}

// ParseInput decodes a hook_callback input object.
func ParseInput(raw json.RawMessage, toolUseID *string) (Input, error) {
	var in Input
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &in); err != nil {
			return Input{}, err
		}
	}
	in.Raw = raw
	if toolUseID != nil {
		in.ToolUseID = *toolUseID
	}
	return in, nil
}

// Func is a lifecycle hook callback.
type Func func(ctx context.Context, in Input) (Decision, error)

// Matcher binds callbacks to tool names for one event. An empty Pattern
// matches every tool; otherwise it is passed to the CLI, which interprets
// it as a tool-name pattern such as "Bash" or "Write|Edit".
type Matcher struct {
	Pattern string
	Hooks   []Func
	Timeout time.Duration
}

// PermissionRequest is the payload of a can_use_tool request.
type PermissionRequest struct {
	Input       map[string]any
	BlockedPath *string
	ToolName    string
	ToolUseID   string
	Suggestions []protocol.PermissionUpdate
}

// PermissionFunc decides whether a tool call may proceed.
type PermissionFunc func(ctx context.Context, req PermissionRequest) (Decision, error)

// Resolve runs fn and folds a returned error or panic into a Failed
// decision, so callers always have something to translate.
func Resolve[T any](ctx context.Context, fn func(context.Context, T) (Decision, error), arg T) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			d = Failed{Reason: "callback panicked"}
		}
	}()
	d, err := fn(ctx, arg)
	if err != nil {
		return Failed{Reason: err.Error()}
	}
	return d
}
