package sdkmcp

import (
	"encoding/json"
	"fmt"
	"slices"
)

// ContentItem is one element of a tool result.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallToolResult is the tools/call result payload.
type CallToolResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError"`
}

// TextResult is a successful single-text result.
func TextResult(text string) *CallToolResult {
	return &CallToolResult{Content: []ContentItem{{Type: "text", Text: text}}}
}

// ErrorResult is a failed single-text result. Handlers may return it to
// report a failure without a Go error.
func ErrorResult(msg string) *CallToolResult {
	return &CallToolResult{Content: []ContentItem{{Type: "text", Text: msg}}, IsError: true}
}

// ToolError is a tool execution failure: a handler error, a panic or
// arguments rejected by the schema. It is reported to the CLI as an
// isError result, never as a JSON-RPC error.
type ToolError struct {
	Cause error
	Tool  string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Cause)
}

func (e *ToolError) Unwrap() error { return e.Cause }

type panicError struct {
	value any
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

func render(v any) (*CallToolResult, error) {
	switch x := v.(type) {
	case nil:
		return TextResult(""), nil
	case *CallToolResult:
		if x == nil {
			return TextResult(""), nil
		}
		out := &CallToolResult{Content: slices.Clone(x.Content), IsError: x.IsError}
		if out.Content == nil {
			out.Content = []ContentItem{}
		}
		return out, nil
	case CallToolResult:
		return render(&x)
	case string:
		return TextResult(x), nil
	case json.RawMessage:
		return TextResult(string(x)), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return TextResult(string(data)), nil
}
