package claude

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bazelment/yoloswe/agentbridge/protocol"
)

// Kind identifies a Message variant.
type Kind int

const (
	KindSystemInit Kind = iota + 1
	KindAssistantText
	KindAssistantThinking
	KindAssistantPartial
	KindToolUseRequest
	KindToolResult
	KindResultFinal
	KindProtocolError
)

var kindNames = map[Kind]string{
	KindSystemInit:        "system_init",
	KindAssistantText:     "assistant_text",
	KindAssistantThinking: "assistant_thinking",
	KindAssistantPartial:  "assistant_partial",
	KindToolUseRequest:    "tool_use_request",
	KindToolResult:        "tool_result",
	KindResultFinal:       "result_final",
	KindProtocolError:     "protocol_error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Message is one item delivered on a query stream. The set of variants is
// closed; switch on the concrete type.
type Message interface {
	Kind() Kind
	QueryID() string
}

// Meta is embedded in every message and carries the query it belongs to.
type Meta struct {
	Query string
}

// QueryID returns the correlation id of the query the message belongs to.
func (m Meta) QueryID() string { return m.Query }

// SystemInit reports the agent's session metadata.
type SystemInit struct {
	Meta
	SessionID      string
	Model          string
	CWD            string
	PermissionMode string
	CLIVersion     string
	Tools          []string
	MCPServers     []protocol.MCPServer
}

// AssistantText is a complete text block from the model.
type AssistantText struct {
	Meta
	MessageID       string
	Text            string
	ParentToolUseID string
	Index           int
}

// AssistantThinking is a complete thinking block.
type AssistantThinking struct {
	Meta
	MessageID string
	Thinking  string
	Index     int
}

// AssistantPartial is one streaming delta. It is only delivered to queries
// that subscribed to partial messages.
type AssistantPartial struct {
	Meta
	MessageID string
	DeltaType string
	Fragment  string
	Index     int
}

// ToolUseRequest reports that the model invoked a tool.
type ToolUseRequest struct {
	Meta
	Input           map[string]any
	ID              string
	Name            string
	ParentToolUseID string
}

// ToolResult reports the output of a tool invocation.
type ToolResult struct {
	Meta
	ToolUseID string
	Content   string
	IsError   bool
}

// ResultFinal closes a query. It is always the last message on a stream
// unless the session failed, in which case a fatal ProtocolError is last.
type ResultFinal struct {
	Meta
	// Err is set when an SDK-side limit was hit, for example
	// ErrBudgetExceeded. Agent-reported failures use IsError and Result.
	Err        error
	Usage      protocol.Usage
	CostUSD    decimal.Decimal
	SessionID  string
	Subtype    string
	Result     string
	StopReason string
	NumTurns   int
	Duration   time.Duration
	IsError    bool
	// Interrupted is true when the query ended after Interrupt.
	Interrupted bool
}

// ProtocolError reports a line that could not be decoded or a failure of
// the session itself. A fatal ProtocolError ends the stream.
type ProtocolError struct {
	Meta
	Err   error
	Line  string
	Fatal bool
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return "protocol error"
	}
	return "protocol error: " + e.Err.Error()
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (SystemInit) Kind() Kind        { return KindSystemInit }
func (AssistantText) Kind() Kind     { return KindAssistantText }
func (AssistantThinking) Kind() Kind { return KindAssistantThinking }
func (AssistantPartial) Kind() Kind  { return KindAssistantPartial }
func (ToolUseRequest) Kind() Kind    { return KindToolUseRequest }
func (ToolResult) Kind() Kind        { return KindToolResult }
func (ResultFinal) Kind() Kind       { return KindResultFinal }
func (*ProtocolError) Kind() Kind    { return KindProtocolError }
