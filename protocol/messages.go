// Package protocol defines the stream-json wire format spoken by the Claude
// CLI: one JSON object per line, discriminated by its "type" field.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType discriminates between message kinds.
type MessageType string

const (
	MessageTypeSystem          MessageType = "system"
	MessageTypeAssistant       MessageType = "assistant"
	MessageTypeUser            MessageType = "user"
	MessageTypeResult          MessageType = "result"
	MessageTypeStreamEvent     MessageType = "stream_event"
	MessageTypeControlRequest  MessageType = "control_request"
	MessageTypeControlResponse MessageType = "control_response"
	MessageTypeControlCancel   MessageType = "control_cancel_request"
)

// Message is implemented by every decoded line.
type Message interface {
	MsgType() MessageType
}

// SystemMessage is emitted once per process as subtype "init", and later for
// status notifications such as compaction.
type SystemMessage struct {
	Type           MessageType `json:"type"`
	Subtype        string      `json:"subtype"`
	SessionID      string      `json:"session_id"`
	UUID           string      `json:"uuid,omitempty"`
	Model          string      `json:"model,omitempty"`
	CWD            string      `json:"cwd,omitempty"`
	PermissionMode string      `json:"permissionMode,omitempty"`
	CLIVersion     string      `json:"claude_code_version,omitempty"`
	Tools          []string    `json:"tools,omitempty"`
	MCPServers     []MCPServer `json:"mcp_servers,omitempty"`
}

// MsgType returns the message type.
func (SystemMessage) MsgType() MessageType { return MessageTypeSystem }

// MCPServer is a server status entry in the init message.
type MCPServer struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Usage is the token accounting attached to assistant and result messages.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// Body is the Anthropic message envelope nested in assistant and user lines.
type Body struct {
	ID         string  `json:"id,omitempty"`
	Role       string  `json:"role"`
	Model      string  `json:"model,omitempty"`
	Content    Content `json:"content"`
	StopReason *string `json:"stop_reason,omitempty"`
	Usage      *Usage  `json:"usage,omitempty"`
}

// AssistantMessage is a complete (non-partial) model message.
type AssistantMessage struct {
	Type            MessageType `json:"type"`
	SessionID       string      `json:"session_id"`
	UUID            string      `json:"uuid,omitempty"`
	ParentToolUseID *string     `json:"parent_tool_use_id"`
	Message         Body        `json:"message"`
}

// MsgType returns the message type.
func (AssistantMessage) MsgType() MessageType { return MessageTypeAssistant }

// UserMessage echoes tool results back from the CLI.
type UserMessage struct {
	Type            MessageType `json:"type"`
	SessionID       string      `json:"session_id"`
	UUID            string      `json:"uuid,omitempty"`
	ParentToolUseID *string     `json:"parent_tool_use_id"`
	Message         Body        `json:"message"`
}

// MsgType returns the message type.
func (UserMessage) MsgType() MessageType { return MessageTypeUser }

// ResultMessage closes a turn.
type ResultMessage struct {
	Type          MessageType `json:"type"`
	Subtype       string      `json:"subtype"`
	SessionID     string      `json:"session_id"`
	UUID          string      `json:"uuid,omitempty"`
	Result        string      `json:"result"`
	StopReason    *string     `json:"stop_reason,omitempty"`
	IsError       bool        `json:"is_error"`
	NumTurns      int         `json:"num_turns"`
	DurationMs    int64       `json:"duration_ms"`
	DurationAPIMs int64       `json:"duration_api_ms"`
	// TotalCostUSD is kept as a JSON number literal so that callers can
	// parse it without float rounding.
	TotalCostUSD json.Number `json:"total_cost_usd"`
	Usage        Usage       `json:"usage"`
}

// MsgType returns the message type.
func (ResultMessage) MsgType() MessageType { return MessageTypeResult }

// ParseMessage decodes one line into its concrete message type.
//
// The set of types is closed: a line whose envelope is not a JSON object
// with a string "type" yields a *DecodeError, and a well-formed line with an
// unrecognized type yields an *UnknownTypeError.
func ParseMessage(line []byte) (Message, error) {
	var env struct {
		Type *MessageType `json:"type"`
	}
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, &DecodeError{Line: line, Cause: err}
	}
	if env.Type == nil || *env.Type == "" {
		return nil, &DecodeError{Line: line, Cause: ErrMissingType}
	}

	switch *env.Type {
	case MessageTypeSystem:
		return decodeLine[SystemMessage](line)
	case MessageTypeAssistant:
		return decodeLine[AssistantMessage](line)
	case MessageTypeUser:
		return decodeLine[UserMessage](line)
	case MessageTypeResult:
		return decodeLine[ResultMessage](line)
	case MessageTypeStreamEvent:
		return decodeLine[StreamEvent](line)
	case MessageTypeControlRequest:
		return decodeLine[ControlRequest](line)
	case MessageTypeControlResponse:
		return decodeLine[ControlResponse](line)
	case MessageTypeControlCancel:
		return decodeLine[ControlCancelRequest](line)
	default:
		return nil, &UnknownTypeError{Type: string(*env.Type)}
	}
}

func decodeLine[T Message](line []byte) (Message, error) {
	var m T
	if err := json.Unmarshal(line, &m); err != nil {
		return nil, &DecodeError{Line: line, Cause: fmt.Errorf("decode %T: %w", m, err)}
	}
	return m, nil
}

// UserInput is the line written to the CLI to start a turn.
type UserInput struct {
	Type            string        `json:"type"`
	Message         UserInputBody `json:"message"`
	ParentToolUseID *string       `json:"parent_tool_use_id"`
	SessionID       string        `json:"session_id"`
}

// UserInputBody carries the prompt.
type UserInputBody struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// NewUserInput builds a plain text user turn.
func NewUserInput(sessionID, text string) UserInput {
	return UserInput{
		Type:      string(MessageTypeUser),
		SessionID: sessionID,
		Message:   UserInputBody{Role: "user", Content: text},
	}
}
