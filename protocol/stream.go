package protocol

import (
	"encoding/json"
	"fmt"
)

// StreamEvent wraps a raw Anthropic streaming event. The CLI only emits these
// when started with --include-partial-messages.
type StreamEvent struct {
	ParentToolUseID *string         `json:"parent_tool_use_id"`
	Type            MessageType     `json:"type"`
	SessionID       string          `json:"session_id"`
	UUID            string          `json:"uuid,omitempty"`
	Event           json.RawMessage `json:"event"`
}

// MsgType returns the message type.
func (StreamEvent) MsgType() MessageType { return MessageTypeStreamEvent }

// Parsed decodes the inner event.
func (e StreamEvent) Parsed() (StreamEventData, error) {
	return ParseStreamEvent(e.Event)
}

// StreamEventType discriminates between stream event kinds.
type StreamEventType string

const (
	StreamEventTypeMessageStart      StreamEventType = "message_start"
	StreamEventTypeContentBlockStart StreamEventType = "content_block_start"
	StreamEventTypeContentBlockDelta StreamEventType = "content_block_delta"
	StreamEventTypeContentBlockStop  StreamEventType = "content_block_stop"
	StreamEventTypeMessageDelta      StreamEventType = "message_delta"
	StreamEventTypeMessageStop       StreamEventType = "message_stop"
)

// StreamEventData is implemented by every inner stream event.
type StreamEventData interface {
	EventType() StreamEventType
}

// MessageStartEvent opens a model message.
type MessageStartEvent struct {
	Type    StreamEventType `json:"type"`
	Message struct {
		ID    string `json:"id"`
		Model string `json:"model"`
	} `json:"message"`
}

func (MessageStartEvent) EventType() StreamEventType { return StreamEventTypeMessageStart }

// ContentBlockStartEvent opens a content block at Index.
type ContentBlockStartEvent struct {
	Type         StreamEventType `json:"type"`
	ContentBlock json.RawMessage `json:"content_block"`
	Index        int             `json:"index"`
}

func (ContentBlockStartEvent) EventType() StreamEventType { return StreamEventTypeContentBlockStart }

// Block decodes the block skeleton carried by the start event.
func (e ContentBlockStartEvent) Block() (ContentBlock, error) {
	return UnmarshalContentBlock(e.ContentBlock)
}

// ContentBlockDeltaEvent carries one increment for the block at Index.
type ContentBlockDeltaEvent struct {
	Type  StreamEventType `json:"type"`
	Delta Delta           `json:"delta"`
	Index int             `json:"index"`
}

func (ContentBlockDeltaEvent) EventType() StreamEventType { return StreamEventTypeContentBlockDelta }

// Delta kinds.
const (
	DeltaTypeText      = "text_delta"
	DeltaTypeThinking  = "thinking_delta"
	DeltaTypeInputJSON = "input_json_delta"
	DeltaTypeSignature = "signature_delta"
)

// Delta is the union of all delta payloads. Only the field matching Type is
// populated.
type Delta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	Signature   string `json:"signature,omitempty"`
}

// Fragment returns the payload string for the delta's kind.
func (d Delta) Fragment() string {
	switch d.Type {
	case DeltaTypeText:
		return d.Text
	case DeltaTypeThinking:
		return d.Thinking
	case DeltaTypeInputJSON:
		return d.PartialJSON
	case DeltaTypeSignature:
		return d.Signature
	}
	return ""
}

// ContentBlockStopEvent closes the block at Index.
type ContentBlockStopEvent struct {
	Type  StreamEventType `json:"type"`
	Index int             `json:"index"`
}

func (ContentBlockStopEvent) EventType() StreamEventType { return StreamEventTypeContentBlockStop }

// MessageDeltaEvent carries message-level metadata such as the stop reason.
type MessageDeltaEvent struct {
	Type  StreamEventType `json:"type"`
	Delta struct {
		StopReason *string `json:"stop_reason"`
	} `json:"delta"`
	Usage Usage `json:"usage"`
}

func (MessageDeltaEvent) EventType() StreamEventType { return StreamEventTypeMessageDelta }

// MessageStopEvent closes a model message.
type MessageStopEvent struct {
	Type StreamEventType `json:"type"`
}

func (MessageStopEvent) EventType() StreamEventType { return StreamEventTypeMessageStop }

// ParseStreamEvent decodes an inner stream event. Unknown event kinds (for
// example "ping") decode to nil without error.
func ParseStreamEvent(data json.RawMessage) (StreamEventData, error) {
	var head struct {
		Type StreamEventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("stream event: %w", err)
	}
	switch head.Type {
	case StreamEventTypeMessageStart:
		return decodeEvent[MessageStartEvent](data)
	case StreamEventTypeContentBlockStart:
		return decodeEvent[ContentBlockStartEvent](data)
	case StreamEventTypeContentBlockDelta:
		return decodeEvent[ContentBlockDeltaEvent](data)
	case StreamEventTypeContentBlockStop:
		return decodeEvent[ContentBlockStopEvent](data)
	case StreamEventTypeMessageDelta:
		return decodeEvent[MessageDeltaEvent](data)
	case StreamEventTypeMessageStop:
		return decodeEvent[MessageStopEvent](data)
	default:
		return nil, nil
	}
}

func decodeEvent[T StreamEventData](data json.RawMessage) (StreamEventData, error) {
	var e T
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("stream event %s: %w", e.EventType(), err)
	}
	return e, nil
}
