package protocol

import (
	"bytes"
	"encoding/json"
)

// ContentBlockType identifies the kind of content block.
type ContentBlockType string

const (
	ContentBlockTypeText       ContentBlockType = "text"
	ContentBlockTypeThinking   ContentBlockType = "thinking"
	ContentBlockTypeToolUse    ContentBlockType = "tool_use"
	ContentBlockTypeToolResult ContentBlockType = "tool_result"
)

// ContentBlock is one element of a message's content array.
type ContentBlock interface {
	BlockType() ContentBlockType
}

// TextBlock is model text.
type TextBlock struct {
	Type ContentBlockType `json:"type"`
	Text string           `json:"text"`
}

func (TextBlock) BlockType() ContentBlockType { return ContentBlockTypeText }

// ThinkingBlock is extended thinking output.
type ThinkingBlock struct {
	Type      ContentBlockType `json:"type"`
	Thinking  string           `json:"thinking"`
	Signature string           `json:"signature,omitempty"`
}

func (ThinkingBlock) BlockType() ContentBlockType { return ContentBlockTypeThinking }

// ToolUseBlock is a tool invocation requested by the model.
type ToolUseBlock struct {
	Input map[string]any   `json:"input"`
	Type  ContentBlockType `json:"type"`
	ID    string           `json:"id"`
	Name  string           `json:"name"`
}

func (ToolUseBlock) BlockType() ContentBlockType { return ContentBlockTypeToolUse }

// ToolResultBlock is the outcome of a tool invocation.
type ToolResultBlock struct {
	Content   json.RawMessage  `json:"content,omitempty"`
	Type      ContentBlockType `json:"type"`
	ToolUseID string           `json:"tool_use_id"`
	IsError   bool             `json:"is_error,omitempty"`
}

func (ToolResultBlock) BlockType() ContentBlockType { return ContentBlockTypeToolResult }

// Text flattens the result content into a string. String content is
// returned verbatim, text items of an array are concatenated, and anything
// else is returned as raw JSON.
func (b ToolResultBlock) Text() string {
	if len(b.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}
	var items []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(b.Content, &items); err == nil {
		var buf bytes.Buffer
		for _, it := range items {
			if it.Type == "text" {
				buf.WriteString(it.Text)
			}
		}
		return buf.String()
	}
	return string(b.Content)
}

// UnmarshalContentBlock decodes a single block. Unknown block types decode
// to nil without error so that new server-side block kinds do not break
// older clients.
func UnmarshalContentBlock(data json.RawMessage) (ContentBlock, error) {
	var head struct {
		Type ContentBlockType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	var (
		block ContentBlock
		err   error
	)
	switch head.Type {
	case ContentBlockTypeText:
		var b TextBlock
		err = json.Unmarshal(data, &b)
		block = b
	case ContentBlockTypeThinking:
		var b ThinkingBlock
		err = json.Unmarshal(data, &b)
		block = b
	case ContentBlockTypeToolUse:
		var b ToolUseBlock
		err = json.Unmarshal(data, &b)
		block = b
	case ContentBlockTypeToolResult:
		var b ToolResultBlock
		err = json.Unmarshal(data, &b)
		block = b
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return block, nil
}

// Content is a message content field. On the wire it is either a bare
// string (decoded as a single TextBlock) or an array of blocks.
type Content []ContentBlock

// UnmarshalJSON implements json.Unmarshaler.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Content{TextBlock{Type: ContentBlockTypeText, Text: s}}
		return nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(Content, 0, len(raws))
	for _, raw := range raws {
		b, err := UnmarshalContentBlock(raw)
		if err != nil {
			return err
		}
		if b != nil {
			out = append(out, b)
		}
	}
	*c = out
	return nil
}
