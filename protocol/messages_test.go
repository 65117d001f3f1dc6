package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseMessage_Assistant(t *testing.T) {
	line := []byte(`{"type":"assistant","session_id":"s1","uuid":"u1","parent_tool_use_id":null,"message":{"id":"msg_1","role":"assistant","content":[{"type":"text","text":"hi"},{"type":"tool_use","id":"toolu_1","name":"Bash","input":{"command":"ls"}}]}}`)

	msg, err := ParseMessage(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	am, ok := msg.(AssistantMessage)
	if !ok {
		t.Fatalf("expected AssistantMessage, got %T", msg)
	}
	if am.Message.ID != "msg_1" {
		t.Errorf("expected message id msg_1, got %q", am.Message.ID)
	}
	if len(am.Message.Content) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(am.Message.Content))
	}
	if tb, ok := am.Message.Content[0].(TextBlock); !ok || tb.Text != "hi" {
		t.Errorf("unexpected first block: %#v", am.Message.Content[0])
	}
	tu, ok := am.Message.Content[1].(ToolUseBlock)
	if !ok {
		t.Fatalf("expected ToolUseBlock, got %T", am.Message.Content[1])
	}
	if tu.Name != "Bash" || tu.Input["command"] != "ls" {
		t.Errorf("unexpected tool use: %#v", tu)
	}
}

func TestParseMessage_UserStringContent(t *testing.T) {
	line := []byte(`{"type":"user","session_id":"s1","parent_tool_use_id":null,"message":{"role":"user","content":"plain"}}`)

	msg, err := ParseMessage(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	um := msg.(UserMessage)
	if len(um.Message.Content) != 1 {
		t.Fatalf("expected 1 block, got %d", len(um.Message.Content))
	}
	if tb := um.Message.Content[0].(TextBlock); tb.Text != "plain" {
		t.Errorf("expected 'plain', got %q", tb.Text)
	}
}

func TestParseMessage_ResultKeepsCostPrecision(t *testing.T) {
	line := []byte(`{"type":"result","subtype":"success","session_id":"s1","result":"done","is_error":false,"num_turns":1,"duration_ms":12,"duration_api_ms":10,"total_cost_usd":0.0123456789,"usage":{"input_tokens":3,"output_tokens":4}}`)

	msg, err := ParseMessage(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rm := msg.(ResultMessage)
	if rm.TotalCostUSD.String() != "0.0123456789" {
		t.Errorf("expected cost literal preserved, got %q", rm.TotalCostUSD)
	}
	if rm.Usage.OutputTokens != 4 {
		t.Errorf("expected 4 output tokens, got %d", rm.Usage.OutputTokens)
	}
}

func TestParseMessage_Malformed(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"not json", `hello`},
		{"array", `[1,2]`},
		{"missing type", `{"subtype":"init"}`},
		{"empty type", `{"type":""}`},
		{"type not string", `{"type":5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage([]byte(tt.line))
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected DecodeError, got %v", err)
			}
		})
	}
}

func TestParseMessage_UnknownType(t *testing.T) {
	_, err := ParseMessage([]byte(`{"type":"telemetry","x":1}`))
	var ue *UnknownTypeError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnknownTypeError, got %v", err)
	}
	if ue.Type != "telemetry" {
		t.Errorf("expected type telemetry, got %q", ue.Type)
	}
}

func TestContent_SkipsUnknownBlocks(t *testing.T) {
	var c Content
	raw := `[{"type":"text","text":"a"},{"type":"server_tool_use","id":"x"},{"type":"thinking","thinking":"b"}]`
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(c))
	}
	if c[1].BlockType() != ContentBlockTypeThinking {
		t.Errorf("expected thinking block, got %s", c[1].BlockType())
	}
}

func TestToolResultBlock_Text(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"string", `"ok"`, "ok"},
		{"items", `[{"type":"text","text":"a"},{"type":"image"},{"type":"text","text":"b"}]`, "ab"},
		{"object", `{"k":1}`, `{"k":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := ToolResultBlock{Content: json.RawMessage(tt.content)}
			if got := b.Text(); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewUserInput(t *testing.T) {
	data, err := json.Marshal(NewUserInput("sess", "ping"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"user","message":{"role":"user","content":"ping"},"parent_tool_use_id":null,"session_id":"sess"}`
	if string(data) != want {
		t.Errorf("got %s\nwant %s", data, want)
	}
}

func TestParseTraceEntry(t *testing.T) {
	raw := []byte(`{"type":"system","subtype":"init","session_id":"s1"}`)
	entry := NewTraceEntry("local", DirectionReceived, raw)
	line, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	msg, err := ParseTraceEntry(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sm, ok := msg.(SystemMessage); !ok || sm.SessionID != "s1" {
		t.Errorf("unexpected message %#v", msg)
	}

	// Unwrapped assistant lines carry a "message" field of their own.
	msg, err = ParseTraceEntry([]byte(`{"type":"assistant","session_id":"s1","parent_tool_use_id":null,"message":{"role":"assistant","content":[]}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := msg.(AssistantMessage); !ok {
		t.Errorf("expected AssistantMessage, got %T", msg)
	}
}

func TestNewTraceEntry_MalformedLine(t *testing.T) {
	entry := NewTraceEntry("local", DirectionReceived, []byte("not json"))
	if string(entry.Message) != `"not json"` {
		t.Errorf("expected malformed line quoted, got %s", entry.Message)
	}
}
