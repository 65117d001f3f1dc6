package claude

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bazelment/yoloswe/agentbridge/internal/ndjson"
	"github.com/bazelment/yoloswe/agentbridge/transport"
)

// fakeCLI plays the agent side of a session over in-memory pipes. Handshake
// style control requests (initialize, set_model, set_permission_mode,
// interrupt) are answered automatically and recorded; every other line the
// SDK writes is queued for the test.
type fakeCLI struct {
	out  *io.PipeWriter
	recv chan map[string]any

	mu       sync.Mutex
	controls []map[string]any
	config   SessionConfig
}

func newFakeCLI(cfg SessionConfig) (*fakeCLI, Conn) {
	sdkIn, cliOut := io.Pipe()
	cliIn, sdkOut := io.Pipe()
	f := &fakeCLI{
		out:    cliOut,
		recv:   make(chan map[string]any, 256),
		config: cfg,
	}
	go f.serve(cliIn)
	return f, transport.NewStream(sdkIn, sdkOut)
}

func (f *fakeCLI) serve(r io.ReadCloser) {
	defer close(f.recv)
	defer r.Close()
	rd := ndjson.NewReader(r)
	for {
		line, err := rd.ReadLine()
		if err != nil {
			return
		}
		var msg map[string]any
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if msg["type"] == "control_request" {
			req, _ := msg["request"].(map[string]any)
			switch req["subtype"] {
			case "initialize", "set_model", "set_permission_mode", "interrupt":
				f.mu.Lock()
				f.controls = append(f.controls, msg)
				f.mu.Unlock()
				_ = f.sendJSON(map[string]any{
					"type": "control_response",
					"response": map[string]any{
						"subtype":    "success",
						"request_id": msg["request_id"],
						"response":   map[string]any{},
					},
				})
				continue
			}
		}
		f.recv <- msg
	}
}

func (f *fakeCLI) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return f.sendLine(string(data))
}

func (f *fakeCLI) sendLine(line string) error {
	_, err := f.out.Write([]byte(line + "\n"))
	return err
}

// send writes lines to the SDK and fails the test on error.
func (f *fakeCLI) send(t *testing.T, lines ...string) {
	t.Helper()
	for _, line := range lines {
		require.NoError(t, f.sendLine(line))
	}
}

// closeOutput simulates the agent exiting.
func (f *fakeCLI) closeOutput() {
	_ = f.out.Close()
}

// next returns the next non-handshake line written by the SDK.
func (f *fakeCLI) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case msg, ok := <-f.recv:
		require.True(t, ok, "SDK closed its output")
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for SDK output")
		return nil
	}
}

// expectPrompt reads the next line and checks that it is a user prompt.
func (f *fakeCLI) expectPrompt(t *testing.T, prompt string) {
	t.Helper()
	msg := f.next(t)
	require.Equal(t, "user", msg["type"])
	body := msg["message"].(map[string]any)
	require.Equal(t, prompt, body["content"])
}

// controlReply sends a control request and returns the inner response the
// SDK answered it with.
func (f *fakeCLI) controlReply(t *testing.T, requestID string, request any) map[string]any {
	t.Helper()
	require.NoError(t, f.sendJSON(map[string]any{
		"type":       "control_request",
		"request_id": requestID,
		"request":    request,
	}))
	msg := f.next(t)
	require.Equal(t, "control_response", msg["type"])
	resp := msg["response"].(map[string]any)
	require.Equal(t, requestID, resp["request_id"])
	return resp
}

func (f *fakeCLI) recordedControls() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, len(f.controls))
	copy(out, f.controls)
	return out
}

func (f *fakeCLI) hasControl(subtype string) bool {
	for _, c := range f.recordedControls() {
		if req, _ := c["request"].(map[string]any); req["subtype"] == subtype {
			return true
		}
	}
	return false
}

// fakeDialer hands out a new fakeCLI per dial.
type fakeDialer struct {
	mu    sync.Mutex
	fakes []*fakeCLI
}

func (d *fakeDialer) dial(_ context.Context, cfg SessionConfig) (Conn, error) {
	f, conn := newFakeCLI(cfg)
	d.mu.Lock()
	d.fakes = append(d.fakes, f)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) fake(i int) *fakeCLI {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fakes[i]
}

// startSession starts a session against a fake CLI and stops it at cleanup.
func startSession(t *testing.T, opts ...SessionOption) (*Session, *fakeCLI, *fakeDialer) {
	t.Helper()
	d := &fakeDialer{}
	s := NewSession(append([]SessionOption{WithDialer(d.dial), WithInitTimeout(5 * time.Second)}, opts...)...)
	require.NoError(t, s.Start(t.Context()))
	t.Cleanup(func() { _ = s.Stop() })
	return s, d.fake(0), d
}

// collect reads a stream to the end.
func collect(t *testing.T, st *Stream) []Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	var out []Message
	for {
		m, err := st.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, m)
	}
}

func kinds(msgs []Message) []Kind {
	out := make([]Kind, len(msgs))
	for i, m := range msgs {
		out[i] = m.Kind()
	}
	return out
}

const (
	initLine   = `{"type":"system","subtype":"init","session_id":"cli-1","model":"claude-sonnet","cwd":"/work","tools":["Read","Bash"],"permissionMode":"default"}`
	resultLine = `{"type":"result","subtype":"success","session_id":"cli-1","result":"done","is_error":false,"num_turns":1,"duration_ms":1200,"total_cost_usd":0.0125,"usage":{"input_tokens":10,"output_tokens":5}}`
)

func assistantText(uuid, text string) string {
	data, _ := json.Marshal(map[string]any{
		"type":       "assistant",
		"session_id": "cli-1",
		"uuid":       uuid,
		"message": map[string]any{
			"id":      "msg_" + uuid,
			"role":    "assistant",
			"content": []any{map[string]any{"type": "text", "text": text}},
		},
	})
	return string(data)
}

func streamEvent(event string) string {
	return `{"type":"stream_event","session_id":"cli-1","uuid":"se","parent_tool_use_id":null,"event":` + event + `}`
}
