package claude

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/yoloswe/agentbridge/sdkmcp"
)

func TestMetrics_SessionActivity(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	b := sdkmcp.NewBuilder()
	sdkmcp.Add(b, "add", "Add two integers", func(_ context.Context, a addArgs) (int, error) {
		return a.X + a.Y, nil
	})
	tools, err := b.Build()
	require.NoError(t, err)

	s, f, _ := startSession(t, WithMetrics(m), WithSDKServer("calc", tools))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActiveSessions))

	f.controlReply(t, "tool-1", map[string]any{
		"subtype":     "mcp_message",
		"server_name": "calc",
		"message": map[string]any{
			"jsonrpc": "2.0", "id": 1, "method": "tools/call",
			"params": map[string]any{"name": "add", "arguments": map[string]any{"x": 1, "y": 2}},
		},
	})
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ToolCalls.WithLabelValues("calc", "add", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ControlRequests.WithLabelValues("mcp_message")))

	go func() {
		f.expectPrompt(t, "count")
		f.send(t, `{"broken`, assistantText("a-1", "one"), resultLine)
	}()
	_, err = s.Ask(t.Context(), "count")
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Messages.WithLabelValues("assistant_text")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Messages.WithLabelValues("result_final")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProtocolErrors.WithLabelValues("malformed")))
	assert.InDelta(t, 0.0125, testutil.ToFloat64(m.CostUSD), 1e-9)

	require.NoError(t, s.Stop())
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ActiveSessions))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.message(KindResultFinal)
	m.backpressure()
	m.cost(1)
	m.toolObserver("calc")("add", 0, nil)
}
