package claude

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors a session reports to. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// Messages counts messages delivered to query streams.
	Messages *prometheus.CounterVec
	// ProtocolErrors counts malformed or unknown lines.
	ProtocolErrors *prometheus.CounterVec
	// ControlRequests counts control requests received from the CLI.
	ControlRequests *prometheus.CounterVec
	// ToolCalls counts SDK MCP tool invocations.
	ToolCalls *prometheus.CounterVec
	// ToolDuration tracks SDK MCP tool latency.
	ToolDuration *prometheus.HistogramVec
	// Backpressure counts deliveries that found a full query queue.
	Backpressure prometheus.Counter
	// ActiveSessions tracks running sessions.
	ActiveSessions prometheus.Gauge
	// CostUSD accumulates reported agent cost.
	CostUSD prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Messages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentbridge_messages_total",
				Help: "Total number of messages delivered to query streams",
			},
			[]string{"kind"},
		),
		ProtocolErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentbridge_protocol_errors_total",
				Help: "Total number of lines that could not be decoded",
			},
			[]string{"reason"},
		),
		ControlRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentbridge_control_requests_total",
				Help: "Total number of control requests received from the agent",
			},
			[]string{"subtype"},
		),
		ToolCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentbridge_tool_calls_total",
				Help: "Total number of SDK MCP tool calls",
			},
			[]string{"server", "tool", "status"},
		),
		ToolDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentbridge_tool_duration_seconds",
				Help:    "SDK MCP tool call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"server"},
		),
		Backpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "agentbridge_backpressure_total",
			Help: "Total number of deliveries that waited on a full query queue",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "agentbridge_active_sessions",
			Help: "Number of running sessions",
		}),
		CostUSD: f.NewCounter(prometheus.CounterOpts{
			Name: "agentbridge_cost_usd_total",
			Help: "Cumulative agent cost in USD",
		}),
	}
}

func (m *Metrics) message(k Kind) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(k.String()).Inc()
}

func (m *Metrics) protocolError(reason string) {
	if m == nil {
		return
	}
	m.ProtocolErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) controlRequest(subtype string) {
	if m == nil {
		return
	}
	m.ControlRequests.WithLabelValues(subtype).Inc()
}

func (m *Metrics) backpressure() {
	if m == nil {
		return
	}
	m.Backpressure.Inc()
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) sessionEnded() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) cost(usd float64) {
	if m == nil || usd <= 0 {
		return
	}
	m.CostUSD.Add(usd)
}

// toolObserver returns an sdkmcp.CallObserver for server.
func (m *Metrics) toolObserver(server string) func(tool string, elapsed time.Duration, err error) {
	return func(tool string, elapsed time.Duration, err error) {
		if m == nil {
			return
		}
		status := "ok"
		if err != nil {
			status = "error"
		}
		m.ToolCalls.WithLabelValues(server, tool, status).Inc()
		m.ToolDuration.WithLabelValues(server).Observe(elapsed.Seconds())
	}
}
