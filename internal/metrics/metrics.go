// Package metrics registers the Prometheus metrics the hub exposes on its
// /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hatago/hatago-hub/internal/node"
)

// Metrics holds every metric the hub records. Pass a *Metrics to any
// component that needs to observe one.
type Metrics struct {
	NodeState              *prometheus.GaugeVec
	ToolCallsTotal          *prometheus.CounterVec
	ToolCallDuration        *prometheus.HistogramVec
	ReconnectAttemptsTotal  *prometheus.CounterVec
	ActiveSessions          prometheus.Gauge
	RegisteredTools         *prometheus.GaugeVec
}

// New builds and registers every metric against reg.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		NodeState: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "hatago",
				Name:      "node_state",
				Help:      "Current lifecycle state of an upstream node, one gauge series per (upstream, state) pair set to 1 for the active state and 0 otherwise",
			},
			[]string{"upstream", "state"},
		),
		ToolCallsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hatago",
				Name:      "tool_calls_total",
				Help:      "Total number of tools/call invocations routed to an upstream",
			},
			[]string{"upstream", "tool", "status"},
		),
		ToolCallDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "hatago",
				Name:      "tool_call_duration_seconds",
				Help:      "Latency of a tools/call round trip to an upstream",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"upstream", "tool"},
		),
		ReconnectAttemptsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hatago",
				Name:      "reconnect_attempts_total",
				Help:      "Total number of reconnect attempts made for a crashed upstream",
			},
			[]string{"upstream"},
		),
		ActiveSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "hatago",
				Name:      "active_sessions",
				Help:      "Number of downstream sessions currently registered with the MCP server",
			},
		),
		RegisteredTools: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "hatago",
				Name:      "registered_tools",
				Help:      "Number of tools currently exposed for an upstream",
			},
			[]string{"upstream"},
		),
	}
}

// SetNodeState zeroes every other state's series for upstreamID and sets
// the series matching s to 1, so a Grafana panel can graph exactly one
// active state per upstream at a time.
func (m *Metrics) SetNodeState(upstreamID string, s node.State) {
	for _, candidate := range []node.State{
		node.StateStopped, node.StateStarting, node.StateRunning, node.StateStopping, node.StateCrashed,
	} {
		v := 0.0
		if candidate == s {
			v = 1.0
		}
		m.NodeState.WithLabelValues(upstreamID, string(candidate)).Set(v)
	}
}

// ObserveToolCall records the outcome and latency of one tools/call
// invocation.
func (m *Metrics) ObserveToolCall(upstreamID, tool, status string, seconds float64) {
	m.ToolCallsTotal.WithLabelValues(upstreamID, tool, status).Inc()
	m.ToolCallDuration.WithLabelValues(upstreamID, tool).Observe(seconds)
}
