package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/hatago/hatago-hub/internal/node"
)

func TestSetNodeState_ZeroesEveryOtherStateSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetNodeState("srv1", node.StateStarting)
	m.SetNodeState("srv1", node.StateRunning)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.NodeState.WithLabelValues("srv1", string(node.StateStarting))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NodeState.WithLabelValues("srv1", string(node.StateRunning))))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.NodeState.WithLabelValues("srv1", string(node.StateCrashed))))
}

func TestObserveToolCall_IncrementsCounterAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveToolCall("srv1", "echo", "ok", 0.25)
	m.ObserveToolCall("srv1", "echo", "error", 0.5)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("srv1", "echo", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("srv1", "echo", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ToolCallDuration))
}
