package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func TestSchedulingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulingMetrics(reg)

	m.ObserveInbound("accepted")
	m.ObserveInbound("accepted")
	m.ObserveInbound("duplicate")
	m.ObserveOutbound("sent")
	m.ObserveDecision("schedule", "ask_date")
	m.ObserveToolCall("check_availability", "success")
	m.ObserveStateStoreFailure("load")
	m.ObservePipeline("success", 300*time.Millisecond)

	families := gather(t, reg)

	inbound := families["odontosorriso_whatsapp_inbound_messages_total"]
	require.NotNil(t, inbound)
	counts := map[string]float64{}
	for _, metric := range inbound.GetMetric() {
		counts[metric.GetLabel()[0].GetValue()] = metric.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{"accepted": 2, "duplicate": 1}, counts)

	latency := families["odontosorriso_agent_pipeline_latency_seconds"]
	require.NotNil(t, latency)
	hist := latency.GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(1), hist.GetSampleCount())
	assert.InDelta(t, 0.3, hist.GetSampleSum(), 0.001)

	for _, name := range []string{
		"odontosorriso_whatsapp_outbound_messages_total",
		"odontosorriso_agent_decisions_total",
		"odontosorriso_agent_tool_calls_total",
		"odontosorriso_conversation_state_store_failures_total",
	} {
		assert.Contains(t, families, name)
	}
}

func TestSchedulingMetricsNilSafe(t *testing.T) {
	var m *SchedulingMetrics
	m.ObserveInbound("accepted")
	m.ObserveOutbound("sent")
	m.ObserveDecision("greeting", "greet")
	m.ObserveToolCall("cancel_appointment", "error")
	m.ObserveStateStoreFailure("save")
	m.ObservePipeline("success", time.Second)
}
