// Package metrics exposes Prometheus collectors for the scheduling pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulingMetrics implements the recorder interfaces used by the decision
// engine, state manager, tool dispatcher, agent, webhook and worker. A nil
// receiver is a no-op.
type SchedulingMetrics struct {
	inboundTotal       *prometheus.CounterVec
	outboundTotal      *prometheus.CounterVec
	decisionsTotal     *prometheus.CounterVec
	toolCallsTotal     *prometheus.CounterVec
	stateFailuresTotal *prometheus.CounterVec
	pipelineLatency    *prometheus.HistogramVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "odontosorriso",
			Subsystem: "whatsapp",
			Name:      "inbound_messages_total",
			Help:      "Inbound WhatsApp webhooks by handling status",
		}, []string{"status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "odontosorriso",
			Subsystem: "whatsapp",
			Name:      "outbound_messages_total",
			Help:      "Outbound WhatsApp replies by delivery status",
		}, []string{"status"}),
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "odontosorriso",
			Subsystem: "agent",
			Name:      "decisions_total",
			Help:      "Decisions made by intent and action",
		}, []string{"intent", "action"}),
		toolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "odontosorriso",
			Subsystem: "agent",
			Name:      "tool_calls_total",
			Help:      "Tool executions by tool and outcome",
		}, []string{"tool", "outcome"}),
		stateFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "odontosorriso",
			Subsystem: "conversation",
			Name:      "state_store_failures_total",
			Help:      "Swallowed conversation state store failures by operation",
		}, []string{"operation"}),
		pipelineLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "odontosorriso",
			Subsystem: "agent",
			Name:      "pipeline_latency_seconds",
			Help:      "Latency of processing one inbound message",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.inboundTotal,
		m.outboundTotal,
		m.decisionsTotal,
		m.toolCallsTotal,
		m.stateFailuresTotal,
		m.pipelineLatency,
	)
	return m
}

func (m *SchedulingMetrics) ObserveInbound(status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(status).Inc()
}

func (m *SchedulingMetrics) ObserveOutbound(status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(status).Inc()
}

func (m *SchedulingMetrics) ObserveDecision(intent, action string) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(intent, action).Inc()
}

func (m *SchedulingMetrics) ObserveToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveStateStoreFailure(operation string) {
	if m == nil {
		return
	}
	m.stateFailuresTotal.WithLabelValues(operation).Inc()
}

func (m *SchedulingMetrics) ObservePipeline(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.pipelineLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())
}
