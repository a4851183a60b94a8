// Package metrics exposes the orchestrator's Prometheus gauges/counters,
// grounded on the teacher's promauto-registered metric set, re-keyed to
// this domain's components (search fan-out, model routing, tool execution,
// circuit breakers, voice turns) in place of the teacher's
// conversation/message counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orchestrator_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_queries_total",
		Help: "Total text queries handled",
	}, []string{"outcome"})

	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orchestrator_query_duration_seconds",
		Help:    "End-to-end query duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"outcome"})

	SourceFanoutOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_source_fanout_outcomes_total",
		Help: "Search fan-out leg outcomes by source and result",
	}, []string{"source", "outcome"})

	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_llm_requests_total",
		Help: "Total LLM generation requests",
	}, []string{"backend", "status"})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orchestrator_llm_request_duration_seconds",
		Help:    "LLM generation duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"backend"})

	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_tool_calls_total",
		Help: "Total tool executions by tool name and outcome",
	}, []string{"tool", "outcome"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "orchestrator_circuit_breaker_state",
		Help: "Circuit breaker state by dependency key (0=closed, 1=half_open, 2=open)",
	}, []string{"key"})

	DegradedMode = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_degraded_mode",
		Help: "Whether the orchestrator is currently in degraded mode (0/1)",
	})

	VoiceSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_voice_sessions_active",
		Help: "Number of active voice sessions",
	})

	VoiceBargeInsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_voice_barge_ins_total",
		Help: "Total barge-in events handled",
	})

	ASRRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "orchestrator_asr_request_duration_seconds",
		Help:    "ASR transcription duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})

	TTSRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "orchestrator_tts_request_duration_seconds",
		Help:    "TTS synthesis duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5},
	})
)
