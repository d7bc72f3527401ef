// Package metrics provides Prometheus metrics for the soapflow services.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medscribe/soapflow/internal/apperr"
	"github.com/medscribe/soapflow/internal/domain/soapnote"
	"github.com/medscribe/soapflow/pkg/circuitbreaker"
)

const namespace = "soapflow"

// Metrics holds all application metrics
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	NotesGenerated     *prometheus.CounterVec
	GenerationFailures *prometheus.CounterVec
	ValidationIssues   *prometheus.CounterVec
	CodeSuggestions    *prometheus.CounterVec
	CodeCacheLookups   *prometheus.CounterVec
	LLMDuration        *prometheus.HistogramVec

	KafkaMessagesProduced *prometheus.CounterVec
	KafkaMessagesConsumed *prometheus.CounterVec
	OutboxPending         prometheus.Gauge
	OutboxDeadLettered    prometheus.Counter
	CircuitBreakerState   *prometheus.GaugeVec

	ComplianceEvents *prometheus.CounterVec
	WorkerQueueDepth prometheus.Gauge
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "route"}),

		NotesGenerated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notes",
			Name:      "generated_total",
			Help:      "Notes generated by template and outcome (accepted, blocked).",
		}, []string{"template", "outcome"}),
		GenerationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notes",
			Name:      "generation_failures_total",
			Help:      "Failed generation attempts by error kind.",
		}, []string{"kind"}),
		ValidationIssues: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notes",
			Name:      "validation_issues_total",
			Help:      "Validation issues by section and severity.",
		}, []string{"section", "severity"}),
		CodeSuggestions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codes",
			Name:      "suggestions_total",
			Help:      "Code suggestion requests by source (cache, llm).",
		}, []string{"source"}),
		CodeCacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codes",
			Name:      "cache_lookups_total",
			Help:      "In-memory frequency cache lookups by result (hit, miss).",
		}, []string{"result"}),
		LLMDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Completion call latency by operation and error kind.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"op", "kind"}),

		KafkaMessagesProduced: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "messages_produced_total",
			Help:      "Total Kafka messages produced.",
		}, []string{"topic"}),
		KafkaMessagesConsumed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "messages_consumed_total",
			Help:      "Total Kafka messages consumed.",
		}, []string{"topic"}),
		OutboxPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "pending_entries",
			Help:      "Pending outbox entries.",
		}),
		OutboxDeadLettered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "dead_lettered_total",
			Help:      "Outbox entries moved to the dead letter topic.",
		}),
		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open).",
		}, []string{"name"}),

		ComplianceEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compliance",
			Name:      "events_total",
			Help:      "Note events handled by the compliance monitor by result.",
		}, []string{"result"}),
		WorkerQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "compliance",
			Name:      "worker_queue_depth",
			Help:      "Jobs waiting in the worker pool queue.",
		}),
	}
}

// ObserveIssues counts validation issues.
func (m *Metrics) ObserveIssues(issues []soapnote.Issue) {
	for _, i := range issues {
		m.ValidationIssues.WithLabelValues(string(i.Section), string(i.Severity)).Inc()
	}
}

// ObserveLLM records one completion call. It matches llm.CallObserver.
func (m *Metrics) ObserveLLM(op string, err error, elapsed time.Duration) {
	kind := "ok"
	if err != nil {
		kind = string(apperr.KindOf(err))
	}
	m.LLMDuration.WithLabelValues(op, kind).Observe(elapsed.Seconds())
}

// SetBreakerState exports a circuit breaker transition.
func (m *Metrics) SetBreakerState(name string, s circuitbreaker.State) {
	var v float64
	switch s {
	case circuitbreaker.StateOpen:
		v = 1
	case circuitbreaker.StateHalfOpen:
		v = 2
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(v)
}

// Handler returns the Prometheus HTTP handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
