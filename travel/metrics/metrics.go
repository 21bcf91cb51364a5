// Package metrics exports planner pipeline metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter collects counters and histograms for the conversation pipeline.
type Exporter struct {
	registry *prometheus.Registry

	// Turn metrics
	turnLatency  *prometheus.HistogramVec
	turnRequests *prometheus.CounterVec
	stageLatency *prometheus.HistogramVec

	// Retrieval metrics
	branchCandidates *prometheus.HistogramVec
	branchTimeouts   *prometheus.CounterVec

	// Travel-time oracle metrics
	travelCacheHits   *prometheus.CounterVec
	travelCacheMisses *prometheus.CounterVec
	routingRequests   *prometheus.CounterVec
	routingFallbacks  prometheus.Counter

	// Planner metrics
	planOutcomes *prometheus.CounterVec
	planRepairs  *prometheus.CounterVec

	// Feedback metrics
	feedbackOps *prometheus.CounterVec

	// LLM metrics
	llmLatency *prometheus.HistogramVec
	llmTokens  *prometheus.CounterVec

	activeSessions prometheus.Gauge
}

// Config configures the metrics exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default exporter configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 20},
	}
}

// NewExporter creates a new Prometheus metrics exporter.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.turnLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "travelai",
			Subsystem: "pipeline",
			Name:      "turn_latency_seconds",
			Help:      "End-to-end turn latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"state"},
	)

	e.turnRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "travelai",
			Subsystem: "pipeline",
			Name:      "turn_requests_total",
			Help:      "Total number of conversation turns",
		},
		[]string{"state", "status"},
	)

	e.stageLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "travelai",
			Subsystem: "pipeline",
			Name:      "stage_latency_seconds",
			Help:      "Per-stage latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"stage"},
	)

	e.branchCandidates = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "travelai",
			Subsystem: "retrieval",
			Name:      "branch_candidates",
			Help:      "Candidates returned per retrieval branch",
			Buckets:   []float64{0, 1, 4, 16, 32, 64, 128, 256},
		},
		[]string{"branch"},
	)

	e.branchTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "travelai",
			Subsystem: "retrieval",
			Name:      "branch_timeouts_total",
			Help:      "Retrieval branches that exceeded their deadline",
		},
		[]string{"branch"},
	)

	e.travelCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "travelai",
			Subsystem: "traveltime",
			Name:      "cache_hits_total",
			Help:      "Travel-time cache hits by tier",
		},
		[]string{"tier"},
	)

	e.travelCacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "travelai",
			Subsystem: "traveltime",
			Name:      "cache_misses_total",
			Help:      "Travel-time cache misses by tier",
		},
		[]string{"tier"},
	)

	e.routingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "travelai",
			Subsystem: "traveltime",
			Name:      "routing_requests_total",
			Help:      "Requests issued to the routing backend",
		},
		[]string{"kind", "status"},
	)

	e.routingFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "travelai",
			Subsystem: "traveltime",
			Name:      "routing_fallbacks_total",
			Help:      "Durations answered by great-circle estimation",
		},
	)

	e.planOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "travelai",
			Subsystem: "planner",
			Name:      "outcomes_total",
			Help:      "Planning outcomes by kind",
		},
		[]string{"outcome"},
	)

	e.planRepairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "travelai",
			Subsystem: "planner",
			Name:      "repairs_total",
			Help:      "Repair actions applied by rung",
		},
		[]string{"rung"},
	)

	e.feedbackOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "travelai",
			Subsystem: "feedback",
			Name:      "operations_total",
			Help:      "Feedback operations by kind and outcome",
		},
		[]string{"op", "outcome"},
	)

	e.llmLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "travelai",
			Subsystem: "llm",
			Name:      "latency_seconds",
			Help:      "LLM request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"model", "role"},
	)

	e.llmTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "travelai",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Total LLM tokens consumed",
		},
		[]string{"model", "token_type"},
	)

	e.activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "travelai",
			Subsystem: "pipeline",
			Name:      "active_sessions",
			Help:      "Number of sessions currently held in memory",
		},
	)

	registry.MustRegister(
		e.turnLatency,
		e.turnRequests,
		e.stageLatency,
		e.branchCandidates,
		e.branchTimeouts,
		e.travelCacheHits,
		e.travelCacheMisses,
		e.routingRequests,
		e.routingFallbacks,
		e.planOutcomes,
		e.planRepairs,
		e.feedbackOps,
		e.llmLatency,
		e.llmTokens,
		e.activeSessions,
	)

	return e
}

// RecordTurn records one completed conversation turn.
func (e *Exporter) RecordTurn(state string, latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.turnRequests.WithLabelValues(state, status).Inc()
	e.turnLatency.WithLabelValues(state).Observe(latency.Seconds())
}

// RecordStage records latency for a single pipeline stage.
func (e *Exporter) RecordStage(stage string, latency time.Duration) {
	e.stageLatency.WithLabelValues(stage).Observe(latency.Seconds())
}

// RecordBranchCandidates records the candidate count of one retrieval branch.
func (e *Exporter) RecordBranchCandidates(branch string, count int) {
	e.branchCandidates.WithLabelValues(branch).Observe(float64(count))
}

// RecordBranchTimeout records a retrieval branch deadline miss.
func (e *Exporter) RecordBranchTimeout(branch string) {
	e.branchTimeouts.WithLabelValues(branch).Inc()
}

// RecordTravelCacheHit records a travel-time cache hit for a tier.
func (e *Exporter) RecordTravelCacheHit(tier string) {
	e.travelCacheHits.WithLabelValues(tier).Inc()
}

// RecordTravelCacheMiss records a travel-time cache miss for a tier.
func (e *Exporter) RecordTravelCacheMiss(tier string) {
	e.travelCacheMisses.WithLabelValues(tier).Inc()
}

// RecordRoutingRequest records one routing backend call.
func (e *Exporter) RecordRoutingRequest(kind string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.routingRequests.WithLabelValues(kind, status).Inc()
}

// RecordRoutingFallback records a duration served by estimation.
func (e *Exporter) RecordRoutingFallback() {
	e.routingFallbacks.Inc()
}

// RecordPlanOutcome records the outcome of a planning run.
func (e *Exporter) RecordPlanOutcome(outcome string) {
	e.planOutcomes.WithLabelValues(outcome).Inc()
}

// RecordRepair records a repair ladder action.
func (e *Exporter) RecordRepair(rung string) {
	e.planRepairs.WithLabelValues(rung).Inc()
}

// RecordFeedbackOp records one feedback operation and how it ended.
func (e *Exporter) RecordFeedbackOp(op, outcome string) {
	e.feedbackOps.WithLabelValues(op, outcome).Inc()
}

// RecordLLMLatency records LLM request latency.
func (e *Exporter) RecordLLMLatency(model, role string, latency time.Duration) {
	e.llmLatency.WithLabelValues(model, role).Observe(latency.Seconds())
}

// RecordLLMTokens records LLM token usage.
func (e *Exporter) RecordLLMTokens(model, tokenType string, count int) {
	e.llmTokens.WithLabelValues(model, tokenType).Add(float64(count))
}

// SetActiveSessions sets the number of in-memory sessions.
func (e *Exporter) SetActiveSessions(count int) {
	e.activeSessions.Set(float64(count))
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// GetRegistry returns the underlying Prometheus registry.
func (e *Exporter) GetRegistry() *prometheus.Registry {
	return e.registry
}
