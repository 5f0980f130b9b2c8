// Package metrics provides Prometheus instrumentation for generation and
// rendering.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GenerationLatency tracks end-to-end generation latency in seconds.
	GenerationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "generation_latency_seconds",
			Help:    "End-to-end generation latency in seconds.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"provider", "mode"}, // mode: "complete" or "stream"
	)

	// GenerationsTotal counts finished generations by outcome.
	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generations_total",
			Help: "Total number of generations by provider, mode and status.",
		},
		[]string{"provider", "mode", "status"},
	)

	// StreamEventsSkipped counts stream lines dropped because they did not parse.
	StreamEventsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_events_skipped_total",
			Help: "Stream events skipped because their payload could not be parsed.",
		},
		[]string{"provider"},
	)

	// DiagramsExtracted counts diagram blocks found in generated text.
	DiagramsExtracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "diagrams_extracted_total",
			Help: "Total number of diagram blocks extracted from generated text.",
		},
	)

	// RenderAttempts counts render attempts per endpoint and result.
	RenderAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "render_attempts_total",
			Help: "Render attempts by endpoint and result.",
		},
		[]string{"endpoint", "result"}, // result: "ok", "error", "skipped"
	)

	// RenderOutcomes counts render calls by outcome.
	RenderOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "render_outcomes_total",
			Help: "Render calls by outcome: rendered, cached or fallback.",
		},
		[]string{"outcome"},
	)

	// RenderBreakerState tracks the circuit breaker state of each endpoint.
	RenderBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "render_breaker_state",
			Help: "Render endpoint breaker state: 0=closed, 1=half-open, 2=open.",
		},
		[]string{"endpoint"},
	)

	// ActiveStreams tracks the number of streams currently open.
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_streams",
			Help: "Number of provider streams currently open.",
		},
	)
)
