package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runbox_executions_total",
			Help: "Total number of submissions run, by language and exit status",
		},
		[]string{"language", "status"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "runbox_execution_duration_ms",
			Help:    "Sandbox run duration in milliseconds",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"language"},
	)

	ResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runbox_responses_total",
			Help: "Responses by mode and HTTP status",
		},
		[]string{"mode", "status"},
	)

	AdmissionActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "runbox_admission_active",
			Help: "Sandbox slots currently held",
		},
	)

	AdmissionQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "runbox_admission_queued",
			Help: "Requests waiting for a sandbox slot",
		},
	)

	AdmissionRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runbox_admission_rejected_total",
			Help: "Requests turned away by the admission controller",
		},
		[]string{"reason"}, // "queue_full", "queue_timeout"
	)

	AdmissionWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "runbox_admission_wait_ms",
			Help:    "Time spent waiting for a sandbox slot",
			Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000, 30000},
		},
	)

	ScoringFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "runbox_scoring_fallbacks_total",
			Help: "Model-backed reviews that fell back to static grading",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "runbox_rate_limit_hits_total",
			Help: "Total number of requests rejected by rate limiter",
		},
	)
)
